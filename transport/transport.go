package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrClosed       = errors.New("Transport is closed")
	ErrClosedByPeer = errors.New("Transport was closed by the peer")
	ErrTimeout      = errors.New("Transport deadline exceeded")
)

// Transport is a thin duplex bytes-in/bytes-out wrapper over a TCP
// connection. It knows nothing about framing or the protocol; it only adds
// bounded reads and writes, an idempotent close, and byte accounting.
type Transport struct {
	conn net.Conn

	bufferSize int

	closeOnce sync.Once
	closed    atomic.Bool

	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
}

// New wraps an established connection. bufferSize sizes the read chunks; 0
// selects 64 KiB.
func New(conn net.Conn, bufferSize int) *Transport {
	if bufferSize <= 0 {
		bufferSize = 64 * 1024
	}

	return &Transport{conn: conn, bufferSize: bufferSize}
}

// Dial establishes a TCP connection to addr within timeout. ipv6 selects
// the tcp6 network; otherwise tcp4 is used.
func Dial(ctx context.Context, addr string, ipv6 bool, timeout time.Duration) (*Transport, error) {
	network := "tcp4"
	if ipv6 {
		network = "tcp6"
	}

	d := net.Dialer{Timeout: timeout}

	conn, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, mapNetError(err)
	}

	return New(conn, 0), nil
}

// Read reads up to bufferSize bytes, waiting no longer than the deadline. A
// zero deadline blocks until bytes arrive or the transport closes.
func (t *Transport) Read(deadline time.Duration) ([]byte, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}

	if deadline > 0 {
		if err := t.conn.SetReadDeadline(time.Now().Add(deadline)); err != nil {
			return nil, mapNetError(err)
		}
	} else {
		if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
			return nil, mapNetError(err)
		}
	}

	buf := make([]byte, t.bufferSize)

	n, err := t.conn.Read(buf)
	if n > 0 {
		t.bytesIn.Add(uint64(n))
	}
	if err != nil {
		return buf[:n], mapNetError(err)
	}

	return buf[:n], nil
}

// Write writes all of p, waiting no longer than the deadline.
func (t *Transport) Write(p []byte, deadline time.Duration) error {
	if t.closed.Load() {
		return ErrClosed
	}

	if deadline > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(deadline)); err != nil {
			return mapNetError(err)
		}
	} else {
		if err := t.conn.SetWriteDeadline(time.Time{}); err != nil {
			return mapNetError(err)
		}
	}

	n, err := t.conn.Write(p)
	if n > 0 {
		t.bytesOut.Add(uint64(n))
	}
	if err != nil {
		return mapNetError(err)
	}

	return nil
}

// Close tears down the connection. It is safe to call more than once.
func (t *Transport) Close() error {
	var err error

	t.closeOnce.Do(func() {
		t.closed.Store(true)
		err = t.conn.Close()
	})

	return err
}

// Closed reports whether Close has been called.
func (t *Transport) Closed() bool {
	return t.closed.Load()
}

// RemoteAddr returns the peer's address.
func (t *Transport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// BytesIn returns the total bytes read from the peer.
func (t *Transport) BytesIn() uint64 {
	return t.bytesIn.Load()
}

// BytesOut returns the total bytes written to the peer.
func (t *Transport) BytesOut() uint64 {
	return t.bytesOut.Load()
}

// mapNetError folds the net error zoo into this package's error kinds so
// callers can tell closed-by-peer, timeout, and local failure apart.
func mapNetError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return ErrClosedByPeer
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Err != nil && (opErr.Err.Error() == "use of closed network connection" ||
			opErr.Err.Error() == "connection reset by peer" ||
			opErr.Err.Error() == "broken pipe") {
			return ErrClosedByPeer
		}
	}

	return err
}
