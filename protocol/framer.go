package protocol

import (
	"bytes"
	"encoding/binary"
)

// Framer accumulates raw transport bytes and cuts them into frames.
//
// Feed appends whatever arrived from the socket; Next returns the next
// complete frame, or nil when more bytes are needed. Any error from Next is
// unrecoverable and the connection must close.
type Framer struct {
	buf bytes.Buffer
	max uint32
}

// NewFramer returns a framer enforcing the given payload cap. A cap of 0
// selects DefaultMaxFrameSize.
func NewFramer(maxPayload uint32) *Framer {
	if maxPayload == 0 {
		maxPayload = DefaultMaxFrameSize
	}

	return &Framer{max: maxPayload}
}

// Feed appends bytes read from the transport.
func (f *Framer) Feed(p []byte) {
	f.buf.Write(p)
}

// Buffered returns how many bytes are waiting to be framed.
func (f *Framer) Buffered() int {
	return f.buf.Len()
}

// Next returns the next complete frame, or (nil, nil) when the buffer does
// not hold one yet.
func (f *Framer) Next() (*Frame, error) {
	if f.buf.Len() < HeaderSize {
		return nil, nil
	}

	head := f.buf.Bytes()[:HeaderSize]

	// Check the pieces that don't need the payload up front, so a corrupt
	// stream fails before we wait on more bytes that will never frame.
	if binary.BigEndian.Uint32(head[0:4]) != Magic {
		return nil, ErrBadMagic
	}

	length := binary.BigEndian.Uint32(head[8:12])
	if length > f.max {
		return nil, ErrFrameTooLarge
	}

	total := HeaderSize + int(length)
	if f.buf.Len() < total {
		return nil, nil
	}

	raw := make([]byte, total)
	if _, err := f.buf.Read(raw); err != nil {
		return nil, err
	}

	frame, err := DecodeFrame(raw, f.max)
	if err != nil {
		return nil, err
	}

	return &frame, nil
}
