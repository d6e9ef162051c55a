package client

import (
	"context"
	"errors"
	"math"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/DarsheeeGamer/NetConduit/connection"
	"github.com/DarsheeeGamer/NetConduit/protocol"
	"github.com/DarsheeeGamer/NetConduit/router"
)

// Options tune the client facade and its reconnect supervisor.
type Options struct {
	ServerHost string
	ServerPort int
	IPv6       bool

	Password string

	// Name and Version are sent to the server in AUTH_REQUEST.
	Name    string
	Version string

	ConnectTimeout    time.Duration
	AuthTimeout       time.Duration
	RPCTimeout        time.Duration
	SendTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	SendQueueSize    int
	ReceiveQueueSize int
	MaxFrameSize     uint32
	BufferSize       int

	EnableCompression  bool
	EnableBackpressure bool
	HighWatermark      float64
	LowWatermark       float64

	ReconnectEnabled         bool
	ReconnectAttempts        int
	ReconnectDelay           time.Duration
	ReconnectDelayMultiplier float64
	ReconnectDelayMax        time.Duration

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 10 * time.Second
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 2 * time.Second
	}
	if o.ReconnectDelayMultiplier <= 1 {
		o.ReconnectDelayMultiplier = 2
	}
	if o.ReconnectDelayMax <= 0 {
		o.ReconnectDelayMax = 60 * time.Second
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}

// activePollInterval paces the wait for the first heartbeat exchange
// before the connect hooks fire.
const activePollInterval = 10 * time.Millisecond

// Client dials a Conduit server, authenticates, and keeps the connection
// alive across failures via exponential backoff. Every reconnect attempt
// is a fresh Connection; pending RPC calls never transfer, they complete
// with ErrConnectionLost.
type Client struct {
	opts   Options
	addr   string
	router *router.Router

	mu   sync.Mutex
	conn *connection.Connection

	closed atomic.Bool

	supervisorWaiter sync.WaitGroup

	hooksMu     sync.Mutex
	onConnect   []func(*Client)
	onDisconnect []func(*Client)
	onReconnect []func(*Client)

	log *zap.Logger
}

func New(opts Options) *Client {
	opts = opts.withDefaults()

	return &Client{
		opts:   opts,
		addr:   net.JoinHostPort(opts.ServerHost, strconv.Itoa(opts.ServerPort)),
		router: router.New(opts.Log),
		log:    opts.Log.Named("client"),
	}
}

// Router exposes the registry for inbound message handlers; servers can
// push typed messages and call client-registered methods too.
func (c *Client) Router() *router.Router {
	return c.router
}

func (c *Client) OnConnect(fn func(*Client)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

func (c *Client) OnDisconnect(fn func(*Client)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

func (c *Client) OnReconnect(fn func(*Client)) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.onReconnect = append(c.onReconnect, fn)
}

// Connect dials, authenticates, and starts the connection pipelines. It
// returns once the first heartbeat exchange has promoted the connection to
// ACTIVE; the reconnect supervisor then takes over its lifetime.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return connection.ErrNotConnected
	}

	conn, err := c.dialOnce(ctx)
	if err != nil {
		return err
	}

	if !c.waitActive(conn) {
		conn.Close("never reached active")

		if cause := conn.Err(); cause != nil {
			return cause
		}

		return connection.ErrNotConnected
	}

	c.setConn(conn)

	for _, fn := range c.connectHooks() {
		fn(c)
	}

	c.supervisorWaiter.Add(1)
	go func() {
		defer c.supervisorWaiter.Done()
		c.supervise(conn)
	}()

	return nil
}

// dialOnce runs one full connection attempt: a fresh Connection walked
// through DISCONNECTED -> CONNECTING -> AUTHENTICATING -> CONNECTED.
func (c *Client) dialOnce(ctx context.Context) (*connection.Connection, error) {
	conn := connection.New(connection.Options{
		Role:               connection.RoleClient,
		Password:           c.opts.Password,
		Info:               protocol.PeerInfo{Name: c.opts.Name, Version: c.opts.Version},
		AuthTimeout:        c.opts.AuthTimeout,
		HeartbeatInterval:  c.opts.HeartbeatInterval,
		HeartbeatTimeout:   c.opts.HeartbeatTimeout,
		SendTimeout:        c.opts.SendTimeout,
		RPCTimeout:         c.opts.RPCTimeout,
		SendQueueSize:      c.opts.SendQueueSize,
		ReceiveQueueSize:   c.opts.ReceiveQueueSize,
		MaxFrameSize:       c.opts.MaxFrameSize,
		BufferSize:         c.opts.BufferSize,
		EnableCompression:  c.opts.EnableCompression,
		EnableBackpressure: c.opts.EnableBackpressure,
		HighWatermark:      c.opts.HighWatermark,
		LowWatermark:       c.opts.LowWatermark,
		Dispatcher:         c.router,
		Log:                c.opts.Log,
	})

	if err := conn.Dial(ctx, c.addr, c.opts.IPv6, c.opts.ConnectTimeout); err != nil {
		return nil, err
	}

	if err := conn.Authenticate(); err != nil {
		return nil, err
	}

	conn.Start()

	return conn, nil
}

// waitActive blocks until the connection's first PING<->PONG promotes it
// to ACTIVE, it dies, or the heartbeat timeout gives up on it. Hooks only
// fire for connections that actually got there.
func (c *Client) waitActive(conn *connection.Connection) bool {
	timeout := c.opts.HeartbeatTimeout
	if timeout <= 0 {
		timeout = 90 * time.Second
	}

	deadline := time.Now().Add(timeout)

	ticker := time.NewTicker(activePollInterval)
	defer ticker.Stop()

	for {
		switch conn.State() {
		case connection.StateActive, connection.StatePaused:
			return true
		case connection.StateClosed, connection.StateFailed:
			return false
		}

		select {
		case <-ticker.C:
			if time.Now().After(deadline) {
				return false
			}
		case <-conn.Done():
			return false
		}
	}
}

// supervise watches one connection and, when it dies without a local
// Disconnect, schedules reconnect attempts with exponential backoff.
func (c *Client) supervise(conn *connection.Connection) {
	<-conn.Done()

	for _, fn := range c.disconnectHooks() {
		fn(c)
	}

	if c.closed.Load() || !c.opts.ReconnectEnabled {
		return
	}

	c.log.Info("Connection lost, starting reconnect attempts")

	for attempt := 0; ; attempt++ {
		if c.opts.ReconnectAttempts > 0 && attempt >= c.opts.ReconnectAttempts {
			c.log.Warn("Giving up on reconnecting",
				zap.Int("attempts", attempt))
			return
		}

		delay := c.backoffDelay(attempt)
		c.log.Info("Scheduling reconnect",
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		<-timer.C

		if c.closed.Load() {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectTimeout)
		fresh, err := c.dialOnce(ctx)
		cancel()

		if err != nil {
			c.log.Warn("Reconnect attempt failed",
				zap.Int("attempt", attempt+1),
				zap.Error(err))

			var authErr *connection.AuthError
			if errors.As(err, &authErr) && !authErr.RetryAllowed {
				c.log.Error("Server refused credentials, not retrying")
				return
			}

			continue
		}

		// on_reconnect only fires once the fresh connection reaches
		// ACTIVE; a connection that dies first counts as a failed attempt.
		if !c.waitActive(fresh) {
			fresh.Close("never reached active")
			c.log.Warn("Reconnect attempt never reached active",
				zap.Int("attempt", attempt+1))
			continue
		}

		c.setConn(fresh)

		for _, fn := range c.reconnectHooks() {
			fn(c)
		}
		for _, fn := range c.connectHooks() {
			fn(c)
		}

		// Tail-supervise the fresh connection.
		c.supervisorWaiter.Add(1)
		go func() {
			defer c.supervisorWaiter.Done()
			c.supervise(fresh)
		}()

		return
	}
}

// backoffDelay computes min(max, initial * multiplier^attempt).
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := float64(c.opts.ReconnectDelay) * math.Pow(c.opts.ReconnectDelayMultiplier, float64(attempt))

	if delay > float64(c.opts.ReconnectDelayMax) {
		return c.opts.ReconnectDelayMax
	}

	return time.Duration(delay)
}

// Disconnect closes the current connection gracefully and stops the
// reconnect supervisor for good.
func (c *Client) Disconnect() error {
	c.closed.Store(true)

	conn := c.current()
	if conn == nil {
		return nil
	}

	err := conn.Close("client disconnecting")
	c.supervisorWaiter.Wait()

	return err
}

// IsConnected reports whether traffic is currently possible.
func (c *Client) IsConnected() bool {
	conn := c.current()
	if conn == nil {
		return false
	}

	switch conn.State() {
	case connection.StateConnected, connection.StateActive, connection.StatePaused:
		return true
	}

	return false
}

// Send emits an unsolicited typed message.
func (c *Client) Send(ctx context.Context, msgType string, data map[string]any) error {
	conn := c.current()
	if conn == nil {
		return connection.ErrNotConnected
	}

	return conn.SendMessage(ctx, msgType, data)
}

// Call performs a correlated RPC against the server.
func (c *Client) Call(ctx context.Context, method string, params map[string]any) (*connection.Result, error) {
	conn := c.current()
	if conn == nil {
		return nil, connection.ErrNotConnected
	}

	return conn.Call(ctx, method, params, c.opts.RPCTimeout)
}

// ListMethods asks the server for its RPC discovery table.
func (c *Client) ListMethods(ctx context.Context) (*connection.Result, error) {
	return c.Call(ctx, router.ListallMethod, nil)
}

// Health snapshots the current connection's counters. A nil-safe zero
// Health is returned when disconnected.
func (c *Client) Health() connection.Health {
	conn := c.current()
	if conn == nil {
		return connection.Health{State: connection.StateDisconnected}
	}

	return conn.Health()
}

// Connection exposes the live connection, or nil.
func (c *Client) Connection() *connection.Connection {
	return c.current()
}

func (c *Client) current() *connection.Connection {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.conn
}

func (c *Client) setConn(conn *connection.Connection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
}

func (c *Client) connectHooks() []func(*Client) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	return append(([]func(*Client))(nil), c.onConnect...)
}

func (c *Client) disconnectHooks() []func(*Client) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	return append(([]func(*Client))(nil), c.onDisconnect...)
}

func (c *Client) reconnectHooks() []func(*Client) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	return append(([]func(*Client))(nil), c.onReconnect...)
}
