package server

import (
	"context"
	"errors"
	"net"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/DarsheeeGamer/NetConduit/connection"
	"github.com/DarsheeeGamer/NetConduit/internal/observability"
	"github.com/DarsheeeGamer/NetConduit/protocol"
	"github.com/DarsheeeGamer/NetConduit/router"
	"github.com/DarsheeeGamer/NetConduit/storage"
	"github.com/DarsheeeGamer/NetConduit/transport"
)

// activePollInterval paces the wait for a fresh connection's first
// heartbeat exchange before it joins the pool.
const activePollInterval = 10 * time.Millisecond

// Server accepts TCP connections, walks each through authentication, and
// keeps the authenticated pool. Message and RPC handlers are registered on
// its Router.
type Server struct {
	opts   Options
	addr   string
	router *router.Router
	store  storage.Store

	cancel     context.CancelFunc
	stopWaiter sync.WaitGroup

	mu        sync.Mutex
	pool      map[string]*connection.Connection
	listeners []net.Listener
	started   bool

	startedAt        time.Time
	connectionsTotal atomic.Uint64
	bytesSentClosed  atomic.Uint64
	bytesRecvClosed  atomic.Uint64

	hooksMu      sync.Mutex
	onStartup    []func(*Server)
	onShutdown   []func(*Server)
	onConnect    []func(*connection.Connection)
	onDisconnect []func(*connection.Connection)

	log *zap.Logger
}

func New(opts Options) *Server {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}

	if opts.NumListeners < 1 {
		opts.NumListeners = runtime.NumCPU()
	}

	if opts.Store == nil {
		opts.Store = storage.NewInmemoryStore()
	}

	log := opts.Log.Named("server")

	return &Server{
		opts:   opts,
		addr:   net.JoinHostPort(opts.Host, strconv.Itoa(opts.Port)),
		router: router.New(opts.Log),
		store:  opts.Store,
		pool:   make(map[string]*connection.Connection),
		log:    log,
	}
}

// Router exposes the handler registry for registration.
func (s *Server) Router() *router.Router {
	return s.router
}

// Store exposes the live session table.
func (s *Server) Store() storage.Store {
	return s.store
}

// Addr returns the listen address. Useful when the port was 0.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.listeners) > 0 {
		return s.listeners[0].Addr().String()
	}

	return s.addr
}

// Hook registration. Multiple hooks fire in registration order.

func (s *Server) OnStartup(fn func(*Server)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onStartup = append(s.onStartup, fn)
}

func (s *Server) OnShutdown(fn func(*Server)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onShutdown = append(s.onShutdown, fn)
}

func (s *Server) OnClientConnect(fn func(*connection.Connection)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onConnect = append(s.onConnect, fn)
}

func (s *Server) OnClientDisconnect(fn func(*connection.Connection)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// Start binds the listeners and runs the accept loops until the context is
// cancelled or Close is called.
func (s *Server) Start(parentCtx context.Context) error {
	ctx, cancel := context.WithCancel(parentCtx)

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		cancel()
		return errors.New("Server has already been started")
	}
	s.started = true
	s.cancel = cancel
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.log.Info("Starting tcp listeners",
		zap.String("addr", s.addr),
		zap.Int("count", s.opts.NumListeners))

	for i := 0; i < s.opts.NumListeners; i++ {
		listener, err := transport.Listen(s.addr, s.opts.IPv6)
		if err != nil {
			cancel()
			s.closeListeners()
			return err
		}

		s.mu.Lock()
		s.listeners = append(s.listeners, listener)
		s.mu.Unlock()

		s.stopWaiter.Add(1)

		go func(idx int, listener net.Listener) {
			defer s.stopWaiter.Done()

			if err := s.acceptLoop(ctx, listener, s.log.Named("listener").With(zap.Int("listener", idx))); err != nil {
				s.log.Error("Failed to listen", zap.Error(err))
			}
		}(i, listener)
	}

	for _, fn := range s.startupHooks() {
		fn(s)
	}

	return nil
}

func (s *Server) acceptLoop(ctx context.Context, listener net.Listener, log *zap.Logger) error {
	for {
		select {
		case <-ctx.Done():
			log.Info("Stopped accepting new connections")
			return nil
		default:
		}

		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				// The listener was closed while we were waiting; that's fine.
				return nil
			}

			netOpError := new(net.OpError)
			if errors.As(err, &netOpError) && netOpError.Unwrap() != nil &&
				netOpError.Unwrap().Error() == "use of closed network connection" {
				return nil
			}

			return err
		}

		if s.opts.MaxConnections > 0 && s.poolSize() >= s.opts.MaxConnections {
			log.Warn("Refusing connection, pool is full",
				zap.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}

		s.stopWaiter.Add(1)

		go func() {
			defer s.stopWaiter.Done()
			s.handleConn(ctx, conn, log)
		}()
	}
}

// handleConn owns one accepted socket from handshake to teardown.
func (s *Server) handleConn(ctx context.Context, netConn net.Conn, log *zap.Logger) {
	t := transport.New(netConn, s.opts.BufferSize)

	conn := connection.Accept(t, connection.Options{
		Password:           s.opts.Password,
		Info:               protocol.PeerInfo{Name: s.opts.Name, Version: s.opts.Version},
		AuthTimeout:        s.opts.AuthTimeout,
		HeartbeatInterval:  s.opts.HeartbeatInterval,
		HeartbeatTimeout:   s.opts.HeartbeatTimeout,
		SendTimeout:        s.opts.ConnectionTimeout,
		SendQueueSize:      s.opts.SendQueueSize,
		ReceiveQueueSize:   s.opts.ReceiveQueueSize,
		MaxFrameSize:       s.opts.MaxFrameSize,
		BufferSize:         s.opts.BufferSize,
		EnableCompression:  s.opts.EnableCompression,
		EnableBackpressure: s.opts.EnableBackpressure,
		HighWatermark:      s.opts.HighWatermark,
		LowWatermark:       s.opts.LowWatermark,
		Dispatcher:         s.router,
		Log:                s.opts.Log,
	})

	if err := conn.Authenticate(); err != nil {
		observability.RecordAuthFailure()
		log.Warn("Client failed authentication",
			zap.String("remote", netConn.RemoteAddr().String()),
			zap.Error(err))
		return
	}

	conn.Start()

	// The pool only holds connections that completed their first heartbeat
	// exchange.
	if !s.waitActive(ctx, conn) {
		conn.Close("never reached active")
		return
	}

	s.addConn(conn)
	s.recordSession(ctx, conn)
	observability.RecordConnection()

	for _, fn := range s.connectHooks() {
		fn(conn)
	}

	select {
	case <-conn.Done():
	case <-ctx.Done():
		conn.Close("server shutting down")
		<-conn.Done()
	}

	s.removeConn(conn)
	s.dropSession(conn)
	observability.RecordDisconnection()

	health := conn.Health()
	s.bytesSentClosed.Add(health.BytesSent)
	s.bytesRecvClosed.Add(health.BytesReceived)

	for _, fn := range s.disconnectHooks() {
		fn(conn)
	}
}

// waitActive blocks until the connection's first PING<->PONG promotes it to
// ACTIVE, it dies, or the heartbeat timeout gives up on it.
func (s *Server) waitActive(ctx context.Context, conn *connection.Connection) bool {
	deadline := time.Now().Add(s.opts.HeartbeatTimeout)
	if s.opts.HeartbeatTimeout <= 0 {
		deadline = time.Now().Add(90 * time.Second)
	}

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
		case <-ctx.Done():
			return false
		}
	}
}

func (s *Server) recordSession(ctx context.Context, conn *connection.Connection) {
	err := s.store.Put(ctx, storage.Session{
		Token:       conn.SessionToken(),
		ConnID:      conn.ID(),
		Address:     conn.RemoteAddr(),
		ConnectedAt: time.Now().Unix(),
	})
	if err != nil {
		s.log.Warn("Failed to record session", zap.Error(err))
	}
}

func (s *Server) dropSession(conn *connection.Connection) {
	if err := s.store.Remove(context.Background(), conn.SessionToken()); err != nil {
		s.log.Warn("Failed to drop session", zap.Error(err))
	}
}

func (s *Server) addConn(conn *connection.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pool[conn.ID()] = conn
	s.connectionsTotal.Add(1)
}

func (s *Server) removeConn(conn *connection.Connection) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pool, conn.ID())
}

func (s *Server) poolSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.pool)
}

// Connections returns a snapshot of the active pool.
func (s *Server) Connections() []*connection.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := make([]*connection.Connection, 0, len(s.pool))
	for _, conn := range s.pool {
		conns = append(conns, conn)
	}

	return conns
}

// BroadcastOptions filter the pool for one broadcast.
type BroadcastOptions struct {
	// Include limits the broadcast to these connection ids when non-empty.
	Include []string

	// Exclude always wins over Include.
	Exclude []string
}

// Broadcast sends a MESSAGE to every matching pooled connection and
// returns the successful-send count. Per-connection failures are isolated;
// they are aggregated into the log, never into each other's fate.
func (s *Server) Broadcast(ctx context.Context, msgType string, data map[string]any, opts BroadcastOptions) int {
	include := toSet(opts.Include)
	exclude := toSet(opts.Exclude)

	var (
		sent int
		errs error
	)

	for _, conn := range s.Connections() {
		if len(include) > 0 && !include[conn.ID()] {
			continue
		}

		if exclude[conn.ID()] {
			continue
		}

		if err := conn.SendMessage(ctx, msgType, data); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}

		sent++
	}

	if errs != nil {
		s.log.Warn("Broadcast partially failed",
			zap.String("type", msgType),
			zap.Int("sent", sent),
			zap.Error(errs))
	}

	observability.RecordBroadcast(sent)

	return sent
}

func toSet(ids []string) map[string]bool {
	if len(ids) == 0 {
		return nil
	}

	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	return set
}

// Stats is the server-level counters snapshot.
type Stats struct {
	Uptime            time.Duration `json:"uptime"`
	ActiveConnections int           `json:"active_connections"`
	TotalConnections  uint64        `json:"total_connections"`
	BytesSent         uint64        `json:"bytes_sent"`
	BytesReceived     uint64        `json:"bytes_received"`
}

func (s *Server) Stats() Stats {
	stats := Stats{
		Uptime:            time.Since(s.startedAt),
		ActiveConnections: s.poolSize(),
		TotalConnections:  s.connectionsTotal.Load(),
		BytesSent:         s.bytesSentClosed.Load(),
		BytesReceived:     s.bytesRecvClosed.Load(),
	}

	for _, conn := range s.Connections() {
		health := conn.Health()
		stats.BytesSent += health.BytesSent
		stats.BytesReceived += health.BytesReceived
	}

	return stats
}

// Close stops accepting, closes every pooled connection, and fires the
// shutdown hooks.
func (s *Server) Close() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.log.Info("Stopping server")

	if s.cancel != nil {
		s.cancel()
	}

	err := s.closeListeners()

	for _, conn := range s.Connections() {
		conn.Close("server shutting down")
	}

	s.stopWaiter.Wait()

	for _, fn := range s.shutdownHooks() {
		fn(s)
	}

	s.log.Info("Server stopped")

	return err
}

func (s *Server) closeListeners() error {
	s.mu.Lock()
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	var err error
	for _, listener := range listeners {
		err = multierr.Append(err, listener.Close())
	}

	return err
}

func (s *Server) startupHooks() []func(*Server) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	return append(([]func(*Server))(nil), s.onStartup...)
}

func (s *Server) shutdownHooks() []func(*Server) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	return append(([]func(*Server))(nil), s.onShutdown...)
}

func (s *Server) connectHooks() []func(*connection.Connection) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	return append(([]func(*connection.Connection))(nil), s.onConnect...)
}

func (s *Server) disconnectHooks() []func(*connection.Connection) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	return append(([]func(*connection.Connection))(nil), s.onDisconnect...)
}
