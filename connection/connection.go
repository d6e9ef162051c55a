package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DarsheeeGamer/NetConduit/protocol"
	"github.com/DarsheeeGamer/NetConduit/transport"
)

// readPollInterval bounds transport reads so the receive loop observes
// cancellation promptly.
const readPollInterval = 500 * time.Millisecond

// Connection multiplexes typed messages, correlated RPC calls, and
// heartbeat probes over one authenticated transport. It owns the transport
// exclusively and runs four kinds of goroutines once started: a receive
// loop, a send loop, a heartbeat ticker, and dispatch workers feeding the
// Dispatcher from the inbound queue.
type Connection struct {
	id   string
	role Role
	opts Options

	transport *transport.Transport
	framer    *protocol.Framer

	stateMu sync.Mutex
	state   State
	failure error

	sendQueue    chan protocol.Frame
	controlQueue chan protocol.Frame
	inbound      chan *Message

	remotePaused atomic.Bool
	localPaused  atomic.Bool
	resumed      chan struct{}

	pending     *pendingTable
	correlation atomic.Uint64

	authenticated atomic.Bool
	sessionToken  string

	pingMu       sync.Mutex
	pingsInFlight map[uint64]time.Time

	lastPingSeen atomic.Int64
	lastPongSeen atomic.Int64
	rttMicros    atomic.Int64

	messagesSent     atomic.Uint64
	messagesReceived atomic.Uint64
	connectedAt      time.Time

	ctx        context.Context
	cancel     context.CancelFunc
	loopWaiter sync.WaitGroup

	closeOnce sync.Once
	doneOnce  sync.Once
	done      chan struct{}

	disconnectSent atomic.Bool

	log *zap.Logger
}

// New creates a client-side connection in DISCONNECTED. Dial drives it
// through CONNECTING and AUTHENTICATING.
func New(opts Options) *Connection {
	opts.Role = RoleClient
	return newConnection(nil, StateDisconnected, opts)
}

// Accept wraps an accepted transport in a server-side connection. Per the
// handshake contract it is born in AUTHENTICATING.
func Accept(t *transport.Transport, opts Options) *Connection {
	opts.Role = RoleServer
	return newConnection(t, StateAuthenticating, opts)
}

func newConnection(t *transport.Transport, initial State, opts Options) *Connection {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	id := uuid.NewString()

	return &Connection{
		id:            id,
		role:          opts.Role,
		opts:          opts,
		transport:     t,
		framer:        protocol.NewFramer(opts.MaxFrameSize),
		state:         initial,
		sendQueue:     make(chan protocol.Frame, opts.SendQueueSize),
		controlQueue:  make(chan protocol.Frame, 64),
		inbound:       make(chan *Message, opts.ReceiveQueueSize),
		resumed:       make(chan struct{}, 1),
		pending:       newPendingTable(),
		pingsInFlight: make(map[uint64]time.Time),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		log:           opts.Log.With(zap.String("conn", id[:8]), zap.Stringer("role", opts.Role)),
	}
}

// ID returns the connection's stable identifier.
func (c *Connection) ID() string {
	return c.id
}

// Role returns which side of the handshake this connection played.
func (c *Connection) Role() Role {
	return c.role
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.state
}

// SessionToken returns the opaque token issued at AUTH_SUCCESS.
func (c *Connection) SessionToken() string {
	return c.sessionToken
}

// RemoteAddr returns the peer address, or "" before the transport exists.
func (c *Connection) RemoteAddr() string {
	if c.transport == nil {
		return ""
	}

	return c.transport.RemoteAddr().String()
}

// Done is closed once the connection reaches CLOSED or FAILED.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Err returns the failure that moved the connection to FAILED, if any.
func (c *Connection) Err() error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	return c.failure
}

// transition moves the state machine, enforcing the legality table. An
// illegal transition returns a StateError and leaves state unchanged.
func (c *Connection) transition(to State) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if !legalTransitions[c.state][to] {
		return &StateError{From: c.state, To: to}
	}

	c.log.Debug("State transition",
		zap.Stringer("from", c.state),
		zap.Stringer("to", to))

	c.state = to
	return nil
}

// Dial connects the transport and walks DISCONNECTED -> CONNECTING ->
// AUTHENTICATING. The caller follows up with Authenticate and Start.
func (c *Connection) Dial(ctx context.Context, addr string, ipv6 bool, timeout time.Duration) error {
	if err := c.transition(StateConnecting); err != nil {
		return err
	}

	t, err := transport.Dial(ctx, addr, ipv6, timeout)
	if err != nil {
		c.fail(err)
		return err
	}

	c.transport = t

	if err := c.transition(StateAuthenticating); err != nil {
		t.Close()
		return err
	}

	return nil
}

// Start launches the connection's goroutines. It must be called exactly
// once, after authentication has moved the state to CONNECTED.
func (c *Connection) Start() {
	c.connectedAt = time.Now()
	c.lastPongSeen.Store(time.Now().UnixMilli())

	c.loopWaiter.Add(3)

	go func() {
		defer c.loopWaiter.Done()
		c.receiveLoop()
	}()

	go func() {
		defer c.loopWaiter.Done()
		c.sendLoop()
	}()

	go func() {
		defer c.loopWaiter.Done()
		c.heartbeatLoop()
	}()

	for i := 0; i < c.opts.DispatchWorkers; i++ {
		c.loopWaiter.Add(1)

		go func() {
			defer c.loopWaiter.Done()
			c.dispatchLoop()
		}()
	}
}

// Wait blocks until every connection goroutine has exited.
func (c *Connection) Wait() {
	c.loopWaiter.Wait()
}

// nextCorrelation allocates a fresh non-zero correlation id.
func (c *Connection) nextCorrelation() uint64 {
	for {
		id := c.correlation.Add(1)
		if id != 0 {
			return id
		}
	}
}

// enqueue places a frame on the appropriate outbound queue, blocking when
// the queue is full. Control frames use their own lane so they keep flowing
// while the peer has paused us.
func (c *Connection) enqueue(ctx context.Context, f protocol.Frame) error {
	if !c.State().CanSend() {
		return ErrNotConnected
	}

	queue := c.sendQueue
	if f.Type.IsControl() {
		queue = c.controlQueue
	}

	select {
	case queue <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return ErrNotConnected
	}
}

// SendMessage emits an unsolicited MESSAGE frame (correlation 0).
func (c *Connection) SendMessage(ctx context.Context, msgType string, data map[string]any) error {
	return c.sendMessageFrame(ctx, 0, msgType, data)
}

// Reply emits a MESSAGE frame answering an inbound message, mirroring its
// correlation id and type tag.
func (c *Connection) Reply(ctx context.Context, correlation uint64, msgType string, data map[string]any) error {
	return c.sendMessageFrame(ctx, correlation, msgType, data)
}

func (c *Connection) sendMessageFrame(ctx context.Context, correlation uint64, msgType string, data map[string]any) error {
	if !c.dataStateOK() {
		return ErrNotConnected
	}

	payload, err := protocol.EncodeBody(protocol.MessageBody{Type: msgType, Data: data})
	if err != nil {
		return err
	}

	return c.enqueue(ctx, protocol.NewFrame(protocol.TypeMessage, correlation, payload))
}

// SendRPCResponse emits a success envelope for the given request.
func (c *Connection) SendRPCResponse(ctx context.Context, correlation uint64, result any) error {
	payload, err := protocol.EncodeBody(protocol.RPCResponse{Success: true, Result: result})
	if err != nil {
		return err
	}

	return c.enqueue(ctx, protocol.NewFrame(protocol.TypeRPCResponse, correlation, payload))
}

// SendRPCError emits an error envelope for the given request.
func (c *Connection) SendRPCError(ctx context.Context, correlation uint64, rpcErr protocol.RPCError) error {
	rpcErr.Success = false

	payload, err := protocol.EncodeBody(rpcErr)
	if err != nil {
		return err
	}

	return c.enqueue(ctx, protocol.NewFrame(protocol.TypeRPCError, correlation, payload))
}

// dataStateOK reports whether MESSAGE/RPC traffic is currently permitted.
// Discovery and messaging are allowed from CONNECTED onwards; control-only
// states reject data frames.
func (c *Connection) dataStateOK() bool {
	switch c.State() {
	case StateConnected, StateActive, StatePaused:
		return true
	}

	return false
}

// sendLoop consumes the outbound queues, encodes frames, and writes them to
// the transport. While the peer has paused us, only the control lane moves.
func (c *Connection) sendLoop() {
	log := c.log.Named("writeLoop")

	for {
		if c.remotePaused.Load() {
			select {
			case f := <-c.controlQueue:
				if !c.writeFrame(log, f) {
					return
				}
			case <-c.resumed:
				// Peer resumed us; fall through to normal selection.
			case <-c.ctx.Done():
				return
			}

			continue
		}

		// Control frames get priority over the data lane.
		select {
		case f := <-c.controlQueue:
			if !c.writeFrame(log, f) {
				return
			}
			continue
		default:
		}

		select {
		case f := <-c.controlQueue:
			if !c.writeFrame(log, f) {
				return
			}
		case f := <-c.sendQueue:
			if !c.writeFrame(log, f) {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// writeFrame writes one frame. It reports false when the loop should exit.
func (c *Connection) writeFrame(log *zap.Logger, f protocol.Frame) bool {
	buf, err := protocol.EncodeFrame(f, protocol.EncodeOptions{Compress: c.opts.EnableCompression})
	if err != nil {
		log.Error("Failed to encode frame", zap.Error(err), zap.Stringer("type", f.Type))
		c.fail(err)
		return false
	}

	if err := c.transport.Write(buf, c.opts.SendTimeout); err != nil {
		if c.State() == StateClosing {
			// The peer may already be gone during a graceful close. Nothing
			// more can drain, so let shutdown stop waiting.
			c.transport.Close()
			return false
		}

		log.Warn("Failed to write frame", zap.Error(err), zap.Stringer("type", f.Type))
		c.fail(err)
		return false
	}

	c.messagesSent.Add(1)

	if f.Type == protocol.TypeDisconnect {
		c.disconnectSent.Store(true)
	}

	return true
}

// receiveLoop reads transport bytes into the framer and handles each
// complete frame.
func (c *Connection) receiveLoop() {
	log := c.log.Named("readLoop")

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		data, err := c.transport.Read(readPollInterval)
		if len(data) > 0 {
			c.framer.Feed(data)
		}

		if err != nil {
			if errors.Is(err, transport.ErrTimeout) {
				// No bytes this poll; go observe cancellation.
			} else if c.State() == StateClosing || c.State().Terminal() {
				return
			} else {
				log.Warn("Transport read failed", zap.Error(err))
				c.fail(err)
				return
			}
		}

		for {
			frame, err := c.framer.Next()
			if err != nil {
				log.Warn("Frame stream is corrupt", zap.Error(err))
				c.fail(err)
				return
			}

			if frame == nil {
				break
			}

			c.messagesReceived.Add(1)

			if !c.handleFrame(log, frame) {
				return
			}
		}
	}
}

// handleFrame routes one inbound frame. It reports false when the receive
// loop should exit.
func (c *Connection) handleFrame(log *zap.Logger, frame *protocol.Frame) bool {
	switch frame.Type {
	case protocol.TypeHeartbeatPing:
		c.lastPingSeen.Store(time.Now().UnixMilli())
		c.markActive()

		pong := protocol.NewFrame(protocol.TypeHeartbeatPong, frame.Correlation, frame.Payload)
		select {
		case c.controlQueue <- pong:
		case <-c.ctx.Done():
			return false
		}

	case protocol.TypeHeartbeatPong:
		now := time.Now()
		c.lastPongSeen.Store(now.UnixMilli())

		c.pingMu.Lock()
		if sentAt, ok := c.pingsInFlight[frame.Correlation]; ok {
			delete(c.pingsInFlight, frame.Correlation)
			c.rttMicros.Store(now.Sub(sentAt).Microseconds())
		}
		c.pingMu.Unlock()

		c.markActive()

	case protocol.TypePause:
		c.remotePaused.Store(true)

	case protocol.TypeResume:
		c.remotePaused.Store(false)
		select {
		case c.resumed <- struct{}{}:
		default:
		}

	case protocol.TypeRPCResponse, protocol.TypeRPCError:
		if !c.pending.complete(frame.Correlation, frame) {
			log.Debug("Dropping response with no pending call",
				zap.Uint64("correlation", frame.Correlation))
		}

	case protocol.TypeMessage, protocol.TypeRPCRequest:
		c.enqueueInbound(frame)

	case protocol.TypeAuthRequest, protocol.TypeAuthSuccess, protocol.TypeAuthFailure:
		if c.authenticated.Load() {
			log.Warn("Authentication frame after handshake completed",
				zap.Stringer("type", frame.Type))
			c.fail(ErrAuthViolation)
			return false
		}

		log.Debug("Dropping stray authentication frame", zap.Stringer("type", frame.Type))

	case protocol.TypeDisconnect:
		var body protocol.Disconnect
		if err := protocol.DecodeBody(frame.Payload, &body); err == nil && body.Reason != "" {
			log.Info("Peer requested disconnect", zap.String("reason", body.Reason))
		} else {
			log.Info("Peer requested disconnect")
		}

		c.beginPeerClose()
		return false

	case protocol.TypeError:
		var body protocol.ErrorBody
		_ = protocol.DecodeBody(frame.Payload, &body)
		log.Warn("Peer reported a fatal error",
			zap.String("message", body.Message),
			zap.Int("code", body.Code))
		c.fail(errors.New(body.Message))
		return false
	}

	return true
}

// markActive promotes CONNECTED to ACTIVE on the first completed heartbeat
// exchange.
func (c *Connection) markActive() {
	c.stateMu.Lock()
	if c.state == StateConnected {
		c.state = StateActive
		c.log.Debug("State transition",
			zap.Stringer("from", StateConnected),
			zap.Stringer("to", StateActive))
	}
	c.stateMu.Unlock()
}

// enqueueInbound applies the high-watermark before handing a data frame to
// the dispatch workers. Once the queue fill reaches the high-watermark a
// PAUSE goes out (exactly once) before the frame is accepted.
func (c *Connection) enqueueInbound(frame *protocol.Frame) {
	if c.opts.EnableBackpressure {
		high := int(float64(cap(c.inbound)) * c.opts.HighWatermark)

		if len(c.inbound)+1 >= high && !c.localPaused.Load() {
			c.localPaused.Store(true)

			pause := protocol.NewFrame(protocol.TypePause, 0, nil)
			select {
			case c.controlQueue <- pause:
			case <-c.ctx.Done():
				return
			}

			if err := c.transition(StatePaused); err == nil {
				c.log.Debug("Inbound queue above high-watermark, paused peer")
			}
		}
	}

	msg := &Message{
		Kind:        frame.Type,
		Correlation: frame.Correlation,
		Payload:     frame.Payload,
		Origin:      c.id,
	}

	select {
	case c.inbound <- msg:
	case <-c.ctx.Done():
	}
}

// dispatchLoop drains the inbound queue into the Dispatcher and clears the
// local pause once the fill drops below the low-watermark.
func (c *Connection) dispatchLoop() {
	for {
		select {
		case msg := <-c.inbound:
			c.maybeResume()

			if c.opts.Dispatcher != nil {
				c.opts.Dispatcher.Dispatch(c.ctx, c, msg)
			} else {
				c.log.Debug("No dispatcher registered, dropping message",
					zap.Stringer("kind", msg.Kind))
			}

			c.maybeResume()

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) maybeResume() {
	if !c.opts.EnableBackpressure || !c.localPaused.Load() {
		return
	}

	low := int(float64(cap(c.inbound)) * c.opts.LowWatermark)
	if len(c.inbound) >= low {
		return
	}

	if !c.localPaused.CompareAndSwap(true, false) {
		return
	}

	resume := protocol.NewFrame(protocol.TypeResume, 0, nil)
	select {
	case c.controlQueue <- resume:
	case <-c.ctx.Done():
		return
	}

	if err := c.transition(StateActive); err == nil {
		c.log.Debug("Inbound queue below low-watermark, resumed peer")
	}
}

// heartbeatLoop pings the peer on the configured interval and fails the
// connection when the pong deadline passes.
func (c *Connection) heartbeatLoop() {
	log := c.log.Named("heartbeat")

	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	// Prime liveness with an immediate ping so CONNECTED can reach ACTIVE
	// without waiting a full interval.
	c.sendPing(log)

	for {
		select {
		case <-ticker.C:
			switch c.State() {
			case StateConnected, StateActive, StatePaused:
			default:
				continue
			}

			sinceLastPong := time.Now().UnixMilli() - c.lastPongSeen.Load()
			if time.Duration(sinceLastPong)*time.Millisecond > c.opts.HeartbeatTimeout {
				log.Warn("Peer stopped answering pings",
					zap.Int64("sinceLastPongMs", sinceLastPong))
				c.fail(ErrHeartbeatTimeout)
				return
			}

			c.sendPing(log)

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) sendPing(log *zap.Logger) {
	correlation := c.nextCorrelation()

	payload, err := protocol.EncodeBody(protocol.Heartbeat{Nonce: time.Now().UnixNano()})
	if err != nil {
		log.Error("Failed to encode ping", zap.Error(err))
		return
	}

	c.pingMu.Lock()
	c.pingsInFlight[correlation] = time.Now()
	c.pingMu.Unlock()

	ping := protocol.NewFrame(protocol.TypeHeartbeatPing, correlation, payload)
	select {
	case c.controlQueue <- ping:
	case <-c.ctx.Done():
	}
}

// Close performs a graceful shutdown: transition to CLOSING, emit a
// DISCONNECT after the queued frames drain, close the transport, and land
// in CLOSED. Safe to call more than once.
func (c *Connection) Close(reason string) error {
	if err := c.transition(StateClosing); err != nil {
		// Already closing, closed, or failed.
		return nil
	}

	payload, _ := protocol.EncodeBody(protocol.Disconnect{Reason: reason})
	disconnect := protocol.NewFrame(protocol.TypeDisconnect, 0, payload)

	select {
	case c.sendQueue <- disconnect:
	default:
		// Data queue full; use the control lane rather than block close.
		select {
		case c.controlQueue <- disconnect:
		default:
		}
	}

	c.closeOnce.Do(func() {
		c.shutdown()
	})

	return nil
}

// beginPeerClose reacts to a peer DISCONNECT: acknowledge, drain, close.
func (c *Connection) beginPeerClose() {
	if err := c.transition(StateClosing); err != nil {
		return
	}

	if !c.disconnectSent.Load() {
		ack := protocol.NewFrame(protocol.TypeDisconnect, 0, nil)
		select {
		case c.controlQueue <- ack:
		default:
		}
	}

	c.closeOnce.Do(func() {
		// Shutting down from the receive loop itself, so run async.
		go c.shutdown()
	})
}

// shutdown drains outbound traffic, tears the transport down, and settles
// the terminal state.
func (c *Connection) shutdown() {
	deadline := time.Now().Add(c.opts.SendTimeout)

	for time.Now().Before(deadline) {
		// Empty queues are not enough: the send loop may have taken the
		// DISCONNECT off a queue without having written it yet.
		if len(c.sendQueue) == 0 && len(c.controlQueue) == 0 && c.disconnectSent.Load() {
			break
		}

		if c.remotePaused.Load() || c.transport == nil || c.transport.Closed() {
			// Nothing more will drain.
			break
		}

		time.Sleep(10 * time.Millisecond)
	}

	c.cancel()

	if c.transport != nil {
		c.transport.Close()
	}

	c.stateMu.Lock()
	if c.state == StateClosing {
		c.state = StateClosed
	}
	c.stateMu.Unlock()

	c.pending.failAll(ErrConnectionLost)

	c.doneOnce.Do(func() {
		close(c.done)
	})

	c.log.Info("Connection closed")
}

// fail moves the connection to FAILED, releases every resource, and
// completes pending calls with ErrConnectionLost.
func (c *Connection) fail(cause error) {
	c.stateMu.Lock()
	if c.state.Terminal() || c.state == StateClosing {
		c.stateMu.Unlock()

		// A failure during CLOSING just accelerates the close.
		c.closeOnce.Do(func() {
			go c.shutdown()
		})
		return
	}

	if c.failure == nil {
		c.failure = cause
	}

	from := c.state
	c.state = StateFailed
	c.stateMu.Unlock()

	c.log.Warn("Connection failed",
		zap.Stringer("from", from),
		zap.Error(cause))

	c.cancel()

	if c.transport != nil {
		c.transport.Close()
	}

	c.pending.failAll(ErrConnectionLost)

	c.doneOnce.Do(func() {
		close(c.done)
	})
}
