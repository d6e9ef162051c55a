package connection

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/DarsheeeGamer/NetConduit/protocol"
)

// Role distinguishes which side of the handshake a connection plays.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}

	return "server"
}

// Message is the logical unit handed to the dispatcher: one decoded inbound
// MESSAGE or RPC_REQUEST frame plus its origin connection.
type Message struct {
	Kind        protocol.MessageType
	Correlation uint64

	// Payload is the raw MessagePack body; the dispatcher decodes it
	// according to Kind.
	Payload []byte

	Origin string
}

// Dispatcher consumes inbound messages. Implementations must be safe for
// concurrent calls; a slow dispatch must never block the receive loop, so
// dispatch runs on the connection's worker goroutines.
type Dispatcher interface {
	Dispatch(ctx context.Context, conn *Connection, msg *Message)
}

// Options tune one connection. Zero values select the documented defaults.
type Options struct {
	Role     Role
	Password string

	// Info is sent to the peer during the handshake.
	Info protocol.PeerInfo

	AuthTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	SendTimeout       time.Duration
	RPCTimeout        time.Duration

	SendQueueSize    int
	ReceiveQueueSize int
	MaxFrameSize     uint32
	BufferSize       int

	EnableCompression  bool
	EnableBackpressure bool
	HighWatermark      float64
	LowWatermark       float64

	DispatchWorkers int

	Dispatcher Dispatcher

	Log *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.AuthTimeout <= 0 {
		o.AuthTimeout = 10 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatTimeout <= 0 {
		o.HeartbeatTimeout = 90 * time.Second
	}
	if o.SendTimeout <= 0 {
		o.SendTimeout = 10 * time.Second
	}
	if o.RPCTimeout <= 0 {
		o.RPCTimeout = 30 * time.Second
	}
	if o.SendQueueSize <= 0 {
		o.SendQueueSize = 1000
	}
	if o.ReceiveQueueSize <= 0 {
		o.ReceiveQueueSize = 1000
	}
	if o.MaxFrameSize == 0 {
		o.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if o.HighWatermark <= 0 || o.HighWatermark > 1 {
		o.HighWatermark = 0.8
	}
	if o.LowWatermark <= 0 || o.LowWatermark >= o.HighWatermark {
		o.LowWatermark = 0.5
	}
	if o.DispatchWorkers <= 0 {
		o.DispatchWorkers = 4
	}
	if o.Log == nil {
		o.Log = zap.NewNop()
	}

	return o
}
