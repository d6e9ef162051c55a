package server

import (
	"time"

	"go.uber.org/zap"

	"github.com/DarsheeeGamer/NetConduit/storage"
)

type Options struct {
	// Host to listen on
	Host string

	// Port to listen on
	Port int

	// IPv6 selects the tcp6 network
	IPv6 bool

	// Password is the shared secret clients must present
	Password string

	// Name and Version are sent to clients in AUTH_SUCCESS
	Name    string
	Version string

	// NumListeners controls how many SO_REUSEPORT accept loops share the
	// address. Defaults to one per CPU.
	NumListeners int

	// MaxConnections caps the pool; further accepts are refused. 0 means
	// unlimited.
	MaxConnections int

	BufferSize   int
	MaxFrameSize uint32

	ConnectionTimeout time.Duration
	AuthTimeout       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	SendQueueSize    int
	ReceiveQueueSize int

	EnableCompression  bool
	EnableBackpressure bool
	HighWatermark      float64
	LowWatermark       float64

	Store storage.Store

	Log *zap.Logger
}
