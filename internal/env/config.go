package env

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config carries every recognized option. Values come from the
// environment (CONDUIT_* variables, with .env.local honored) and can be
// overlaid from a TOML file.
type Config struct {
	Name    string `env:"CONDUIT_NAME,default=conduit" toml:"name"`
	Version string `env:"CONDUIT_VERSION,default=0.0.0" toml:"version"`

	Password string `env:"CONDUIT_PASSWORD" toml:"password"`

	Host string `env:"CONDUIT_HOST,default=0.0.0.0" toml:"host"`
	Port int    `env:"CONDUIT_PORT,default=7363" toml:"port"`
	IPv6 bool   `env:"CONDUIT_IPV6" toml:"ipv6"`

	MaxConnections int `env:"CONDUIT_MAX_CONNECTIONS,default=100" toml:"max_connections"`
	BufferSize     int `env:"CONDUIT_BUFFER_SIZE,default=65536" toml:"buffer_size"`
	MaxFrameSize   int `env:"CONDUIT_MAX_FRAME_SIZE,default=16777216" toml:"max_frame_size"`

	ConnectionTimeout Duration `env:"CONDUIT_CONNECTION_TIMEOUT,default=120s" toml:"connection_timeout"`
	AuthTimeout       Duration `env:"CONDUIT_AUTH_TIMEOUT,default=10s" toml:"auth_timeout"`
	HeartbeatInterval Duration `env:"CONDUIT_HEARTBEAT_INTERVAL,default=30s" toml:"heartbeat_interval"`
	HeartbeatTimeout  Duration `env:"CONDUIT_HEARTBEAT_TIMEOUT,default=90s" toml:"heartbeat_timeout"`

	SendQueueSize    int `env:"CONDUIT_SEND_QUEUE_SIZE,default=1000" toml:"send_queue_size"`
	ReceiveQueueSize int `env:"CONDUIT_RECEIVE_QUEUE_SIZE,default=1000" toml:"receive_queue_size"`

	EnableCompression  bool    `env:"CONDUIT_ENABLE_COMPRESSION" toml:"enable_compression"`
	EnableBackpressure bool    `env:"CONDUIT_ENABLE_BACKPRESSURE,default=true" toml:"enable_backpressure"`
	HighWatermark      float64 `env:"CONDUIT_HIGH_WATERMARK,default=0.8" toml:"high_watermark"`
	LowWatermark       float64 `env:"CONDUIT_LOW_WATERMARK,default=0.5" toml:"low_watermark"`

	// Client side.
	ServerHost     string        `env:"CONDUIT_SERVER_HOST,default=127.0.0.1" toml:"server_host"`
	ServerPort     int           `env:"CONDUIT_SERVER_PORT,default=7363" toml:"server_port"`
	ConnectTimeout Duration `env:"CONDUIT_CONNECT_TIMEOUT,default=10s" toml:"connect_timeout"`
	RPCTimeout     Duration `env:"CONDUIT_RPC_TIMEOUT,default=30s" toml:"rpc_timeout"`

	ReconnectEnabled         bool          `env:"CONDUIT_RECONNECT_ENABLED,default=true" toml:"reconnect_enabled"`
	ReconnectAttempts        int           `env:"CONDUIT_RECONNECT_ATTEMPTS,default=5" toml:"reconnect_attempts"`
	ReconnectDelay           Duration `env:"CONDUIT_RECONNECT_DELAY,default=2s" toml:"reconnect_delay"`
	ReconnectDelayMultiplier float64       `env:"CONDUIT_RECONNECT_DELAY_MULTIPLIER,default=2.0" toml:"reconnect_delay_multiplier"`
	ReconnectDelayMax        Duration `env:"CONDUIT_RECONNECT_DELAY_MAX,default=60s" toml:"reconnect_delay_max"`

	Debug bool `env:"CONDUIT_DEBUG" toml:"debug"`
}

// LoadConfig reads the environment, honoring .env.local when present.
func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// LoadFile overlays values from a TOML file onto config. Keys absent from
// the file keep their current values.
func LoadFile(config *Config, path string) error {
	if _, err := toml.DecodeFile(path, config); err != nil {
		return fmt.Errorf("Failed to read config file %s: %w", path, err)
	}

	return nil
}

// Validate rejects configurations the engine cannot run with.
func (c *Config) Validate() error {
	if c.Password == "" {
		return fmt.Errorf("Password is required; set CONDUIT_PASSWORD")
	}

	if c.LowWatermark >= c.HighWatermark {
		return fmt.Errorf("low_watermark %v must be below high_watermark %v", c.LowWatermark, c.HighWatermark)
	}

	return nil
}
