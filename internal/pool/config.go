package pool

import (
	"time"

	"github.com/rickgao/wallet-watch/internal/connection"
)

// Default values
const (
	DefaultWalletsPerConnection = 100
	DefaultMaxConnections       = 10
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultConnectTimeout       = 10 * time.Second
)

// Config configures a Pool.
type Config struct {
	WalletsPerConnection int           // C: distinct addresses per connection
	MaxConnections       int           // M: concurrent connections
	ReconnectBaseDelay   time.Duration // First backoff delay
	ReconnectMaxDelay    time.Duration // Backoff ceiling
	MaxReconnectAttempts int           // Failed attempts before redistributing
	ConnectTimeout       time.Duration // Bound on each dial
	Commitment           string        // logsSubscribe commitment level

	Client connection.ClientConfig // Transport settings (URL, keepalive, buffers)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		WalletsPerConnection: DefaultWalletsPerConnection,
		MaxConnections:       DefaultMaxConnections,
		ReconnectBaseDelay:   DefaultReconnectBaseDelay,
		ReconnectMaxDelay:    DefaultReconnectMaxDelay,
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		ConnectTimeout:       DefaultConnectTimeout,
		Client:               connection.DefaultClientConfig(),
	}
}

func (c *Config) applyDefaults() {
	if c.WalletsPerConnection <= 0 {
		c.WalletsPerConnection = DefaultWalletsPerConnection
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
}
