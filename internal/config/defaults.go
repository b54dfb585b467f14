package config

import (
	"fmt"
	"time"

	"github.com/rickgao/wallet-watch/internal/rpc"
)

// Default values for optional configuration fields.
const (
	DefaultHTTPURL              = rpc.DefaultURL
	DefaultRPCTimeout           = 30 * time.Second
	DefaultMaxRetries           = 3
	DefaultCommitment           = "confirmed"
	DefaultWalletsPerConnection = 100
	DefaultMaxConnections       = 10
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 5
	DefaultConnectTimeout       = 10 * time.Second
	DefaultPingInterval         = 30 * time.Second
	DefaultPingTimeout          = 90 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultWorkers              = 4
	DefaultQueueSize            = 1024
	DefaultResolveBy            = "signer"
	DefaultDedupeTTL            = 10 * time.Minute
	DefaultDedupeSize           = 10000
	DefaultExplorerURL          = "https://solscan.io/tx/"
	DefaultMaxLogLines          = 3
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 4
	DefaultMinConns             = 1
	DefaultBatchSize            = 500
	DefaultFlushInterval        = 1 * time.Second
	DefaultJournalBufferSize    = 10000
	DefaultHTTPPort             = 8080
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
)

func (c *Config) applyDefaults() error {
	// RPC defaults
	if c.RPC.HTTPURL == "" {
		c.RPC.HTTPURL = DefaultHTTPURL
	}
	if c.RPC.WSURL == "" {
		ws, err := rpc.DeriveWSURL(c.RPC.HTTPURL)
		if err != nil {
			return fmt.Errorf("rpc.ws_url: %w", err)
		}
		c.RPC.WSURL = ws
	}
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = DefaultRPCTimeout
	}
	if c.RPC.MaxRetries == 0 {
		c.RPC.MaxRetries = DefaultMaxRetries
	}
	if c.RPC.Commitment == "" {
		c.RPC.Commitment = DefaultCommitment
	}

	// Pool defaults
	if c.Pool.WalletsPerConnection == 0 {
		c.Pool.WalletsPerConnection = DefaultWalletsPerConnection
	}
	if c.Pool.MaxConnections == 0 {
		c.Pool.MaxConnections = DefaultMaxConnections
	}
	if c.Pool.ReconnectBaseDelay == 0 {
		c.Pool.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Pool.ReconnectMaxDelay == 0 {
		c.Pool.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Pool.MaxReconnectAttempts == 0 {
		c.Pool.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Pool.ConnectTimeout == 0 {
		c.Pool.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Pool.PingInterval == 0 {
		c.Pool.PingInterval = DefaultPingInterval
	}
	if c.Pool.PingTimeout == 0 {
		c.Pool.PingTimeout = DefaultPingTimeout
	}
	if c.Pool.WriteTimeout == 0 {
		c.Pool.WriteTimeout = DefaultWriteTimeout
	}

	// Dispatch defaults
	if c.Dispatch.Workers == 0 {
		c.Dispatch.Workers = DefaultWorkers
	}
	if c.Dispatch.QueueSize == 0 {
		c.Dispatch.QueueSize = DefaultQueueSize
	}
	if c.Dispatch.ResolveBy == "" {
		c.Dispatch.ResolveBy = DefaultResolveBy
	}
	if c.Dispatch.DedupeTTL == 0 {
		c.Dispatch.DedupeTTL = DefaultDedupeTTL
	}
	if c.Dispatch.DedupeSize == 0 {
		c.Dispatch.DedupeSize = DefaultDedupeSize
	}
	if c.Dispatch.ExplorerURL == "" {
		c.Dispatch.ExplorerURL = DefaultExplorerURL
	}
	if c.Dispatch.MaxLogLines == 0 {
		c.Dispatch.MaxLogLines = DefaultMaxLogLines
	}

	// Database defaults only matter when the journal is enabled
	if c.Database.Enabled() {
		if c.Database.Port == 0 {
			c.Database.Port = DefaultDBPort
		}
		if c.Database.SSLMode == "" {
			c.Database.SSLMode = DefaultDBSSLMode
		}
		if c.Database.MaxConns == 0 {
			c.Database.MaxConns = DefaultMaxConns
		}
		if c.Database.MinConns == 0 {
			c.Database.MinConns = DefaultMinConns
		}
	}

	// Journal defaults
	if c.Journal.BatchSize == 0 {
		c.Journal.BatchSize = DefaultBatchSize
	}
	if c.Journal.FlushInterval == 0 {
		c.Journal.FlushInterval = DefaultFlushInterval
	}
	if c.Journal.BufferSize == 0 {
		c.Journal.BufferSize = DefaultJournalBufferSize
	}

	// HTTP defaults
	if c.HTTP.Port == 0 {
		c.HTTP.Port = DefaultHTTPPort
	}
	if c.HTTP.MetricsPath == "" {
		c.HTTP.MetricsPath = DefaultMetricsPath
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}

	return nil
}
