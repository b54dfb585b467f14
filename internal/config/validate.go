package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.RPC.HTTPURL == "" {
		return errors.New("rpc.http_url is required")
	}
	if c.RPC.WSURL == "" {
		return errors.New("rpc.ws_url is required")
	}
	switch c.RPC.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("rpc.commitment must be processed, confirmed or finalized, got %q", c.RPC.Commitment)
	}

	if c.Pool.WalletsPerConnection < 1 {
		return errors.New("pool.wallets_per_connection must be >= 1")
	}
	if c.Pool.MaxConnections < 1 {
		return errors.New("pool.max_connections must be >= 1")
	}
	if c.Pool.MaxReconnectAttempts < 0 {
		return errors.New("pool.max_reconnect_attempts must be >= 0")
	}
	if c.Pool.ReconnectMaxDelay < c.Pool.ReconnectBaseDelay {
		return fmt.Errorf("pool.reconnect_base_delay (%s) cannot exceed reconnect_max_delay (%s)",
			c.Pool.ReconnectBaseDelay, c.Pool.ReconnectMaxDelay)
	}

	if c.Dispatch.Workers < 1 {
		return errors.New("dispatch.workers must be >= 1")
	}
	if c.Dispatch.QueueSize < 1 {
		return errors.New("dispatch.queue_size must be >= 1")
	}
	if c.Dispatch.DedupeSize < 1 {
		return errors.New("dispatch.dedupe_size must be >= 1")
	}
	switch c.Dispatch.ResolveBy {
	case "signer", "subscription":
	default:
		return fmt.Errorf("dispatch.resolve_by must be signer or subscription, got %q", c.Dispatch.ResolveBy)
	}

	if c.Database.Enabled() {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
		if c.Journal.BatchSize < 1 {
			return errors.New("journal.batch_size must be >= 1")
		}
		if c.Journal.BufferSize < 1 {
			return errors.New("journal.buffer_size must be >= 1")
		}
	}

	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 1 and 65535, got %d", c.HTTP.Port)
	}
	if !strings.HasPrefix(c.HTTP.MetricsPath, "/") {
		return fmt.Errorf("http.metrics_path must start with /, got %q", c.HTTP.MetricsPath)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
