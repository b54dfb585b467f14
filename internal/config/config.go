package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a watcher instance.
type Config struct {
	Instance InstanceConfig `yaml:"instance"`
	RPC      RPCConfig      `yaml:"rpc"`
	Pool     PoolConfig     `yaml:"pool"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Notify   NotifyConfig   `yaml:"notify"`
	Database DBConfig       `yaml:"database"`
	Journal  JournalConfig  `yaml:"journal"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// InstanceConfig identifies this watcher.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// RPCConfig holds the upstream node endpoints.
type RPCConfig struct {
	HTTPURL    string        `yaml:"http_url"`
	WSURL      string        `yaml:"ws_url"` // Derived from http_url when empty
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	Commitment string        `yaml:"commitment"`
}

// PoolConfig holds connection pool settings.
type PoolConfig struct {
	WalletsPerConnection int           `yaml:"wallets_per_connection"`
	MaxConnections       int           `yaml:"max_connections"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PingTimeout          time.Duration `yaml:"ping_timeout"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
}

// DispatchConfig holds notification dispatcher settings.
type DispatchConfig struct {
	Workers     int           `yaml:"workers"`
	QueueSize   int           `yaml:"queue_size"`
	ResolveBy   string        `yaml:"resolve_by"` // "signer" or "subscription"
	DedupeTTL   time.Duration `yaml:"dedupe_ttl"`
	DedupeSize  int           `yaml:"dedupe_size"`
	ExplorerURL string        `yaml:"explorer_url"`
	MaxLogLines int           `yaml:"max_log_lines"` // 0 selects the default, negative omits logs
}

// NotifyConfig selects where rendered notifications go. Without a token
// notifications are only logged.
type NotifyConfig struct {
	TelegramToken string `yaml:"telegram_token"`
}

// DBConfig holds the journal database connection. The journal is
// disabled when Host is empty.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// Enabled reports whether a database was configured.
func (db DBConfig) Enabled() bool {
	return db.Host != ""
}

// JournalConfig holds delivery journal batching settings.
type JournalConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// HTTPConfig holds the control and metrics server settings.
type HTTPConfig struct {
	Port        int    `yaml:"port"`
	MetricsPath string `yaml:"metrics_path"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}

	return &cfg, nil
}

// LoadWithDefaults loads config and applies default values.
func LoadWithDefaults(path string) (*Config, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAndValidate loads config, applies defaults, and validates.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadWithDefaults(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}
