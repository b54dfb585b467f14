package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-watcher
rpc:
  http_url: https://api.mainnet-beta.solana.com
pool:
  wallets_per_connection: 2
  max_connections: 1
database:
  host: localhost
  port: 5432
  name: wallet_watch
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-watcher" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-watcher")
	}
	if cfg.RPC.HTTPURL != "https://api.mainnet-beta.solana.com" {
		t.Errorf("RPC.HTTPURL = %q, want %q", cfg.RPC.HTTPURL, "https://api.mainnet-beta.solana.com")
	}
	if cfg.Pool.WalletsPerConnection != 2 {
		t.Errorf("Pool.WalletsPerConnection = %d, want 2", cfg.Pool.WalletsPerConnection)
	}
	if cfg.Database.Host != "localhost" {
		t.Errorf("Database.Host = %q, want %q", cfg.Database.Host, "localhost")
	}
	// Load alone leaves derived fields empty
	if cfg.RPC.WSURL != "" {
		t.Errorf("RPC.WSURL = %q, want empty", cfg.RPC.WSURL)
	}
}

func TestLoadWithDefaults_NegativeMaxLogLines(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: test-watcher\ndispatch:\n  max_log_lines: -1\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}
	if cfg.Dispatch.MaxLogLines != -1 {
		t.Errorf("Dispatch.MaxLogLines = %d, want -1 kept", cfg.Dispatch.MaxLogLines)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "read config file") {
		t.Errorf("error = %q, want read config file prefix", err)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeTempFile(t, "instance: [unclosed")

	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_TELEGRAM_TOKEN", "123:abc")
	t.Setenv("TEST_RPC_KEY", "secret123")

	yaml := `
instance:
  id: test-watcher
rpc:
  api_key: ${TEST_RPC_KEY}
notify:
  telegram_token: ${TEST_TELEGRAM_TOKEN}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.RPC.APIKey != "secret123" {
		t.Errorf("RPC.APIKey = %q, want %q", cfg.RPC.APIKey, "secret123")
	}
	if cfg.Notify.TelegramToken != "123:abc" {
		t.Errorf("Notify.TelegramToken = %q, want %q", cfg.Notify.TelegramToken, "123:abc")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: test-watcher\n")

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.RPC.HTTPURL != DefaultHTTPURL {
		t.Errorf("RPC.HTTPURL = %q, want default %q", cfg.RPC.HTTPURL, DefaultHTTPURL)
	}
	if cfg.RPC.WSURL != "wss://api.devnet.solana.com/" {
		t.Errorf("RPC.WSURL = %q, want derived devnet endpoint", cfg.RPC.WSURL)
	}
	if cfg.RPC.Commitment != DefaultCommitment {
		t.Errorf("RPC.Commitment = %q, want default %q", cfg.RPC.Commitment, DefaultCommitment)
	}
	if cfg.Pool.WalletsPerConnection != DefaultWalletsPerConnection {
		t.Errorf("Pool.WalletsPerConnection = %d, want default %d", cfg.Pool.WalletsPerConnection, DefaultWalletsPerConnection)
	}
	if cfg.Pool.MaxConnections != DefaultMaxConnections {
		t.Errorf("Pool.MaxConnections = %d, want default %d", cfg.Pool.MaxConnections, DefaultMaxConnections)
	}
	if cfg.Pool.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("Pool.ConnectTimeout = %v, want default %v", cfg.Pool.ConnectTimeout, DefaultConnectTimeout)
	}
	if cfg.Dispatch.MaxLogLines != DefaultMaxLogLines {
		t.Errorf("Dispatch.MaxLogLines = %d, want default %d", cfg.Dispatch.MaxLogLines, DefaultMaxLogLines)
	}
	if cfg.Dispatch.ResolveBy != DefaultResolveBy {
		t.Errorf("Dispatch.ResolveBy = %q, want default %q", cfg.Dispatch.ResolveBy, DefaultResolveBy)
	}
	if cfg.HTTP.Port != DefaultHTTPPort {
		t.Errorf("HTTP.Port = %d, want default %d", cfg.HTTP.Port, DefaultHTTPPort)
	}

	// Database stays untouched when the journal is disabled
	if cfg.Database.Enabled() {
		t.Error("Database.Enabled() = true, want false")
	}
	if cfg.Database.Port != 0 {
		t.Errorf("Database.Port = %d, want 0 when disabled", cfg.Database.Port)
	}
}

func TestLoadWithDefaultsDerivesWSURL(t *testing.T) {
	tests := []struct {
		name    string
		httpURL string
		wsURL   string
		want    string
	}{
		{"mainnet", "https://api.mainnet-beta.solana.com", "", "wss://api.mainnet-beta.solana.com/"},
		{"private https", "https://rpc.example.com/key", "", "wss://rpc.example.com/key"},
		{"localhost", "http://localhost:8899", "", "ws://localhost:8899"},
		{"explicit ws url kept", "https://rpc.example.com", "wss://stream.example.com", "wss://stream.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yaml := "instance:\n  id: w\nrpc:\n  http_url: " + tt.httpURL + "\n"
			if tt.wsURL != "" {
				yaml += "  ws_url: " + tt.wsURL + "\n"
			}
			cfg, err := LoadWithDefaults(writeTempFile(t, yaml))
			if err != nil {
				t.Fatalf("LoadWithDefaults failed: %v", err)
			}
			if cfg.RPC.WSURL != tt.want {
				t.Errorf("RPC.WSURL = %q, want %q", cfg.RPC.WSURL, tt.want)
			}
		})
	}
}

func TestLoadWithDefaultsBadRPCURL(t *testing.T) {
	path := writeTempFile(t, "rpc:\n  http_url: ftp://example.com\n")

	_, err := LoadWithDefaults(path)
	if err == nil {
		t.Fatal("expected error for unsupported scheme")
	}
	if !strings.HasPrefix(err.Error(), "rpc.ws_url:") {
		t.Errorf("error = %q, want rpc.ws_url prefix", err)
	}
}

func TestLoadWithDefaultsDatabase(t *testing.T) {
	yaml := `
instance:
  id: test-watcher
database:
  host: db
  name: wallet_watch
  user: u
  password: p
`
	cfg, err := LoadAndValidate(writeTempFile(t, yaml))
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}

	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Database.SSLMode != DefaultDBSSLMode {
		t.Errorf("Database.SSLMode = %q, want default %q", cfg.Database.SSLMode, DefaultDBSSLMode)
	}
	if cfg.Journal.FlushInterval != DefaultFlushInterval {
		t.Errorf("Journal.FlushInterval = %v, want default %v", cfg.Journal.FlushInterval, DefaultFlushInterval)
	}
}

func TestLoadAndValidateWrapsError(t *testing.T) {
	path := writeTempFile(t, "pool:\n  max_connections: 2\n")

	_, err := LoadAndValidate(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if err.Error() != "validate config: instance.id is required" {
		t.Errorf("error = %q", err)
	}
}

func TestExampleConfig(t *testing.T) {
	t.Setenv("RPC_API_KEY", "")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("JOURNAL_DB_HOST", "localhost")
	t.Setenv("JOURNAL_DB_PASSWORD", "secret")

	cfg, err := LoadAndValidate(filepath.Join("..", "..", "configs", "watcher.example.yaml"))
	if err != nil {
		t.Fatalf("LoadAndValidate: %v", err)
	}

	if cfg.RPC.WSURL != "wss://api.devnet.solana.com/" {
		t.Errorf("RPC.WSURL = %q, want derived devnet endpoint", cfg.RPC.WSURL)
	}
	if !cfg.Database.Enabled() {
		t.Error("Database.Enabled() = false, want true")
	}
	if cfg.Pool.MaxConnections != 10 || cfg.Pool.WalletsPerConnection != 100 {
		t.Errorf("Pool = %+v", cfg.Pool)
	}
}

// validConfig returns a config that passes Validate.
func validConfig() Config {
	cfg := Config{Instance: InstanceConfig{ID: "test"}}
	if err := cfg.applyDefaults(); err != nil {
		panic(err)
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:    "valid config",
			modify:  func(c *Config) {},
			wantErr: "",
		},
		{
			name:    "missing instance id",
			modify:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing ws url",
			modify:  func(c *Config) { c.RPC.WSURL = "" },
			wantErr: "rpc.ws_url is required",
		},
		{
			name:    "bad commitment",
			modify:  func(c *Config) { c.RPC.Commitment = "latest" },
			wantErr: `rpc.commitment must be processed, confirmed or finalized, got "latest"`,
		},
		{
			name:    "zero wallets per connection",
			modify:  func(c *Config) { c.Pool.WalletsPerConnection = -1 },
			wantErr: "pool.wallets_per_connection must be >= 1",
		},
		{
			name:    "zero max connections",
			modify:  func(c *Config) { c.Pool.MaxConnections = -1 },
			wantErr: "pool.max_connections must be >= 1",
		},
		{
			name: "base delay exceeds max delay",
			modify: func(c *Config) {
				c.Pool.ReconnectBaseDelay = time.Minute
				c.Pool.ReconnectMaxDelay = time.Second
			},
			wantErr: "pool.reconnect_base_delay (1m0s) cannot exceed reconnect_max_delay (1s)",
		},
		{
			name:    "bad resolve_by",
			modify:  func(c *Config) { c.Dispatch.ResolveBy = "fee_payer" },
			wantErr: `dispatch.resolve_by must be signer or subscription, got "fee_payer"`,
		},
		{
			name:    "zero workers",
			modify:  func(c *Config) { c.Dispatch.Workers = -2 },
			wantErr: "dispatch.workers must be >= 1",
		},
		{
			name: "database missing password",
			modify: func(c *Config) {
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", MaxConns: 2}
			},
			wantErr: "database.password is required",
		},
		{
			name: "min_conns exceeds max_conns",
			modify: func(c *Config) {
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name: "journal batch size checked when enabled",
			modify: func(c *Config) {
				c.Database = DBConfig{Host: "localhost", Name: "db", User: "user", Password: "pass", MaxConns: 5}
				c.Journal.BatchSize = 0
			},
			wantErr: "journal.batch_size must be >= 1",
		},
		{
			name:    "journal ignored when disabled",
			modify:  func(c *Config) { c.Journal.BatchSize = 0 },
			wantErr: "",
		},
		{
			name:    "port out of range",
			modify:  func(c *Config) { c.HTTP.Port = 70000 },
			wantErr: "http.port must be between 1 and 65535, got 70000",
		},
		{
			name:    "bad log format",
			modify:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: `logging.format must be text or json, got "xml"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
