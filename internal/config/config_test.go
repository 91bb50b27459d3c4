package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// DatabaseConfig.GetDSN
// ---------------------------------------------------------------------------

func TestGetDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  DatabaseConfig
		want string
	}{
		{
			name: "standard config",
			cfg: DatabaseConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "toolgate",
				Password: "secret",
				Name:     "toolgate",
				SSLMode:  "require",
			},
			want: "host=localhost port=5432 user=toolgate password=secret dbname=toolgate sslmode=require",
		},
		{
			name: "empty password",
			cfg: DatabaseConfig{
				Host:    "db.internal",
				Port:    5433,
				User:    "gw",
				Name:    "keys",
				SSLMode: "disable",
			},
			want: "host=db.internal port=5433 user=gw password= dbname=keys sslmode=disable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetDSN(); got != tt.want {
				t.Errorf("GetDSN() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestGetAddress(t *testing.T) {
	tests := []struct {
		name string
		cfg  ServerConfig
		want string
	}{
		{"default", ServerConfig{Host: "0.0.0.0", Port: 8080}, "0.0.0.0:8080"},
		{"empty host", ServerConfig{Host: "", Port: 8080}, ":8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.GetAddress(); got != tt.want {
				t.Errorf("GetAddress() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Config.Validate
// ---------------------------------------------------------------------------

func minimalValidConfig() *Config {
	return &Config{
		Server:       ServerConfig{Port: 8080},
		RateLimiting: RateLimitingConfig{Strategy: "sliding_window", Window: time.Minute},
		Auth:         AuthConfig{KeyPrefix: "tg_", Header: "X-API-Key", Mode: "default"},
		Upstream:     UpstreamConfig{BaseURL: "http://localhost:9000"},
		Logging:      LoggingConfig{Level: "info"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "minimal config is valid"},
		{
			name:    "port zero",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "port too large",
			mutate:  func(c *Config) { c.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "database enabled without host",
			mutate:  func(c *Config) { c.Database = DatabaseConfig{Enabled: true, Name: "n", User: "u"} },
			wantErr: "database.host",
		},
		{
			name:    "database enabled without name",
			mutate:  func(c *Config) { c.Database = DatabaseConfig{Enabled: true, Host: "h", User: "u"} },
			wantErr: "database.name",
		},
		{
			name:    "database enabled without user",
			mutate:  func(c *Config) { c.Database = DatabaseConfig{Enabled: true, Host: "h", Name: "n"} },
			wantErr: "database.user",
		},
		{
			name:   "database disabled ignores missing fields",
			mutate: func(c *Config) { c.Database = DatabaseConfig{} },
		},
		{
			name:    "redis enabled without address",
			mutate:  func(c *Config) { c.Redis = RedisConfig{Enabled: true} },
			wantErr: "redis.address",
		},
		{
			name:    "unknown strategy",
			mutate:  func(c *Config) { c.RateLimiting.Strategy = "leaky_bucket" },
			wantErr: "invalid rate limiting strategy",
		},
		{
			name:   "gcra strategy",
			mutate: func(c *Config) { c.RateLimiting.Strategy = "gcra" },
		},
		{
			name:    "zero window",
			mutate:  func(c *Config) { c.RateLimiting.Window = 0 },
			wantErr: "rate_limiting.window",
		},
		{
			name:    "unknown auth mode",
			mutate:  func(c *Config) { c.Auth.Mode = "sometimes" },
			wantErr: "invalid auth mode",
		},
		{
			name:   "required auth mode",
			mutate: func(c *Config) { c.Auth.Mode = "required" },
		},
		{
			name:    "empty header",
			mutate:  func(c *Config) { c.Auth.Header = "" },
			wantErr: "auth.header",
		},
		{
			name:    "empty key prefix",
			mutate:  func(c *Config) { c.Auth.KeyPrefix = "" },
			wantErr: "auth.key_prefix",
		},
		{
			name:    "empty upstream",
			mutate:  func(c *Config) { c.Upstream.BaseURL = "" },
			wantErr: "upstream.base_url",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid logging level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := minimalValidConfig()
			if tt.mutate != nil {
				tt.mutate(cfg)
			}
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %q, want it to contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// expandEnv
// ---------------------------------------------------------------------------

func TestExpandEnv(t *testing.T) {
	t.Run("expands ${VAR} syntax", func(t *testing.T) {
		t.Setenv("CONFIG_TEST_SECRET", "super-secret")
		if got := expandEnv("${CONFIG_TEST_SECRET}"); got != "super-secret" {
			t.Errorf("expandEnv() = %q, want %q", got, "super-secret")
		}
	})

	t.Run("unset variable expands to empty string", func(t *testing.T) {
		os.Unsetenv("CONFIG_TEST_DEFINITELY_UNSET_12345")
		if got := expandEnv("${CONFIG_TEST_DEFINITELY_UNSET_12345}"); got != "" {
			t.Errorf("expandEnv() = %q, want empty string", got)
		}
	})

	t.Run("plain string passthrough", func(t *testing.T) {
		if got := expandEnv("no-vars-here"); got != "no-vars-here" {
			t.Errorf("expandEnv() = %q, want %q", got, "no-vars-here")
		}
	})
}

// ---------------------------------------------------------------------------
// Load
// ---------------------------------------------------------------------------

// writeTempConfig creates a temp YAML file and registers a cleanup to remove it.
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp("", "config-test-*.yaml")
	if err != nil {
		t.Fatal("CreateTemp:", err)
	}
	t.Cleanup(func() { os.Remove(f.Name()) })
	if _, err := f.WriteString(content); err != nil {
		t.Fatal("WriteString:", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "logging:\n  level: info\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Enabled {
		t.Error("default Database.Enabled = true, want false")
	}
	if cfg.Redis.Enabled {
		t.Error("default Redis.Enabled = true, want false")
	}
	if cfg.RateLimiting.Strategy != "sliding_window" {
		t.Errorf("default RateLimiting.Strategy = %q, want sliding_window", cfg.RateLimiting.Strategy)
	}
	if !cfg.RateLimiting.FailOpen {
		t.Error("default RateLimiting.FailOpen = false, want true")
	}
	if cfg.RateLimiting.Window != time.Minute {
		t.Errorf("default RateLimiting.Window = %v, want 1m", cfg.RateLimiting.Window)
	}
	if cfg.Auth.KeyPrefix != "tg_" {
		t.Errorf("default Auth.KeyPrefix = %q, want tg_", cfg.Auth.KeyPrefix)
	}
	if cfg.Auth.Header != "X-API-Key" {
		t.Errorf("default Auth.Header = %q, want X-API-Key", cfg.Auth.Header)
	}
	if cfg.Auth.QueryParam != "api_key" {
		t.Errorf("default Auth.QueryParam = %q, want api_key", cfg.Auth.QueryParam)
	}
	if cfg.Auth.FallbackEnv != "TOOLGATE_API_KEY" {
		t.Errorf("default Auth.FallbackEnv = %q, want TOOLGATE_API_KEY", cfg.Auth.FallbackEnv)
	}
	if cfg.Auth.Mode != "default" {
		t.Errorf("default Auth.Mode = %q, want default", cfg.Auth.Mode)
	}
	if cfg.Usage.RecordTimeout != 5*time.Second {
		t.Errorf("default Usage.RecordTimeout = %v, want 5s", cfg.Usage.RecordTimeout)
	}
	if cfg.Redis.KeyPrefix != "toolgate:ratelimit" {
		t.Errorf("default Redis.KeyPrefix = %q, want toolgate:ratelimit", cfg.Redis.KeyPrefix)
	}
}

func TestLoad_WithConfigFile(t *testing.T) {
	const content = `
server:
  host: "testhost"
  port: 9999
  cors_allowed_origins: ["https://app.example.com"]
database:
  enabled: true
  host: "dbhost"
  name: "testdb"
  user: "testuser"
redis:
  enabled: true
  address: "cache:6379"
rate_limiting:
  strategy: "gcra"
  fail_open: false
auth:
  mode: "required"
logging:
  level: "debug"
  output: "/var/log/toolgate/gateway.log"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Host != "testhost" || cfg.Server.Port != 9999 {
		t.Errorf("Server = %s:%d, want testhost:9999", cfg.Server.Host, cfg.Server.Port)
	}
	if len(cfg.Server.CORSAllowedOrigins) != 1 || cfg.Server.CORSAllowedOrigins[0] != "https://app.example.com" {
		t.Errorf("Server.CORSAllowedOrigins = %v", cfg.Server.CORSAllowedOrigins)
	}
	if !cfg.Database.Enabled || cfg.Database.Host != "dbhost" {
		t.Errorf("Database = %+v, want enabled dbhost", cfg.Database)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Address != "cache:6379" {
		t.Errorf("Redis = %+v, want enabled cache:6379", cfg.Redis)
	}
	if cfg.RateLimiting.Strategy != "gcra" {
		t.Errorf("RateLimiting.Strategy = %q, want gcra", cfg.RateLimiting.Strategy)
	}
	if cfg.RateLimiting.FailOpen {
		t.Error("RateLimiting.FailOpen = true, want false")
	}
	if cfg.Auth.Mode != "required" {
		t.Errorf("Auth.Mode = %q, want required", cfg.Auth.Mode)
	}
	if cfg.Logging.Output != "/var/log/toolgate/gateway.log" {
		t.Errorf("Logging.Output = %q", cfg.Logging.Output)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("TOOLGATE_SERVER_PORT", "7070")
	t.Setenv("TOOLGATE_AUTH_MODE", "optional")
	path := writeTempConfig(t, "server:\n  port: 9999\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("Server.Port = %d, want 7070", cfg.Server.Port)
	}
	if cfg.Auth.Mode != "optional" {
		t.Errorf("Auth.Mode = %q, want optional", cfg.Auth.Mode)
	}
}

func TestLoad_CORSOriginsFromEnv(t *testing.T) {
	t.Setenv("TOOLGATE_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example.com,https://b.example.com")

	cfg, err := Load(writeTempConfig(t, "server:\n  port: 8080\n"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	want := []string{"https://a.example.com", "https://b.example.com"}
	if len(cfg.Server.CORSAllowedOrigins) != 2 || cfg.Server.CORSAllowedOrigins[0] != want[0] || cfg.Server.CORSAllowedOrigins[1] != want[1] {
		t.Errorf("Server.CORSAllowedOrigins = %v, want %v", cfg.Server.CORSAllowedOrigins, want)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_DB_PASS", "mysecret")
	t.Setenv("TEST_UPSTREAM_KEY", "upstream-secret")
	const content = `
database:
  password: "${TEST_DB_PASS}"
upstream:
  api_key: "${TEST_UPSTREAM_KEY}"
`
	path := writeTempConfig(t, content)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Password != "mysecret" {
		t.Errorf("Database.Password = %q, want mysecret", cfg.Database.Password)
	}
	if cfg.Upstream.APIKey != "upstream-secret" {
		t.Errorf("Upstream.APIKey = %q, want upstream-secret", cfg.Upstream.APIKey)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	path := writeTempConfig(t, "auth:\n  mode: sometimes\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Errorf("Load() error = %v, want invalid configuration", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}
