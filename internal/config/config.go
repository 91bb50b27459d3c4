// Package config loads and validates the gateway configuration using Viper.
//
// Configuration is layered: built-in defaults < YAML config file < environment
// variables. Environment variables use the TOOLGATE_ prefix (e.g.
// TOOLGATE_DATABASE_HOST overrides database.host in the YAML).
//
// Two sections decide which collaborators exist at runtime. database.enabled
// turns on the persistent key/usage store; without it the gateway runs with
// authentication skipped. redis.enabled turns on the shared rate-limit store;
// without it every process enforces limits with its own in-memory counters.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Upstream     UpstreamConfig     `mapstructure:"upstream"`
	Usage        UsageConfig        `mapstructure:"usage"`
	Admin        AdminConfig        `mapstructure:"admin"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Telemetry    TelemetryConfig    `mapstructure:"telemetry"`
	Jobs         JobsConfig         `mapstructure:"jobs"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// CORSAllowedOrigins enables CORS for the listed origins. "*" allows any origin;
	// empty disables CORS handling.
	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`
}

// DatabaseConfig holds the key/usage store connection configuration
type DatabaseConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	Name               string `mapstructure:"name"`
	User               string `mapstructure:"user"`
	Password           string `mapstructure:"password"`
	SSLMode            string `mapstructure:"ssl_mode"`
	MaxConnections     int    `mapstructure:"max_connections"`
	MinIdleConnections int    `mapstructure:"min_idle_connections"`
}

// RedisConfig holds the shared rate-limit store configuration
type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
}

// RateLimitingConfig holds per-tier rate limiting behaviour
type RateLimitingConfig struct {
	// Strategy selects the shared-store algorithm: "sliding_window" or "gcra".
	// Ignored when redis is disabled.
	Strategy string `mapstructure:"strategy"`
	// FailOpen admits requests when the shared store is unreachable.
	FailOpen bool `mapstructure:"fail_open"`
	// Window is the counting window for every tier's per-minute limit.
	Window time.Duration `mapstructure:"window"`
	// CleanupInterval controls how often idle in-memory counters are dropped.
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// AuthConfig holds API key extraction and admin credential settings
type AuthConfig struct {
	KeyPrefix   string `mapstructure:"key_prefix"`
	Header      string `mapstructure:"header"`
	QueryParam  string `mapstructure:"query_param"`
	FallbackEnv string `mapstructure:"fallback_env"`
	// Mode is one of "default", "required" or "optional".
	Mode string `mapstructure:"mode"`
	// AdminTokenHash is the bcrypt hash of the admin bearer token.
	AdminTokenHash string `mapstructure:"admin_token_hash"`
}

// UpstreamConfig describes the tool server requests are forwarded to
type UpstreamConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// UsageConfig holds usage accounting settings
type UsageConfig struct {
	RecordTimeout time.Duration `mapstructure:"record_timeout"`
}

// AdminConfig holds throttling for the key administration endpoints
type AdminConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// Output is "stdout" or a file path; files are rotated.
	Output     string `mapstructure:"output"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// TelemetryConfig holds observability configuration
type TelemetryConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	PrometheusPort int  `mapstructure:"prometheus_port"`
}

// JobsConfig holds background job configuration
type JobsConfig struct {
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`
}

// bindEnvVars explicitly binds environment variables to config keys.
// This is necessary because AutomaticEnv() doesn't work well with nested structs during Unmarshal.
func bindEnvVars(v *viper.Viper) error {
	keys := []string{
		// Server
		"server.host",
		"server.port",
		"server.read_timeout",
		"server.write_timeout",
		"server.cors_allowed_origins",

		// Database
		"database.enabled",
		"database.host",
		"database.port",
		"database.name",
		"database.user",
		"database.password",
		"database.ssl_mode",
		"database.max_connections",
		"database.min_idle_connections",

		// Redis
		"redis.enabled",
		"redis.address",
		"redis.password",
		"redis.db",
		"redis.dial_timeout",
		"redis.read_timeout",
		"redis.write_timeout",
		"redis.pool_size",
		"redis.key_prefix",

		// Rate limiting
		"rate_limiting.strategy",
		"rate_limiting.fail_open",
		"rate_limiting.window",
		"rate_limiting.cleanup_interval",

		// Auth
		"auth.key_prefix",
		"auth.header",
		"auth.query_param",
		"auth.fallback_env",
		"auth.mode",
		"auth.admin_token_hash",

		// Upstream
		"upstream.base_url",
		"upstream.api_key",
		"upstream.timeout",

		// Usage
		"usage.record_timeout",

		// Admin
		"admin.requests_per_second",
		"admin.burst",

		// Logging
		"logging.level",
		"logging.format",
		"logging.output",
		"logging.max_size_mb",
		"logging.max_backups",
		"logging.max_age_days",

		// Telemetry
		"telemetry.metrics.enabled",
		"telemetry.metrics.prometheus_port",

		// Jobs
		"jobs.expiry_sweep_interval",
	}
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("failed to bind env var %q: %w", key, err)
		}
	}
	return nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/toolgate")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found; use defaults and environment variables
	}

	v.SetEnvPrefix("TOOLGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand environment variables in sensitive fields
	cfg.Database.Password = expandEnv(cfg.Database.Password)
	cfg.Redis.Password = expandEnv(cfg.Redis.Password)
	cfg.Upstream.APIKey = expandEnv(cfg.Upstream.APIKey)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "toolgate")
	v.SetDefault("database.user", "toolgate")
	v.SetDefault("database.ssl_mode", "require")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.min_idle_connections", 5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "toolgate:ratelimit")

	v.SetDefault("rate_limiting.strategy", "sliding_window")
	v.SetDefault("rate_limiting.fail_open", true)
	v.SetDefault("rate_limiting.window", "1m")
	v.SetDefault("rate_limiting.cleanup_interval", "5m")

	v.SetDefault("auth.key_prefix", "tg_")
	v.SetDefault("auth.header", "X-API-Key")
	v.SetDefault("auth.query_param", "api_key")
	v.SetDefault("auth.fallback_env", "TOOLGATE_API_KEY")
	v.SetDefault("auth.mode", "default")

	v.SetDefault("upstream.base_url", "http://localhost:9000")
	v.SetDefault("upstream.timeout", "30s")

	v.SetDefault("usage.record_timeout", "5s")

	v.SetDefault("admin.requests_per_second", 5)
	v.SetDefault("admin.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("telemetry.metrics.enabled", true)
	v.SetDefault("telemetry.metrics.prometheus_port", 9090)

	v.SetDefault("jobs.expiry_sweep_interval", "1h")
}

// expandEnv expands environment variables in the format ${VAR_NAME}
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Database.Enabled {
		if c.Database.Host == "" {
			return fmt.Errorf("database.host is required when the database is enabled")
		}
		if c.Database.Name == "" {
			return fmt.Errorf("database.name is required when the database is enabled")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user is required when the database is enabled")
		}
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}

	validStrategies := map[string]bool{"sliding_window": true, "gcra": true}
	if !validStrategies[c.RateLimiting.Strategy] {
		return fmt.Errorf("invalid rate limiting strategy: %s (must be sliding_window or gcra)", c.RateLimiting.Strategy)
	}
	if c.RateLimiting.Window <= 0 {
		return fmt.Errorf("rate_limiting.window must be positive")
	}

	validModes := map[string]bool{"default": true, "required": true, "optional": true}
	if !validModes[c.Auth.Mode] {
		return fmt.Errorf("invalid auth mode: %s (must be default, required, or optional)", c.Auth.Mode)
	}
	if c.Auth.Header == "" {
		return fmt.Errorf("auth.header is required")
	}
	if c.Auth.KeyPrefix == "" {
		return fmt.Errorf("auth.key_prefix is required")
	}

	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid logging level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	return nil
}

// GetDSN returns the PostgreSQL connection string
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// GetAddress returns the server address in host:port format
func (c *ServerConfig) GetAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
