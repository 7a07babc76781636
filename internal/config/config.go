package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	dbconfig "taskflow/pkg/database"
)

// EnvPrefix prefixes every environment override, e.g. TASKFLOW_HTTP_PORT
const EnvPrefix = "TASKFLOW"

// DefaultJWTSecret is only suitable for local development
const DefaultJWTSecret = "default-secret-key-change-me"

// ARCHITECTURAL DISCOVERY: Configuration layer serves as system-wide settings coordinator
// Clean separation between configuration management and business logic
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Log       LogConfig       `mapstructure:"log"`
}

// DatabaseConfig selects the document store backend. Path is used by
// sqlite3 when DSN is empty.
type DatabaseConfig struct {
	Driver         string        `mapstructure:"driver"`
	Path           string        `mapstructure:"path"`
	DSN            string        `mapstructure:"dsn"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConnections int           `mapstructure:"max_connections"`
}

// HTTPConfig configures the listener shared by REST and the realtime gateway
type HTTPConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// WebSocketConfig tunes realtime connections
type WebSocketConfig struct {
	PingInterval time.Duration `mapstructure:"ping_interval"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	BufferSize   int           `mapstructure:"buffer_size"`
}

// AuthConfig configures credential signing and verification
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	Issuer        string        `mapstructure:"issuer"`
	TokenEndpoint bool          `mapstructure:"token_endpoint"`
}

// RateLimitConfig limits REST mutations per user
type RateLimitConfig struct {
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

// LogConfig selects the zap preset and level
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// FUNCTIONAL DISCOVERY: Production-ready defaults
// Database on local filesystem, HTTP on standard port, WebSocket with 30s heartbeat
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:         dbconfig.DriverSQLite,
			Path:           "./data/taskflow.db",
			Timeout:        30 * time.Second,
			MaxConnections: 10,
		},
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Auth: AuthConfig{
			JWTSecret: DefaultJWTSecret,
			TokenTTL:  24 * time.Hour,
			Issuer:    "taskflow",
		},
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 100,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// FUNCTIONAL DISCOVERY: Comprehensive validation prevents invalid system configurations
func (c *Config) Validate() error {
	if c.Database.Driver != dbconfig.DriverSQLite && c.Database.Driver != dbconfig.DriverPostgres {
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.DSN == "" && c.Database.Path == "" {
		return errors.New("database path or dsn is required")
	}
	if c.Database.Driver == dbconfig.DriverPostgres && c.Database.DSN == "" {
		return errors.New("postgres requires a database dsn")
	}
	if c.Database.Timeout <= 0 {
		return errors.New("database timeout must be positive")
	}
	if c.Database.MaxConnections <= 0 {
		return errors.New("database max connections must be positive")
	}

	// port 0 binds an ephemeral port
	if c.HTTP.Port < 0 || c.HTTP.Port > 65535 {
		return errors.New("HTTP port must be between 0 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return errors.New("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return errors.New("HTTP write timeout must be positive")
	}

	if c.WebSocket.PingInterval <= 0 {
		return errors.New("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return errors.New("WebSocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return errors.New("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return errors.New("WebSocket buffer size must be positive")
	}

	if c.Auth.JWTSecret == "" {
		return errors.New("auth jwt secret cannot be empty")
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("auth token ttl must be positive")
	}

	if c.RateLimit.RequestsPerMinute <= 0 {
		return errors.New("rate limit must be positive")
	}
	return nil
}

// Address is the host:port the HTTP server listens on
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// StoreConfig converts the database section into the store's config
func (c *Config) StoreConfig() *dbconfig.Config {
	store := dbconfig.DefaultConfig()
	store.Driver = c.Database.Driver
	store.DSN = c.Database.DSN
	if store.DSN == "" {
		store.DSN = c.Database.Path
	}
	store.MaxConnections = c.Database.MaxConnections
	return store
}

// Load builds the configuration from defaults, an optional config file and
// TASKFLOW_* environment variables, in increasing precedence
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	// ARCHITECTURAL DISCOVERY: Validate configuration after loading to catch errors early
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so environment overrides apply to keys
// absent from the config file
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("database.driver", d.Database.Driver)
	v.SetDefault("database.path", d.Database.Path)
	v.SetDefault("database.dsn", d.Database.DSN)
	v.SetDefault("database.timeout", d.Database.Timeout)
	v.SetDefault("database.max_connections", d.Database.MaxConnections)

	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("http.read_timeout", d.HTTP.ReadTimeout)
	v.SetDefault("http.write_timeout", d.HTTP.WriteTimeout)

	v.SetDefault("websocket.ping_interval", d.WebSocket.PingInterval)
	v.SetDefault("websocket.read_timeout", d.WebSocket.ReadTimeout)
	v.SetDefault("websocket.write_timeout", d.WebSocket.WriteTimeout)
	v.SetDefault("websocket.buffer_size", d.WebSocket.BufferSize)

	v.SetDefault("auth.jwt_secret", d.Auth.JWTSecret)
	v.SetDefault("auth.token_ttl", d.Auth.TokenTTL)
	v.SetDefault("auth.issuer", d.Auth.Issuer)
	v.SetDefault("auth.token_endpoint", d.Auth.TokenEndpoint)

	v.SetDefault("rate_limit.requests_per_minute", d.RateLimit.RequestsPerMinute)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)
}
