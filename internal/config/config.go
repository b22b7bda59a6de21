package config

import "time"

// BusBackend selects the fan-out transport.
type BusBackend string

const (
	// BusMemory keeps fan-out inside the process. Single-instance deployments.
	BusMemory BusBackend = "memory"
	// BusRedis fans out through Redis Pub/Sub so multiple server processes
	// see the same stream.
	BusRedis BusBackend = "redis"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`

	LogLevel  string `mapstructure:"log_level" yaml:"log_level"`
	LogFormat string `mapstructure:"log_format" yaml:"log_format"`

	DatabasePath string `mapstructure:"database_path" yaml:"database_path"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl"`

	MessageMaxLength int           `mapstructure:"message_max_length" yaml:"message_max_length"`
	MessageRateLimit int           `mapstructure:"message_rate_limit" yaml:"message_rate_limit"`
	RateLimitWindow  time.Duration `mapstructure:"rate_limit_window" yaml:"rate_limit_window"`

	PresenceHeartbeat time.Duration `mapstructure:"presence_heartbeat" yaml:"presence_heartbeat"`
	PresenceExpiry    time.Duration `mapstructure:"presence_expiry" yaml:"presence_expiry"`

	Bus       BusBackend `mapstructure:"bus" yaml:"bus"`
	RedisAddr string     `mapstructure:"redis_addr" yaml:"redis_addr"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,

		LogLevel:  "info",
		LogFormat: "console",

		DatabasePath: "liquidchat.db",

		JWTSecret:   "change-me",
		JWTIssuer:   "liquidchat",
		JWTAudience: "liquidchat",
		JWTTTL:      24 * time.Hour,

		MessageMaxLength: 2000,
		MessageRateLimit: 1,
		RateLimitWindow:  time.Second,

		PresenceHeartbeat: 30 * time.Second,
		PresenceExpiry:    60 * time.Second,

		Bus:       BusMemory,
		RedisAddr: "localhost:6379",
	}
}
