package config

import "time"

// Config holds gateway configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level"`
	LogFormat         string        `mapstructure:"log_format" yaml:"log_format"`
	Debug             bool          `mapstructure:"debug" yaml:"debug"`

	Database  DatabaseConfig  `mapstructure:"database" yaml:"database"`
	AMQP      AMQPConfig      `mapstructure:"amqp" yaml:"amqp"`
	Auth      AuthConfig      `mapstructure:"auth" yaml:"auth"`
	WS        WSConfig        `mapstructure:"ws" yaml:"ws"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// AMQPConfig configures event export. An empty URL disables it.
type AMQPConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`
	Exchange string `mapstructure:"exchange" yaml:"exchange"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	Issuer    string `mapstructure:"issuer" yaml:"issuer"`
	// RequireSocketAuth rejects socket handshakes without a valid token and
	// binds each connection to the token's user.
	RequireSocketAuth bool `mapstructure:"require_socket_auth" yaml:"require_socket_auth"`
}

type WSConfig struct {
	Path            string        `mapstructure:"path" yaml:"path"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	SendBuffer      int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	MaxMessageBytes int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`
	PingInterval    time.Duration `mapstructure:"ping_interval" yaml:"ping_interval"`
}

// TelemetryConfig configures tracing. An empty OTLP endpoint disables export.
type TelemetryConfig struct {
	Service      string `mapstructure:"service" yaml:"service"`
	Environment  string `mapstructure:"environment" yaml:"environment"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8083",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		LogLevel:          "info",
		LogFormat:         "console",
		Database: DatabaseConfig{
			Driver: "sqlite3",
			DSN:    "chat-gateway.db",
		},
		AMQP: AMQPConfig{
			Exchange: "chat.events",
		},
		Auth: AuthConfig{
			JWTSecret: "change-me",
			Issuer:    "chat",
		},
		WS: WSConfig{
			Path:            "/socket",
			AllowedOrigins:  []string{"*"},
			SendBuffer:      256,
			MaxMessageBytes: 64 * 1024,
			PingInterval:    30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Service:     "chat-gateway",
			Environment: "dev",
		},
	}
}
