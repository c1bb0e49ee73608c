package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// ErrInvalid is wrapped by every validation failure returned from Load.
var ErrInvalid = errors.New("invalid configuration")

// Identity modes for the websocket endpoints.
const (
	AuthModeTrust = "trust"
	AuthModeToken = "token"
)

// Config holds all configuration for the application.
type Config struct {
	HTTPAddr string `env:"HTTP_ADDR" envDefault:":8000"`

	LogFormat string `env:"LOG_FORMAT" envDefault:"text"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	PingInterval time.Duration `env:"WS_PING_INTERVAL" envDefault:"20s"`
	WriteTimeout time.Duration `env:"WS_WRITE_TIMEOUT" envDefault:"10s"`
	// ChatGrace and LobbyGrace are the delays before a user whose last
	// connection dropped is announced as gone.
	ChatGrace  time.Duration `env:"CHAT_GRACE_PERIOD" envDefault:"3s"`
	LobbyGrace time.Duration `env:"LOBBY_GRACE_PERIOD" envDefault:"10s"`

	AuthMode       string   `env:"WS_AUTH_MODE" envDefault:"trust"`
	JWTSecret      string   `env:"JWT_SECRET_KEY"`
	JWTAlgorithm   string   `env:"JWT_ALGORITHM" envDefault:"HS256"`
	AllowedOrigins []string `env:"WS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`
	ConnectRate    float64  `env:"WS_CONNECT_RATE" envDefault:"20"`

	TracingEnabled     bool   `env:"PUBSUB_TRACING_ENABLED" envDefault:"false"`
	TracingServiceName string `env:"PUBSUB_TRACING_SERVICE_NAME" envDefault:"watchparty"`
	TracingZipkinURL   string `env:"PUBSUB_TRACING_ZIPKIN_URL" envDefault:"http://localhost:9411/api/v2/spans"`
}

// New loads configuration from environment variables, reading a .env file
// first when one is present. It exits the process on invalid configuration.
func New() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	cfg, err := Load()
	if err != nil {
		log.Fatal(err)
	}
	return cfg
}

// Load parses the current environment into a Config and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field rules env tags cannot express.
func (c *Config) Validate() error {
	c.AuthMode = strings.ToLower(strings.TrimSpace(c.AuthMode))
	switch c.AuthMode {
	case AuthModeTrust:
	case AuthModeToken:
		if c.JWTSecret == "" {
			return fmt.Errorf("%w: WS_AUTH_MODE=token requires JWT_SECRET_KEY", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown WS_AUTH_MODE %q", ErrInvalid, c.AuthMode)
	}

	if c.PingInterval <= 0 {
		return fmt.Errorf("%w: WS_PING_INTERVAL must be positive", ErrInvalid)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: WS_WRITE_TIMEOUT must be positive", ErrInvalid)
	}
	if c.ChatGrace < 0 || c.LobbyGrace < 0 {
		return fmt.Errorf("%w: grace periods cannot be negative", ErrInvalid)
	}
	if c.ConnectRate <= 0 {
		return fmt.Errorf("%w: WS_CONNECT_RATE must be positive", ErrInvalid)
	}
	return nil
}

// TokenAuth reports whether websocket identities must come from a verified token.
func (c *Config) TokenAuth() bool {
	return c.AuthMode == AuthModeToken
}
