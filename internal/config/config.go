// internal/config/config.go
//
// Typed process configuration.
// Values come from the environment (optionally seeded from a .env file) and
// are parsed with caarlos0/env into the Server and Client structs.

package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// DevJWTSecret is only acceptable outside production.
const DevJWTSecret = "dev_secret_change_me"

// Server configures the authoritative game server.
type Server struct {
	Port            string        `env:"PORT"             envDefault:"5175"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
	Storage         string        `env:"STORAGE"          envDefault:"sqlite"`
	DatabasePath    string        `env:"DATABASE_PATH"    envDefault:"./data/connect4.db"`
	JWTSecret       string        `env:"JWT_SECRET"       envDefault:"dev_secret_change_me"`
	TokenTTL        time.Duration `env:"TOKEN_TTL"        envDefault:"336h"`
	AIDelay         time.Duration `env:"AI_DELAY"         envDefault:"500ms"`
	CallbackTimeout time.Duration `env:"CALLBACK_TIMEOUT" envDefault:"3s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT"  envDefault:"10s"`
	ClientOrigin    string        `env:"CLIENT_ORIGIN"    envDefault:"http://localhost:5173"`
	Production      bool          `env:"PRODUCTION"`
}

// Client configures a remote player process.
type Client struct {
	ServerURL    string        `env:"SERVER_URL"    envDefault:"http://localhost:5175"`
	PlayerName   string        `env:"PLAYER_NAME"`
	PlayerSecret string        `env:"PLAYER_SECRET"`
	CallbackHost string        `env:"CALLBACK_HOST" envDefault:"127.0.0.1"`
	CallbackPort int           `env:"CALLBACK_PORT" envDefault:"0"`
	RPCTimeout   time.Duration `env:"RPC_TIMEOUT"   envDefault:"3s"`
	LogLevel     string        `env:"LOG_LEVEL"     envDefault:"warn"`
}

// LoadServer reads .env (if present) and the environment.
func LoadServer() (Server, error) {
	_ = godotenv.Load()
	var cfg Server
	if err := parse(&cfg); err != nil {
		return Server{}, err
	}
	return cfg, cfg.Validate()
}

// LoadClient reads .env (if present) and the environment.
func LoadClient() (Client, error) {
	_ = godotenv.Load()
	var cfg Client
	if err := parse(&cfg); err != nil {
		return Client{}, err
	}
	return cfg, cfg.Validate()
}

func parse(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate rejects settings the server cannot run with.
func (c Server) Validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return fmt.Errorf("PORT is required")
	}
	if c.Production && (c.JWTSecret == "" || c.JWTSecret == DevJWTSecret) {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.TokenTTL <= 0 || c.CallbackTimeout <= 0 || c.RequestTimeout <= 0 {
		return fmt.Errorf("TOKEN_TTL, CALLBACK_TIMEOUT and REQUEST_TIMEOUT must be positive")
	}
	if c.AIDelay < 0 {
		return fmt.Errorf("AI_DELAY must not be negative")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c Server) Addr() string { return ":" + c.Port }

// Validate rejects settings the client cannot run with.
func (c Client) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SERVER_URL %q is not an absolute URL", c.ServerURL)
	}
	if c.CallbackPort < 0 || c.CallbackPort > 65535 {
		return fmt.Errorf("CALLBACK_PORT out of range")
	}
	if c.RPCTimeout <= 0 {
		return fmt.Errorf("RPC_TIMEOUT must be positive")
	}
	return nil
}

// SetLogLevel applies a LOG_LEVEL string to the global zerolog level.
func SetLogLevel(level string) {
	if lvl, err := zerolog.ParseLevel(level); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
}
