package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
)

type Config struct {
	GeminiAPIKey string `env:"GEMINI_API_KEY"`
	GeminiModel  string `env:"GEMINI_MODEL" envDefault:"gemini-2.5-flash"`
	DatabaseURL  string `env:"DATABASE_URL" envDefault:"kisan_mitra.db"`
	HTTPPort     string `env:"HTTP_PORT" envDefault:"8080"`

	LogLevel       string `env:"LOG_LEVEL" envDefault:"INFO"`
	LogDevelopment bool   `env:"LOG_DEVELOPMENT" envDefault:"false"`

	// Per-session chat sends: sustained rate per second and burst.
	ChatRateLimit float64 `env:"CHAT_RATE_LIMIT" envDefault:"0.5"`
	ChatRateBurst int     `env:"CHAT_RATE_BURST" envDefault:"3"`

	ServerWriteTimeout time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"5m"`
	// Origins allowed to open the voice websocket. Empty means same host only.
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	// Set when a TLS-terminating proxy in front of the server owns
	// X-Forwarded-Proto.
	TrustProxy bool `env:"TRUST_PROXY" envDefault:"false"`
}

var ErrMissingAPIKey = errors.New("GEMINI_API_KEY environment variable is required")

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return parse(env.Options{})
}

func parse(opts env.Options) (*Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, opts); err != nil {
		return nil, fmt.Errorf("parsing env config: %w", err)
	}
	if cfg.ChatRateLimit <= 0 || cfg.ChatRateBurst < 1 {
		return nil, fmt.Errorf("chat rate limit must be positive, got %v/%d", cfg.ChatRateLimit, cfg.ChatRateBurst)
	}
	return &cfg, nil
}

// RequireGemini fails for commands that talk to the model without a key.
func (c *Config) RequireGemini() error {
	if c.GeminiAPIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}
