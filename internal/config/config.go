package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all service settings, populated from PARLEY_-prefixed
// environment variables with a .env file as an optional local override
// source.
type Config struct {
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	Port int    `envconfig:"PORT" default:"8080"`

	DatabasePath string `envconfig:"DATABASE_PATH" default:"./data/parley.db"`

	JWTSecret string        `envconfig:"JWT_SECRET"`
	TokenTTL  time.Duration `envconfig:"TOKEN_TTL" default:"24h"`

	HistoryLimit int `envconfig:"HISTORY_LIMIT" default:"50"`
	CacheSize    int `envconfig:"CACHE_SIZE" default:"100"`
	RateLimit    int `envconfig:"RATE_LIMIT" default:"100"`

	UploadDir      string `envconfig:"UPLOAD_DIR" default:"./data/uploads"`
	MaxUploadBytes int64  `envconfig:"MAX_UPLOAD_BYTES" default:"16777216"`

	AdminUsername string `envconfig:"ADMIN_USERNAME" default:"admin"`
	AdminEmail    string `envconfig:"ADMIN_EMAIL" default:"admin@localhost"`
	AdminPassword string `envconfig:"ADMIN_PASSWORD"`

	DefaultRoom string `envconfig:"DEFAULT_ROOM" default:"General"`

	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// Load reads a .env file when present, then populates the configuration
// from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("parley", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.JWTSecret == "" {
		return errors.New("PARLEY_JWT_SECRET must be set")
	}
	if len(c.JWTSecret) < 32 {
		return errors.New("PARLEY_JWT_SECRET must be at least 32 bytes")
	}
	if c.DatabasePath == "" {
		return errors.New("database path cannot be empty")
	}
	if c.HistoryLimit <= 0 {
		return errors.New("history limit must be greater than 0")
	}
	if c.CacheSize <= 0 {
		return errors.New("cache size must be greater than 0")
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be greater than 0")
	}
	return nil
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
