// Package config loads relay configuration from the environment, optionally
// seeded from a .env file in the working directory.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"go-simpler.org/env"
)

// Store backends.
const (
	StoreFile     = "file"
	StoreDynamo   = "dynamodb"
	StoreMemory   = "memory"
	defaultSubdir = "erasebg"
)

type Config struct {
	APIDomain string `env:"ERASEBG_API_DOMAIN" default:"https://api.pixelbin.io"`
	CDNDomain string `env:"ERASEBG_CDN_DOMAIN" default:"https://cdn.pixelbin.io"`
	Zone      string `env:"ERASEBG_ZONE"`

	Store       string `env:"ERASEBG_STORE" default:"file"`
	StorePath   string `env:"ERASEBG_STORE_PATH"`
	DynamoTable string `env:"ERASEBG_DYNAMO_TABLE"`
	Namespace   string `env:"ERASEBG_NAMESPACE" default:"default"`

	ChunkSize         int           `env:"ERASEBG_CHUNK_SIZE" default:"2097152"` // 2 MiB
	UploadConcurrency int           `env:"ERASEBG_UPLOAD_CONCURRENCY" default:"2"`
	ChunkRetries      int           `env:"ERASEBG_CHUNK_RETRIES" default:"1"`
	UploadMaxAttempts int           `env:"ERASEBG_UPLOAD_MAX_ATTEMPTS" default:"5"`
	UploadBackoff     time.Duration `env:"ERASEBG_UPLOAD_BACKOFF" default:"500ms"`
	UploadMaxBackoff  time.Duration `env:"ERASEBG_UPLOAD_MAX_BACKOFF" default:"8s"`
	HTTPTimeout       time.Duration `env:"ERASEBG_HTTP_TIMEOUT" default:"60s"`

	DesktopNotify bool   `env:"ERASEBG_DESKTOP_NOTIFY" default:"false"`
	Metrics       bool   `env:"ERASEBG_METRICS" default:"false"`
	LogLevel      string `env:"ERASEBG_LOG_LEVEL" default:"info"`
}

// Load reads .env (if present) and the process environment, fills defaults
// and validates the result.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if cfg.Store == StoreFile && cfg.StorePath == "" {
		path, err := DefaultStorePath()
		if err != nil {
			return nil, err
		}
		cfg.StorePath = path
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges and backend-specific requirements.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreFile:
		if c.StorePath == "" {
			return errors.New("ERASEBG_STORE_PATH is required for the file store")
		}
	case StoreDynamo:
		if c.DynamoTable == "" {
			return errors.New("ERASEBG_DYNAMO_TABLE is required for the dynamodb store")
		}
	case StoreMemory:
	default:
		return fmt.Errorf("unknown ERASEBG_STORE %q (want file, dynamodb or memory)", c.Store)
	}

	if c.ChunkSize <= 0 {
		return errors.New("ERASEBG_CHUNK_SIZE must be positive")
	}
	if c.UploadConcurrency <= 0 {
		return errors.New("ERASEBG_UPLOAD_CONCURRENCY must be positive")
	}
	if c.ChunkRetries < 0 {
		return errors.New("ERASEBG_CHUNK_RETRIES must not be negative")
	}
	if c.UploadMaxAttempts <= 0 {
		return errors.New("ERASEBG_UPLOAD_MAX_ATTEMPTS must be positive")
	}
	if c.UploadBackoff < 0 || c.UploadMaxBackoff < c.UploadBackoff {
		return errors.New("ERASEBG_UPLOAD_MAX_BACKOFF must be >= ERASEBG_UPLOAD_BACKOFF >= 0")
	}
	return nil
}

// DefaultStorePath returns <user config dir>/erasebg/store.json.
func DefaultStorePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve user config dir: %w", err)
	}
	return filepath.Join(dir, defaultSubdir, "store.json"), nil
}
