// Package config loads runtime settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Storage backends.
const (
	StorageFile     = "file"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
)

type Config struct {
	Port        string `env:"PORT" default:"3000"`
	DataDir     string `env:"DATA_DIR" default:"./data"`
	Storage     string `env:"STORAGE" default:"file"`
	SQLitePath  string `env:"SQLITE_PATH"`
	DatabaseURL string `env:"DATABASE_URL"`
	StaticDir   string `env:"STATIC_DIR" default:"./dist"`
	LogLevel    string `env:"LOG_LEVEL" default:"info"`
	LogFormat   string `env:"LOG_FORMAT" default:"text"`

	TelegramAppID   int    `env:"TELEGRAM_APP_ID"`
	TelegramAppHash string `env:"TELEGRAM_APP_HASH"`

	UnreadCacheTTL        time.Duration `env:"UNREAD_CACHE_TTL" default:"30s"`
	UnreadDialogLimit     int           `env:"UNREAD_DIALOG_LIMIT" default:"15"`
	SessionConnectRetries int           `env:"SESSION_CONNECT_RETRIES" default:"5"`
	CalendarFetchTimeout  time.Duration `env:"CALENDAR_FETCH_TIMEOUT" default:"20s"`
	CalendarMaxEvents     int           `env:"CALENDAR_MAX_EVENTS" default:"40"`
}

// Load reads an optional .env file, then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TelegramEnabled reports whether MTProto app credentials are present.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramAppID != 0 && c.TelegramAppHash != ""
}

// SQLiteFile returns the SQLite database path, defaulting into DataDir.
func (c *Config) SQLiteFile() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(c.DataDir, "homedash.db")
}

// Validate checks values that flags may have changed after Load.
func (c *Config) Validate() error {
	switch c.Storage {
	case StorageFile, StorageSQLite:
	case StoragePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for postgres storage")
		}
	default:
		return fmt.Errorf("unknown STORAGE %q (want file, sqlite or postgres)", c.Storage)
	}

	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if c.DataDir == "" {
		return errors.New("DATA_DIR is required")
	}

	positive := []struct {
		name string
		ok   bool
	}{
		{"UNREAD_CACHE_TTL", c.UnreadCacheTTL > 0},
		{"UNREAD_DIALOG_LIMIT", c.UnreadDialogLimit > 0},
		{"SESSION_CONNECT_RETRIES", c.SessionConnectRetries > 0},
		{"CALENDAR_FETCH_TIMEOUT", c.CalendarFetchTimeout > 0},
		{"CALENDAR_MAX_EVENTS", c.CalendarMaxEvents > 0},
	}
	for _, p := range positive {
		if !p.ok {
			return fmt.Errorf("%s must be positive", p.name)
		}
	}

	if (c.TelegramAppID == 0) != (c.TelegramAppHash == "") {
		return errors.New("TELEGRAM_APP_ID and TELEGRAM_APP_HASH must be set together")
	}
	return nil
}
