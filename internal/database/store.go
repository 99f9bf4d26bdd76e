// Package database provides storage backends for dashboard documents.
package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/bryan-buckman/homedash/internal/model"
)

var (
	// ErrNotFound is returned when no document is stored for a dashboard.
	ErrNotFound = errors.New("document not found")
	// ErrMalformed is returned when a stored document cannot be decoded.
	ErrMalformed = errors.New("malformed document")
)

// Document kinds.
const (
	KindConfig = "config"
	KindNotes  = "notes"
)

// Store defines the interface for document operations.
// The file, SQLite and PostgreSQL implementations satisfy this interface.
type Store interface {
	Close() error

	// DatabaseType returns the name of the storage backend.
	DatabaseType() string

	// Load returns the raw document of the given kind, or ErrNotFound.
	Load(kind, dashboard string) ([]byte, error)
	// Save replaces the document of the given kind.
	Save(kind, dashboard string, data []byte) error
	// ListDashboards returns the sanitized ids of all stored configs.
	ListDashboards() ([]string, error)
}

var unsafeChars = regexp.MustCompile(`(?i)[^a-z0-9_-]`)

// SafeName maps a dashboard id to its storage key by dropping every
// character outside [a-z0-9_-] and lower-casing the rest. Distinct ids can
// map to the same key ("Lab!" and "lab"); they then share one document.
func SafeName(dashboard string) string {
	if dashboard == "" {
		dashboard = model.DefaultDashboard
	}
	return strings.ToLower(unsafeChars.ReplaceAllString(dashboard, ""))
}

// LoadDashboard reads and decodes a dashboard config.
func LoadDashboard(s Store, dashboard string) (*model.DashboardConfig, error) {
	data, err := s.Load(KindConfig, dashboard)
	if err != nil {
		return nil, err
	}
	var cfg model.DashboardConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, SafeName(dashboard), err)
	}
	return &cfg, nil
}

// SaveDashboard encodes and stores a dashboard config.
func SaveDashboard(s Store, dashboard string, cfg *model.DashboardConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return s.Save(KindConfig, dashboard, data)
}
