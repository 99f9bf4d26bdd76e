package database

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileStore keeps one JSON file per document in a directory:
// <name>.json for configs and notes_<name>.json for notes.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// Ensure FileStore implements Store interface.
var _ Store = (*FileStore)(nil)

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

// DatabaseType returns the backend name.
func (s *FileStore) DatabaseType() string { return "File" }

func (s *FileStore) path(kind, dashboard string) string {
	name := SafeName(dashboard) + ".json"
	if kind == KindNotes {
		name = "notes_" + name
	}
	return filepath.Join(s.dir, name)
}

// Load reads a document from disk.
func (s *FileStore) Load(kind, dashboard string) ([]byte, error) {
	data, err := os.ReadFile(s.path(kind, dashboard))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", kind, err)
	}
	return data, nil
}

// Save writes a document through a temp file so readers never see a
// partially written file.
func (s *FileStore) Save(kind, dashboard string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := s.path(kind, dashboard)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", kind, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", kind, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("rename %s: %w", kind, err)
	}
	return nil
}

// ListDashboards returns config file names without extension.
func (s *FileStore) ListDashboards() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read data dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		if strings.HasPrefix(name, "notes_") || strings.HasPrefix(name, "telegram_") {
			continue
		}
		names = append(names, strings.TrimSuffix(name, ".json"))
	}
	return names, nil
}
