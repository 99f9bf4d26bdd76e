// Package database provides SQLite storage for dashboard documents.
package database

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Ensure DB implements Store interface.
var _ Store = (*DB)(nil)

// New opens or creates an SQLite database at the given path.
func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// Enable WAL mode for better concurrency.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set wal mode: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// DatabaseType returns the database backend name.
func (db *DB) DatabaseType() string {
	return "SQLite"
}

func (db *DB) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		kind TEXT NOT NULL,
		name TEXT NOT NULL,
		body TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (kind, name)
	);
	`
	_, err := db.conn.Exec(schema)
	return err
}

// Load returns the stored document body.
func (db *DB) Load(kind, dashboard string) ([]byte, error) {
	var body string
	err := db.conn.QueryRow("SELECT body FROM documents WHERE kind = ? AND name = ?",
		kind, SafeName(dashboard)).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

// Save inserts or replaces a document.
func (db *DB) Save(kind, dashboard string, data []byte) error {
	_, err := db.conn.Exec(`
		INSERT INTO documents (kind, name, body, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(kind, name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		kind, SafeName(dashboard), string(data), time.Now().UTC())
	return err
}

// ListDashboards returns the names of all stored configs ordered by name.
func (db *DB) ListDashboards() ([]string, error) {
	rows, err := db.conn.Query("SELECT name FROM documents WHERE kind = ? ORDER BY name", KindConfig)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
