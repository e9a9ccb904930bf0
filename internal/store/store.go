// Package store implements the supervisor's persistence layer: the
// per-plugin KV store (C3), the append-only event log (C4), the
// enabled/disabled persistent state file and instance id (C9).
//
// C3 and C4 live in a single embedded SQLite database
// (<data_dir>/core.db); spec.md §4.6 allows a composite-primary-key table
// design, which is what kv_entries uses (plugin_id, key); plugin_events is
// keyed by an autoincrement id. config.json stays a
// literal JSON file per spec.md §4.8, written atomically via
// write-to-temp-then-rename.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/toruai/steering-plugins/internal/metrics"
)

// Store owns the sqlite connection backing the KV store and event log.
type Store struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// Open opens (creating if absent) the sqlite database at path and ensures
// its schema exists. A single open connection is kept (SQLite serializes
// writers anyway), so reads and writes through this Store run one at a
// time; the database is opened in WAL journal mode.
func Open(path string, m *metrics.Metrics) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, metrics: m}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv_entries (
			plugin_id TEXT NOT NULL,
			key       TEXT NOT NULL,
			value     TEXT NOT NULL,
			PRIMARY KEY (plugin_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS plugin_events (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			plugin_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			details   TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_plugin_events_plugin_id ON plugin_events(plugin_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}
