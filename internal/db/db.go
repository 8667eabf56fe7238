// Package db provides the SQLite connection and schema for motionlightd.
package db

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite database connection
type DB struct {
	*sql.DB
}

// Open opens the database and initializes the schema
func Open(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &DB{db}, nil
}

// initSchema creates all required tables
func initSchema(db *sql.DB) error {
	// Command ledger - append-only history of published commands
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS command_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			correlation_id TEXT,
			topic TEXT NOT NULL,
			payload TEXT,
			source TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_ts ON command_ledger(timestamp);
		CREATE INDEX IF NOT EXISTS idx_ledger_correlation ON command_ledger(correlation_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create command_ledger table: %w", err)
	}

	// Resource state - versioned documents keyed by (kind, id)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS resource_state (
			kind TEXT NOT NULL,
			id TEXT NOT NULL,
			payload TEXT NOT NULL,
			version INTEGER DEFAULT 1,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (kind, id)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create resource_state table: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
