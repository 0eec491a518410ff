// Package db provides the SQLite connection and schema for tapoctl.
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
	// Command ledger: append-only history of orchestrated commands.
	// One row per lifecycle step (started, completed, failed).
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS command_ledger (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			command_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			timestamp INTEGER NOT NULL, -- unix nanoseconds
			target TEXT,
			endpoint TEXT,
			intent TEXT,
			child TEXT,
			elapsed_ms INTEGER,
			error TEXT,
			payload TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_command_ledger_ts ON command_ledger(timestamp);
		CREATE INDEX IF NOT EXISTS idx_command_ledger_target ON command_ledger(target, timestamp);
	`)
	if err != nil {
		return fmt.Errorf("failed to create command_ledger table: %w", err)
	}

	// A command reaches each lifecycle step at most once; a replayed event
	// is ignored rather than duplicated.
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_command_ledger_step
		ON command_ledger(command_id, event_type);
	`)
	if err != nil {
		return fmt.Errorf("failed to create idx_command_ledger_step index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
