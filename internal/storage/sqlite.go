// Package storage persists dispatches, the order cache, and per-tuple
// positioning state. Rows carry the JSON document plus the columns the
// engine filters on; every query is scoped by merchant.
package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS dispatches (
	merchant_id     TEXT NOT NULL,
	id              TEXT NOT NULL,
	state           TEXT NOT NULL,
	next_attempt_at INTEGER NOT NULL,
	data            TEXT NOT NULL,
	updated_at      INTEGER NOT NULL,
	PRIMARY KEY (merchant_id, id)
);
CREATE INDEX IF NOT EXISTS idx_dispatches_state ON dispatches (merchant_id, state);

CREATE TABLE IF NOT EXISTS orders (
	merchant_id  TEXT NOT NULL,
	order_number TEXT NOT NULL,
	status       TEXT NOT NULL,
	created_at   INTEGER NOT NULL,
	data         TEXT NOT NULL,
	PRIMARY KEY (merchant_id, order_number)
);
CREATE INDEX IF NOT EXISTS idx_orders_status ON orders (merchant_id, status);

CREATE TABLE IF NOT EXISTS tuple_state (
	tuple_key   TEXT PRIMARY KEY,
	merchant_id TEXT NOT NULL,
	data        TEXT NOT NULL,
	updated_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tuple_state_merchant ON tuple_state (merchant_id);
`

// DB wraps the engine's SQLite handle.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the engine database in WAL mode.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &DB{db: db}, nil
}

// Ping checks the database connection.
func (d *DB) Ping() error {
	return d.db.Ping()
}

// Close closes the database handle.
func (d *DB) Close() error {
	return d.db.Close()
}
