package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/RevCBH/dockerslaves/internal/events"
)

var _ events.Recorder = (*DB)(nil)

// DB is the state ledger of provisioned build environments
type DB struct {
	conn *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// It enables WAL mode, foreign keys, and runs migrations.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection: pragmas are per connection and ":memory:" databases
	// are not shared between connections
	conn.SetMaxOpenConns(1)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates or updates the database schema
func (db *DB) migrate() error {
	schema := `
-- Builds table: one row per node request
CREATE TABLE IF NOT EXISTS builds (
    provisioning    TEXT PRIMARY KEY,
    job             TEXT NOT NULL,
    build           TEXT,
    phase           TEXT NOT NULL,
    status          TEXT NOT NULL,
    error           TEXT,
    started_at      DATETIME NOT NULL,
    finished_at     DATETIME
);

-- Containers table: every container created for a build
CREATE TABLE IF NOT EXISTS containers (
    id              TEXT PRIMARY KEY,
    provisioning    TEXT NOT NULL REFERENCES builds(provisioning) ON DELETE CASCADE,
    name            TEXT NOT NULL,
    role            TEXT NOT NULL,
    image           TEXT NOT NULL,
    created_at      DATETIME NOT NULL,
    removed_at      DATETIME
);

-- Events table: event log for replay and debugging
CREATE TABLE IF NOT EXISTS events (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    provisioning    TEXT NOT NULL REFERENCES builds(provisioning) ON DELETE CASCADE,
    sequence        INTEGER NOT NULL,
    event_type      TEXT NOT NULL,
    payload_json    TEXT NOT NULL,
    created_at      DATETIME NOT NULL,
    UNIQUE(provisioning, sequence)
);

CREATE INDEX IF NOT EXISTS idx_builds_status ON builds(status);
CREATE INDEX IF NOT EXISTS idx_builds_build ON builds(build);
CREATE INDEX IF NOT EXISTS idx_containers_provisioning ON containers(provisioning);
CREATE INDEX IF NOT EXISTS idx_containers_removed ON containers(removed_at);
CREATE INDEX IF NOT EXISTS idx_events_sequence ON events(provisioning, sequence);
`

	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}
