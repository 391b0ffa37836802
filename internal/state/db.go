// Package state provides the SQLite-backed session store. It records
// submitted requests, classification scores, tier decisions, workflow
// transitions, and hook outcomes so a session can be inspected and
// resumed after the process exits.
package state

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps an SQLite connection with session-store operations.
type DB struct {
	conn *sql.DB
	path string
	mu   sync.RWMutex
}

// DefaultDBPath returns the XDG data path for the session database.
func DefaultDBPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "swarmgate", "swarmgate.db")
}

// Open opens an SQLite database at the given path, creating parent
// directories if needed. WAL mode is enabled for concurrent reads.
// An empty path selects the XDG default.
func Open(path string) (*DB, error) {
	if path == "" {
		path = DefaultDBPath()
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &DB{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Close()
}

// Path returns the path to the database file.
func (db *DB) Path() string {
	return db.path
}

// Migrate applies all pending schema migrations.
func (db *DB) Migrate() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var currentVersion int
	row := db.conn.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("get schema version: %w", err)
	}

	migrations := []struct {
		version int
		sql     string
	}{
		{1, migrationV1Requests},
		{2, migrationV2Decisions},
		{3, migrationV3Instances},
		{4, migrationV4Hooks},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}

		tx, err := db.conn.Begin()
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}

		if _, err := tx.Exec(m.sql); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration v%d: %w", m.version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.version, err)
		}
	}

	return nil
}

// Migration SQL statements
const migrationV1Requests = `
CREATE TABLE IF NOT EXISTS requests (
	id TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	tokens_used INTEGER NOT NULL DEFAULT 0,
	request_count INTEGER NOT NULL DEFAULT 0,
	submitted_at DATETIME NOT NULL
);
`

const migrationV2Decisions = `
CREATE TABLE IF NOT EXISTS decisions (
	request_id TEXT PRIMARY KEY,
	scores TEXT NOT NULL,
	plan_class TEXT NOT NULL,
	confidence REAL NOT NULL DEFAULT 0.0,
	fallback INTEGER NOT NULL DEFAULT 0,
	reasoning TEXT,
	created_at DATETIME NOT NULL,
	FOREIGN KEY (request_id) REFERENCES requests(id)
);

CREATE TABLE IF NOT EXISTS tier_decisions (
	task_id TEXT NOT NULL,
	request_id TEXT NOT NULL,
	tier TEXT NOT NULL,
	reason TEXT,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (task_id, request_id)
);

CREATE INDEX IF NOT EXISTS idx_tier_decisions_request ON tier_decisions(request_id);
`

const migrationV3Instances = `
CREATE TABLE IF NOT EXISTS instances (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	state TEXT NOT NULL,
	tier TEXT NOT NULL,
	started_at DATETIME,
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_instances_request ON instances(request_id);

CREATE TABLE IF NOT EXISTS transitions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	instance_id TEXT NOT NULL,
	phase INTEGER NOT NULL,
	from_status TEXT,
	to_status TEXT,
	note TEXT,
	at DATETIME NOT NULL,
	FOREIGN KEY (instance_id) REFERENCES instances(id)
);

CREATE INDEX IF NOT EXISTS idx_transitions_instance ON transitions(instance_id);
`

const migrationV4Hooks = `
CREATE TABLE IF NOT EXISTS hook_results (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	point TEXT NOT NULL,
	hook TEXT NOT NULL,
	status TEXT NOT NULL,
	elapsed_ms INTEGER NOT NULL DEFAULT 0,
	display TEXT,
	at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_hook_results_request ON hook_results(request_id);
`

// Exec executes a query that doesn't return rows.
func (db *DB) Exec(query string, args ...any) (sql.Result, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.conn.Exec(query, args...)
}

// Query executes a query that returns rows.
func (db *DB) Query(query string, args ...any) (*sql.Rows, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.Query(query, args...)
}

// QueryRow executes a query that returns at most one row.
func (db *DB) QueryRow(query string, args ...any) *sql.Row {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.conn.QueryRow(query, args...)
}

// formatTime formats a time.Time for SQLite storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// parseTime parses a time string from SQLite.
func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}

// PurgeOldRequests deletes requests older than the given duration,
// along with their decisions. Returns the number of requests deleted.
func (db *DB) PurgeOldRequests(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	if _, err := db.Exec(`
		DELETE FROM decisions WHERE request_id IN
			(SELECT id FROM requests WHERE submitted_at < ?)
	`, cutoff); err != nil {
		return 0, fmt.Errorf("purge old decisions: %w", err)
	}

	result, err := db.Exec(`DELETE FROM requests WHERE submitted_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge old requests: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return count, nil
}
