// Package activity persists session lifecycle events to a local SQLite
// database so refresh history survives process restarts and can be
// inspected from the CLI.
package activity

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one recorded lifecycle event.
type Entry struct {
	ID        int64
	Timestamp time.Time
	RunID     string
	Event     string
	Detail    string
}

// Log is an append-only event log backed by SQLite.
type Log struct {
	path string
	conn *sql.DB
}

// DefaultPath places the database under the user data directory,
// honoring XDG_DATA_HOME.
func DefaultPath() string {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "cskeep", "activity.db")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".cskeep", "activity.db")
	}
	return filepath.Join(homeDir, ".local", "share", "cskeep", "activity.db")
}

// Open opens (creating if needed) the event log at path.
func Open(path string) (*Log, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("path is required")
	}

	clean := filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(clean), 0700); err != nil {
		return nil, fmt.Errorf("create activity dir: %w", err)
	}

	conn, err := sql.Open("sqlite", "file:"+filepath.ToSlash(clean)+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// PRAGMAs are per-connection; keep a single shared connection.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	initErr := func() error {
		if err := conn.Ping(); err != nil {
			return fmt.Errorf("ping: %w", err)
		}
		if _, err := conn.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
			return fmt.Errorf("set journal_mode=WAL: %w", err)
		}
		return migrate(conn)
	}()
	if initErr != nil {
		_ = conn.Close()
		return nil, initErr
	}

	return &Log{path: clean, conn: conn}, nil
}

// Close releases the underlying connection.
func (l *Log) Close() error {
	if l == nil || l.conn == nil {
		return nil
	}
	return l.conn.Close()
}

// Path returns the database location.
func (l *Log) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Append records one event.
func (l *Log) Append(e Entry) error {
	ts := e.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	_, err := l.conn.Exec(
		`INSERT INTO session_events(timestamp, run_id, event_type, detail) VALUES (?, ?, ?, ?)`,
		ts.UTC().Format(time.RFC3339Nano), e.RunID, e.Event, e.Detail,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Recent returns up to limit events, newest first.
func (l *Log) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := l.conn.Query(
		`SELECT id, timestamp, run_id, event_type, detail
		 FROM session_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts string
		if err := rows.Scan(&e.ID, &ts, &e.RunID, &e.Event, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			e.Timestamp = parsed
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Prune removes events older than the cutoff and returns how many rows
// were deleted.
func (l *Log) Prune(olderThan time.Time) (int64, error) {
	res, err := l.conn.Exec(
		`DELETE FROM session_events WHERE timestamp < ?`,
		olderThan.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return res.RowsAffected()
}

func migrate(conn *sql.DB) error {
	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := tx.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		if _, err := tx.Exec(m.up); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", m.version, m.name, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d (%s): %w", m.version, m.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

var migrations = []struct {
	version int
	name    string
	up      string
}{
	{
		version: 1,
		name:    "session_events",
		up: `
CREATE TABLE IF NOT EXISTS session_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    run_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    detail TEXT
);

CREATE INDEX IF NOT EXISTS idx_session_events_timestamp ON session_events(timestamp);
CREATE INDEX IF NOT EXISTS idx_session_events_type ON session_events(event_type);
`,
	},
}
