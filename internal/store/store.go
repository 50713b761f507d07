// Package store owns the SQL persistence layer shared by the registry,
// policy, enforcement, and auditor components. It is the single source
// of truth described in the data model: no other package caches rows
// across requests.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"
)

// Store wraps a *sql.DB with the schema bootstrap and a write mutex.
// SQLite only allows one writer at a time; serializing writers in-process
// avoids SQLITE_BUSY retries under concurrent enforcement requests.
type Store struct {
	DB      *sql.DB
	writeMu sync.Mutex
}

// Open opens (creating if necessary) the SQLite database at path and runs
// the idempotent schema bootstrap. path may be a file path or ":memory:"
// (rewritten to a shared in-memory DSN so the connection pool sees one
// database instead of a fresh one per connection).
func Open(path string) (*Store, error) {
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	s := &Store{DB: db}
	if err := s.bootstrap(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

const schema = `
CREATE TABLE IF NOT EXISTS policies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	version TEXT UNIQUE NOT NULL,
	name TEXT NOT NULL,
	rules TEXT NOT NULL,
	created_by TEXT NOT NULL,
	signature_placeholder TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	roles TEXT NOT NULL,
	tool_id TEXT NOT NULL,
	tool_version TEXT NOT NULL,
	params_hash TEXT NOT NULL,
	decision TEXT NOT NULL,
	reason TEXT NOT NULL,
	policy_version TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tools (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tool_id TEXT NOT NULL,
	version TEXT NOT NULL,
	definition TEXT NOT NULL,
	UNIQUE(tool_id, version)
);

CREATE TABLE IF NOT EXISTS anomalies (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	agent_id TEXT NOT NULL,
	detail TEXT NOT NULL,
	created_at TEXT NOT NULL
);
`

func (s *Store) bootstrap(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: bootstrap schema: %w", err)
	}
	return nil
}

// EnsurePolicyVersionHistory lazily creates the policy_version_history
// table used only by the demo-seed path (spec §3: "created lazily on
// first demo-seed").
func (s *Store) EnsurePolicyVersionHistory(ctx context.Context) error {
	const ddl = `
	CREATE TABLE IF NOT EXISTS policy_version_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		policy_id INTEGER NOT NULL,
		version TEXT NOT NULL,
		detail TEXT,
		recorded_at TEXT NOT NULL
	);`
	_, err := s.DB.ExecContext(ctx, ddl)
	return err
}

// WithWriteLock serializes fn against all other writers obtained through
// this Store. Every insert/delete path in the service goes through this
// so a single enforcement request performs at most one commit in
// isolation from concurrent policy or anomaly writes.
func (s *Store) WithWriteLock(fn func() error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return fn()
}
