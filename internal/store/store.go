package store

import (
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema versions, recorded in PRAGMA user_version:
//
//	0 - tables only
//	1 - idx_items_worker, for deriving worker load from owned items
//	2 - idx_items_category, for category-scoped waiting scans and counts
const currentSchemaVersion = 2

// pragmas are applied to the single pooled connection on Open.
//
// WAL lets views and replay read while a guarded commit or a journal
// append writes, including from another queuecore process on the same
// file. busy_timeout makes such a second writer wait for the lock instead
// of failing the commit outright.
var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA foreign_keys = ON",
}

// Store is the authoritative entity set and event journal. Every entity
// write is a version compare-and-swap (Commit); journal sequence numbers
// are unique per database (AppendNextEvent).
type Store struct {
	db *sql.DB
}

// Open opens the database at path, creating it if needed, and brings the
// schema to currentSchemaVersion. Opening an up-to-date database changes
// nothing.
//
// The pool holds one connection: in-process writers queue on it, so the
// only lock contention SQLite sees is between processes.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database. Closing a zero Store is a no-op.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read user_version: %w", err)
	}
	for _, m := range migrations[min(version, len(migrations)):] {
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
	}
	if version != currentSchemaVersion {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}
	return nil
}

// migrations[i] upgrades a database from version i to i+1. Statements are
// idempotent so a crash between a migration and the version bump is safe.
var migrations = []struct {
	version int
	stmt    string
}{
	{1, `CREATE INDEX IF NOT EXISTS idx_items_worker ON items(worker_id, status)`},
	{2, `CREATE INDEX IF NOT EXISTS idx_items_category ON items(status, category, arrived_at)`},
}

// verifyPragma reports whether pragma name reads back as expected.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	if err := s.db.QueryRow("PRAGMA " + name).Scan(&value); err != nil {
		return fmt.Errorf("query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
