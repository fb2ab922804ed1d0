package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (records, sync_queue)
// 1 - Added delivery_attempts for bounded retry
const currentSchemaVersion = 1

// MemoryPath opens a private in-memory database. Nothing survives Close.
const MemoryPath = ":memory:"

// Collection names one of the two schema collections.
type Collection string

const (
	Records Collection = "records"
	Queue   Collection = "sync_queue"
)

// Store is the Durable Store handle. It is safe for concurrent use, but the
// sync engine is expected to be its only writer.
type Store struct {
	db   *sql.DB
	path string
	lock *flock.Flock
}

// Option configures Open.
type Option func(*openOptions)

type openOptions struct {
	lock bool
}

// WithoutLock skips the advisory process lock. Only for read-only tooling
// that tolerates a concurrent writer.
func WithoutLock() Option {
	return func(o *openOptions) {
		o.lock = false
	}
}

// Open creates or opens the Durable Store at path.
// Applies required pragmas, the schema and migrations automatically.
//
// Safe to call on every process start: the schema is created only if absent
// and migrations are additive.
//
// All failures match ErrStorageUnavailable.
func Open(path string, opts ...Option) (*Store, error) {
	o := openOptions{lock: true}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Store{path: path}

	if o.lock && path != MemoryPath {
		s.lock = flock.New(path + ".lock")
		ok, err := s.lock.TryLock()
		if err != nil {
			return nil, storageErr("lock", err)
		}
		if !ok {
			return nil, storageErr("lock", ErrLocked)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		s.unlock()
		return nil, storageErr("open", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		s.unlock()
		return nil, storageErr("connect", err)
	}

	// SQLite only supports one writer at a time. A single connection also
	// keeps a :memory: database alive for the life of the handle.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		s.unlock()
		return nil, storageErr("apply pragmas", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		s.unlock()
		return nil, storageErr("apply schema", err)
	}

	s.db = db
	return s, nil
}

// Close closes the database and releases the process lock.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.unlock()
	return err
}

// Path returns the database path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) unlock() {
	if s.lock != nil {
		_ = s.lock.Unlock()
	}
}

// Count returns the number of rows in a collection. For the queue this
// includes parked entries; use PendingCount for the sync indicator.
func (s *Store) Count(ctx context.Context, c Collection) (int, error) {
	var table string
	switch c {
	case Records:
		table = "records"
	case Queue:
		table = "sync_queue"
	default:
		return 0, fmt.Errorf("unknown collection %q", c)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, storageErr("count "+string(c), err)
	}
	return n, nil
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds delivery bookkeeping. Attempt counts live outside
// sync_queue so a failed flush never rewrites an entry.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS delivery_attempts (
			entry_id        TEXT PRIMARY KEY,
			attempts        INTEGER NOT NULL DEFAULT 0,
			last_error      TEXT NOT NULL DEFAULT '',
			last_attempt_at INTEGER NOT NULL,
			parked          INTEGER NOT NULL DEFAULT 0
		)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := s.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
