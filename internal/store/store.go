// Package store is the local metadata cache for note folders.
//
// The cache mirrors what the engine last observed on disk: one row per note
// (path, fingerprint, modification time), the folder's tags, local trash
// entries and the probed capabilities of the remote server. The files on disk
// stay the source of truth. Losing the cache loses nothing that a full scan
// cannot rebuild, apart from manually applied tags and trash bookkeeping.
//
// Architecture:
//   - Database file: <root>/.notesync/cache.db
//   - WAL mode: readers never block the engine loop's writes
//   - Every write is a single statement or a single transaction
//
// When the cache file cannot be opened the engine may fall back to OpenMemory,
// which keeps the same schema in an in-memory database for the session.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

var (
	// ErrStorageOpen is matched by every *OpenError.
	ErrStorageOpen = errors.New("metadata store could not be opened")

	// ErrNotFound is returned when a looked-up row does not exist.
	ErrNotFound = errors.New("not found")
)

// OpenError reports why the cache database could not be opened.
type OpenError struct {
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("open metadata store %s: %v", e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrStorageOpen) true for any OpenError.
func (e *OpenError) Is(target error) bool { return target == ErrStorageOpen }

// Busy retry parameters. busy_timeout covers most contention. These cover
// SQLITE_BUSY returned immediately, e.g. on a WAL snapshot upgrade.
const (
	retryAttempts = 5
	retryBase     = 10 * time.Millisecond
)

// MemoryPath is reported by Path for in-memory stores.
const MemoryPath = ":memory:"

// Store wraps the SQLite connection pool holding the metadata cache.
type Store struct {
	conn   *sql.DB
	path   string
	logger *slog.Logger
}

// Open opens (creating if needed) the cache database at path and initializes
// the schema. Any failure is returned as an *OpenError.
//
// The caller MUST call Close when done so the WAL is checkpointed.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &OpenError{Path: path, Err: fmt.Errorf("failed to create database directory: %w", err)}
	}

	// Pragmas go in the DSN so every pooled connection gets them.
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(wal)")
	params.Add("_txlock", "immediate")
	dsn := "file:" + filepath.ToSlash(path) + "?" + params.Encode()

	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, &OpenError{Path: path, Err: err}
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, &OpenError{Path: path, Err: fmt.Errorf("failed to ping database: %w", err)}
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path, logger: logger}
	if err := s.InitSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, &OpenError{Path: path, Err: err}
	}
	return s, nil
}

// OpenMemory returns a store backed by an in-memory database. Its contents
// are lost on Close.
func OpenMemory(logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := sql.Open("sqlite3", "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, &OpenError{Path: MemoryPath, Err: err}
	}
	// Each connection to :memory: is a separate database, so pin the pool
	// to one connection that never expires.
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(0)

	s := &Store{conn: conn, path: MemoryPath, logger: logger}
	if err := s.InitSchema(context.Background()); err != nil {
		_ = conn.Close()
		return nil, &OpenError{Path: MemoryPath, Err: err}
	}
	return s, nil
}

// Path returns the database file path, or MemoryPath.
func (s *Store) Path() string { return s.path }

// IsMemory reports whether the store is the in-memory fallback.
func (s *Store) IsMemory() bool { return s.path == MemoryPath }

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB { return s.conn }

// Close checkpoints the WAL and closes the connection pool.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if !s.IsMemory() {
		if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			s.logger.Warn("failed to checkpoint WAL", "path", s.path, "error", err)
		}
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// isBusy reports whether err is SQLite lock contention worth retrying.
func isBusy(err error) bool {
	return errors.Is(err, sqlite3.BUSY) || errors.Is(err, sqlite3.LOCKED)
}

// withRetry runs op, retrying busy/locked failures with exponential backoff.
func (s *Store) withRetry(ctx context.Context, name string, op func() error) error {
	delay := retryBase
	for attempt := 1; ; attempt++ {
		err := op()
		if err == nil || !isBusy(err) || attempt == retryAttempts {
			return err
		}

		s.logger.Debug("database busy, retrying", "op", name, "attempt", attempt, "delay", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// inTx runs fn inside a transaction, committing on success. The whole
// transaction is retried when SQLite reports contention.
func (s *Store) inTx(ctx context.Context, name string, fn func(tx *sql.Tx) error) error {
	return s.withRetry(ctx, name, func() error {
		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}
