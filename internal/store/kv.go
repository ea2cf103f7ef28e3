// Package store provides the SQLite-backed persistence layer.
//
// A single key-value table is the persistence primitive; the profile and
// artifact stores are built on top of it, each enforcing its own capacity
// with oldest-first eviction. Persistence failures are the one fatal error
// category in the system: they wrap ErrPersistence and must be surfaced to
// the caller, never swallowed, because they break the no-data-loss
// guarantee across observations.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.practicepilot/practicepilot.db"

// ErrPersistence marks failures of the underlying key-value substrate.
// Callers should warn the user that session findings may not survive a
// reload rather than continuing silently.
var ErrPersistence = errors.New("persistence failure")

// KV is the persistence primitive the stores are built on.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// SQLiteKV implements KV on a single SQLite table.
type SQLiteKV struct {
	db     *sql.DB
	dbPath string
}

// OpenKV opens (creating if needed) the SQLite database at dbPath.
// Pass ":memory:" for in-memory databases (testing).
func OpenKV(dbPath string) (*SQLiteKV, error) {
	if dbPath == "" {
		dbPath = expandPath(DefaultDBPath)
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: creating db directory: %v", ErrPersistence, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: opening database: %v", ErrPersistence, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging database: %v", ErrPersistence, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: setting pragma %q: %v", ErrPersistence, p, err)
		}
	}

	schema := `CREATE TABLE IF NOT EXISTS kv (
		k TEXT PRIMARY KEY,
		v BLOB NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: creating kv table: %v", ErrPersistence, err)
	}

	return &SQLiteKV{db: db, dbPath: dbPath}, nil
}

// Get returns the value for key, or (nil, nil) when the key is absent.
func (s *SQLiteKV) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := s.db.QueryRowContext(ctx, "SELECT v FROM kv WHERE k = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading %q: %v", ErrPersistence, key, err)
	}
	return v, nil
}

func (s *SQLiteKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO kv (k, v, updated_at) VALUES (?, ?, ?) ON CONFLICT(k) DO UPDATE SET v = excluded.v, updated_at = excluded.updated_at",
		key, value, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("%w: writing %q: %v", ErrPersistence, key, err)
	}
	return nil
}

func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE k = ?", key); err != nil {
		return fmt.Errorf("%w: deleting %q: %v", ErrPersistence, key, err)
	}
	return nil
}

// Keys returns every key with the given prefix, sorted lexically.
func (s *SQLiteKV) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT k FROM kv WHERE k GLOB ? ORDER BY k", prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("%w: listing %q: %v", ErrPersistence, prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("%w: scanning key: %v", ErrPersistence, err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterating keys: %v", ErrPersistence, err)
	}
	return keys, nil
}

// Close closes the database connection.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

// DBSize returns the database file size in bytes, 0 for in-memory.
func (s *SQLiteKV) DBSize() int64 {
	if s.dbPath == ":memory:" {
		return 0
	}
	info, err := os.Stat(s.dbPath)
	if err != nil {
		return 0
	}
	return info.Size()
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
