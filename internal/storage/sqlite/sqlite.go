package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStorage is a key-value store backed by a single SQLite table
type SQLiteStorage struct {
	db *sql.DB
}

// New opens (creating if needed) the database at path.
// The special path ":memory:" creates an in-memory database for tests.
func New(path string) (*SQLiteStorage, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every new connection to :memory: is a separate empty database
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Get returns the value stored under key, or nil if there is none
func (s *SQLiteStorage) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return []byte(value), nil
}

// Set stores value under key, replacing any previous value
func (s *SQLiteStorage) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, string(value), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent stores value only when key is new and reports whether it did
func (s *SQLiteStorage) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, key, string(value), time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("failed to set %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to set %s: %w", key, err)
	}
	return n == 1, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLiteStorage) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// List returns every key starting with prefix, in key order
func (s *SQLiteStorage) List(ctx context.Context, prefix string) ([]string, error) {
	query, args := prefixQuery("SELECT key FROM kv", prefix)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// GetByPrefix returns the values of every key starting with prefix, in key order
func (s *SQLiteStorage) GetByPrefix(ctx context.Context, prefix string) ([][]byte, error) {
	query, args := prefixQuery("SELECT value FROM kv", prefix)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var values [][]byte
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, fmt.Errorf("failed to scan value: %w", err)
		}
		values = append(values, []byte(value))
	}
	return values, rows.Err()
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// prefixQuery turns a prefix into a key range so the primary key index is
// used and LIKE wildcards in keys need no escaping
func prefixQuery(base, prefix string) (string, []interface{}) {
	if prefix == "" {
		return base + " ORDER BY key", nil
	}
	if upper, ok := prefixUpperBound(prefix); ok {
		return base + " WHERE key >= ? AND key < ? ORDER BY key", []interface{}{prefix, upper}
	}
	return base + " WHERE key >= ? ORDER BY key", []interface{}{prefix}
}

// prefixUpperBound returns the smallest string greater than every string
// with the given prefix. ok is false when no such bound exists (all 0xff).
func prefixUpperBound(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] < 0xff {
			b[i]++
			return string(b[:i+1]), true
		}
	}
	return "", false
}
