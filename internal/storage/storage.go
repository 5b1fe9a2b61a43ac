package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/steveyegge/pubhub/internal/storage/postgres"
	"github.com/steveyegge/pubhub/internal/storage/sqlite"
)

// Store is the key-value contract every backend satisfies.
// Values are JSON documents; Get returns nil with no error for a missing key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// SetIfAbsent writes value only when key does not exist yet and reports
	// whether it did. The check and write are one statement in the database.
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]string, error)
	GetByPrefix(ctx context.Context, prefix string) ([][]byte, error)

	// Lifecycle
	Close() error
}

// Backend names a storage implementation
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// DefaultPath is the SQLite database used when no path is configured
const DefaultPath = ".pubhub/pubhub.db"

// ErrNotFound is returned by repositories when a record does not exist
var ErrNotFound = errors.New("not found")

// Config holds database configuration
type Config struct {
	// Backend selects sqlite (default) or postgres
	Backend Backend
	// Path is the SQLite database file path.
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string
	// Postgres configures the postgres backend
	Postgres *postgres.Config
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Backend:  BackendSQLite,
		Path:     DefaultPath,
		Postgres: postgres.DefaultConfig(),
	}
}

// NewStorage opens the configured backend
func NewStorage(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	switch cfg.Backend {
	case "", BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = DefaultPath
		}
		store, err := sqlite.New(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case BackendPostgres:
		store, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// getJSON loads key into out. It returns false when the key is missing.
func getJSON(ctx context.Context, s Store, key string, out interface{}) (bool, error) {
	data, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func setJSON(ctx context.Context, s Store, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Set(ctx, key, data)
}

// listJSON decodes every value under prefix. Values that fail to decode are
// skipped and counted.
func listJSON[T any](ctx context.Context, s Store, prefix string) ([]*T, int, error) {
	values, err := s.GetByPrefix(ctx, prefix)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*T, 0, len(values))
	skipped := 0
	for _, v := range values {
		var item T
		if err := json.Unmarshal(v, &item); err != nil {
			skipped++
			continue
		}
		out = append(out, &item)
	}
	return out, skipped, nil
}
