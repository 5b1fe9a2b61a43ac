package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// DataDir is the per-workspace directory holding the SQLite database and lock files
const DataDir = ".pubhub"

// ErrNoDatabase is returned when discovery finds no database in the workspace
var ErrNoDatabase = errors.New("no pubhub database found")

// DiscoverDatabase finds the workspace database for the current directory.
// PUBHUB_DB_PATH, when set, wins as-is (including ":memory:").
func DiscoverDatabase() (string, error) {
	if dbPath := os.Getenv("PUBHUB_DB_PATH"); dbPath != "" {
		return dbPath, nil
	}
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get current directory: %w", err)
	}
	return discoverDatabaseInDir(dir)
}

// discoverDatabaseInDir looks in dir/.pubhub only; parent directories are
// never searched. pubhub.db is preferred, otherwise the first *.db by name.
func discoverDatabaseInDir(dir string) (string, error) {
	dataDir := filepath.Join(dir, DataDir)
	candidates, err := filepath.Glob(filepath.Join(dataDir, "*.db"))
	if err != nil {
		return "", fmt.Errorf("failed to scan %s: %w", dataDir, err)
	}

	var files []string
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.Mode().IsRegular() {
			files = append(files, c)
		}
	}
	if len(files) == 0 {
		return "", fmt.Errorf("%w in %s (run 'pubhub project create' or pass --db)", ErrNoDatabase, dataDir)
	}

	sort.Strings(files)
	chosen := files[0]
	for _, f := range files {
		if filepath.Base(f) == filepath.Base(DefaultPath) {
			chosen = f
			break
		}
	}
	return filepath.Abs(chosen)
}

// ResolveDatabasePath picks the SQLite path: explicit, then discovered,
// then DefaultPath relative to the working directory.
func ResolveDatabasePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if found, err := DiscoverDatabase(); err == nil {
		return found
	}
	return DefaultPath
}

// GetDataDir returns the .pubhub directory containing dbPath. The scheduler
// lock lives there, so databases outside a .pubhub directory are rejected.
func GetDataDir(dbPath string) (string, error) {
	if dbPath == ":memory:" {
		return "", errors.New("in-memory database has no data directory")
	}
	absPath, err := filepath.Abs(dbPath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", dbPath, err)
	}
	dir := filepath.Dir(absPath)
	if filepath.Base(dir) != DataDir {
		return "", fmt.Errorf("database must live in a %s/ directory, got %s", DataDir, dbPath)
	}
	return dir, nil
}
