package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDiscoverDatabaseInDir_CurrentDirOnly verifies that discovery does not
// walk up into a parent's .pubhub directory
func TestDiscoverDatabaseInDir_CurrentDirOnly(t *testing.T) {
	tmpRoot := t.TempDir()
	parentDir := filepath.Join(tmpRoot, "parent")
	childDir := filepath.Join(parentDir, "child")

	require.NoError(t, os.MkdirAll(filepath.Join(parentDir, DataDir), 0755))
	parentDB := filepath.Join(parentDir, DataDir, "pubhub.db")
	require.NoError(t, os.WriteFile(parentDB, []byte(""), 0644))
	require.NoError(t, os.MkdirAll(childDir, 0755))

	_, err := discoverDatabaseInDir(childDir)
	assert.ErrorIs(t, err, ErrNoDatabase)

	dbPath, err := discoverDatabaseInDir(parentDir)
	require.NoError(t, err)
	assert.Equal(t, parentDB, dbPath)
}

func TestDiscoverDatabasePrefersDefaultName(t *testing.T) {
	root := t.TempDir()
	dataDir := filepath.Join(root, DataDir)
	require.NoError(t, os.MkdirAll(filepath.Join(dataDir, "nested.db"), 0755))
	for _, name := range []string{"archive.db", "pubhub.db", "zeta.db"} {
		require.NoError(t, os.WriteFile(filepath.Join(dataDir, name), nil, 0644))
	}

	got, err := discoverDatabaseInDir(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "pubhub.db"), got)

	require.NoError(t, os.Remove(filepath.Join(dataDir, "pubhub.db")))
	got, err = discoverDatabaseInDir(root)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dataDir, "archive.db"), got, "directories are skipped, first file by name wins")
}

func TestDiscoverDatabaseEnvOverride(t *testing.T) {
	t.Setenv("PUBHUB_DB_PATH", ":memory:")
	path, err := DiscoverDatabase()
	require.NoError(t, err)
	assert.Equal(t, ":memory:", path)

	assert.Equal(t, "/explicit.db", ResolveDatabasePath("/explicit.db"))
	assert.Equal(t, ":memory:", ResolveDatabasePath(""))
}

func TestGetDataDir(t *testing.T) {
	dir, err := GetDataDir("/home/user/app/.pubhub/pubhub.db")
	require.NoError(t, err)
	assert.Equal(t, "/home/user/app/.pubhub", dir)

	_, err = GetDataDir("/home/user/app/pubhub.db")
	assert.Error(t, err)

	_, err = GetDataDir(":memory:")
	assert.Error(t, err)
}

func TestSchedulerLock(t *testing.T) {
	dir := filepath.Join(t.TempDir(), DataDir)

	held, err := ReadSchedulerLock(dir)
	require.NoError(t, err)
	assert.Nil(t, held)

	lockPath, err := AcquireSchedulerLock(dir, SchedulerLock{Version: "test", Schedule: "*/15 * * * *", Addr: ":8080"})
	require.NoError(t, err)
	assert.FileExists(t, lockPath)
	assert.NoFileExists(t, lockPath+".tmp")

	held, err = ReadSchedulerLock(dir)
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Equal(t, os.Getpid(), held.PID)
	assert.Equal(t, "*/15 * * * *", held.Schedule)
	assert.Equal(t, ":8080", held.Addr)
	assert.False(t, held.StartedAt.IsZero())

	// This process holds it, so a second acquire fails
	_, err = AcquireSchedulerLock(dir, SchedulerLock{Version: "test"})
	assert.ErrorContains(t, err, "already running")

	require.NoError(t, ReleaseSchedulerLock(lockPath))
	assert.NoFileExists(t, lockPath)
	require.NoError(t, ReleaseSchedulerLock(lockPath), "releasing twice is fine")
}

func TestSchedulerLockStaleOrCorrupt(t *testing.T) {
	dir := filepath.Join(t.TempDir(), DataDir)
	require.NoError(t, os.MkdirAll(dir, 0755))
	hostname, err := os.Hostname()
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
	}{
		{"dead process", `{"pid":999999999,"hostname":"` + hostname + `"}`},
		{"corrupt", `{not json`},
		{"no pid", `{"hostname":"` + hostname + `"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, os.WriteFile(filepath.Join(dir, SchedulerLockFile), []byte(tt.body), 0644))

			held, err := ReadSchedulerLock(dir)
			require.NoError(t, err)
			assert.Nil(t, held)

			lockPath, err := AcquireSchedulerLock(dir, SchedulerLock{Version: "test"})
			require.NoError(t, err)
			require.NoError(t, ReleaseSchedulerLock(lockPath))
		})
	}
}

func TestSchedulerLockOtherHostCountsAsAlive(t *testing.T) {
	lock := &SchedulerLock{PID: 1, Hostname: "some-other-host.invalid"}
	assert.True(t, lock.Alive())
}
