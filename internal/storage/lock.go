package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// SchedulerLockFile is the lock file name inside the data directory
const SchedulerLockFile = ".scheduler-lock"

// SchedulerLock records which `pubhub serve` process owns the monitor cron for
// a database. Only one live holder may exist per data directory.
type SchedulerLock struct {
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	Version   string    `json:"version"`
	Database  string    `json:"database,omitempty"`
	Schedule  string    `json:"schedule,omitempty"`
	Addr      string    `json:"addr,omitempty"`
}

// Alive reports whether the holder process still exists. Holders on other
// hosts cannot be probed and count as alive.
func (l *SchedulerLock) Alive() bool {
	current, err := os.Hostname()
	if err != nil || !strings.EqualFold(l.Hostname, current) {
		return true
	}
	proc, err := os.FindProcess(l.PID)
	if err != nil {
		return false
	}
	// kill -0; EPERM means the process exists under another user
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}

// ReadSchedulerLock returns the live lock in dir, or nil when no scheduler
// holds it. An undecodable or stale lock counts as not held.
func ReadSchedulerLock(dir string) (*SchedulerLock, error) {
	data, err := os.ReadFile(filepath.Join(dir, SchedulerLockFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read scheduler lock: %w", err)
	}
	var lock SchedulerLock
	if json.Unmarshal(data, &lock) != nil || lock.PID == 0 || !lock.Alive() {
		return nil, nil
	}
	return &lock, nil
}

// AcquireSchedulerLock claims the scheduler for dir (created if missing) on
// behalf of this process. owner supplies the descriptive fields; PID, host
// and start time are filled in. Returns the lock path for ReleaseSchedulerLock.
func AcquireSchedulerLock(dir string, owner SchedulerLock) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create lock directory: %w", err)
	}

	held, err := ReadSchedulerLock(dir)
	if err != nil {
		return "", err
	}
	if held != nil {
		return "", fmt.Errorf("another pubhub scheduler is already running (PID %d on %s, started %s)",
			held.PID, held.Hostname, held.StartedAt.Format(time.RFC3339))
	}

	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("failed to get hostname: %w", err)
	}
	owner.PID = os.Getpid()
	owner.Hostname = hostname
	owner.StartedAt = time.Now().UTC()

	data, err := json.MarshalIndent(owner, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal lock: %w", err)
	}

	// Write then rename so readers never see a partial file
	lockPath := filepath.Join(dir, SchedulerLockFile)
	tmp := lockPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write scheduler lock: %w", err)
	}
	if err := os.Rename(tmp, lockPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("failed to install scheduler lock: %w", err)
	}
	return lockPath, nil
}

// ReleaseSchedulerLock removes the lock file. Releasing twice is not an error.
func ReleaseSchedulerLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove scheduler lock: %w", err)
	}
	return nil
}
