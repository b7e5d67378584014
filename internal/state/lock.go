package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"
)

const lockFile = "taskpilot.lock"

// ErrLocked is returned when another live process owns the state directory.
var ErrLocked = errors.New("state directory is locked by another process")

// Lock is an advisory single-writer lock on a state directory.
type Lock struct {
	RunID     string    `json:"run_id"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`

	path string
}

// AcquireLock takes the lock for runID. A lock left by a dead process is
// removed, as is one that cannot be parsed; a lock held by a live process
// fails fast with ErrLocked.
func (s *Store) AcquireLock(runID string) (*Lock, error) {
	path := s.Path(lockFile)

	existing, err := readLock(path)
	switch {
	case err == nil:
		if isProcessAlive(existing.PID) {
			return nil, fmt.Errorf("%w: run %s, PID %d on %s", ErrLocked, existing.RunID, existing.PID, existing.Hostname)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove stale lock: %w", err)
		}
	case !os.IsNotExist(err):
		// Lock files are published complete, so an unparsable one is debris.
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("remove unreadable lock: %w", err)
		}
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	lock := &Lock{
		RunID:     runID,
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		path:      path,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal lock: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, "."+lockFile+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create lock: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write lock: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("write lock: %w", err)
	}

	// Link fails when path exists, which closes the race with another
	// process starting at the same time.
	if err := os.Link(tmpName, path); err != nil {
		if os.IsExist(err) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("publish lock: %w", err)
	}
	return lock, nil
}

// Release removes the lock file if this process still owns it.
// Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	existing, err := readLock(l.path)
	if err != nil || existing.PID != l.PID {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Owner returns the live lock holder, or nil when the directory is free.
func (s *Store) Owner() *Lock {
	lock, err := readLock(s.Path(lockFile))
	if err != nil || !isProcessAlive(lock.PID) {
		return nil
	}
	return lock
}

// Signal sends sig to the process holding the lock.
func (l *Lock) Signal(sig os.Signal) error {
	p, err := os.FindProcess(l.PID)
	if err != nil {
		return fmt.Errorf("find process %d: %w", l.PID, err)
	}
	return p.Signal(sig)
}

func readLock(path string) (*Lock, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var lock Lock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("parse lock file: %w", err)
	}
	lock.path = path
	return &lock, nil
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return p.Signal(syscall.Signal(0)) == nil
}
