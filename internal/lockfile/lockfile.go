// Package lockfile provides the cross-process single-writer lock that guards
// a durable graph file.
package lockfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ErrLockBusy is returned when another process holds the lock.
var ErrLockBusy = errors.New("lock held by another process")

// LockInfo is written into the lock file by the holder.
type LockInfo struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname,omitempty"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock is an acquired exclusive lock. The zero value is not usable.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes an exclusive non-blocking lock on path, creating it if needed,
// and records the holder's pid. Returns ErrLockBusy if already held.
func Acquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) // #nosec G304 -- store-controlled path
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockExclusive(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLockBusy) {
			if info, rerr := ReadLockInfo(path); rerr == nil && info.PID > 0 {
				return nil, fmt.Errorf("%w (pid %d)", ErrLockBusy, info.PID)
			}
		}
		return nil, err
	}

	host, _ := os.Hostname()
	info := LockInfo{PID: os.Getpid(), Hostname: host, AcquiredAt: time.Now().UTC()}
	data, _ := json.Marshal(info)
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt(data, 0)
	}
	return &Lock{path: path, f: f}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and closes the lock file. The file itself is left in
// place; removing it would race with a concurrent Acquire.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := flockUnlock(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// ReadLockInfo reads the holder record from a lock file.
func ReadLockInfo(path string) (*LockInfo, error) {
	f, err := os.Open(path) // #nosec G304 -- store-controlled path
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse lock info: %w", err)
	}
	return &info, nil
}

// HolderAlive reports whether the process recorded in the lock file is running.
func HolderAlive(path string) bool {
	info, err := ReadLockInfo(path)
	if err != nil {
		return false
	}
	return isProcessRunning(info.PID)
}
