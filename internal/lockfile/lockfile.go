// Package lockfile provides non-blocking exclusive file locks for migration
// runs and the daemon.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another holder owns the lock.
var ErrLocked = errors.New("lock is held by another run")

// Lock is a held file lock.
type Lock struct {
	lock *flock.Flock
}

// Acquire takes the lock at path without blocking. The file and its parent
// directory are created as needed.
func Acquire(path string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &Lock{lock: lock}, nil
}

// Path is the lock file.
func (l *Lock) Path() string { return l.lock.Path() }

// Release unlocks. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.lock == nil {
		return nil
	}
	return l.lock.Unlock()
}

// PairPath is the lock file for a source/target pair under dir.
func PairPath(dir, sourceID, targetID string) string {
	return filepath.Join(dir, "locks", sanitize(sourceID)+"__"+sanitize(targetID)+".lock")
}

// AcquirePair locks a source/target pair.
func AcquirePair(dir, sourceID, targetID string) (*Lock, error) {
	return Acquire(PairPath(dir, sourceID, targetID))
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			return r
		}
		return '_'
	}, id)
}

// WritePID records the current process id in the lock file.
func (l *Lock) WritePID() error {
	return os.WriteFile(l.Path(), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o600)
}

// ReadPID returns the pid stored in a lock file, or 0.
func ReadPID(path string) int {
	data, err := os.ReadFile(path) // #nosec G304 - path is under the data dir
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

// DaemonLockName is the daemon lock file inside the data directory.
const DaemonLockName = "daemon.lock"

// AcquireDaemon takes the daemon lock for dataDir and records our pid.
func AcquireDaemon(dataDir string) (*Lock, error) {
	lock, err := Acquire(filepath.Join(dataDir, DaemonLockName))
	if err != nil {
		return nil, err
	}
	if err := lock.WritePID(); err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("failed to write daemon pid: %w", err)
	}
	return lock, nil
}

// DaemonRunning probes the daemon lock for dataDir. pid is the recorded
// daemon process when the lock is held.
func DaemonRunning(dataDir string) (running bool, pid int) {
	path := filepath.Join(dataDir, DaemonLockName)
	if _, err := os.Stat(path); err != nil {
		return false, 0
	}
	probe := flock.New(path)
	locked, err := probe.TryLock()
	if err != nil {
		return false, 0
	}
	if locked {
		_ = probe.Unlock()
		return false, 0
	}
	return true, ReadPID(path)
}
