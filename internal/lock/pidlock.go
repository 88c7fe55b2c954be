// Package lock keeps a single mcphub instance per state directory.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// FileName is the lock file created inside the state directory.
const FileName = "mcphub.lock"

var (
	// ErrLocked means another live process holds the lock.
	ErrLocked = errors.New("another instance holds the lock")
	// ErrNetworkFilesystem means the state directory is on a mount where flock
	// does not exclude processes on other hosts.
	ErrNetworkFilesystem = errors.New("state directory is on a network filesystem")
)

// mountInspector reports the filesystem name of path and whether it is remote.
type mountInspector func(path string) (name string, remote bool, err error)

// PIDLock is a PID file guarded by flock(2). The lock lives as long as the file
// descriptor stays open.
type PIDLock struct {
	path string
	f    *os.File
}

// PathFor returns the lock path for stateDir.
func PathFor(stateDir string) string {
	return filepath.Join(stateDir, FileName)
}

// CheckStateDir fails with ErrNetworkFilesystem when stateDir, or the closest
// parent that exists, is on a remote mount. Other errors mean the mount could not
// be inspected.
func CheckStateDir(stateDir string) error {
	return checkStateDir(stateDir, remoteMount)
}

func checkStateDir(stateDir string, inspect mountInspector) error {
	if stateDir == "" {
		return errors.New("state directory is empty")
	}
	dir, err := filepath.Abs(stateDir)
	if err != nil {
		return fmt.Errorf("resolve state directory: %w", err)
	}
	for {
		if _, err := os.Stat(dir); err == nil {
			break
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %q: %w", dir, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return fmt.Errorf("no existing parent for %q", stateDir)
		}
		dir = parent
	}

	name, remote, err := inspect(dir)
	if err != nil {
		return err
	}
	if remote {
		return fmt.Errorf("%s is on %s, move service.state_dir to local disk: %w", stateDir, name, ErrNetworkFilesystem)
	}
	return nil
}

// Acquire takes an exclusive non-blocking lock at lockPath and writes the current
// PID into it. When the lock is held elsewhere the error wraps ErrLocked and names
// the holder's PID if it can be read. A lock directory on a remote mount is
// refused with ErrNetworkFilesystem; a mount that cannot be inspected is allowed.
func Acquire(lockPath string) (*PIDLock, error) {
	return acquire(lockPath, remoteMount)
}

func acquire(lockPath string, inspect mountInspector) (*PIDLock, error) {
	if lockPath == "" {
		return nil, errors.New("lock path is empty")
	}
	dir := filepath.Dir(lockPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	if err := checkStateDir(dir, inspect); errors.Is(err, ErrNetworkFilesystem) {
		return nil, err
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if pid, perr := ReadPID(lockPath); perr == nil {
				return nil, fmt.Errorf("%s (pid %d): %w", lockPath, pid, ErrLocked)
			}
			return nil, fmt.Errorf("%s: %w", lockPath, ErrLocked)
		}
		return nil, fmt.Errorf("acquire lock: %w", err)
	}

	abort := func(step string, err error) (*PIDLock, error) {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return nil, fmt.Errorf("%s lock file: %w", step, err)
	}

	if err := f.Truncate(0); err != nil {
		return abort("truncate", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return abort("seek", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return abort("write", err)
	}
	if err := f.Sync(); err != nil {
		return abort("sync", err)
	}

	return &PIDLock{path: lockPath, f: f}, nil
}

// ReadPID returns the PID recorded in a lock file.
func ReadPID(lockPath string) (int, error) {
	b, err := os.ReadFile(lockPath)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse pid in %s: %w", lockPath, err)
	}
	return pid, nil
}

func (l *PIDLock) Path() string { return l.path }

// Release unlocks and closes the file. The file itself is left in place.
func (l *PIDLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	_ = syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN)
	err := l.f.Close()
	l.f = nil
	return err
}
