// Package lock serializes parsecup invocations that share a state directory.
//
// The lock is an advisory exclusive lock on <state_dir>/parsecup.lock. The
// holder writes its PID into the file so a blocked invocation can name it.
// The kernel drops the lock when the holder exits, so a crashed launcher
// never leaves a stale lock behind.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// FileName is the lock file created inside the state directory.
const FileName = "parsecup.lock"

// ErrLocked indicates another process holds the lock.
var ErrLocked = errors.New("state directory is locked")

// HeldError reports the current holder of a contended lock.
type HeldError struct {
	Path string
	// PID of the holder, or 0 when it could not be read.
	PID int
}

func (e *HeldError) Error() string {
	if e.PID > 0 {
		return fmt.Sprintf("%s held by pid %d", e.Path, e.PID)
	}
	return fmt.Sprintf("%s held by another process", e.Path)
}

func (e *HeldError) Unwrap() error {
	return ErrLocked
}

// Lock is an acquired launch lock.
type Lock struct {
	path string
	f    *os.File
}

// Acquire takes the lock for stateDir without blocking, creating the
// directory if needed.
func Acquire(stateDir string) (*Lock, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	path := filepath.Join(stateDir, FileName)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := tryLock(f); err != nil {
		_ = f.Close()
		if errors.Is(err, ErrLocked) {
			return nil, &HeldError{Path: path, PID: readHolder(path)}
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}

	if err := writeHolder(f, os.Getpid()); err != nil {
		_ = unlock(f)
		_ = f.Close()
		return nil, fmt.Errorf("record lock holder: %w", err)
	}
	return &Lock{path: path, f: f}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock. The file is kept; only the holder PID is cleared.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	f := l.f
	l.f = nil

	_ = f.Truncate(0)
	err := unlock(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

func writeHolder(f *os.File, pid int) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return err
	}
	return f.Sync()
}

func readHolder(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0
	}
	return pid
}
