package taskregistry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrLocked is returned when another invocation holds the task lock.
var ErrLocked = errors.New("task is locked by another invocation")

// LockError names the process holding a task lock.
type LockError struct {
	TaskID string
	PID    int
}

func (e *LockError) Error() string {
	return fmt.Sprintf("task %s is already running (pid %d)", e.TaskID, e.PID)
}

func (e *LockError) Is(target error) bool { return target == ErrLocked }

// Lock is an exclusive per-task lock. The lock file holds the owner's pid.
type Lock struct {
	path string
	f    *os.File
}

func (s *Store) LockPath(taskID string) string {
	return filepath.Join(s.TaskDir(taskID), "task.lock")
}

// Lock acquires the task lock. It fails with a *LockError while any other
// invocation holds it, including one in the current process.
func (s *Store) Lock(taskID string) (*Lock, error) {
	taskID = strings.TrimSpace(taskID)
	if err := validateTaskID(taskID); err != nil {
		return nil, err
	}
	if err := s.ensureRoot(); err != nil {
		return nil, err
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(s.TaskDir(taskID), 0755); err != nil {
		return nil, fmt.Errorf("create task dir: %w", err)
	}
	return acquireLock(taskID, s.LockPath(taskID))
}

// Release removes the lock file and drops the lock.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	err := os.Remove(l.path)
	if os.IsNotExist(err) {
		err = nil
	}
	if l.f != nil {
		err = errors.Join(err, l.f.Close())
		l.f = nil
	}
	return err
}

func pidLine() []byte {
	return []byte(strconv.Itoa(os.Getpid()) + "\n")
}

func readLockPID(path string) int {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0
	}
	return pid
}
