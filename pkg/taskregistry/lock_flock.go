//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package taskregistry

import (
	"errors"
	"fmt"
	"os"
	"syscall"
)

// acquireLock holds an flock on the lock file for the life of the Lock. The
// kernel drops it when the owner exits, so a leftover file is never stale.
func acquireLock(taskID, path string) (*Lock, error) {
	for range 3 {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
		if err != nil {
			return nil, fmt.Errorf("open task lock: %w", err)
		}
		if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
			_ = f.Close()
			if errors.Is(err, syscall.EWOULDBLOCK) {
				return nil, &LockError{TaskID: taskID, PID: readLockPID(path)}
			}
			return nil, fmt.Errorf("lock task: %w", err)
		}

		// a releasing owner may have unlinked the file we opened
		held, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("stat task lock: %w", err)
		}
		onDisk, err := os.Stat(path)
		if err != nil || !os.SameFile(held, onDisk) {
			_ = f.Close()
			continue
		}

		if err := f.Truncate(0); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write task lock: %w", err)
		}
		if _, err := f.WriteAt(pidLine(), 0); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("write task lock: %w", err)
		}
		return &Lock{path: path, f: f}, nil
	}
	return nil, &LockError{TaskID: taskID, PID: readLockPID(path)}
}
