//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package taskregistry

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// acquireLock creates the lock file exclusively. A file left by a dead
// process is moved aside with a rename before the retry, so two reclaimers
// cannot both delete each other's fresh lock.
func acquireLock(taskID, path string) (*Lock, error) {
	for range 3 {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			_, werr := f.Write(pidLine())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write task lock: %w", errors.Join(werr, cerr))
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create task lock: %w", err)
		}

		pid := readLockPID(path)
		if pid == os.Getpid() || (pid > 0 && isProcessAlive(pid)) {
			return nil, &LockError{TaskID: taskID, PID: pid}
		}

		aside := path + ".stale." + strconv.Itoa(os.Getpid()) + "." + strconv.FormatInt(time.Now().UnixNano(), 36)
		if err := os.Rename(path, aside); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reclaim stale task lock: %w", err)
		}
		if got := readLockPID(aside); got != pid {
			// another invocation locked the task between the read and the rename
			if err := os.Link(aside, path); err == nil {
				_ = os.Remove(aside)
			}
			return nil, &LockError{TaskID: taskID, PID: got}
		}
		_ = os.Remove(aside)
	}
	return nil, &LockError{TaskID: taskID, PID: readLockPID(path)}
}
