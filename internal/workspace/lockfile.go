package workspace

import (
	"fmt"
	"os"
	"time"
)

// Lock is an advisory cross-process lock implemented as an O_EXCL lock file
// next to the protected resource. A lock older than staleAfter is taken over;
// a crashed writer must not wedge the log forever.
type Lock struct {
	path string
}

const (
	lockRetryInterval = 25 * time.Millisecond
	lockStaleAfter    = 10 * time.Second
)

// AcquireLock blocks until the lock file at path+".lock" is created, up to
// timeout.
func AcquireLock(path string, timeout time.Duration) (*Lock, error) {
	lockPath := path + ".lock"
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return &Lock{path: lockPath}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > lockStaleAfter {
				os.Remove(lockPath)
				continue
			}
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timed out waiting for lock %s", lockPath)
		}
		time.Sleep(lockRetryInterval)
	}
}

// Release removes the lock file.
func (l *Lock) Release() error {
	return os.Remove(l.path)
}
