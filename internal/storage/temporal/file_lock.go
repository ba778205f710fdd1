package temporal

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// fileLock is an exclusive OS-level lock on an engine directory,
// guarding against two processes opening the same path.
type fileLock struct {
	file *os.File
	path string
}

// acquireFileLock creates (or reuses) db.lock inside dir and takes an
// exclusive non-blocking flock on it.
func acquireFileLock(dir string) (*fileLock, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create engine directory: %w", err)
	}
	lockPath := filepath.Join(dir, "db.lock")
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, fmt.Errorf("engine directory %s is locked by another process", dir)
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}

	// Record the owning pid for debugging.
	file.Truncate(0)
	file.Seek(0, 0)
	fmt.Fprintf(file, "%d", os.Getpid())

	return &fileLock{file: file, path: lockPath}, nil
}

// Release drops the lock. The lock file itself is kept for reuse.
func (l *fileLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
