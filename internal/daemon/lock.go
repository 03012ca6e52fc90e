package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// LockFile is the device lock file name inside the data directory.
const LockFile = "tripsync.lock"

// ErrLocked is returned when another daemon holds the device lock.
var ErrLocked = errors.New("another daemon is running for this data directory")

// Lock is an exclusive lock on a data directory.
type Lock struct {
	file *os.File
}

// AcquireLock takes the device lock for dataDir without blocking.
func AcquireLock(dataDir string) (*Lock, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	path := filepath.Join(dataDir, LockFile)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file: %w", err)
	}
	if err := lockFile(f); err != nil {
		_ = f.Close()
		return nil, err
	}
	_ = f.Truncate(0)
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	return &Lock{file: f}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unlockFile(l.file)
	if cerr := l.file.Close(); err == nil {
		err = cerr
	}
	l.file = nil
	return err
}
