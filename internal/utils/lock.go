package utils

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	homedir "github.com/mitchellh/go-homedir"
)

const lockFileName = "pbxsched.lock"

// DataLock serializes processes that write to the same data directory.
type DataLock struct {
	lock *flock.Flock
	path string
}

func NewDataLock(dataDir string) (*DataLock, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("could not create data directory: %w", err)
	}
	p := filepath.Join(dataDir, lockFileName)
	return &DataLock{lock: flock.New(p), path: p}, nil
}

// Lock acquires the lock, waiting until ctx is done. It tells the user on
// stderr when another process holds it.
func (l *DataLock) Lock(ctx context.Context) error {
	locked, err := l.lock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s: %w", l.path, err)
	}
	if locked {
		return nil
	}

	fmt.Fprintf(os.Stderr, "Another pbxsched process is using %s, waiting for it to finish...\n", filepath.Dir(l.path))
	locked, err = l.lock.TryLockContext(ctx, 500*time.Millisecond)
	if err != nil {
		return fmt.Errorf("failed to acquire lock on %s after waiting: %w", l.path, err)
	}
	if !locked {
		return fmt.Errorf("lock on %s is still held", l.path)
	}
	return nil
}

func (l *DataLock) Unlock() error {
	if err := l.lock.Unlock(); err != nil {
		// Not holding the lock is not an error.
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}

// DefaultDataDir is ~/.config/pbxsched.
func DefaultDataDir() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "pbxsched"), nil
}
