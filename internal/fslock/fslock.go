// Package fslock provides cross-process advisory locks on lock files.
package fslock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when the lock is held by another process past the timeout
var ErrLocked = errors.New("lock is held by another process")

const pollInterval = 200 * time.Millisecond

// Acquire obtains an exclusive lock on path, polling until timeout elapses.
// A zero timeout makes a single attempt. The returned func releases the lock.
func Acquire(ctx context.Context, path string, timeout time.Duration) (func(), error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return func() {}, fmt.Errorf("failed to create lock directory: %w", err)
	}

	l := flock.New(path)
	deadline := time.Now().Add(timeout)
	for {
		locked, err := l.TryLock()
		if err != nil {
			return func() {}, fmt.Errorf("cannot acquire lock %s: %w", path, err)
		}
		if locked {
			return func() { _ = l.Unlock() }, nil
		}
		if !time.Now().Before(deadline) {
			return func() {}, fmt.Errorf("%w (lock: %s)", ErrLocked, path)
		}

		select {
		case <-ctx.Done():
			return func() {}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}
