package daemon

import (
	"fmt"

	"github.com/gofrs/flock"
)

// FileLock is a non-blocking, cross-process exclusive advisory lock backed by a sidecar
// file. The Store uses one to enforce a single-writer invariant: a second
// "memoryd serve" pointed at the same database refuses to start rather than risk
// concurrent writes.
type FileLock struct {
	fl *flock.Flock
}

// AcquireFileLock tries the lock at path without blocking. If another process already
// holds it, an error is returned immediately (never block forever waiting for a daemon
// that might never exit).
func AcquireFileLock(path string) (*FileLock, error) {
	fl := flock.New(path)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s is already locked by another process", path)
	}
	return &FileLock{fl: fl}, nil
}

// Release unlocks the file. It is safe to call multiple times.
func (l *FileLock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
