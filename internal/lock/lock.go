// Package lock implements the coarse, file-scoped advisory lock that
// guards a pipeline file and its lockfile for the duration of a plan
// execution, per spec.md §5: "concurrent runs against the same pipeline
// fail fast with LockError".
package lock

import (
	"errors"
	"fmt"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when the lock is already held by another
// process.
var ErrLocked = errors.New("lock: pipeline is locked by another process")

// Lock guards one pipeline file's execution.
type Lock struct {
	fl *flock.Flock
}

// New builds a Lock whose lock file lives alongside the pipeline file
// (pipelinePath + ".lock").
func New(pipelinePath string) *Lock {
	return &Lock{fl: flock.New(pipelinePath + ".lock")}
}

// TryLock acquires the lock without blocking, returning ErrLocked if
// another process already holds it.
func (l *Lock) TryLock() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return fmt.Errorf("lock: try lock %s: %w", l.fl.Path(), err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Unlock releases the lock. Safe to call even if TryLock failed.
func (l *Lock) Unlock() error {
	if !l.fl.Locked() {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("lock: unlock %s: %w", l.fl.Path(), err)
	}
	return nil
}
