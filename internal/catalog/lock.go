package catalog

import (
	"fmt"

	"github.com/franz/electric/internal/util"
	"github.com/gofrs/flock"
)

// Lock is an exclusive advisory lock guarding one catalog file
type Lock struct {
	fl *flock.Flock
}

// LockPath returns the lock file used for the catalog at path
func LockPath(catalogPath string) string {
	return catalogPath + ".lock"
}

// AcquireLock takes the catalog lock without blocking. A second invocation
// against the same catalog fails with util.ErrLocked.
func AcquireLock(catalogPath string) (*Lock, error) {
	fl := flock.New(LockPath(catalogPath))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s is held by another process", util.ErrLocked, fl.Path())
	}
	return &Lock{fl: fl}, nil
}

// Release drops the lock
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
