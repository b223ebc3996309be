package launch

import (
	"fmt"

	"github.com/gofrs/flock"
)

// InstanceLock is the advisory lock one launcher holds while it owns the
// UI server for a data directory.
type InstanceLock struct {
	lock *flock.Flock
	held bool
}

// AcquireInstanceLock tries to take the lock without blocking. held is false
// when another launcher already owns it.
func AcquireInstanceLock(path string) (*InstanceLock, error) {
	lock := flock.New(path)
	held, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	return &InstanceLock{lock: lock, held: held}, nil
}

// Held reports whether this process owns the lock
func (l *InstanceLock) Held() bool {
	return l != nil && l.held
}

// Release gives the lock up; safe on a lock that was never held
func (l *InstanceLock) Release() error {
	if !l.Held() {
		return nil
	}
	l.held = false
	return l.lock.Unlock()
}
