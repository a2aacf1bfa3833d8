// Package lock provides short-lived leases that serialize folder creation
// across concurrent Lambda invocations.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

// DefaultTTL bounds how long a crashed holder can block others.
const DefaultTTL = 30 * time.Second

// ErrLocked is returned when another owner holds an unexpired lease.
var ErrLocked = errors.New("lock is held by another owner")

// ErrNotOwner is returned when releasing a lease held by someone else.
var ErrNotOwner = errors.New("lock not found or not owned")

// Locker defines the interface for lease management.
type Locker interface {
	// AcquireLock takes the lease on key for owner. Re-acquiring an owned or
	// expired lease succeeds.
	AcquireLock(ctx context.Context, key, owner string) (*model.FolderLock, error)

	// ReleaseLock removes the lease if owner holds it.
	ReleaseLock(ctx context.Context, key, owner string) error

	// GetLockStatus returns the current lease, or nil when free.
	GetLockStatus(ctx context.Context, key string) (*model.FolderLock, error)
}

// Wait polls AcquireLock until it succeeds, ctx ends or wait elapses.
func Wait(ctx context.Context, l Locker, key, owner string, wait time.Duration) (*model.FolderLock, error) {
	deadline := time.Now().Add(wait)
	delay := 50 * time.Millisecond
	for {
		lease, err := l.AcquireLock(ctx, key, owner)
		if err == nil {
			return lease, nil
		}
		if !errors.Is(err, ErrLocked) || time.Now().Add(delay).After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		if delay < time.Second {
			delay *= 2
		}
	}
}
