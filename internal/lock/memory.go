package lock

import (
	"context"
	"sync"
	"time"

	"github.com/jacobrosenfeld/etearsheet-uploader/internal/model"
)

// MemoryLocker implements Locker with an in-process map. Used in DEV_MODE and tests.
type MemoryLocker struct {
	locks       map[string]*model.FolderLock
	mu          sync.Mutex
	ttlDuration time.Duration
}

// NewMemoryLocker creates a MemoryLocker with the default TTL.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks:       make(map[string]*model.FolderLock),
		ttlDuration: DefaultTTL,
	}
}

func (m *MemoryLocker) AcquireLock(ctx context.Context, key, owner string) (*model.FolderLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().Unix()
	if existing, ok := m.locks[key]; ok {
		if existing.ExpiresAt > now && existing.Owner != owner {
			return nil, ErrLocked
		}
	}

	lease := &model.FolderLock{
		LockKey:   key,
		Owner:     owner,
		ExpiresAt: now + int64(m.ttlDuration.Seconds()),
	}
	m.locks[key] = lease
	copied := *lease
	return &copied, nil
}

func (m *MemoryLocker) ReleaseLock(ctx context.Context, key, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[key]
	if !ok || existing.Owner != owner {
		return ErrNotOwner
	}
	delete(m.locks, key)
	return nil
}

func (m *MemoryLocker) GetLockStatus(ctx context.Context, key string) (*model.FolderLock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[key]
	if !ok || existing.ExpiresAt < time.Now().Unix() {
		return nil, nil
	}
	copied := *existing
	return &copied, nil
}
