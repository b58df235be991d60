package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker is the single-process fallback for the advisory lock.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{locks: make(map[string]time.Time)}
}

func (l *MemoryLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if expiry, held := l.locks[name]; held && now.Before(expiry) {
		return false, nil
	}
	l.locks[name] = now.Add(ttl)
	return true, nil
}

func (l *MemoryLocker) Release(ctx context.Context, name string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, name)
	return nil
}

type cacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemorySnapshotCache caches status snapshots within one process.
type MemorySnapshotCache struct {
	entries sync.Map
}

func NewMemorySnapshotCache() *MemorySnapshotCache {
	return &MemorySnapshotCache{}
}

func (c *MemorySnapshotCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, ok := c.entries.Load(key)
	if !ok {
		return nil, false, nil
	}
	entry := val.(cacheEntry)
	if time.Now().After(entry.expiresAt) {
		c.entries.Delete(key)
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (c *MemorySnapshotCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.entries.Store(key, cacheEntry{value: value, expiresAt: time.Now().Add(ttl)})
	return nil
}

func (c *MemorySnapshotCache) Invalidate(ctx context.Context, key string) error {
	c.entries.Delete(key)
	return nil
}
