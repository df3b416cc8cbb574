// Package refresh decides when a token's series gets refreshed and
// guarantees at most one in-flight refresh per token. The lock manager is
// an explicit component so the in-process map can be swapped for a
// cache-backed distributed lock without touching callers.
package refresh

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"dexcharts/internal/hotcache"
)

// ErrRefreshInProgress is returned when another refresh holds the token's
// lock. Callers are expected to retry rather than queue.
var ErrRefreshInProgress = errors.New("refresh already in progress")

// LockManager provides per-key mutual exclusion with a bounded TTL, so a
// crashed holder cannot wedge a key forever.
type LockManager interface {
	// TryAcquire takes the lock for key when no unexpired lock exists.
	// Reports whether the lock was acquired.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Release drops the lock for key. Releasing an unheld key is a no-op.
	Release(ctx context.Context, key string) error
}

// MemoryLocks is an in-process LockManager: a map from key to expiry.
// An expired entry is treated as absent.
type MemoryLocks struct {
	mu      sync.Mutex
	expires map[string]time.Time

	// now is replaceable in tests.
	now func() time.Time
}

// NewMemoryLocks creates an in-process lock manager.
func NewMemoryLocks() *MemoryLocks {
	return &MemoryLocks{
		expires: make(map[string]time.Time),
		now:     time.Now,
	}
}

// Compile-time interface check.
var _ LockManager = (*MemoryLocks)(nil)

// TryAcquire takes the lock for key when no unexpired lock exists.
func (m *MemoryLocks) TryAcquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if exp, held := m.expires[key]; held && now.Before(exp) {
		return false, nil
	}
	m.expires[key] = now.Add(ttl)
	return true, nil
}

// Release drops the lock for key.
func (m *MemoryLocks) Release(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.expires, key)
	m.mu.Unlock()
	return nil
}

// lockKeyPrefix namespaces lock entries in the shared cache.
const lockKeyPrefix = "lock:"

// CacheLocks is a LockManager backed by the hot cache's SetNX+TTL
// primitive, making the lock shared across processes.
type CacheLocks struct {
	cache hotcache.Cache
}

// NewCacheLocks creates a cache-backed lock manager.
func NewCacheLocks(cache hotcache.Cache) *CacheLocks {
	return &CacheLocks{cache: cache}
}

// Compile-time interface check.
var _ LockManager = (*CacheLocks)(nil)

// TryAcquire takes the lock via SetNX; the cache's own TTL expires it.
func (c *CacheLocks) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	value := strconv.FormatInt(time.Now().UnixMilli(), 10)
	return c.cache.SetNX(ctx, lockKeyPrefix+key, []byte(value), ttl)
}

// Release drops the lock for key.
func (c *CacheLocks) Release(ctx context.Context, key string) error {
	return c.cache.Delete(ctx, lockKeyPrefix+key)
}
