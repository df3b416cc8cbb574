package hotcache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// Memory is an in-process Cache implementation. Expired entries are dropped
// lazily on access and by Keys scans.
type Memory struct {
	mu   sync.RWMutex
	data map[string]entry

	// now is replaceable in tests.
	now func() time.Time
}

// NewMemory creates a new in-process cache.
func NewMemory() *Memory {
	return &Memory{
		data: make(map[string]entry),
		now:  time.Now,
	}
}

// Compile-time interface check.
var _ Cache = (*Memory)(nil)

// Get retrieves the value for key. Returns ErrMiss when absent or expired.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.data[key]
	m.mu.RUnlock()

	if !ok || e.expired(m.now()) {
		return nil, ErrMiss
	}

	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

// Set stores value under key with the given TTL.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}

	m.mu.Lock()
	m.data[key] = e
	m.mu.Unlock()
	return nil
}

// SetNX stores value only if key is absent or expired.
func (m *Memory) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.data[key]; ok && !e.expired(m.now()) {
		return false, nil
	}

	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.data[key] = e
	return true, nil
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
	return nil
}

// Keys returns all live keys matching prefix, dropping expired entries.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k, e := range m.data {
		if e.expired(now) {
			delete(m.data, k)
			continue
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
