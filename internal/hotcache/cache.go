// Package hotcache provides the hot-tier key/value store: per-key TTL,
// small blobs, fast reads. Two implementations exist, an in-process map
// for tests and single-node runs and Redis for shared deployments.
package hotcache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Cache is a key/value store with per-key TTL.
type Cache interface {
	// Get retrieves the value for key. Returns ErrMiss when absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL. Zero TTL means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// SetNX stores value only if key is absent. Reports whether it was stored.
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all live keys matching prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
