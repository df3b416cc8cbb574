package refresh

import (
	"context"
	"strings"
	"time"

	"dexcharts/internal/domain"
)

// Coordinator owns the per-token refresh state machine
// (Idle → Refreshing → Idle) and the freshness policy.
type Coordinator struct {
	locks           LockManager
	refreshInterval time.Duration
	lockTTL         time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewCoordinator creates a coordinator with the given policy.
func NewCoordinator(locks LockManager, refreshInterval, lockTTL time.Duration) *Coordinator {
	return &Coordinator{
		locks:           locks,
		refreshInterval: refreshInterval,
		lockTTL:         lockTTL,
		now:             time.Now,
	}
}

// NeedsRefresh reports whether the cached series is missing or older than
// the refresh interval. force always refreshes.
func (c *Coordinator) NeedsRefresh(meta *domain.SeriesMeta, force bool) bool {
	if force || meta == nil || meta.LastUpdate == 0 {
		return true
	}
	age := c.now().UnixMilli() - meta.LastUpdate
	return age > c.refreshInterval.Milliseconds()
}

// Begin enters Refreshing for a token. Returns ErrRefreshInProgress when an
// unexpired lock exists. The lock carries a bounded TTL so an abandoned
// refresh frees itself.
func (c *Coordinator) Begin(ctx context.Context, tokenAddress string) error {
	ok, err := c.locks.TryAcquire(ctx, lockKey(tokenAddress), c.lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrRefreshInProgress
	}
	return nil
}

// End leaves Refreshing, releasing the lock. Called on success and failure.
func (c *Coordinator) End(ctx context.Context, tokenAddress string) {
	_ = c.locks.Release(ctx, lockKey(tokenAddress))
}

func lockKey(tokenAddress string) string {
	return strings.ToLower(tokenAddress)
}
