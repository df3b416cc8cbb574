package tiered

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Sweeper periodically migrates hot-tier overflow to the durable tier,
// independent of request-path writes. One sweep scans every active series.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *logrus.Logger
}

// NewSweeper creates a sweeper over the given store.
func NewSweeper(store *Store, interval time.Duration, logger *logrus.Logger) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

// SweepOnce scans all active tokens and trims each to the retention
// ceiling. Per-token failures are logged and do not stop the sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) {
	start := time.Now()
	defer func() {
		if s.store.metrics != nil {
			s.store.metrics.SweepDuration.Observe(time.Since(start).Seconds())
		}
	}()

	tokens, err := s.store.ActiveTokens(ctx)
	if err != nil {
		s.logger.Warnf("sweep: listing active tokens failed: %v", err)
		return
	}

	migrated := 0
	for _, token := range tokens {
		n, err := s.store.Trim(ctx, token)
		if err != nil {
			s.logger.WithField("token", token).Warnf("sweep: trim failed: %v", err)
			continue
		}
		migrated += n
	}

	if migrated > 0 {
		s.logger.WithFields(logrus.Fields{
			"tokens":   len(tokens),
			"migrated": migrated,
		}).Info("hot tier sweep complete")
	}
}
