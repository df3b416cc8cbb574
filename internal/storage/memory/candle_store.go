package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"dexcharts/internal/domain"
	"dexcharts/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Candle // keyed by (token, pool, timeframe, timestamp)
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]*domain.Candle),
	}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// candleKey generates a unique key for a candle.
func candleKey(token, pool string, tf domain.Timeframe, timestampMs int64) string {
	return fmt.Sprintf("%s|%s|%s|%d", token, pool, tf, timestampMs)
}

// InsertBulk upserts candles. On key conflict the row with the higher swap
// count wins, matching the ReplacingMergeTree version semantics of the
// ClickHouse store.
func (s *CandleStore) InsertBulk(_ context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		if c == nil || c.TokenAddress == "" || !c.Timeframe.Valid() {
			return storage.ErrInvalidInput
		}
		key := candleKey(c.TokenAddress, c.PoolID, c.Timeframe, c.Timestamp)
		if existing, exists := s.data[key]; exists && existing.SwapCount >= c.SwapCount {
			continue
		}
		candleCopy := *c
		s.data[key] = &candleCopy
	}

	return nil
}

// GetByTimeRange retrieves candles within [start, end], ordered by timestamp ASC.
func (s *CandleStore) GetByTimeRange(_ context.Context, tokenAddress string, tf domain.Timeframe, start, end int64) ([]*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Candle
	for _, c := range s.data {
		if c.TokenAddress == tokenAddress && c.Timeframe == tf && c.Timestamp >= start && c.Timestamp <= end {
			candleCopy := *c
			result = append(result, &candleCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp < result[j].Timestamp
	})

	return result, nil
}

// GetRecent retrieves the newest limit candles, ordered by timestamp ASC.
func (s *CandleStore) GetRecent(ctx context.Context, tokenAddress string, tf domain.Timeframe, limit int) ([]*domain.Candle, error) {
	all, err := s.GetByTimeRange(ctx, tokenAddress, tf, 0, 1<<62)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	return all, nil
}

// Timestamps returns all candle timestamps for a token at a timeframe, ordered ASC.
func (s *CandleStore) Timestamps(_ context.Context, tokenAddress string, tf domain.Timeframe) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []int64
	for _, c := range s.data {
		if c.TokenAddress == tokenAddress && c.Timeframe == tf {
			result = append(result, c.Timestamp)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })

	return result, nil
}
