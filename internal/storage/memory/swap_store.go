package memory

import (
	"context"
	"sort"
	"sync"

	"dexcharts/internal/domain"
	"dexcharts/internal/storage"
)

// swapRow couples a normalized swap with the token it belongs to, matching
// the denormalized durable row shape.
type swapRow struct {
	token string
	swap  domain.NormalizedSwap
}

// SwapStore is an in-memory implementation of storage.SwapStore.
type SwapStore struct {
	mu   sync.RWMutex
	data map[string]*swapRow // keyed by swap id
}

// NewSwapStore creates a new in-memory swap store.
func NewSwapStore() *SwapStore {
	return &SwapStore{
		data: make(map[string]*swapRow),
	}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

// InsertBulk upserts normalized swaps. Duplicate ids are ignored.
func (s *SwapStore) InsertBulk(_ context.Context, meta domain.SeriesMeta, swaps []*domain.NormalizedSwap) error {
	if len(swaps) == 0 {
		return nil
	}
	if meta.TokenAddress == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sw := range swaps {
		if sw == nil || sw.ID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[sw.ID]; exists {
			continue
		}
		s.data[sw.ID] = &swapRow{token: meta.TokenAddress, swap: *sw}
	}

	return nil
}

// GetByTimeRange retrieves swaps for a token within [start, end], ordered by timestamp ASC.
func (s *SwapStore) GetByTimeRange(_ context.Context, tokenAddress string, start, end int64) ([]*domain.NormalizedSwap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.NormalizedSwap
	for _, row := range s.data {
		if row.token == tokenAddress && row.swap.TimestampMs >= start && row.swap.TimestampMs <= end {
			swapCopy := row.swap
			result = append(result, &swapCopy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].TimestampMs != result[j].TimestampMs {
			return result[i].TimestampMs < result[j].TimestampMs
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// OldestTimestamp returns the oldest stored swap timestamp for a token.
func (s *SwapStore) OldestTimestamp(_ context.Context, tokenAddress string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest int64
	found := false
	for _, row := range s.data {
		if row.token != tokenAddress {
			continue
		}
		if !found || row.swap.TimestampMs < oldest {
			oldest = row.swap.TimestampMs
			found = true
		}
	}

	if !found {
		return 0, storage.ErrNotFound
	}
	return oldest, nil
}

// Count returns the number of stored swaps for a token.
func (s *SwapStore) Count(_ context.Context, tokenAddress string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, row := range s.data {
		if row.token == tokenAddress {
			n++
		}
	}
	return n, nil
}
