// Package pools picks the trading pool to track for a token.
package pools

import (
	"errors"
	"sort"

	"dexcharts/internal/config"
	"dexcharts/internal/domain"
)

// ErrNoPoolFound is returned when a token has no candidate pools.
var ErrNoPoolFound = errors.New("no pool found for token")

// Selector ranks candidate pools. Pools quoted in a configured stable asset
// are preferred (by asset priority, then TVL); otherwise the deepest pool
// wins. Selection is deterministic for identical inputs.
type Selector struct {
	chain config.ChainConfig
}

// NewSelector creates a pool selector for a chain.
func NewSelector(chain config.ChainConfig) *Selector {
	return &Selector{chain: chain}
}

// Select returns the pool to track for tokenAddress and the baseIsToken0
// orientation flag. Returns ErrNoPoolFound for an empty candidate set.
func (s *Selector) Select(tokenAddress string, candidates []domain.Pool) (domain.Pool, bool, error) {
	if len(candidates) == 0 {
		return domain.Pool{}, false, ErrNoPoolFound
	}

	type ranked struct {
		pool     domain.Pool
		isToken0 bool
		priority int // stable-asset priority, -1 for non-stable quotes
	}

	all := make([]ranked, 0, len(candidates))
	for _, p := range candidates {
		quote, isToken0 := p.QuoteOf(tokenAddress)
		prio := -1
		if pr, ok := s.chain.IsStable(quote.Address); ok {
			prio = pr
		}
		all = append(all, ranked{pool: p, isToken0: isToken0, priority: prio})
	}

	// Stable partition first: lowest priority value, then deepest pool,
	// pool id as the final tiebreaker to stay deterministic.
	sort.SliceStable(all, func(i, j int) bool {
		si, sj := all[i].priority >= 0, all[j].priority >= 0
		if si != sj {
			return si
		}
		if si && all[i].priority != all[j].priority {
			return all[i].priority < all[j].priority
		}
		if all[i].pool.TVLUSD != all[j].pool.TVLUSD {
			return all[i].pool.TVLUSD > all[j].pool.TVLUSD
		}
		return all[i].pool.ID < all[j].pool.ID
	})

	best := all[0]
	return best.pool, best.isToken0, nil
}
