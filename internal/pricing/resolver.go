package pricing

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrPriceUnavailable is returned when a resolver has no USD price for a
// token. Callers degrade to an unpriced swap; they never fail the batch.
var ErrPriceUnavailable = errors.New("usd price unavailable")

// Resolver resolves a token's USD price when the pool itself cannot supply
// one (non-stable quote side). Implementations wrap external price oracles.
type Resolver interface {
	ResolveUSDPrice(ctx context.Context, tokenAddress, symbol string, chainID int64) (float64, error)
}

// StaticResolver is a Resolver backed by a fixed symbol→price table. Used
// for well-known quote assets (wrapped native token) and in tests.
type StaticResolver struct {
	mu     sync.RWMutex
	prices map[string]float64 // keyed by uppercase symbol
}

// NewStaticResolver creates a resolver over a fixed price table.
func NewStaticResolver(prices map[string]float64) *StaticResolver {
	table := make(map[string]float64, len(prices))
	for sym, p := range prices {
		table[strings.ToUpper(sym)] = p
	}
	return &StaticResolver{prices: table}
}

// Compile-time interface check.
var _ Resolver = (*StaticResolver)(nil)

// ResolveUSDPrice returns the table price for symbol, or ErrPriceUnavailable.
func (r *StaticResolver) ResolveUSDPrice(_ context.Context, _, symbol string, _ int64) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.prices[strings.ToUpper(symbol)]
	if !ok || p <= 0 {
		return 0, ErrPriceUnavailable
	}
	return p, nil
}

// SetPrice updates the table entry for symbol.
func (r *StaticResolver) SetPrice(symbol string, price float64) {
	r.mu.Lock()
	r.prices[strings.ToUpper(symbol)] = price
	r.mu.Unlock()
}
