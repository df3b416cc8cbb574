// Package storage defines the durable-tier contracts. All writes are
// idempotent upserts keyed by record identity: delivering the same record
// twice is a no-op, never an error. That property is what lets concurrent
// refreshes and abandoned partial writes coexist without coordination.
package storage

import (
	"context"

	"dexcharts/internal/domain"
)

// CandleStore provides access to the durable candle history. Rows are keyed
// by (token_address, pool_id, timeframe, timestamp).
type CandleStore interface {
	// InsertBulk upserts candles. On key conflict the row with the higher
	// swap count wins, so a candle aggregated from more swaps is never
	// replaced by a thinner one; redelivering an identical candle is a
	// no-op. Every implementation must honor this resolution rule.
	InsertBulk(ctx context.Context, candles []*domain.Candle) error

	// GetByTimeRange retrieves candles for a token at a timeframe within
	// [start, end] (inclusive, ms), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, tokenAddress string, tf domain.Timeframe, start, end int64) ([]*domain.Candle, error)

	// GetRecent retrieves the newest limit candles for a token at a
	// timeframe, ordered by timestamp ASC.
	GetRecent(ctx context.Context, tokenAddress string, tf domain.Timeframe, limit int) ([]*domain.Candle, error)

	// Timestamps returns all candle timestamps for a token at a timeframe,
	// ordered ASC. Used by gap detection.
	Timestamps(ctx context.Context, tokenAddress string, tf domain.Timeframe) ([]int64, error)
}

// SwapStore provides access to the durable per-swap log. Rows are keyed by
// the source-assigned swap id and carry denormalized pool/token metadata so
// historical reads never depend on the indexing service remaining reachable.
type SwapStore interface {
	// InsertBulk upserts normalized swaps. Duplicate ids are ignored.
	InsertBulk(ctx context.Context, meta domain.SeriesMeta, swaps []*domain.NormalizedSwap) error

	// GetByTimeRange retrieves swaps for a token within [start, end]
	// (inclusive, ms), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, tokenAddress string, start, end int64) ([]*domain.NormalizedSwap, error)

	// OldestTimestamp returns the oldest stored swap timestamp for a token.
	// Returns ErrNotFound when no swaps exist.
	OldestTimestamp(ctx context.Context, tokenAddress string) (int64, error)

	// Count returns the number of stored swaps for a token.
	Count(ctx context.Context, tokenAddress string) (int64, error)
}
