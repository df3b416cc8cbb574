package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"dexcharts/internal/domain"
	"dexcharts/internal/storage"
)

// SwapStore implements storage.SwapStore using PostgreSQL. Rows carry the
// denormalized pool/token metadata of the series they were ingested under,
// so historical reads never depend on the indexing service.
type SwapStore struct {
	pool *Pool
}

// NewSwapStore creates a new SwapStore.
func NewSwapStore(pool *Pool) *SwapStore {
	return &SwapStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SwapStore = (*SwapStore)(nil)

// InsertBulk upserts normalized swaps. Duplicate ids are ignored via
// ON CONFLICT DO NOTHING, so redelivery of the same swap is a no-op.
func (s *SwapStore) InsertBulk(ctx context.Context, meta domain.SeriesMeta, swaps []*domain.NormalizedSwap) error {
	if len(swaps) == 0 {
		return nil
	}
	if meta.TokenAddress == "" {
		return storage.ErrInvalidInput
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO swaps (
			id, token_address, pool_id, timestamp_ms, price_usd, volume_usd,
			total_volume_usd, priced, base_symbol, quote_symbol, quote_address, fee_tier
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`

	for _, sw := range swaps {
		if sw == nil || sw.ID == "" {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, query,
			sw.ID,
			meta.TokenAddress,
			meta.PoolID,
			sw.TimestampMs,
			sw.PriceUSD,
			sw.VolumeUSD,
			sw.TotalVolumeUSD,
			sw.Priced,
			meta.BaseSymbol,
			meta.QuoteSymbol,
			meta.QuoteAddress,
			meta.FeeTier,
		)
		if err != nil {
			return fmt.Errorf("insert swap: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves swaps for a token within [start, end], ordered by timestamp ASC.
func (s *SwapStore) GetByTimeRange(ctx context.Context, tokenAddress string, start, end int64) ([]*domain.NormalizedSwap, error) {
	query := `
		SELECT id, timestamp_ms, price_usd, volume_usd, total_volume_usd, priced
		FROM swaps
		WHERE token_address = $1 AND timestamp_ms >= $2 AND timestamp_ms <= $3
		ORDER BY timestamp_ms ASC, id ASC
	`

	rows, err := s.pool.Query(ctx, query, tokenAddress, start, end)
	if err != nil {
		return nil, fmt.Errorf("get swaps by time range: %w", err)
	}
	defer rows.Close()

	var result []*domain.NormalizedSwap
	for rows.Next() {
		var sw domain.NormalizedSwap
		if err := rows.Scan(&sw.ID, &sw.TimestampMs, &sw.PriceUSD, &sw.VolumeUSD, &sw.TotalVolumeUSD, &sw.Priced); err != nil {
			return nil, fmt.Errorf("scan swap: %w", err)
		}
		result = append(result, &sw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate swaps: %w", err)
	}

	return result, nil
}

// OldestTimestamp returns the oldest stored swap timestamp for a token.
func (s *SwapStore) OldestTimestamp(ctx context.Context, tokenAddress string) (int64, error) {
	query := `SELECT min(timestamp_ms) FROM swaps WHERE token_address = $1`

	var oldest *int64
	err := s.pool.QueryRow(ctx, query, tokenAddress).Scan(&oldest)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && oldest == nil) {
		return 0, storage.ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("get oldest swap timestamp: %w", err)
	}
	return *oldest, nil
}

// Count returns the number of stored swaps for a token.
func (s *SwapStore) Count(ctx context.Context, tokenAddress string) (int64, error) {
	query := `SELECT count(*) FROM swaps WHERE token_address = $1`

	var n int64
	if err := s.pool.QueryRow(ctx, query, tokenAddress).Scan(&n); err != nil {
		return 0, fmt.Errorf("count swaps: %w", err)
	}
	return n, nil
}
