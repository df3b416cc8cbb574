package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool and verifies connectivity.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// Migrate creates the swap log schema if it does not exist.
func (p *Pool) Migrate(ctx context.Context) error {
	_, err := p.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS swaps (
			id               TEXT PRIMARY KEY,
			token_address    TEXT NOT NULL,
			pool_id          TEXT NOT NULL,
			timestamp_ms     BIGINT NOT NULL,
			price_usd        DOUBLE PRECISION NOT NULL,
			volume_usd       DOUBLE PRECISION NOT NULL,
			total_volume_usd DOUBLE PRECISION NOT NULL,
			priced           BOOLEAN NOT NULL,
			base_symbol      TEXT NOT NULL,
			quote_symbol     TEXT NOT NULL,
			quote_address    TEXT NOT NULL,
			fee_tier         INTEGER NOT NULL,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS swaps_token_ts_idx ON swaps (token_address, timestamp_ms);
	`)
	if err != nil {
		return fmt.Errorf("migrate swaps: %w", err)
	}
	return nil
}
