package clickhouse

import (
	"context"
	"fmt"
	"sort"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"dexcharts/internal/domain"
	"dexcharts/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// InsertBulk upserts candles. The ReplacingMergeTree key absorbs duplicates
// and its swap_count version keeps the row with the higher swap count, so a
// redelivered or thinner candle never displaces a full one after merges
// settle. Reads query with FINAL to dedup rows the engine has not collapsed
// yet.
func (s *CandleStore) InsertBulk(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	for _, c := range candles {
		if c == nil || c.TokenAddress == "" || !c.Timeframe.Valid() {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			token_address, pool_id, timeframe, timestamp_ms,
			open, high, low, close, volume, swap_count
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			c.TokenAddress, c.PoolID, string(c.Timeframe), uint64(c.Timestamp),
			c.Open, c.High, c.Low, c.Close, c.Volume, uint32(c.SwapCount),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves candles within [start, end], ordered by timestamp ASC.
func (s *CandleStore) GetByTimeRange(ctx context.Context, tokenAddress string, tf domain.Timeframe, start, end int64) ([]*domain.Candle, error) {
	query := `
		SELECT token_address, pool_id, timeframe, timestamp_ms,
		       open, high, low, close, volume, swap_count
		FROM candles FINAL
		WHERE token_address = ? AND timeframe = ? AND timestamp_ms >= ? AND timestamp_ms <= ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, tokenAddress, string(tf), uint64(start), uint64(end))
	if err != nil {
		return nil, fmt.Errorf("query candles by time range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
}

// GetRecent retrieves the newest limit candles, ordered by timestamp ASC.
func (s *CandleStore) GetRecent(ctx context.Context, tokenAddress string, tf domain.Timeframe, limit int) ([]*domain.Candle, error) {
	query := `
		SELECT token_address, pool_id, timeframe, timestamp_ms,
		       open, high, low, close, volume, swap_count
		FROM candles FINAL
		WHERE token_address = ? AND timeframe = ?
		ORDER BY timestamp_ms DESC
		LIMIT ?
	`

	rows, err := s.conn.Query(ctx, query, tokenAddress, string(tf), limit)
	if err != nil {
		return nil, fmt.Errorf("query recent candles: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}

	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Timestamp < candles[j].Timestamp
	})

	return candles, nil
}

// Timestamps returns all candle timestamps for a token at a timeframe, ordered ASC.
func (s *CandleStore) Timestamps(ctx context.Context, tokenAddress string, tf domain.Timeframe) ([]int64, error) {
	query := `
		SELECT timestamp_ms
		FROM candles FINAL
		WHERE token_address = ? AND timeframe = ?
		ORDER BY timestamp_ms ASC
	`

	rows, err := s.conn.Query(ctx, query, tokenAddress, string(tf))
	if err != nil {
		return nil, fmt.Errorf("query candle timestamps: %w", err)
	}
	defer rows.Close()

	var result []int64
	for rows.Next() {
		var ts uint64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("scan timestamp: %w", err)
		}
		result = append(result, int64(ts))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate timestamps: %w", err)
	}

	return result, nil
}

// scanCandles reads candle rows into domain structs.
func scanCandles(rows driver.Rows) ([]*domain.Candle, error) {
	var result []*domain.Candle
	for rows.Next() {
		var (
			c         domain.Candle
			tf        string
			ts        uint64
			swapCount uint32
		)
		err := rows.Scan(
			&c.TokenAddress, &c.PoolID, &tf, &ts,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &swapCount,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		c.Timeframe = domain.Timeframe(tf)
		c.Timestamp = int64(ts)
		c.SwapCount = int(swapCount)
		result = append(result, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}
	return result, nil
}
