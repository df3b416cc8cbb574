// Package tiered fronts the durable candle history with the hot cache.
// Reads merge both tiers (hot wins for recent data); writes merge into the
// hot tier and migrate the oldest overflow into the durable tier. All
// merges are keyed by bucket timestamp, never by position, so repeated
// delivery of the same candle is a no-op.
package tiered

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dexcharts/internal/domain"
	"dexcharts/internal/hotcache"
	"dexcharts/internal/observability"
	"dexcharts/internal/storage"
)

// SeriesKeyPrefix namespaces hot-tier series blobs.
const SeriesKeyPrefix = "series:"

// Store is the tiered candle store for one chain's pipeline.
type Store struct {
	cache    hotcache.Cache
	durable  storage.CandleStore
	ceiling  int
	cacheTTL time.Duration
	metrics  *observability.Metrics
	logger   *logrus.Logger
}

// Options contains configuration for creating a Store.
type Options struct {
	Cache    hotcache.Cache
	Durable  storage.CandleStore
	Ceiling  int
	CacheTTL time.Duration
	Metrics  *observability.Metrics
	Logger   *logrus.Logger
}

// New creates a tiered store.
func New(opts Options) *Store {
	ceiling := opts.Ceiling
	if ceiling <= 0 {
		ceiling = 2000
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{
		cache:    opts.Cache,
		durable:  opts.Durable,
		ceiling:  ceiling,
		cacheTTL: opts.CacheTTL,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

func seriesKey(tokenAddress string) string {
	return SeriesKeyPrefix + strings.ToLower(tokenAddress)
}

// GetSeries loads the hot-tier series for a token. Returns (nil, nil) on a
// cache miss.
func (s *Store) GetSeries(ctx context.Context, tokenAddress string) (*domain.CachedSeries, error) {
	raw, err := s.cache.Get(ctx, seriesKey(tokenAddress))
	if errors.Is(err, hotcache.ErrMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get series: %w", err)
	}

	var series domain.CachedSeries
	if err := json.Unmarshal(raw, &series); err != nil {
		return nil, fmt.Errorf("decode series: %w", err)
	}
	return &series, nil
}

// Read returns the merged hot+durable candles for a token with
// timestamp >= startMs, sorted descending, plus the series metadata when
// the hot tier has any. The hot tier is authoritative on conflicts.
func (s *Store) Read(ctx context.Context, tokenAddress string, startMs int64) ([]domain.Candle, *domain.SeriesMeta, error) {
	series, err := s.GetSeries(ctx, tokenAddress)
	if err != nil {
		return nil, nil, err
	}

	var hot []domain.Candle
	var meta *domain.SeriesMeta
	if series != nil {
		meta = &series.Meta
		for _, c := range series.Candles {
			if c.Timestamp >= startMs {
				hot = append(hot, c)
			}
		}
	}

	cold, err := s.durable.GetByTimeRange(ctx, tokenAddress, domain.BaseTimeframe, startMs, 1<<62)
	if err != nil {
		return nil, nil, fmt.Errorf("read durable tier: %w", err)
	}

	coldVals := make([]domain.Candle, len(cold))
	for i, c := range cold {
		coldVals[i] = *c
	}

	merged := Merge(coldVals, hot)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp > merged[j].Timestamp
	})

	return merged, meta, nil
}

// Write merges newCandles into the hot tier (new value wins per bucket),
// migrates overflow beyond the ceiling to the durable tier, and refreshes
// the series metadata. A durable-tier failure never rolls back the hot
// update; hot-tier freshness is the primary contract.
func (s *Store) Write(ctx context.Context, meta domain.SeriesMeta, newCandles []domain.Candle) error {
	token := meta.TokenAddress
	existing, err := s.GetSeries(ctx, token)
	if err != nil {
		s.logger.WithField("token", token).Warnf("hot tier read failed, rebuilding blob: %v", err)
	}

	var current []domain.Candle
	if existing != nil {
		current = existing.Candles
	}

	merged := Merge(current, newCandles)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})

	if excess := len(merged) - s.ceiling; excess > 0 {
		s.migrate(ctx, token, merged[:excess])
		merged = merged[excess:]
	}

	meta.LastUpdate = time.Now().UnixMilli()
	if len(merged) > 0 {
		meta.RangeStart = merged[0].Timestamp
		meta.RangeEnd = merged[len(merged)-1].Timestamp
		meta.LastDataTimestamp = merged[len(merged)-1].Timestamp
	}

	return s.putSeries(ctx, domain.CachedSeries{Meta: meta, Candles: merged})
}

// RebuildFromDurable replaces the hot-tier candles with the durable tier's
// most recent limit buckets, keeping the supplied metadata.
func (s *Store) RebuildFromDurable(ctx context.Context, meta domain.SeriesMeta, limit int) error {
	recent, err := s.durable.GetRecent(ctx, meta.TokenAddress, domain.BaseTimeframe, limit)
	if err != nil {
		return fmt.Errorf("read recent durable candles: %w", err)
	}

	candles := make([]domain.Candle, len(recent))
	for i, c := range recent {
		candles[i] = *c
	}

	meta.LastUpdate = time.Now().UnixMilli()
	if len(candles) > 0 {
		meta.RangeStart = candles[0].Timestamp
		meta.RangeEnd = candles[len(candles)-1].Timestamp
		meta.LastDataTimestamp = candles[len(candles)-1].Timestamp
	}

	return s.putSeries(ctx, domain.CachedSeries{Meta: meta, Candles: candles})
}

// Clear drops the hot-tier series for a token. The durable tier is untouched.
func (s *Store) Clear(ctx context.Context, tokenAddress string) error {
	return s.cache.Delete(ctx, seriesKey(tokenAddress))
}

// ActiveTokens lists tokens with a live hot-tier series.
func (s *Store) ActiveTokens(ctx context.Context) ([]string, error) {
	keys, err := s.cache.Keys(ctx, SeriesKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("scan series keys: %w", err)
	}
	tokens := make([]string, 0, len(keys))
	for _, k := range keys {
		tokens = append(tokens, strings.TrimPrefix(k, SeriesKeyPrefix))
	}
	return tokens, nil
}

// Trim migrates a token's candles beyond the retention ceiling to the
// durable tier. Used by the periodic sweep; a no-op below the ceiling.
func (s *Store) Trim(ctx context.Context, tokenAddress string) (int, error) {
	series, err := s.GetSeries(ctx, tokenAddress)
	if err != nil {
		return 0, err
	}
	if series == nil || len(series.Candles) <= s.ceiling {
		return 0, nil
	}

	sort.Slice(series.Candles, func(i, j int) bool {
		return series.Candles[i].Timestamp < series.Candles[j].Timestamp
	})

	excess := len(series.Candles) - s.ceiling
	s.migrate(ctx, tokenAddress, series.Candles[:excess])
	series.Candles = series.Candles[excess:]
	if len(series.Candles) > 0 {
		series.Meta.RangeStart = series.Candles[0].Timestamp
	}

	if err := s.putSeries(ctx, *series); err != nil {
		return 0, err
	}
	return excess, nil
}

// migrate writes candles to the durable tier: one bulk insert, then a
// single per-item retry pass if the bulk write failed. Failures are logged;
// the hot-tier update proceeds regardless.
func (s *Store) migrate(ctx context.Context, tokenAddress string, candles []domain.Candle) {
	if len(candles) == 0 {
		return
	}

	rows := make([]*domain.Candle, len(candles))
	for i := range candles {
		rows[i] = &candles[i]
	}

	err := s.durable.InsertBulk(ctx, rows)
	if err == nil {
		s.countMigrated(len(rows))
		return
	}
	s.logger.WithFields(logrus.Fields{
		"token": tokenAddress,
		"count": len(rows),
	}).Warnf("bulk migrate failed, retrying per item: %v", err)

	failed := 0
	for _, row := range rows {
		if err := s.durable.InsertBulk(ctx, []*domain.Candle{row}); err != nil {
			failed++
		}
	}
	s.countMigrated(len(rows) - failed)
	if failed > 0 {
		s.logger.WithFields(logrus.Fields{
			"token":  tokenAddress,
			"failed": failed,
		}).Error("durable migration lost candles; gap detection will recover them")
	}
}

func (s *Store) countMigrated(n int) {
	if s.metrics != nil && n > 0 {
		s.metrics.CandlesMigrated.Add(float64(n))
	}
}

func (s *Store) putSeries(ctx context.Context, series domain.CachedSeries) error {
	raw, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("encode series: %w", err)
	}
	if err := s.cache.Set(ctx, seriesKey(series.Meta.TokenAddress), raw, s.cacheTTL); err != nil {
		return fmt.Errorf("put series: %w", err)
	}
	return nil
}

// Merge combines two candle sets keyed by bucket timestamp; values from b
// win on conflict. The operation is commutative in keys and idempotent.
func Merge(a, b []domain.Candle) []domain.Candle {
	byBucket := make(map[int64]domain.Candle, len(a)+len(b))
	for _, c := range a {
		byBucket[c.Timestamp] = c
	}
	for _, c := range b {
		byBucket[c.Timestamp] = c
	}

	out := make([]domain.Candle, 0, len(byBucket))
	for _, c := range byBucket {
		out = append(out, c)
	}
	return out
}
