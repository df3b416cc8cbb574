// Package service composes the ingestion pipeline behind the series API:
// freshness check and lock, pool selection, paginated fetch, normalization,
// candle generation, tiered write, and the merged read that answers the
// request.
package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dexcharts/internal/candles"
	"dexcharts/internal/config"
	"dexcharts/internal/domain"
	"dexcharts/internal/gaps"
	"dexcharts/internal/observability"
	"dexcharts/internal/pools"
	"dexcharts/internal/refresh"
	"dexcharts/internal/storage"
	"dexcharts/internal/subgraph"
	"dexcharts/internal/tiered"
)

// Update statuses reported to callers.
const (
	StatusFresh      = "fresh"            // served from cache within the refresh interval
	StatusRefreshed  = "refreshed"        // this request performed the refresh
	StatusRefreshing = "stale-but-served" // another refresh in flight, stale cache served
	StatusStale      = "stale-upstream-error"
)

// DefaultHistoryDays bounds the first fetch for a token with no history.
const DefaultHistoryDays = 7

// Source is the slice of the indexing-service client the service needs.
type Source interface {
	FetchPools(ctx context.Context, tokenAddress string) ([]domain.Pool, error)
	FetchSwaps(ctx context.Context, poolID string, startSec, endSec int64, maxRecords, maxPageSkip int) (subgraph.FetchResult, error)
}

// Normalizer converts raw swaps into normalized records.
type Normalizer interface {
	Normalize(ctx context.Context, swaps []domain.SwapRecord, baseIsToken0 bool) []domain.NormalizedSwap
}

// Publisher receives freshly refreshed base candles.
type Publisher interface {
	Publish(tokenAddress string, candles []domain.Candle)
}

// SeriesOptions are the per-request knobs of GetSeries.
type SeriesOptions struct {
	Days      int
	Timeframe domain.Timeframe
	Force     bool
}

// SeriesResponse is the answer to GetSeries.
type SeriesResponse struct {
	Candles      []domain.Candle    `json:"candles"`
	Meta         *domain.SeriesMeta `json:"metadata,omitempty"`
	Cached       bool               `json:"cached"`
	UpdateStatus string             `json:"updateStatus"`
	Partial      bool               `json:"partial,omitempty"`
}

// HistoricalResult reports an AppendHistorical run.
type HistoricalResult struct {
	SwapsAdded int   `json:"swapsAdded"`
	RangeStart int64 `json:"rangeStart"`
	RangeEnd   int64 `json:"rangeEnd"`
}

// ChartService serves candle series for tokens, refreshing them from the
// indexing service under per-token mutual exclusion.
type ChartService struct {
	chain       config.ChainConfig
	source      Source
	selector    *pools.Selector
	normalizer  Normalizer
	store       *tiered.Store
	swapLog     storage.SwapStore
	candleLog   storage.CandleStore
	coordinator *refresh.Coordinator
	filler      *gaps.Filler
	publisher   Publisher
	metrics     *observability.Metrics
	logger      *logrus.Logger

	// now is replaceable in tests.
	now func() time.Time
}

// Options contains configuration for creating a ChartService.
type Options struct {
	Chain       config.ChainConfig
	Source      Source
	Selector    *pools.Selector
	Normalizer  Normalizer
	Store       *tiered.Store
	SwapLog     storage.SwapStore
	CandleLog   storage.CandleStore
	Coordinator *refresh.Coordinator
	Filler      *gaps.Filler
	Publisher   Publisher
	Metrics     *observability.Metrics
	Logger      *logrus.Logger
}

// New creates a ChartService.
func New(opts Options) *ChartService {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &ChartService{
		chain:       opts.Chain,
		source:      opts.Source,
		selector:    opts.Selector,
		normalizer:  opts.Normalizer,
		store:       opts.Store,
		swapLog:     opts.SwapLog,
		candleLog:   opts.CandleLog,
		coordinator: opts.Coordinator,
		filler:      opts.Filler,
		publisher:   opts.Publisher,
		metrics:     opts.Metrics,
		logger:      logger,
		now:         time.Now,
	}
}

// GetSeries returns the candle series for a token, refreshing it first when
// the cached series is stale. While another request refreshes the same
// token, a stale series is served as-is; with nothing cached the caller
// gets ErrRefreshInProgress and is expected to retry.
func (s *ChartService) GetSeries(ctx context.Context, tokenAddress string, opts SeriesOptions) (*SeriesResponse, error) {
	token := strings.ToLower(tokenAddress)
	if opts.Days <= 0 {
		opts.Days = DefaultHistoryDays
	}
	if opts.Timeframe == "" {
		opts.Timeframe = domain.BaseTimeframe
	}
	startMs := s.now().UnixMilli() - int64(opts.Days)*24*60*60*1000

	merged, meta, err := s.store.Read(ctx, token, startMs)
	if err != nil {
		return nil, err
	}
	s.countCacheLookup(meta)

	if !s.coordinator.NeedsRefresh(meta, opts.Force) {
		return s.buildResponse(merged, meta, opts.Timeframe, true, StatusFresh, false), nil
	}

	if err := s.coordinator.Begin(ctx, token); err != nil {
		if errors.Is(err, refresh.ErrRefreshInProgress) && meta != nil {
			if s.metrics != nil {
				s.metrics.RefreshesRejected.Inc()
			}
			return s.buildResponse(merged, meta, opts.Timeframe, true, StatusRefreshing, false), nil
		}
		return nil, err
	}

	partial, refreshErr := s.refreshToken(ctx, token, meta, opts.Days)
	s.coordinator.End(ctx, token)

	if refreshErr != nil {
		if meta != nil {
			// Stale cache is better than an error page.
			s.logger.WithField("token", token).Warnf("refresh failed, serving stale: %v", refreshErr)
			return s.buildResponse(merged, meta, opts.Timeframe, true, StatusStale, false), nil
		}
		return nil, refreshErr
	}

	merged, meta, err = s.store.Read(ctx, token, startMs)
	if err != nil {
		return nil, err
	}
	return s.buildResponse(merged, meta, opts.Timeframe, false, StatusRefreshed, partial), nil
}

// ClearCache drops the hot-tier series and any held lock for a token.
func (s *ChartService) ClearCache(ctx context.Context, tokenAddress string) error {
	token := strings.ToLower(tokenAddress)
	s.coordinator.End(ctx, token)
	return s.store.Clear(ctx, token)
}

// AppendHistorical walks backwards from the oldest known swap, fetching
// batchCount one-day windows and writing them straight to the durable tier.
// The hot tier is left alone; history lands behind it.
func (s *ChartService) AppendHistorical(ctx context.Context, tokenAddress string, batchCount int) (*HistoricalResult, error) {
	token := strings.ToLower(tokenAddress)
	if batchCount <= 0 {
		batchCount = 1
	}

	meta, err := s.seriesMeta(ctx, token)
	if err != nil {
		return nil, err
	}

	// Align the walk to base bucket boundaries so no window splits a bucket.
	// The bucket holding the oldest known swap already has a complete candle
	// and must not be regenerated from a partial fetch.
	endMs := s.oldestKnown(ctx, token, meta)
	endMs = (endMs / domain.BaseBucketMs) * domain.BaseBucketMs
	result := &HistoricalResult{RangeStart: endMs, RangeEnd: endMs}

	const dayMs = 24 * 60 * 60 * 1000
	for i := 0; i < batchCount; i++ {
		startMs := endMs - dayMs

		fetched, err := s.source.FetchSwaps(ctx, meta.PoolID, startMs/1000, endMs/1000-1, 0, s.chain.MaxPageSkip)
		if err != nil {
			if result.SwapsAdded > 0 {
				break // keep what we have
			}
			return nil, err
		}
		s.countFetch(fetched)

		normalized := s.normalizer.Normalize(ctx, fetched.Swaps, meta.BaseIsToken0)
		if len(normalized) > 0 {
			if err := s.swapLog.InsertBulk(ctx, *meta, ptrSwaps(normalized)); err != nil {
				s.logger.WithField("token", token).Warnf("historical swap log write failed: %v", err)
			}
			base := candles.GenerateBase(token, meta.PoolID, normalized)
			if err := s.candleLog.InsertBulk(ctx, ptrCandles(base)); err != nil {
				s.logger.WithField("token", token).Warnf("historical candle write failed: %v", err)
			}
			result.SwapsAdded += len(normalized)
			result.RangeStart = startMs
		}

		endMs = startMs
	}

	return result, nil
}

// DetectGaps reports missing intervals in the token's candle history.
func (s *ChartService) DetectGaps(ctx context.Context, tokenAddress string) ([]domain.Gap, error) {
	found, err := s.filler.Detect(ctx, strings.ToLower(tokenAddress))
	if err == nil && s.metrics != nil {
		s.metrics.GapsDetected.Add(float64(len(found)))
	}
	return found, err
}

// FixGaps repairs missing intervals and rebuilds the hot tier.
func (s *ChartService) FixGaps(ctx context.Context, tokenAddress string) (int, error) {
	filled, err := s.filler.Fix(ctx, strings.ToLower(tokenAddress))
	if err == nil && s.metrics != nil {
		s.metrics.GapsFilled.Add(float64(filled))
	}
	return filled, err
}

// refreshToken runs one full pipeline pass for a token: pool selection,
// incremental fetch, normalization, candle generation, tiered write.
func (s *ChartService) refreshToken(ctx context.Context, token string, prev *domain.SeriesMeta, days int) (bool, error) {
	start := s.now()

	candidates, err := s.source.FetchPools(ctx, token)
	if err != nil {
		s.countRefresh("error", start)
		return false, err
	}

	pool, baseIsToken0, err := s.selector.Select(token, candidates)
	if err != nil {
		s.countRefresh("no_pool", start)
		return false, err
	}

	quote, _ := pool.QuoteOf(token)
	base := pool.Token0
	if !baseIsToken0 {
		base = pool.Token1
	}

	meta := domain.SeriesMeta{
		TokenAddress: token,
		PoolID:       pool.ID,
		BaseIsToken0: baseIsToken0,
		BaseSymbol:   base.Symbol,
		QuoteSymbol:  quote.Symbol,
		QuoteAddress: quote.Address,
		FeeTier:      pool.FeeTier,
	}

	nowSec := s.now().Unix()
	startSec := nowSec - int64(days)*24*60*60
	if prev != nil && prev.LastDataTimestamp > 0 && prev.PoolID == pool.ID {
		// Incremental: refetch from one bucket before the newest known data
		// so a partially filled bucket gets replaced, not duplicated.
		startSec = (prev.LastDataTimestamp - domain.BaseBucketMs) / 1000
	}

	fetched, err := s.source.FetchSwaps(ctx, pool.ID, startSec, nowSec, 0, s.chain.MaxPageSkip)
	if err != nil {
		s.countRefresh("error", start)
		return false, err
	}
	s.countFetch(fetched)

	normalized := s.normalizer.Normalize(ctx, fetched.Swaps, baseIsToken0)

	if len(normalized) > 0 {
		if err := s.swapLog.InsertBulk(ctx, meta, ptrSwaps(normalized)); err != nil {
			// Hot-tier freshness is the primary contract; log and continue.
			s.logger.WithField("token", token).Warnf("swap log write failed: %v", err)
		}
	}

	generated := candles.GenerateBase(token, pool.ID, normalized)
	if err := s.store.Write(ctx, meta, generated); err != nil {
		s.countRefresh("error", start)
		return false, err
	}

	if s.publisher != nil && len(generated) > 0 {
		s.publisher.Publish(token, generated)
	}

	s.countRefresh("ok", start)
	return fetched.Partial, nil
}

// buildResponse aggregates merged base candles to the requested timeframe.
// Candles are returned newest first, matching the tiered read order.
func (s *ChartService) buildResponse(merged []domain.Candle, meta *domain.SeriesMeta, tf domain.Timeframe, cached bool, status string, partial bool) *SeriesResponse {
	out := merged
	if tf != domain.BaseTimeframe {
		out = candles.Aggregate(merged, tf)
		sort.Slice(out, func(i, j int) bool {
			return out[i].Timestamp > out[j].Timestamp
		})
	}
	return &SeriesResponse{
		Candles:      out,
		Meta:         meta,
		Cached:       cached,
		UpdateStatus: status,
		Partial:      partial,
	}
}

// seriesMeta loads the hot-tier metadata, running a refresh first when the
// token has never been seen.
func (s *ChartService) seriesMeta(ctx context.Context, token string) (*domain.SeriesMeta, error) {
	series, err := s.store.GetSeries(ctx, token)
	if err != nil {
		return nil, err
	}
	if series != nil {
		return &series.Meta, nil
	}

	if _, err := s.GetSeries(ctx, token, SeriesOptions{}); err != nil {
		return nil, err
	}
	series, err = s.store.GetSeries(ctx, token)
	if err != nil {
		return nil, err
	}
	if series == nil {
		return nil, pools.ErrNoPoolFound
	}
	return &series.Meta, nil
}

// oldestKnown returns the timestamp history extension should walk back from.
func (s *ChartService) oldestKnown(ctx context.Context, token string, meta *domain.SeriesMeta) int64 {
	if oldest, err := s.swapLog.OldestTimestamp(ctx, token); err == nil {
		if meta.RangeStart > 0 && meta.RangeStart < oldest {
			return meta.RangeStart
		}
		return oldest
	}
	if meta.RangeStart > 0 {
		return meta.RangeStart
	}
	return s.now().UnixMilli()
}

func (s *ChartService) countRefresh(outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.RefreshesTotal.WithLabelValues(outcome).Inc()
	s.metrics.RefreshDuration.Observe(time.Since(start).Seconds())
}

func (s *ChartService) countFetch(result subgraph.FetchResult) {
	if s.metrics == nil {
		return
	}
	s.metrics.PagesFetched.Add(float64(result.Pages))
	s.metrics.SwapsFetched.Add(float64(len(result.Swaps)))
	if result.Partial {
		s.metrics.PartialFetches.Inc()
	}
}

func (s *ChartService) countCacheLookup(meta *domain.SeriesMeta) {
	if s.metrics == nil {
		return
	}
	if meta != nil {
		s.metrics.CacheHits.Inc()
	} else {
		s.metrics.CacheMisses.Inc()
	}
}

func ptrSwaps(swaps []domain.NormalizedSwap) []*domain.NormalizedSwap {
	out := make([]*domain.NormalizedSwap, len(swaps))
	for i := range swaps {
		out[i] = &swaps[i]
	}
	return out
}

func ptrCandles(cs []domain.Candle) []*domain.Candle {
	out := make([]*domain.Candle, len(cs))
	for i := range cs {
		out[i] = &cs[i]
	}
	return out
}
