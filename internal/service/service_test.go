package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexcharts/internal/config"
	"dexcharts/internal/domain"
	"dexcharts/internal/gaps"
	"dexcharts/internal/hotcache"
	"dexcharts/internal/pools"
	"dexcharts/internal/pricing"
	"dexcharts/internal/refresh"
	"dexcharts/internal/storage/memory"
	"dexcharts/internal/subgraph"
	"dexcharts/internal/tiered"
)

const (
	token    = "0xtoken"
	usdcAddr = "0xusdc"
)

// fakeSource serves a fixed pool list and a fixed swap set filtered to the
// requested window, counting outbound calls.
type fakeSource struct {
	mu        sync.Mutex
	pools     []domain.Pool
	swaps     []domain.SwapRecord
	poolErr   error
	swapErr   error
	partial   bool
	poolCalls int
	swapCalls int
	starts    []int64
	ends      []int64
}

func (f *fakeSource) FetchPools(_ context.Context, _ string) ([]domain.Pool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.poolCalls++
	if f.poolErr != nil {
		return nil, f.poolErr
	}
	return f.pools, nil
}

func (f *fakeSource) FetchSwaps(_ context.Context, _ string, startSec, endSec int64, _, _ int) (subgraph.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.swapCalls++
	f.starts = append(f.starts, startSec)
	f.ends = append(f.ends, endSec)
	if f.swapErr != nil {
		return subgraph.FetchResult{}, f.swapErr
	}
	var out []domain.SwapRecord
	for _, s := range f.swaps {
		if s.TimestampSec >= startSec && s.TimestampSec <= endSec {
			out = append(out, s)
		}
	}
	return subgraph.FetchResult{Swaps: out, Partial: f.partial, Pages: 1}, nil
}

func (f *fakeSource) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.poolCalls, f.swapCalls
}

type fakePublisher struct {
	mu      sync.Mutex
	updates int
}

func (p *fakePublisher) Publish(_ string, _ []domain.Candle) {
	p.mu.Lock()
	p.updates++
	p.mu.Unlock()
}

func testChain() config.ChainConfig {
	return config.ChainConfig{
		Name: "test",
		StableAssets: []config.StableAsset{
			{Address: usdcAddr, Symbol: "USDC", Priority: 0},
		},
		MaxPageSkip:     5000,
		HotCeiling:      100,
		RefreshInterval: time.Hour,
		LockTTL:         time.Minute,
	}
}

func usdcPool() domain.Pool {
	return domain.Pool{
		ID:      "pool-usdc",
		Token0:  domain.TokenRef{Address: token, Symbol: "TOK", Decimals: 18},
		Token1:  domain.TokenRef{Address: usdcAddr, Symbol: "USDC", Decimals: 6},
		TVLUSD:  1_000_000,
		FeeTier: 3000,
	}
}

func rawSwap(id string, sec int64) domain.SwapRecord {
	return domain.SwapRecord{
		ID:           id,
		PoolID:       "pool-usdc",
		TimestampSec: sec,
		Token0:       domain.TokenRef{Address: token, Symbol: "TOK"},
		Token1:       domain.TokenRef{Address: usdcAddr, Symbol: "USDC"},
		Amount0:      -100,
		Amount1:      200,
		AmountUSD:    199.5,
	}
}

type fixture struct {
	svc         *ChartService
	source      *fakeSource
	store       *tiered.Store
	swapLog     *memory.SwapStore
	candleLog   *memory.CandleStore
	coordinator *refresh.Coordinator
	publisher   *fakePublisher
}

func newFixture(t *testing.T, source *fakeSource) fixture {
	t.Helper()
	chain := testChain()

	candleLog := memory.NewCandleStore()
	swapLog := memory.NewSwapStore()
	store := tiered.New(tiered.Options{
		Cache:    hotcache.NewMemory(),
		Durable:  candleLog,
		Ceiling:  chain.HotCeiling,
		CacheTTL: time.Hour,
	})

	normalizer := pricing.NewNormalizer(chain, nil, nil)
	coordinator := refresh.NewCoordinator(refresh.NewMemoryLocks(), chain.RefreshInterval, chain.LockTTL)

	filler := gaps.NewFiller(gaps.Options{
		Source:     source,
		Normalizer: normalizer,
		Store:      store,
		CandleLog:  candleLog,
		SwapLog:    swapLog,
		RebuildN:   chain.HotCeiling,
	})

	publisher := &fakePublisher{}
	svc := New(Options{
		Chain:       chain,
		Source:      source,
		Selector:    pools.NewSelector(chain),
		Normalizer:  normalizer,
		Store:       store,
		SwapLog:     swapLog,
		CandleLog:   candleLog,
		Coordinator: coordinator,
		Filler:      filler,
		Publisher:   publisher,
	})

	return fixture{
		svc:         svc,
		source:      source,
		store:       store,
		swapLog:     swapLog,
		candleLog:   candleLog,
		coordinator: coordinator,
		publisher:   publisher,
	}
}

func TestGetSeries_RefreshThenCacheHit(t *testing.T) {
	now := time.Now().Unix()
	source := &fakeSource{
		pools: []domain.Pool{usdcPool()},
		swaps: []domain.SwapRecord{
			rawSwap("s1", now-600),
			rawSwap("s2", now-300),
		},
	}
	fx := newFixture(t, source)
	ctx := context.Background()

	resp, err := fx.svc.GetSeries(ctx, token, SeriesOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusRefreshed, resp.UpdateStatus)
	assert.False(t, resp.Cached)
	assert.NotEmpty(t, resp.Candles)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, "pool-usdc", resp.Meta.PoolID)
	assert.Equal(t, "USDC", resp.Meta.QuoteSymbol)
	assert.True(t, resp.Meta.BaseIsToken0)
	assert.Equal(t, 1, fx.publisher.updates)

	// A fresh series answers from cache with no outbound traffic.
	poolsBefore, swapsBefore := source.calls()
	resp, err = fx.svc.GetSeries(ctx, token, SeriesOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusFresh, resp.UpdateStatus)
	assert.True(t, resp.Cached)

	poolsAfter, swapsAfter := source.calls()
	assert.Equal(t, poolsBefore, poolsAfter)
	assert.Equal(t, swapsBefore, swapsAfter)
}

func TestGetSeries_ForceRefreshes(t *testing.T) {
	now := time.Now().Unix()
	source := &fakeSource{
		pools: []domain.Pool{usdcPool()},
		swaps: []domain.SwapRecord{rawSwap("s1", now-300)},
	}
	fx := newFixture(t, source)
	ctx := context.Background()

	_, err := fx.svc.GetSeries(ctx, token, SeriesOptions{})
	require.NoError(t, err)

	resp, err := fx.svc.GetSeries(ctx, token, SeriesOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, StatusRefreshed, resp.UpdateStatus)

	poolCalls, _ := source.calls()
	assert.Equal(t, 2, poolCalls)
}

func TestGetSeries_IncrementalWindow(t *testing.T) {
	now := time.Now().Unix()
	source := &fakeSource{
		pools: []domain.Pool{usdcPool()},
		swaps: []domain.SwapRecord{rawSwap("s1", now-600)},
	}
	fx := newFixture(t, source)
	ctx := context.Background()

	resp, err := fx.svc.GetSeries(ctx, token, SeriesOptions{})
	require.NoError(t, err)
	lastData := resp.Meta.LastDataTimestamp
	require.NotZero(t, lastData)

	_, err = fx.svc.GetSeries(ctx, token, SeriesOptions{Force: true})
	require.NoError(t, err)

	// The second fetch starts one bucket before the newest known data, so a
	// partially filled bucket is replaced rather than duplicated.
	require.Len(t, source.starts, 2)
	assert.Equal(t, (lastData-domain.BaseBucketMs)/1000, source.starts[1])
}

func TestGetSeries_NoPool(t *testing.T) {
	fx := newFixture(t, &fakeSource{})

	_, err := fx.svc.GetSeries(context.Background(), token, SeriesOptions{})
	assert.ErrorIs(t, err, pools.ErrNoPoolFound)
}

func TestGetSeries_UpstreamErrorWithoutCache(t *testing.T) {
	fx := newFixture(t, &fakeSource{poolErr: subgraph.ErrUpstreamUnavailable})

	_, err := fx.svc.GetSeries(context.Background(), token, SeriesOptions{})
	assert.ErrorIs(t, err, subgraph.ErrUpstreamUnavailable)
}

func TestGetSeries_StaleServedOnUpstreamError(t *testing.T) {
	now := time.Now().Unix()
	source := &fakeSource{
		pools: []domain.Pool{usdcPool()},
		swaps: []domain.SwapRecord{rawSwap("s1", now-300)},
	}
	fx := newFixture(t, source)
	ctx := context.Background()

	_, err := fx.svc.GetSeries(ctx, token, SeriesOptions{})
	require.NoError(t, err)

	source.mu.Lock()
	source.poolErr = errors.New("indexer down")
	source.mu.Unlock()

	resp, err := fx.svc.GetSeries(ctx, token, SeriesOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, StatusStale, resp.UpdateStatus)
	assert.True(t, resp.Cached)
	assert.NotEmpty(t, resp.Candles)
}

func TestGetSeries_LockHeld(t *testing.T) {
	now := time.Now().Unix()
	source := &fakeSource{
		pools: []domain.Pool{usdcPool()},
		swaps: []domain.SwapRecord{rawSwap("s1", now-300)},
	}
	fx := newFixture(t, source)
	ctx := context.Background()

	// With nothing cached the caller has to retry.
	require.NoError(t, fx.coordinator.Begin(ctx, token))
	_, err := fx.svc.GetSeries(ctx, token, SeriesOptions{})
	assert.ErrorIs(t, err, refresh.ErrRefreshInProgress)
	fx.coordinator.End(ctx, token)

	// With a cached series the stale data is served as-is.
	_, err = fx.svc.GetSeries(ctx, token, SeriesOptions{})
	require.NoError(t, err)

	require.NoError(t, fx.coordinator.Begin(ctx, token))
	resp, err := fx.svc.GetSeries(ctx, token, SeriesOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, StatusRefreshing, resp.UpdateStatus)
	assert.True(t, resp.Cached)
}

func TestGetSeries_TimeframeAggregation(t *testing.T) {
	now := time.Now().Unix()
	hourStart := (now/3600)*3600 - 3600
	source := &fakeSource{
		pools: []domain.Pool{usdcPool()},
		swaps: []domain.SwapRecord{
			rawSwap("s1", hourStart),
			rawSwap("s2", hourStart+600),
		},
	}
	fx := newFixture(t, source)

	resp, err := fx.svc.GetSeries(context.Background(), token, SeriesOptions{Timeframe: domain.Timeframe1h})
	require.NoError(t, err)

	require.Len(t, resp.Candles, 1)
	assert.Equal(t, domain.Timeframe1h, resp.Candles[0].Timeframe)
	assert.Equal(t, 2, resp.Candles[0].SwapCount)
}

func TestGetSeries_PartialFlag(t *testing.T) {
	now := time.Now().Unix()
	source := &fakeSource{
		pools:   []domain.Pool{usdcPool()},
		swaps:   []domain.SwapRecord{rawSwap("s1", now-300)},
		partial: true,
	}
	fx := newFixture(t, source)

	resp, err := fx.svc.GetSeries(context.Background(), token, SeriesOptions{})
	require.NoError(t, err)
	assert.True(t, resp.Partial)
}

func TestClearCache(t *testing.T) {
	now := time.Now().Unix()
	source := &fakeSource{
		pools: []domain.Pool{usdcPool()},
		swaps: []domain.SwapRecord{rawSwap("s1", now-300)},
	}
	fx := newFixture(t, source)
	ctx := context.Background()

	_, err := fx.svc.GetSeries(ctx, token, SeriesOptions{})
	require.NoError(t, err)

	require.NoError(t, fx.svc.ClearCache(ctx, token))

	series, err := fx.store.GetSeries(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, series)
}

func TestAppendHistorical(t *testing.T) {
	// Bucket-aligned so the backfill window boundary is deterministic.
	now := (time.Now().Unix() / 300) * 300
	source := &fakeSource{
		pools: []domain.Pool{usdcPool()},
		swaps: []domain.SwapRecord{rawSwap("recent", now-300)},
	}
	fx := newFixture(t, source)
	ctx := context.Background()

	// Bootstrap the series so metadata exists, then walk history back.
	_, err := fx.svc.GetSeries(ctx, token, SeriesOptions{})
	require.NoError(t, err)

	source.mu.Lock()
	source.swaps = append(source.swaps, rawSwap("older", now-7200))
	source.mu.Unlock()

	result, err := fx.svc.AppendHistorical(ctx, token, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, result.SwapsAdded)
	assert.Less(t, result.RangeStart, result.RangeEnd)

	// The window ends one second before the oldest known bucket, so the
	// bucket that already has a complete candle is never refetched from a
	// partial range. The first recorded fetch belongs to the bootstrap
	// refresh; the second is the historical walk.
	source.mu.Lock()
	windowEnd := source.ends[1]
	source.mu.Unlock()
	assert.Equal(t, now-300-1, windowEnd)

	// History lands in the durable tier behind the hot series; the boundary
	// bucket stays out of it.
	timestamps, err := fx.candleLog.Timestamps(ctx, token, domain.BaseTimeframe)
	require.NoError(t, err)
	olderBucket := (now - 7200) * 1000
	recentBucket := (now - 300) * 1000
	assert.Contains(t, timestamps, olderBucket)
	assert.NotContains(t, timestamps, recentBucket)
}
