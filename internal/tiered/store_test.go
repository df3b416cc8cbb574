package tiered

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexcharts/internal/domain"
	"dexcharts/internal/hotcache"
	"dexcharts/internal/storage/memory"
)

const token = "0xtoken"

func newTestStore(ceiling int) (*Store, *memory.CandleStore) {
	durable := memory.NewCandleStore()
	s := New(Options{
		Cache:    hotcache.NewMemory(),
		Durable:  durable,
		Ceiling:  ceiling,
		CacheTTL: time.Hour,
	})
	return s, durable
}

func baseCandle(ms int64, close float64) domain.Candle {
	return domain.Candle{
		TokenAddress: token,
		PoolID:       "pool",
		Timeframe:    domain.BaseTimeframe,
		Timestamp:    ms,
		Open:         close,
		High:         close,
		Low:          close,
		Close:        close,
		Volume:       1,
		SwapCount:    1,
	}
}

func meta() domain.SeriesMeta {
	return domain.SeriesMeta{TokenAddress: token, PoolID: "pool"}
}

func TestMerge(t *testing.T) {
	a := []domain.Candle{baseCandle(0, 1), baseCandle(300_000, 2)}
	b := []domain.Candle{baseCandle(300_000, 9), baseCandle(600_000, 3)}

	merged := Merge(a, b)
	require.Len(t, merged, 3)

	byTS := make(map[int64]float64)
	for _, c := range merged {
		byTS[c.Timestamp] = c.Close
	}
	assert.Equal(t, 1.0, byTS[0])
	assert.Equal(t, 9.0, byTS[300_000], "second argument wins per bucket")
	assert.Equal(t, 3.0, byTS[600_000])
}

func TestMerge_Idempotent(t *testing.T) {
	a := []domain.Candle{baseCandle(0, 1), baseCandle(300_000, 2)}

	once := Merge(a, a)
	assert.Len(t, once, 2)
	assert.Len(t, Merge(once, a), 2)
}

func TestWriteRead(t *testing.T) {
	s, _ := newTestStore(100)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, meta(), []domain.Candle{
		baseCandle(0, 1),
		baseCandle(300_000, 2),
	}))

	got, m, err := s.Read(ctx, token, 0)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Len(t, got, 2)

	// Reads are newest first.
	assert.Equal(t, int64(300_000), got[0].Timestamp)
	assert.Equal(t, int64(0), got[1].Timestamp)

	assert.Equal(t, int64(0), m.RangeStart)
	assert.Equal(t, int64(300_000), m.RangeEnd)
	assert.Equal(t, int64(300_000), m.LastDataTimestamp)
	assert.NotZero(t, m.LastUpdate)
}

func TestWrite_RedeliveryIsNoOp(t *testing.T) {
	s, _ := newTestStore(100)
	ctx := context.Background()

	candles := []domain.Candle{baseCandle(0, 1), baseCandle(300_000, 2)}
	require.NoError(t, s.Write(ctx, meta(), candles))
	require.NoError(t, s.Write(ctx, meta(), candles))

	got, _, err := s.Read(ctx, token, 0)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestWrite_NewValueWinsPerBucket(t *testing.T) {
	s, _ := newTestStore(100)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, meta(), []domain.Candle{baseCandle(0, 1)}))

	updated := baseCandle(0, 5)
	updated.Volume = 42
	require.NoError(t, s.Write(ctx, meta(), []domain.Candle{updated}))

	got, _, err := s.Read(ctx, token, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 5.0, got[0].Close)
	assert.Equal(t, 42.0, got[0].Volume)
}

func TestWrite_OverflowMigratesToDurable(t *testing.T) {
	s, durable := newTestStore(3)
	ctx := context.Background()

	var candles []domain.Candle
	for i := int64(0); i < 5; i++ {
		candles = append(candles, baseCandle(i*300_000, float64(i)))
	}
	require.NoError(t, s.Write(ctx, meta(), candles))

	series, err := s.GetSeries(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, series)
	assert.Len(t, series.Candles, 3, "hot tier holds only the ceiling")
	assert.Equal(t, int64(600_000), series.Candles[0].Timestamp, "oldest buckets migrated out")

	migrated, err := durable.GetByTimeRange(ctx, token, domain.BaseTimeframe, 0, 1<<62)
	require.NoError(t, err)
	require.Len(t, migrated, 2)
	assert.Equal(t, int64(0), migrated[0].Timestamp)
	assert.Equal(t, int64(300_000), migrated[1].Timestamp)

	// Read still sees the full merged history.
	got, _, err := s.Read(ctx, token, 0)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestRead_HotWinsOverDurable(t *testing.T) {
	s, durable := newTestStore(100)
	ctx := context.Background()

	stale := baseCandle(0, 1)
	require.NoError(t, durable.InsertBulk(ctx, []*domain.Candle{&stale}))

	fresh := baseCandle(0, 9)
	require.NoError(t, s.Write(ctx, meta(), []domain.Candle{fresh}))

	got, _, err := s.Read(ctx, token, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 9.0, got[0].Close)
}

func TestRead_StartFilter(t *testing.T) {
	s, _ := newTestStore(100)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, meta(), []domain.Candle{
		baseCandle(0, 1),
		baseCandle(300_000, 2),
		baseCandle(600_000, 3),
	}))

	got, _, err := s.Read(ctx, token, 300_000)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestRead_CacheMiss(t *testing.T) {
	s, _ := newTestStore(100)

	got, m, err := s.Read(context.Background(), token, 0)
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Empty(t, got)
}

func TestClear(t *testing.T) {
	s, durable := newTestStore(1)
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, meta(), []domain.Candle{
		baseCandle(0, 1),
		baseCandle(300_000, 2),
	}))
	require.NoError(t, s.Clear(ctx, token))

	series, err := s.GetSeries(ctx, token)
	require.NoError(t, err)
	assert.Nil(t, series)

	// Durable data survives a hot-tier clear.
	migrated, err := durable.GetByTimeRange(ctx, token, domain.BaseTimeframe, 0, 1<<62)
	require.NoError(t, err)
	assert.Len(t, migrated, 1)
}

func TestRebuildFromDurable(t *testing.T) {
	s, durable := newTestStore(100)
	ctx := context.Background()

	for i := int64(0); i < 4; i++ {
		c := baseCandle(i*300_000, float64(i))
		require.NoError(t, durable.InsertBulk(ctx, []*domain.Candle{&c}))
	}

	require.NoError(t, s.RebuildFromDurable(ctx, meta(), 2))

	series, err := s.GetSeries(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, series)
	require.Len(t, series.Candles, 2)
	assert.Equal(t, int64(600_000), series.Candles[0].Timestamp)
	assert.Equal(t, int64(900_000), series.Candles[1].Timestamp)
}

func TestTrimAndActiveTokens(t *testing.T) {
	s, durable := newTestStore(2)
	ctx := context.Background()

	// Seed a blob above the ceiling directly, as a sweep would find it.
	var candles []domain.Candle
	for i := int64(0); i < 4; i++ {
		candles = append(candles, baseCandle(i*300_000, float64(i)))
	}
	require.NoError(t, s.putSeries(ctx, domain.CachedSeries{Meta: meta(), Candles: candles}))

	tokens, err := s.ActiveTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{token}, tokens)

	moved, err := s.Trim(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 2, moved)

	series, err := s.GetSeries(ctx, token)
	require.NoError(t, err)
	assert.Len(t, series.Candles, 2)

	migrated, err := durable.GetByTimeRange(ctx, token, domain.BaseTimeframe, 0, 1<<62)
	require.NoError(t, err)
	assert.Len(t, migrated, 2)

	// Below the ceiling a second trim moves nothing.
	moved, err = s.Trim(ctx, token)
	require.NoError(t, err)
	assert.Zero(t, moved)
}
