// Package gaps finds missing intervals in a token's candle history and
// re-fetches them from the indexing service.
package gaps

import (
	"context"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"dexcharts/internal/candles"
	"dexcharts/internal/domain"
	"dexcharts/internal/storage"
	"dexcharts/internal/subgraph"
	"dexcharts/internal/tiered"
)

// SwapSource is the slice of the indexing-service client backfill needs.
type SwapSource interface {
	FetchSwaps(ctx context.Context, poolID string, startSec, endSec int64, maxRecords, maxPageSkip int) (subgraph.FetchResult, error)
}

// Normalizer converts raw swaps into normalized records.
type Normalizer interface {
	Normalize(ctx context.Context, swaps []domain.SwapRecord, baseIsToken0 bool) []domain.NormalizedSwap
}

// Filler detects and repairs gaps for one chain's pipeline.
type Filler struct {
	source     SwapSource
	normalizer Normalizer
	store      *tiered.Store
	candleLog  storage.CandleStore
	swapLog    storage.SwapStore
	rebuildN   int
	logger     *logrus.Logger
}

// Options contains configuration for creating a Filler.
type Options struct {
	Source     SwapSource
	Normalizer Normalizer
	Store      *tiered.Store
	CandleLog  storage.CandleStore
	SwapLog    storage.SwapStore
	RebuildN   int // hot-tier size after a rebuild
	Logger     *logrus.Logger
}

// NewFiller creates a gap filler.
func NewFiller(opts Options) *Filler {
	rebuildN := opts.RebuildN
	if rebuildN <= 0 {
		rebuildN = 2000
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}
	return &Filler{
		source:     opts.Source,
		normalizer: opts.Normalizer,
		store:      opts.Store,
		candleLog:  opts.CandleLog,
		swapLog:    opts.SwapLog,
		rebuildN:   rebuildN,
		logger:     logger,
	}
}

// Detect merges hot- and durable-tier candle timestamps for a token and
// reports every consecutive pair further apart than one base bucket as a
// gap, with the expected count of absent buckets.
func (f *Filler) Detect(ctx context.Context, tokenAddress string) ([]domain.Gap, error) {
	timestamps, err := f.mergedTimestamps(ctx, tokenAddress)
	if err != nil {
		return nil, err
	}
	return DetectInTimestamps(timestamps, domain.BaseBucketMs), nil
}

// DetectInTimestamps scans a deduplicated ascending timestamp sequence for
// consecutive deltas exceeding bucketMs.
func DetectInTimestamps(timestamps []int64, bucketMs int64) []domain.Gap {
	var gaps []domain.Gap
	for i := 1; i < len(timestamps); i++ {
		diff := timestamps[i] - timestamps[i-1]
		if diff <= bucketMs {
			continue
		}
		gaps = append(gaps, domain.Gap{
			Start:        timestamps[i-1],
			End:          timestamps[i],
			MissingCount: int(diff/bucketMs) - 1,
		})
	}
	return gaps
}

// Fix re-fetches every detected gap window, normalizes and aggregates the
// results, writes them through the durable tier, and finally rebuilds the
// hot tier from the durable tier's most recent candles so it reflects the
// filled history without holding all of it. Per-gap fetch failures are
// logged and skipped; a gap that stays empty is simply re-detected later.
func (f *Filler) Fix(ctx context.Context, tokenAddress string) (int, error) {
	series, err := f.store.GetSeries(ctx, tokenAddress)
	if err != nil {
		return 0, err
	}
	if series == nil {
		return 0, fmt.Errorf("no cached series for %s: gap fix needs pool metadata", tokenAddress)
	}
	meta := series.Meta

	gaps, err := f.Detect(ctx, tokenAddress)
	if err != nil {
		return 0, err
	}
	if len(gaps) == 0 {
		return 0, nil
	}

	filled := 0
	for _, gap := range gaps {
		// Fetch only the interior of the gap. The boundary buckets already
		// hold complete candles; a window clipped mid-bucket would regenerate
		// them from a partial swap set.
		startSec := (gap.Start + domain.BaseBucketMs) / 1000
		endSec := gap.End/1000 - 1
		result, err := f.source.FetchSwaps(ctx, meta.PoolID, startSec, endSec, 0, 0)
		if err != nil {
			f.logger.WithFields(logrus.Fields{
				"token": tokenAddress,
				"start": gap.Start,
				"end":   gap.End,
			}).Warnf("gap refetch failed: %v", err)
			continue
		}

		normalized := f.normalizer.Normalize(ctx, result.Swaps, meta.BaseIsToken0)
		if len(normalized) == 0 {
			continue
		}

		if err := f.swapLog.InsertBulk(ctx, meta, ptrSwaps(normalized)); err != nil {
			f.logger.WithField("token", tokenAddress).Warnf("gap swap log write failed: %v", err)
		}

		generated := candles.GenerateBase(tokenAddress, meta.PoolID, normalized)
		if len(generated) == 0 {
			continue
		}
		if err := f.candleLog.InsertBulk(ctx, ptrCandles(generated)); err != nil {
			f.logger.WithField("token", tokenAddress).Warnf("gap candle write failed: %v", err)
			continue
		}
		filled += len(generated)
	}

	if filled > 0 {
		if err := f.store.RebuildFromDurable(ctx, meta, f.rebuildN); err != nil {
			return filled, fmt.Errorf("rebuild hot tier: %w", err)
		}
	}

	return filled, nil
}

// mergedTimestamps returns the deduplicated ascending union of hot and
// durable candle timestamps.
func (f *Filler) mergedTimestamps(ctx context.Context, tokenAddress string) ([]int64, error) {
	seen := make(map[int64]struct{})

	series, err := f.store.GetSeries(ctx, tokenAddress)
	if err != nil {
		return nil, err
	}
	if series != nil {
		for _, c := range series.Candles {
			seen[c.Timestamp] = struct{}{}
		}
	}

	durable, err := f.candleLog.Timestamps(ctx, tokenAddress, domain.BaseTimeframe)
	if err != nil {
		return nil, fmt.Errorf("durable timestamps: %w", err)
	}
	for _, ts := range durable {
		seen[ts] = struct{}{}
	}

	out := make([]int64, 0, len(seen))
	for ts := range seen {
		out = append(out, ts)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
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
