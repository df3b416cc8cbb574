// Package candles buckets normalized swaps into base-resolution OHLC
// candles and rolls base candles up into coarser timeframes. Buckets with
// no data produce no candle: the representation is sparse and gaps are
// implicit.
package candles

import (
	"sort"

	"dexcharts/internal/domain"
)

// GenerateBase buckets normalized swaps into base-timeframe candles.
// Unpriced swaps are skipped; they carry no usable price or volume.
// open/close come from the chronologically first/last swap per bucket,
// high/low are the extremes, volume is the per-swap USD volume summed.
func GenerateBase(tokenAddress, poolID string, swaps []domain.NormalizedSwap) []domain.Candle {
	priced := make([]domain.NormalizedSwap, 0, len(swaps))
	for _, s := range swaps {
		if s.Priced {
			priced = append(priced, s)
		}
	}
	if len(priced) == 0 {
		return nil
	}

	sort.Slice(priced, func(i, j int) bool {
		if priced[i].TimestampMs != priced[j].TimestampMs {
			return priced[i].TimestampMs < priced[j].TimestampMs
		}
		return priced[i].ID < priced[j].ID
	})

	bucketMs := int64(domain.BaseBucketMs)
	var out []domain.Candle
	var cur *domain.Candle

	for _, s := range priced {
		bucket := (s.TimestampMs / bucketMs) * bucketMs
		if cur == nil || cur.Timestamp != bucket {
			out = append(out, domain.Candle{
				TokenAddress: tokenAddress,
				PoolID:       poolID,
				Timeframe:    domain.BaseTimeframe,
				Timestamp:    bucket,
				Open:         s.PriceUSD,
				High:         s.PriceUSD,
				Low:          s.PriceUSD,
				Close:        s.PriceUSD,
			})
			cur = &out[len(out)-1]
		}
		if s.PriceUSD > cur.High {
			cur.High = s.PriceUSD
		}
		if s.PriceUSD < cur.Low {
			cur.Low = s.PriceUSD
		}
		cur.Close = s.PriceUSD
		cur.Volume += s.VolumeUSD
		cur.SwapCount++
	}

	return out
}

// Aggregate rolls candles up to the target timeframe. The same bucketing
// rule applies to candle timestamps; open/close come from the first/last
// constituent by timestamp, high/low are extremes, volume is the sum.
// Aggregating a series already at the target resolution is a no-op.
func Aggregate(candles []domain.Candle, target domain.Timeframe) []domain.Candle {
	if len(candles) == 0 {
		return nil
	}

	bucketMs := target.BucketMs()
	if bucketMs == 0 {
		return nil
	}

	sorted := make([]domain.Candle, len(candles))
	copy(sorted, candles)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Timestamp < sorted[j].Timestamp
	})

	var out []domain.Candle
	var cur *domain.Candle

	for _, c := range sorted {
		bucket := (c.Timestamp / bucketMs) * bucketMs
		if cur == nil || cur.Timestamp != bucket {
			agg := c
			agg.Timeframe = target
			agg.Timestamp = bucket
			out = append(out, agg)
			cur = &out[len(out)-1]
			continue
		}
		if c.High > cur.High {
			cur.High = c.High
		}
		if c.Low < cur.Low {
			cur.Low = c.Low
		}
		cur.Close = c.Close
		cur.Volume += c.Volume
		cur.SwapCount += c.SwapCount
	}

	return out
}
