package domain

// Timeframe is a candle resolution. The base timeframe is the only one ever
// written to storage; coarser ones are derived on read.
type Timeframe string

// Supported timeframes.
const (
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
)

// BaseTimeframe is the resolution candles are generated and stored at.
const BaseTimeframe = Timeframe5m

// BaseBucketMs is the base candle bucket width in milliseconds.
const BaseBucketMs = 5 * 60 * 1000

var timeframeMs = map[Timeframe]int64{
	Timeframe5m:  BaseBucketMs,
	Timeframe15m: 15 * 60 * 1000,
	Timeframe30m: 30 * 60 * 1000,
	Timeframe1h:  60 * 60 * 1000,
	Timeframe4h:  4 * 60 * 60 * 1000,
	Timeframe1d:  24 * 60 * 60 * 1000,
	Timeframe1w:  7 * 24 * 60 * 60 * 1000,
}

// BucketMs returns the bucket width in milliseconds, or 0 for an unknown timeframe.
func (tf Timeframe) BucketMs() int64 {
	return timeframeMs[tf]
}

// Valid reports whether tf is a supported timeframe.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeMs[tf]
	return ok
}

// Candle is one OHLC bucket. The tuple (TokenAddress, PoolID, Timeframe,
// Timestamp) is unique; one candle exists per bucket.
type Candle struct {
	TokenAddress string    `json:"tokenAddress"`
	PoolID       string    `json:"poolId"`
	Timeframe    Timeframe `json:"timeframe"`
	Timestamp    int64     `json:"timestamp"` // bucket start, ms
	Open         float64   `json:"open"`
	High         float64   `json:"high"`
	Low          float64   `json:"low"`
	Close        float64   `json:"close"`
	Volume       float64   `json:"volume"`
	SwapCount    int       `json:"swapCount"`
}
