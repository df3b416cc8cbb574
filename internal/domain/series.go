package domain

// SeriesMeta describes the state of a token's cached series.
type SeriesMeta struct {
	TokenAddress      string    `json:"tokenAddress"`
	PoolID            string    `json:"poolId"`
	BaseIsToken0      bool      `json:"baseIsToken0"`
	BaseSymbol        string    `json:"baseSymbol"`
	QuoteSymbol       string    `json:"quoteSymbol"`
	QuoteAddress      string    `json:"quoteAddress"`
	FeeTier           int       `json:"feeTier"`
	LastUpdate        int64     `json:"lastUpdate"`        // refresh wall-clock time, ms
	LastDataTimestamp int64     `json:"lastDataTimestamp"` // newest candle timestamp, ms
	RangeStart        int64     `json:"rangeStart"`        // oldest candle timestamp, ms
	RangeEnd          int64     `json:"rangeEnd"`          // newest candle timestamp, ms
}

// CachedSeries is the hot-tier record for a token: its base candles plus
// series metadata. Overwritten as a whole on each refresh; trimmed to the
// hot-tier ceiling with the overflow migrated to the durable tier.
type CachedSeries struct {
	Meta    SeriesMeta `json:"meta"`
	Candles []Candle   `json:"candles"` // base timeframe, ascending by timestamp
}

// Gap is a missing interval in an otherwise regular series.
type Gap struct {
	Start        int64 `json:"start"`        // last timestamp before the hole, ms
	End          int64 `json:"end"`          // first timestamp after the hole, ms
	MissingCount int   `json:"missingCount"` // expected number of absent buckets
}
