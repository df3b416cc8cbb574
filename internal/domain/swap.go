package domain

// TokenRef identifies one side of a trading pool.
type TokenRef struct {
	Address  string // token contract address (lowercase hex)
	Symbol   string // token symbol reported by the indexing service
	Decimals int    // ERC-20 decimals
}

// SwapRecord represents a raw swap event as returned by the indexing service.
// Immutable once fetched; identity key is ID.
type SwapRecord struct {
	ID           string  // source-assigned unique identifier
	PoolID       string  // pool address the swap executed against
	TimestampSec int64   // Unix timestamp in seconds
	Token0       TokenRef
	Token1       TokenRef
	Amount0      float64 // signed token0 delta (pool perspective)
	Amount1      float64 // signed token1 delta (pool perspective)
	AmountUSD    float64 // source-reported USD value, 0 when absent
}

// NormalizedSwap is the canonical per-swap price/volume record derived from
// a SwapRecord plus the baseIsToken0 orientation fixed at pool selection.
// Normalization is a pure function of (SwapRecord, baseIsToken0).
type NormalizedSwap struct {
	ID             string  // carried over from SwapRecord.ID
	TimestampMs    int64   // Unix timestamp in milliseconds
	PriceUSD       float64 // base token price in USD
	VolumeUSD      float64 // base-side volume in USD
	TotalVolumeUSD float64 // total swap value in USD
	Priced         bool    // false when no USD price could be derived
}
