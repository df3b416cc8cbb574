package domain

// Pool is a candidate trading pool for a token.
type Pool struct {
	ID      string // pool contract address
	Token0  TokenRef
	Token1  TokenRef
	TVLUSD  float64 // total value locked, USD
	FeeTier int     // fee in hundredths of a bip (e.g. 3000 = 0.3%)
}

// QuoteOf returns the non-target side of the pool and whether the target
// token is token0. The second value is the baseIsToken0 orientation flag
// that normalization depends on.
func (p Pool) QuoteOf(tokenAddress string) (TokenRef, bool) {
	if p.Token0.Address == tokenAddress {
		return p.Token1, true
	}
	return p.Token0, false
}
