// Package pricing converts raw swap records into canonical USD-priced
// records. Stable-quote pools price directly off the swap's amount ratio;
// everything else goes through a pluggable resolver. A swap that cannot be
// priced is marked Priced=false rather than carrying a zero sentinel, so
// downstream volume sums are never corrupted by unpriced data.
package pricing

import (
	"context"
	"errors"
	"math"

	"github.com/sirupsen/logrus"

	"dexcharts/internal/config"
	"dexcharts/internal/domain"
)

// Normalizer derives NormalizedSwap records from raw swaps.
type Normalizer struct {
	chain    config.ChainConfig
	resolver Resolver
	logger   *logrus.Logger
}

// NewNormalizer creates a normalizer for a chain.
func NewNormalizer(chain config.ChainConfig, resolver Resolver, logger *logrus.Logger) *Normalizer {
	if logger == nil {
		logger = logrus.New()
	}
	return &Normalizer{chain: chain, resolver: resolver, logger: logger}
}

// Normalize converts raw swaps into normalized records. baseIsToken0 is the
// orientation fixed at pool selection time; given the same inputs the output
// is always identical. Price-resolution failures degrade individual swaps
// to Priced=false, never the batch.
func (n *Normalizer) Normalize(ctx context.Context, swaps []domain.SwapRecord, baseIsToken0 bool) []domain.NormalizedSwap {
	out := make([]domain.NormalizedSwap, 0, len(swaps))
	for _, raw := range swaps {
		out = append(out, n.normalizeOne(ctx, raw, baseIsToken0))
	}
	return out
}

func (n *Normalizer) normalizeOne(ctx context.Context, raw domain.SwapRecord, baseIsToken0 bool) domain.NormalizedSwap {
	ns := domain.NormalizedSwap{
		ID:          raw.ID,
		TimestampMs: raw.TimestampSec * 1000,
	}

	baseAmount, quoteAmount := raw.Amount0, raw.Amount1
	baseToken, quoteToken := raw.Token0, raw.Token1
	if !baseIsToken0 {
		baseAmount, quoteAmount = raw.Amount1, raw.Amount0
		baseToken, quoteToken = raw.Token1, raw.Token0
	}

	absBase := math.Abs(baseAmount)
	absQuote := math.Abs(quoteAmount)
	if absBase == 0 {
		// Degenerate swap, cannot derive a ratio.
		return ns
	}

	ratio := absQuote / absBase // base price in quote units

	price, priced := n.priceInUSD(ctx, ratio, baseToken, quoteToken)
	ns.PriceUSD = price
	ns.Priced = priced

	if !priced {
		return ns
	}

	if raw.AmountUSD > 0 {
		ns.VolumeUSD = raw.AmountUSD
		ns.TotalVolumeUSD = raw.AmountUSD
	} else {
		ns.VolumeUSD = absBase * price
		ns.TotalVolumeUSD = ns.VolumeUSD
	}

	return ns
}

// priceInUSD orients the pool ratio into USD. If either side is a stable
// asset that side is the numeraire; otherwise the quote token's own USD
// price scales the ratio.
func (n *Normalizer) priceInUSD(ctx context.Context, ratio float64, baseToken, quoteToken domain.TokenRef) (float64, bool) {
	if _, ok := n.chain.IsStable(quoteToken.Address); ok {
		return ratio, true
	}
	if _, ok := n.chain.IsStable(baseToken.Address); ok {
		// The tracked token itself is the stable side.
		return 1.0, true
	}

	if n.resolver == nil {
		return 0, false
	}

	quoteUSD, err := n.resolver.ResolveUSDPrice(ctx, quoteToken.Address, quoteToken.Symbol, n.chain.ChainID)
	if err != nil {
		if !errors.Is(err, ErrPriceUnavailable) {
			n.logger.WithField("quote", quoteToken.Symbol).Warnf("price resolver failed: %v", err)
		}
		return 0, false
	}
	if quoteUSD <= 0 {
		return 0, false
	}

	return ratio * quoteUSD, true
}
