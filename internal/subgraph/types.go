package subgraph

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"dexcharts/internal/domain"
)

// graphqlRequest is the POST body sent to the indexing service.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the envelope every subgraph reply arrives in.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphqlError  `json:"errors,omitempty"`
}

type graphqlError struct {
	Message string `json:"message"`
}

// wireToken mirrors the subgraph token entity.
type wireToken struct {
	ID       string `json:"id"`
	Symbol   string `json:"symbol"`
	Decimals string `json:"decimals"`
}

// wirePool mirrors the subgraph pool entity. Numeric fields are decimal
// strings per the subgraph convention.
type wirePool struct {
	ID          string    `json:"id"`
	Token0      wireToken `json:"token0"`
	Token1      wireToken `json:"token1"`
	TVLUSD      string    `json:"totalValueLockedUSD"`
	FeeTier     string    `json:"feeTier"`
}

// wireSwap mirrors the subgraph swap entity.
type wireSwap struct {
	ID        string    `json:"id"`
	Timestamp string    `json:"timestamp"`
	Pool      struct {
		ID string `json:"id"`
	} `json:"pool"`
	Token0    wireToken `json:"token0"`
	Token1    wireToken `json:"token1"`
	Amount0   string    `json:"amount0"`
	Amount1   string    `json:"amount1"`
	AmountUSD string    `json:"amountUSD"`
}

// toPool converts a wire pool into the domain type.
func (w wirePool) toPool() (domain.Pool, error) {
	t0, err := w.Token0.toRef()
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool %s token0: %w", w.ID, err)
	}
	t1, err := w.Token1.toRef()
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool %s token1: %w", w.ID, err)
	}
	tvl, err := parseDecimal(w.TVLUSD)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("pool %s tvl: %w", w.ID, err)
	}
	feeTier := 0
	if w.FeeTier != "" {
		feeTier, err = strconv.Atoi(w.FeeTier)
		if err != nil {
			return domain.Pool{}, fmt.Errorf("pool %s fee tier: %w", w.ID, err)
		}
	}
	return domain.Pool{
		ID:      w.ID,
		Token0:  t0,
		Token1:  t1,
		TVLUSD:  tvl,
		FeeTier: feeTier,
	}, nil
}

// toSwap converts a wire swap into the domain type.
func (w wireSwap) toSwap() (domain.SwapRecord, error) {
	ts, err := strconv.ParseInt(w.Timestamp, 10, 64)
	if err != nil {
		return domain.SwapRecord{}, fmt.Errorf("swap %s timestamp: %w", w.ID, err)
	}
	t0, err := w.Token0.toRef()
	if err != nil {
		return domain.SwapRecord{}, fmt.Errorf("swap %s token0: %w", w.ID, err)
	}
	t1, err := w.Token1.toRef()
	if err != nil {
		return domain.SwapRecord{}, fmt.Errorf("swap %s token1: %w", w.ID, err)
	}
	a0, err := parseDecimal(w.Amount0)
	if err != nil {
		return domain.SwapRecord{}, fmt.Errorf("swap %s amount0: %w", w.ID, err)
	}
	a1, err := parseDecimal(w.Amount1)
	if err != nil {
		return domain.SwapRecord{}, fmt.Errorf("swap %s amount1: %w", w.ID, err)
	}
	usd := 0.0
	if w.AmountUSD != "" {
		usd, err = parseDecimal(w.AmountUSD)
		if err != nil {
			return domain.SwapRecord{}, fmt.Errorf("swap %s amountUSD: %w", w.ID, err)
		}
	}
	return domain.SwapRecord{
		ID:           w.ID,
		PoolID:       w.Pool.ID,
		TimestampSec: ts,
		Token0:       t0,
		Token1:       t1,
		Amount0:      a0,
		Amount1:      a1,
		AmountUSD:    usd,
	}, nil
}

func (w wireToken) toRef() (domain.TokenRef, error) {
	decimals := 18
	if w.Decimals != "" {
		var err error
		decimals, err = strconv.Atoi(w.Decimals)
		if err != nil {
			return domain.TokenRef{}, fmt.Errorf("decimals %q: %w", w.Decimals, err)
		}
	}
	return domain.TokenRef{
		Address:  w.ID,
		Symbol:   w.Symbol,
		Decimals: decimals,
	}, nil
}

// parseDecimal parses a subgraph decimal string into a float64. Decimal
// parsing first avoids strconv's rejection of exponent-free big values and
// keeps intermediate precision.
func parseDecimal(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}
