package subgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dexcharts/internal/observability"
)

func decodeVars(t *testing.T, r *http.Request) map[string]any {
	t.Helper()
	var req graphqlRequest
	require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
	return req.Variables
}

func swapJSON(id string, sec int64) string {
	return fmt.Sprintf(`{
		"id": %q,
		"timestamp": "%d",
		"amount0": "-100.5",
		"amount1": "250",
		"amountUSD": "249.9",
		"pool": {"id": "pool"},
		"token0": {"id": "0xtoken", "symbol": "TOK", "decimals": "18"},
		"token1": {"id": "0xusdc", "symbol": "USDC", "decimals": "6"}
	}`, id, sec)
}

func swapsBody(swaps ...string) string {
	out := `{"data": {"swaps": [`
	for i, s := range swaps {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out + `]}}`
}

func TestFetchPools(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := decodeVars(t, r)
		assert.Equal(t, "0xtoken", vars["token"])

		fmt.Fprint(w, `{"data": {"pools": [
			{
				"id": "pool-a",
				"feeTier": "3000",
				"totalValueLockedUSD": "1234567.89",
				"token0": {"id": "0xtoken", "symbol": "TOK", "decimals": "18"},
				"token1": {"id": "0xusdc", "symbol": "USDC", "decimals": "6"}
			},
			{
				"id": "pool-bad",
				"feeTier": "500",
				"totalValueLockedUSD": "not-a-number",
				"token0": {"id": "0xtoken", "symbol": "TOK", "decimals": "18"},
				"token1": {"id": "0xweth", "symbol": "WETH", "decimals": "18"}
			}
		]}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	pools, err := c.FetchPools(context.Background(), "0xtoken")
	require.NoError(t, err)

	// The malformed pool is skipped, not fatal.
	require.Len(t, pools, 1)
	assert.Equal(t, "pool-a", pools[0].ID)
	assert.Equal(t, 3000, pools[0].FeeTier)
	assert.InDelta(t, 1234567.89, pools[0].TVLUSD, 1e-6)
	assert.Equal(t, "USDC", pools[0].Token1.Symbol)
	assert.Equal(t, 6, pools[0].Token1.Decimals)
}

func TestFetchSwaps_PaginatesUntilShortPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := decodeVars(t, r)
		skip := int(vars["skip"].(float64))

		switch skip {
		case 0:
			fmt.Fprint(w, swapsBody(swapJSON("s1", 100), swapJSON("s2", 200)))
		case 2:
			fmt.Fprint(w, swapsBody(swapJSON("s3", 300)))
		default:
			t.Errorf("unexpected skip %d", skip)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithPageSize(2))
	result, err := c.FetchSwaps(context.Background(), "pool", 0, 1000, 0, 0)
	require.NoError(t, err)

	assert.False(t, result.Partial)
	assert.Equal(t, 2, result.Pages)
	require.Len(t, result.Swaps, 3)
	assert.Equal(t, "s1", result.Swaps[0].ID)
	assert.Equal(t, int64(300), result.Swaps[2].TimestampSec)
	assert.InDelta(t, -100.5, result.Swaps[0].Amount0, 1e-9)
	assert.InDelta(t, 249.9, result.Swaps[0].AmountUSD, 1e-9)
}

func TestFetchSwaps_ObservesUpstreamLatency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, swapsBody(swapJSON("s1", 100)))
	}))
	defer srv.Close()

	m := observability.NewMetrics("subgraphtest")
	c := NewClient(srv.URL, WithMetrics(m))
	_, err := c.FetchSwaps(context.Background(), "pool", 0, 1000, 0, 0)
	require.NoError(t, err)

	var sample dto.Metric
	require.NoError(t, m.UpstreamLatency.Write(&sample))
	assert.Equal(t, uint64(1), sample.GetHistogram().GetSampleCount())
}

func TestFetchSwaps_MaxRecordsCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := decodeVars(t, r)
		first := int(vars["first"].(float64))
		skip := int(vars["skip"].(float64))

		var page []string
		for i := 0; i < first; i++ {
			n := skip + i
			page = append(page, swapJSON(fmt.Sprintf("s%d", n), int64(n)))
		}
		fmt.Fprint(w, swapsBody(page...))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithPageSize(2))
	result, err := c.FetchSwaps(context.Background(), "pool", 0, 1000, 3, 0)
	require.NoError(t, err)

	assert.True(t, result.Partial)
	assert.Len(t, result.Swaps, 3)
}

func TestFetchSwaps_SkipCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		vars := decodeVars(t, r)
		first := int(vars["first"].(float64))
		skip := int(vars["skip"].(float64))

		var page []string
		for i := 0; i < first; i++ {
			n := skip + i
			page = append(page, swapJSON(fmt.Sprintf("s%d", n), int64(n)))
		}
		fmt.Fprint(w, swapsBody(page...))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithPageSize(2))
	result, err := c.FetchSwaps(context.Background(), "pool", 0, 1000, 0, 3)
	require.NoError(t, err)

	// Pages at skip 0 and 2; skip 4 would exceed the ceiling.
	assert.True(t, result.Partial)
	assert.Equal(t, 2, result.Pages)
	assert.Len(t, result.Swaps, 4)
}

func TestFetchSwaps_FailureBeforeDataIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.FetchSwaps(context.Background(), "pool", 0, 1000, 0, 0)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestFetchSwaps_FailureMidwayTruncates(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) > 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, swapsBody(swapJSON("s1", 100), swapJSON("s2", 200)))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithPageSize(2))
	result, err := c.FetchSwaps(context.Background(), "pool", 0, 1000, 0, 0)
	require.NoError(t, err)

	assert.True(t, result.Partial)
	assert.Len(t, result.Swaps, 2)
}

func TestFetchSwaps_GraphQLErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"errors": [{"message": "indexing error"}]}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	_, err := c.FetchSwaps(context.Background(), "pool", 0, 1000, 0, 0)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestFetchSwaps_MalformedSwapSkipped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		bad := `{"id": "bad", "timestamp": "not-a-number", "amount0": "1", "amount1": "1",
			"amountUSD": "", "pool": {"id": "pool"},
			"token0": {"id": "a", "symbol": "A", "decimals": "18"},
			"token1": {"id": "b", "symbol": "B", "decimals": "18"}}`
		fmt.Fprint(w, swapsBody(swapJSON("s1", 100), bad))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	result, err := c.FetchSwaps(context.Background(), "pool", 0, 1000, 0, 0)
	require.NoError(t, err)

	require.Len(t, result.Swaps, 1)
	assert.Equal(t, "s1", result.Swaps[0].ID)
}
