// Package subgraph implements the client for the external indexing service:
// a GraphQL-over-HTTP endpoint exposing pool and swap entities with
// first/skip pagination. All outbound requests share one rate limiter and
// one concurrency bound so every caller together respects the service quota.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"dexcharts/internal/domain"
	"dexcharts/internal/observability"
)

// ErrUpstreamUnavailable is returned when the indexing service cannot be
// reached or replies with an error before any data was accumulated.
var ErrUpstreamUnavailable = errors.New("indexing service unavailable")

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultPageSize    = 1000
	DefaultMaxPageSkip = 5000
)

// FetchResult carries the swaps accumulated by a paginated fetch. Partial
// is set when pagination stopped before end-of-data (page error, skip
// ceiling, or record cap): the result is best effort, not proof of
// completeness.
type FetchResult struct {
	Swaps   []domain.SwapRecord
	Partial bool
	Pages   int
}

// Client fetches pool and swap entities from the indexing service.
type Client struct {
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	sem      chan struct{}
	pageSize int
	metrics  *observability.Metrics
	logger   *logrus.Logger
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithRateLimit bounds outbound request rate and concurrency across all
// callers of this client.
func WithRateLimit(requestsPerSecond float64, maxConcurrent int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
		c.sem = make(chan struct{}, maxConcurrent)
	}
}

// WithPageSize sets the pagination page size.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		c.pageSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *logrus.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithMetrics records the latency of every outbound request.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(c *Client) {
		c.metrics = m
	}
}

// NewClient creates a new indexing-service client.
func NewClient(endpoint string, opts ...ClientOption) *Client {
	c := &Client{
		endpoint: endpoint,
		client:   &http.Client{Timeout: DefaultTimeout},
		limiter:  rate.NewLimiter(rate.Limit(4), 1),
		sem:      make(chan struct{}, 2),
		pageSize: DefaultPageSize,
		logger:   logrus.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

const poolsQuery = `
query ($token: String!, $first: Int!) {
  pools(
    where: { or: [{ token0: $token }, { token1: $token }] }
    orderBy: totalValueLockedUSD
    orderDirection: desc
    first: $first
  ) {
    id
    feeTier
    totalValueLockedUSD
    token0 { id symbol decimals }
    token1 { id symbol decimals }
  }
}`

const swapsQuery = `
query ($pool: String!, $start: Int!, $end: Int!, $first: Int!, $skip: Int!) {
  swaps(
    where: { pool: $pool, timestamp_gte: $start, timestamp_lte: $end }
    orderBy: timestamp
    orderDirection: asc
    first: $first
    skip: $skip
  ) {
    id
    timestamp
    amount0
    amount1
    amountUSD
    pool { id }
    token0 { id symbol decimals }
    token1 { id symbol decimals }
  }
}`

// FetchPools returns the candidate pools trading the given token, ordered
// by TVL descending as reported by the service.
func (c *Client) FetchPools(ctx context.Context, tokenAddress string) ([]domain.Pool, error) {
	vars := map[string]any{
		"token": tokenAddress,
		"first": 50,
	}

	var payload struct {
		Pools []wirePool `json:"pools"`
	}
	if err := c.query(ctx, poolsQuery, vars, &payload); err != nil {
		return nil, err
	}

	pools := make([]domain.Pool, 0, len(payload.Pools))
	for _, wp := range payload.Pools {
		p, err := wp.toPool()
		if err != nil {
			c.logger.WithField("pool", wp.ID).Warnf("skipping malformed pool: %v", err)
			continue
		}
		pools = append(pools, p)
	}
	return pools, nil
}

// FetchSwaps retrieves swaps for a pool within [startSec, endSec] using
// batch pagination. It stops on a short page (end of data), when the next
// offset would exceed maxPageSkip, or once maxRecords have accumulated.
// A page-fetch failure truncates the result instead of failing the call;
// only a failure before any page succeeded is an error.
func (c *Client) FetchSwaps(ctx context.Context, poolID string, startSec, endSec int64, maxRecords, maxPageSkip int) (FetchResult, error) {
	if maxPageSkip <= 0 {
		maxPageSkip = DefaultMaxPageSkip
	}

	var result FetchResult
	skip := 0

	for {
		first := c.pageSize
		if maxRecords > 0 && maxRecords-len(result.Swaps) < first {
			first = maxRecords - len(result.Swaps)
		}
		if first <= 0 {
			result.Partial = true
			return result, nil
		}

		vars := map[string]any{
			"pool":  poolID,
			"start": startSec,
			"end":   endSec,
			"first": first,
			"skip":  skip,
		}

		var payload struct {
			Swaps []wireSwap `json:"swaps"`
		}
		if err := c.query(ctx, swapsQuery, vars, &payload); err != nil {
			if len(result.Swaps) == 0 {
				return result, err
			}
			c.logger.WithFields(logrus.Fields{
				"pool": poolID,
				"skip": skip,
			}).Warnf("page fetch failed, returning partial result: %v", err)
			result.Partial = true
			return result, nil
		}
		result.Pages++

		for _, ws := range payload.Swaps {
			sw, err := ws.toSwap()
			if err != nil {
				c.logger.WithField("swap", ws.ID).Warnf("skipping malformed swap: %v", err)
				continue
			}
			result.Swaps = append(result.Swaps, sw)
		}

		if len(payload.Swaps) < first {
			return result, nil // end of data
		}

		skip += first
		if skip > maxPageSkip {
			result.Partial = true
			return result, nil
		}
	}
}

// query executes one rate-limited GraphQL request and decodes data into out.
func (c *Client) query(ctx context.Context, query string, vars map[string]any, out any) error {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(graphqlRequest{Query: query, Variables: vars})
	if err != nil {
		return fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(req)
	if c.metrics != nil {
		c.metrics.UpstreamLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read body: %v", ErrUpstreamUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return fmt.Errorf("%w: decode envelope: %v", ErrUpstreamUnavailable, err)
	}
	if len(envelope.Errors) > 0 {
		return fmt.Errorf("%w: %s", ErrUpstreamUnavailable, envelope.Errors[0].Message)
	}

	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}
