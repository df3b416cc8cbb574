// Package config provides application configuration loaded from environment
// variables, with per-chain pipeline settings so one generic pipeline
// instance can serve any chain/DEX deployment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// StableAsset is a designated USD-proxy quote token. Lower Priority wins
// when partitioning candidate pools.
type StableAsset struct {
	Address  string
	Symbol   string
	Priority int
}

// ChainConfig holds everything chain-specific the pipeline needs.
type ChainConfig struct {
	Name        string
	ChainID     int64
	SubgraphURL string

	// Stable quote assets ordered by priority (index 0 preferred).
	StableAssets []StableAsset

	// Pagination limits for the indexing service.
	PageSize    int
	MaxPageSkip int

	// Outbound quota: requests per second and concurrent in-flight pages.
	RequestsPerSecond float64
	MaxConcurrent     int

	// Hot-tier retention ceiling (base candles kept per token).
	HotCeiling int

	// Freshness policy.
	RefreshInterval time.Duration
	LockTTL         time.Duration
	CacheTTL        time.Duration
}

// IsStable reports whether address is a configured stable asset, and its
// partition priority when it is.
func (c ChainConfig) IsStable(address string) (int, bool) {
	for _, s := range c.StableAssets {
		if strings.EqualFold(s.Address, address) {
			return s.Priority, true
		}
	}
	return 0, false
}

// Config holds the full application configuration.
type Config struct {
	HTTPAddr      string
	PostgresDSN   string
	ClickHouseDSN string
	RedisAddr     string
	RedisDB       int
	UseMemory     bool

	// SweepInterval controls the hot→durable migration sweep.
	SweepInterval time.Duration

	Chain ChainConfig
}

// Load reads configuration from the environment. A .env file in the working
// directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		PostgresDSN:   getEnv("POSTGRES_DSN", "postgres://localhost:5432/dexcharts"),
		ClickHouseDSN: getEnv("CLICKHOUSE_DSN", "clickhouse://localhost:9000/dexcharts"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		UseMemory:     getEnvBool("USE_MEMORY", false),
		SweepInterval: getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
		Chain:         DefaultEthereum(),
	}

	if url := os.Getenv("SUBGRAPH_URL"); url != "" {
		cfg.Chain.SubgraphURL = url
	}
	if cfg.Chain.SubgraphURL == "" {
		return nil, fmt.Errorf("SUBGRAPH_URL is required")
	}

	cfg.Chain.PageSize = getEnvInt("PAGE_SIZE", cfg.Chain.PageSize)
	cfg.Chain.MaxPageSkip = getEnvInt("MAX_PAGE_SKIP", cfg.Chain.MaxPageSkip)
	cfg.Chain.HotCeiling = getEnvInt("HOT_CEILING", cfg.Chain.HotCeiling)
	cfg.Chain.RefreshInterval = getEnvDuration("REFRESH_INTERVAL", cfg.Chain.RefreshInterval)
	cfg.Chain.LockTTL = getEnvDuration("LOCK_TTL", cfg.Chain.LockTTL)
	cfg.Chain.CacheTTL = getEnvDuration("CACHE_TTL", cfg.Chain.CacheTTL)

	return cfg, nil
}

// DefaultEthereum returns the pipeline settings for Ethereum mainnet
// tracking a Uniswap-v3-style subgraph.
func DefaultEthereum() ChainConfig {
	return ChainConfig{
		Name:    "ethereum",
		ChainID: 1,
		StableAssets: []StableAsset{
			{Address: "0xdac17f958d2ee523a2206206994597c13d831ec7", Symbol: "USDT", Priority: 0},
			{Address: "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", Symbol: "USDC", Priority: 1},
			{Address: "0x6b175474e89094c44da98b954eedeac495271d0f", Symbol: "DAI", Priority: 2},
		},
		PageSize:          1000,
		MaxPageSkip:       5000,
		RequestsPerSecond: 4,
		MaxConcurrent:     2,
		HotCeiling:        2000,
		RefreshInterval:   time.Hour,
		LockTTL:           2 * time.Minute,
		CacheTTL:          72 * time.Hour,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
