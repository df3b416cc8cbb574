// Package main extends a token's durable history and repairs gaps from the
// command line, using the same pipeline as the server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"dexcharts/internal/config"
	"dexcharts/internal/gaps"
	"dexcharts/internal/hotcache"
	"dexcharts/internal/pools"
	"dexcharts/internal/pricing"
	"dexcharts/internal/refresh"
	"dexcharts/internal/service"
	chstore "dexcharts/internal/storage/clickhouse"
	pgstore "dexcharts/internal/storage/postgres"
	"dexcharts/internal/subgraph"
	"dexcharts/internal/tiered"
)

func main() {
	var (
		token   = flag.String("token", "", "token address to backfill (required)")
		batches = flag.Int("batches", 7, "number of one-day batches to append")
		fixGaps = flag.Bool("fix-gaps", false, "detect and repair gaps instead of appending history")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if *token == "" {
		logger.Fatal("-token is required")
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cache, err := hotcache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("connect redis: %v", err)
	}
	defer cache.Close()

	pg, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pg.Close()
	if err := pg.Migrate(ctx); err != nil {
		logger.Fatalf("migrate postgres: %v", err)
	}

	ch, err := chstore.NewConn(ctx, cfg.ClickHouseDSN)
	if err != nil {
		logger.Fatalf("connect clickhouse: %v", err)
	}
	defer ch.Close()
	if err := ch.Migrate(ctx); err != nil {
		logger.Fatalf("migrate clickhouse: %v", err)
	}

	swapLog := pgstore.NewSwapStore(pg)
	candleLog := chstore.NewCandleStore(ch)

	client := subgraph.NewClient(cfg.Chain.SubgraphURL,
		subgraph.WithRateLimit(cfg.Chain.RequestsPerSecond, cfg.Chain.MaxConcurrent),
		subgraph.WithPageSize(cfg.Chain.PageSize),
		subgraph.WithLogger(logger),
	)

	normalizer := pricing.NewNormalizer(cfg.Chain, pricing.NewStaticResolver(nil), logger)

	store := tiered.New(tiered.Options{
		Cache:    cache,
		Durable:  candleLog,
		Ceiling:  cfg.Chain.HotCeiling,
		CacheTTL: cfg.Chain.CacheTTL,
		Logger:   logger,
	})

	filler := gaps.NewFiller(gaps.Options{
		Source:     client,
		Normalizer: normalizer,
		Store:      store,
		CandleLog:  candleLog,
		SwapLog:    swapLog,
		RebuildN:   cfg.Chain.HotCeiling,
		Logger:     logger,
	})

	svc := service.New(service.Options{
		Chain:       cfg.Chain,
		Source:      client,
		Selector:    pools.NewSelector(cfg.Chain),
		Normalizer:  normalizer,
		Store:       store,
		SwapLog:     swapLog,
		CandleLog:   candleLog,
		Coordinator: refresh.NewCoordinator(refresh.NewCacheLocks(cache), cfg.Chain.RefreshInterval, cfg.Chain.LockTTL),
		Filler:      filler,
		Logger:      logger,
	})

	if *fixGaps {
		found, err := svc.DetectGaps(ctx, *token)
		if err != nil {
			logger.Fatalf("detect gaps: %v", err)
		}
		logger.WithField("gaps", len(found)).Info("gap scan complete")

		filled, err := svc.FixGaps(ctx, *token)
		if err != nil {
			logger.Fatalf("fix gaps: %v", err)
		}
		logger.WithField("candles", filled).Info("gap fix complete")
		return
	}

	result, err := svc.AppendHistorical(ctx, *token, *batches)
	if err != nil {
		logger.Fatalf("append historical: %v", err)
	}
	logger.WithFields(logrus.Fields{
		"swapsAdded": result.SwapsAdded,
		"rangeStart": result.RangeStart,
		"rangeEnd":   result.RangeEnd,
	}).Info("historical append complete")
}
