// Package main runs the candle service: the series HTTP API, the periodic
// hot-to-durable migration sweep, the websocket push hub, and the metrics
// endpoint.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"dexcharts/internal/config"
	"dexcharts/internal/domain"
	"dexcharts/internal/gaps"
	"dexcharts/internal/hotcache"
	"dexcharts/internal/observability"
	"dexcharts/internal/pools"
	"dexcharts/internal/pricing"
	"dexcharts/internal/refresh"
	"dexcharts/internal/service"
	"dexcharts/internal/storage"
	chstore "dexcharts/internal/storage/clickhouse"
	"dexcharts/internal/storage/memory"
	pgstore "dexcharts/internal/storage/postgres"
	"dexcharts/internal/stream"
	"dexcharts/internal/subgraph"
	"dexcharts/internal/tiered"
)

func main() {
	var (
		addr      = flag.String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
		useMemory = flag.Bool("memory", false, "use in-memory storage and cache")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if *useMemory {
		cfg.UseMemory = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		cache     hotcache.Cache
		candleLog storage.CandleStore
		swapLog   storage.SwapStore
	)

	if cfg.UseMemory {
		logger.Info("using in-memory storage and cache")
		cache = hotcache.NewMemory()
		candleLog = memory.NewCandleStore()
		swapLog = memory.NewSwapStore()
	} else {
		redisCache, err := hotcache.NewRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			logger.Fatalf("connect redis: %v", err)
		}
		defer redisCache.Close()
		cache = redisCache

		pg, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatalf("connect postgres: %v", err)
		}
		defer pg.Close()
		if err := pg.Migrate(ctx); err != nil {
			logger.Fatalf("migrate postgres: %v", err)
		}
		swapLog = pgstore.NewSwapStore(pg)

		ch, err := chstore.NewConn(ctx, cfg.ClickHouseDSN)
		if err != nil {
			logger.Fatalf("connect clickhouse: %v", err)
		}
		defer ch.Close()
		if err := ch.Migrate(ctx); err != nil {
			logger.Fatalf("migrate clickhouse: %v", err)
		}
		candleLog = chstore.NewCandleStore(ch)
	}

	metrics := observability.NewMetrics("")

	client := subgraph.NewClient(cfg.Chain.SubgraphURL,
		subgraph.WithRateLimit(cfg.Chain.RequestsPerSecond, cfg.Chain.MaxConcurrent),
		subgraph.WithPageSize(cfg.Chain.PageSize),
		subgraph.WithMetrics(metrics),
		subgraph.WithLogger(logger),
	)

	resolver := pricing.NewStaticResolver(nil)
	normalizer := pricing.NewNormalizer(cfg.Chain, resolver, logger)

	store := tiered.New(tiered.Options{
		Cache:    cache,
		Durable:  candleLog,
		Ceiling:  cfg.Chain.HotCeiling,
		CacheTTL: cfg.Chain.CacheTTL,
		Metrics:  metrics,
		Logger:   logger,
	})

	var locks refresh.LockManager
	if cfg.UseMemory {
		locks = refresh.NewMemoryLocks()
	} else {
		locks = refresh.NewCacheLocks(cache)
	}
	coordinator := refresh.NewCoordinator(locks, cfg.Chain.RefreshInterval, cfg.Chain.LockTTL)

	filler := gaps.NewFiller(gaps.Options{
		Source:     client,
		Normalizer: normalizer,
		Store:      store,
		CandleLog:  candleLog,
		SwapLog:    swapLog,
		RebuildN:   cfg.Chain.HotCeiling,
		Logger:     logger,
	})

	hub := stream.NewHub(logger)

	svc := service.New(service.Options{
		Chain:       cfg.Chain,
		Source:      client,
		Selector:    pools.NewSelector(cfg.Chain),
		Normalizer:  normalizer,
		Store:       store,
		SwapLog:     swapLog,
		CandleLog:   candleLog,
		Coordinator: coordinator,
		Filler:      filler,
		Publisher:   hub,
		Metrics:     metrics,
		Logger:      logger,
	})

	sweeper := tiered.NewSweeper(store, cfg.SweepInterval, logger)
	go sweeper.Run(ctx)

	mux := http.NewServeMux()
	h := &handlers{svc: svc, logger: logger}
	mux.HandleFunc("/api/series/", h.series)
	mux.HandleFunc("/api/cache/", h.clearCache)
	mux.HandleFunc("/api/historical/", h.appendHistorical)
	mux.HandleFunc("/api/gaps/", h.gapsHandler)
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", cfg.HTTPAddr).Info("candle service listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("http server: %v", err)
	}
}

// handlers maps the HTTP surface onto ChartService calls.
type handlers struct {
	svc    *service.ChartService
	logger *logrus.Logger
}

func (h *handlers) series(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := pathToken(r.URL.Path, "/api/series/")
	if token == "" {
		http.Error(w, "token address required", http.StatusBadRequest)
		return
	}

	opts := service.SeriesOptions{
		Days:      queryInt(r, "days", 0),
		Timeframe: domain.Timeframe(r.URL.Query().Get("timeframe")),
		Force:     r.URL.Query().Get("force") == "true",
	}
	if opts.Timeframe != "" && !opts.Timeframe.Valid() {
		http.Error(w, "unknown timeframe", http.StatusBadRequest)
		return
	}

	resp, err := h.svc.GetSeries(r.Context(), token, opts)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) clearCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := pathToken(r.URL.Path, "/api/cache/")
	if token == "" {
		http.Error(w, "token address required", http.StatusBadRequest)
		return
	}

	if err := h.svc.ClearCache(r.Context(), token); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *handlers) appendHistorical(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	token := pathToken(r.URL.Path, "/api/historical/")
	if token == "" {
		http.Error(w, "token address required", http.StatusBadRequest)
		return
	}

	result, err := h.svc.AppendHistorical(r.Context(), token, queryInt(r, "batches", 1))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handlers) gapsHandler(w http.ResponseWriter, r *http.Request) {
	token := pathToken(r.URL.Path, "/api/gaps/")
	if token == "" {
		http.Error(w, "token address required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		found, err := h.svc.DetectGaps(r.Context(), token)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"gaps": found})
	case http.MethodPost:
		filled, err := h.svc.FixGaps(r.Context(), token)
		if err != nil {
			h.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"candlesFilled": filled})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *handlers) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pools.ErrNoPoolFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, refresh.ErrRefreshInProgress):
		w.Header().Set("Retry-After", "5")
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case errors.Is(err, subgraph.ErrUpstreamUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Errorf("request failed: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func pathToken(path, prefix string) string {
	return strings.ToLower(strings.Trim(strings.TrimPrefix(path, prefix), "/"))
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
