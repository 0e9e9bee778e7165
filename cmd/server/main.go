package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/omniquery/fanout-api/cmd"
	"github.com/omniquery/fanout-api/internal/adapters/providers"
	"github.com/omniquery/fanout-api/internal/analytics"
	"github.com/omniquery/fanout-api/internal/cache"
	cachememory "github.com/omniquery/fanout-api/internal/cache/memory"
	cacheredis "github.com/omniquery/fanout-api/internal/cache/redis"
	"github.com/omniquery/fanout-api/internal/config"
	"github.com/omniquery/fanout-api/internal/configcache"
	"github.com/omniquery/fanout-api/internal/domain"
	"github.com/omniquery/fanout-api/internal/orchestrator"
	"github.com/omniquery/fanout-api/internal/platform/logger"
	"github.com/omniquery/fanout-api/internal/platform/otel"
	"github.com/omniquery/fanout-api/internal/registry"
	"github.com/omniquery/fanout-api/internal/retry"
	"github.com/omniquery/fanout-api/internal/server"
	"github.com/omniquery/fanout-api/internal/store/sqlite"
	"github.com/omniquery/fanout-api/internal/streamer"

	// Import providers to trigger init() registration
	_ "github.com/omniquery/fanout-api/internal/adapters/providers/anthropic"
	_ "github.com/omniquery/fanout-api/internal/adapters/providers/google"
	_ "github.com/omniquery/fanout-api/internal/adapters/providers/ollama"
	_ "github.com/omniquery/fanout-api/internal/adapters/providers/openai"
)

func main() {
	logger.Initialize(logger.DefaultConfig())
	log := logger.Get()
	defer logger.Sync()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	shutdownTracer, err := otel.InitTracer("fanout-api", cmd.AppVersion, log, os.Stdout)
	if err != nil {
		log.Fatal("failed to init tracer", zap.Error(err))
	}

	go cmd.CheckForUpdates()

	repo, err := sqlite.NewSQLiteStorage(cfg.Store.DSN, log)
	if err != nil {
		log.Fatal("failed to open store", zap.Error(err))
	}
	defer repo.Close()

	snapshots := configcache.New(repo, log, cfg.Cache.SnapshotTTL, fallbackSnapshot(cfg))

	adapters := buildAdapters(cfg, log)
	if len(adapters) == 0 {
		log.Warn("no provider adapters configured; every request will be blocked")
	}

	engine := retry.NewEngine(log, retry.NewThrottleRegistry(cfg.Retry.ThrottleRPS, cfg.Retry.ThrottleBurst))
	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	}

	ingestor := analytics.NewIngestor(log, repo)
	ingestCtx, stopIngest := context.WithCancel(context.Background())
	ingestor.Start(ingestCtx)

	respCache := buildResponseCache(cfg, log)

	orch := orchestrator.New(snapshots, adapters, engine, policy, log, ingestor)
	strm := streamer.New(snapshots, adapters, engine, policy, log, ingestor)

	srv := server.New(cfg, log, server.Deps{
		Aggregator: orch,
		Streamer:   strm,
		Snapshots:  snapshots,
		RespCache:  respCache,
		Requests:   repo.Requests(),
	})

	httpServer := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: srv.Handler(),
	}

	go func() {
		log.Info("starting server", zap.String("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}

	stopIngest()
	ingestor.Stop()

	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Error("tracer shutdown failed", zap.Error(err))
	}
}

// buildAdapters constructs one adapter per configured provider via the
// type registry. A bad entry is skipped, not fatal.
func buildAdapters(cfg *config.Config, log *zap.Logger) map[string]providers.Adapter {
	adapters := make(map[string]providers.Adapter)
	for _, pCfg := range cfg.Providers {
		factory, err := registry.Get(pCfg.Type)
		if err != nil {
			log.Error("unknown provider type", zap.String("id", pCfg.ID), zap.String("type", pCfg.Type), zap.Error(err))
			continue
		}
		adapter, err := factory(pCfg)
		if err != nil {
			log.Error("failed to create provider", zap.String("id", pCfg.ID), zap.Error(err))
			continue
		}
		adapters[pCfg.ID] = adapter
		log.Info("registered provider", zap.String("id", pCfg.ID), zap.String("type", pCfg.Type))
	}
	return adapters
}

// fallbackSnapshot derives a minimal snapshot from static config so the
// service can answer before the store's first successful load.
func fallbackSnapshot(cfg *config.Config) *domain.ConfigSnapshot {
	snap := &domain.ConfigSnapshot{
		Providers: make(map[string]domain.ProviderConfig),
	}
	for _, p := range cfg.Providers {
		pc := domain.ProviderConfig{ID: p.ID, Enabled: true}
		if m := p.Config["default_model"]; m != "" {
			pc.DefaultModel = m
			snap.Models = append(snap.Models, domain.ModelConfig{
				Provider: p.ID,
				ModelID:  m,
				IsActive: true,
			})
		}
		snap.Providers[p.ID] = pc
	}
	return snap
}

func buildResponseCache(cfg *config.Config, log *zap.Logger) cache.CacheService {
	if cfg.Cache.ResponseTTL <= 0 {
		return nil
	}
	if cfg.Redis.Enabled {
		rc, err := cacheredis.NewRedisCache(context.Background(), cfg.Redis.URL)
		if err != nil {
			log.Warn("redis unavailable, using in-memory response cache", zap.Error(err))
			return cachememory.NewMemoryCache()
		}
		log.Info("using redis response cache")
		return rc
	}
	return cachememory.NewMemoryCache()
}
