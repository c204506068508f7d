package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/qiwenlee/fundflow/internal/api"
	"github.com/qiwenlee/fundflow/internal/cache"
	"github.com/qiwenlee/fundflow/internal/config"
	"github.com/qiwenlee/fundflow/internal/database"
	"github.com/qiwenlee/fundflow/internal/fetch"
	"github.com/qiwenlee/fundflow/internal/health"
	"github.com/qiwenlee/fundflow/internal/logging"
	"github.com/qiwenlee/fundflow/internal/providers"
	"github.com/qiwenlee/fundflow/internal/ratelimit"
	"github.com/qiwenlee/fundflow/internal/reconcile"
	"github.com/qiwenlee/fundflow/internal/service"
	"github.com/qiwenlee/fundflow/internal/store"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg.LogLevel, cfg.Environment)

	db, err := database.NewPostgresConnection(cfg.Database)
	if err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	redis, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		logger.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redis.Close()

	// Upstream adapters.
	registry := providers.NewRegistry(
		providers.NewEastmoneyClient(cfg.Providers.EastmoneyURL, cfg.Providers.FetchTimeout),
		providers.NewTiantianClient(cfg.Providers.TiantianURL, cfg.Providers.FetchTimeout),
		providers.NewSinaClient(cfg.Providers.SinaURL, cfg.Providers.FetchTimeout),
	)

	limits := ratelimit.NewRegistry()
	for _, rule := range cfg.RateLimits {
		limits.Register(rule.Provider, rule.Endpoint, rule.Capacity, rule.Period)
	}

	tracker := health.NewTracker(cfg.Providers.Primary, cfg.Providers.SuccessFloor, cfg.Providers.BackupMargin, logger)
	fetcher := fetch.NewFetcher(registry, limits, tracker, cfg.Providers, logger)

	valuationStore := store.NewValuationStore(db.Pool)

	l1 := cache.NewMemoryCache(cfg.Cache.L1MaxEntries, cfg.Cache.L1TTL)
	l2 := cache.NewSnapshotCache(redis.Client, cfg.Cache.L2TTL, cfg.Batch.SnapshotTTL, logger)
	loader := &service.PersistingLoader{Fetcher: fetcher, Store: valuationStore, Logger: logger}
	tiers := cache.NewManager(l1, l2, loader, cfg.Cache, logger)

	batch := fetch.NewBatchFetcher(fetcher, l2, cfg.Batch.Workers, logger)

	svc := service.NewNAVService(tiers, batch, fetcher, valuationStore, tracker,
		reconcile.Config{TraceWindow: cfg.Reconcile.TraceWindow}, logger)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	api.SetupRoutes(router, svc, db, redis)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Infof("Server starting on port %d", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatalf("Server forced to shutdown: %v", err)
	}

	logger.Info("Server exited")
}
