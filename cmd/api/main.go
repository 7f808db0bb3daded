package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odoobridge/sync-backend/api/routes"
	"github.com/odoobridge/sync-backend/internal/engine"
	"github.com/odoobridge/sync-backend/internal/mapping"
	"github.com/odoobridge/sync-backend/internal/pglock"
	"github.com/odoobridge/sync-backend/internal/queue"
	"github.com/odoobridge/sync-backend/pkg/config"
	"github.com/odoobridge/sync-backend/pkg/db"
	"github.com/odoobridge/sync-backend/pkg/logger"
	"github.com/odoobridge/sync-backend/pkg/metrics"
	"github.com/odoobridge/sync-backend/pkg/migrate"
	"github.com/odoobridge/sync-backend/pkg/redis"
)

const queueLockName = "odoosync:queue"

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	queueSvc, err := queue.NewService(queue.ServiceParams{
		Logger:      logg,
		DB:          dbClient,
		Repository:  queue.NewRepository(dbClient.DB()),
		MaxAttempts: cfg.Sync.MaxAttempts,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create queue service", err)
		os.Exit(1)
	}

	mappingSvc, err := mapping.NewService(mapping.ServiceParams{
		Logger:     logg,
		Repository: mapping.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create mapping service", err)
		os.Exit(1)
	}

	sqlDB, err := dbClient.SQLDB()
	if err != nil {
		logg.Error(context.Background(), "failed to expose sql pool", err)
		os.Exit(1)
	}

	queueLock, err := pglock.New(sqlDB, queueLockName, cfg.Sync.LockTimeout)
	if err != nil {
		logg.Error(context.Background(), "failed to create queue lock", err)
		os.Exit(1)
	}

	// The run-now endpoint drives the same engine the worker does; the
	// advisory lock keeps the two from overlapping.
	engineSvc, err := engine.NewService(engine.ServiceParams{
		Logger:    logg,
		Queue:     queueSvc,
		Lock:      queueLock,
		Registry:  engine.Registry{},
		Mappings:  mappingSvc,
		Metrics:   metrics.NewSyncMetrics(prometheus.DefaultRegisterer),
		BatchSize: cfg.Sync.BatchSize,
		DryRun:    cfg.Sync.DryRun,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create sync engine", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: routes.NewRouter(cfg, logg, dbClient, redisClient, queueSvc, engineSvc, prometheus.DefaultGatherer),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
