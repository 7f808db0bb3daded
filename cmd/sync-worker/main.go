package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/odoobridge/sync-backend/internal/cron"
	"github.com/odoobridge/sync-backend/internal/engine"
	"github.com/odoobridge/sync-backend/internal/mapping"
	"github.com/odoobridge/sync-backend/internal/notify"
	"github.com/odoobridge/sync-backend/internal/pglock"
	"github.com/odoobridge/sync-backend/internal/queue"
	"github.com/odoobridge/sync-backend/pkg/config"
	"github.com/odoobridge/sync-backend/pkg/db"
	"github.com/odoobridge/sync-backend/pkg/logger"
	"github.com/odoobridge/sync-backend/pkg/metrics"
	"github.com/odoobridge/sync-backend/pkg/migrate"
	"github.com/odoobridge/sync-backend/pkg/redis"
)

const (
	queueLockName     = "odoosync:queue"
	cronLockKeyFormat = "odoosync:cron-lock:%s"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "sync-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "sync-worker"

	logg = logger.New(logger.Options{
		ServiceName: "sync-worker",
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

	syncMetrics := metrics.NewSyncMetrics(prometheus.DefaultRegisterer)

	// Module implementations are registered per deployment; the engine runs
	// an empty registry cleanly (every job fails as module-not-registered).
	registry := engine.Registry{}

	engineParams := engine.ServiceParams{
		Logger:    logg,
		Queue:     queueSvc,
		Lock:      queueLock,
		Registry:  registry,
		Mappings:  mappingSvc,
		Metrics:   syncMetrics,
		BatchSize: cfg.Sync.BatchSize,
		DryRun:    cfg.Sync.DryRun,
	}
	if notifier := buildNotifier(cfg, logg); notifier != nil {
		engineParams.Notifier = notifier
	}

	engineSvc, err := engine.NewService(engineParams)
	if err != nil {
		logg.Error(context.Background(), "failed to create sync engine", err)
		os.Exit(1)
	}

	cronSvc, err := buildCronService(cfg, logg, redisClient, queueSvc)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting sync worker")

	go func() {
		if err := cronSvc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logg.Error(ctx, "cron loop stopped unexpectedly", err)
		}
	}()

	runEngineLoop(ctx, logg, engineSvc, cfg.Sync.PollInterval)

	logg.Info(ctx, "sync worker shutting down gracefully")
}

func runEngineLoop(ctx context.Context, logg *logger.Logger, engineSvc *engine.Service, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	runOnce(ctx, logg, engineSvc)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runOnce(ctx, logg, engineSvc)
		}
	}
}

func runOnce(ctx context.Context, logg *logger.Logger, engineSvc *engine.Service) {
	processed, err := engineSvc.ProcessQueue(ctx)
	if err != nil {
		logg.Error(ctx, "sync pass failed", err)
		return
	}
	if processed > 0 {
		logg.Info(logg.WithField(ctx, "processed", processed), "sync pass complete")
	}
}

func buildNotifier(cfg *config.Config, logg *logger.Logger) *notify.Service {
	if !cfg.Notify.Enabled() {
		logg.Warn(context.Background(), "failure notifications disabled, smtp or admin email not configured")
		return nil
	}

	mailer, err := notify.NewSMTPMailer(cfg.Notify)
	if err != nil {
		logg.Error(context.Background(), "failed to create smtp mailer", err)
		os.Exit(1)
	}
	notifier, err := notify.NewService(notify.ServiceParams{
		Logger:     logg,
		Mailer:     mailer,
		AdminEmail: cfg.Notify.AdminEmail,
		Threshold:  cfg.Notify.FailureThreshold,
		Cooldown:   cfg.Notify.Cooldown,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create failure notifier", err)
		os.Exit(1)
	}
	return notifier
}

func buildCronService(cfg *config.Config, logg *logger.Logger, redisClient *redis.Client, queueSvc *queue.Service) (*cron.Service, error) {
	lock, err := cron.NewRedisLock(redisClient, cronLockKey(cfg.App.Env), 0)
	if err != nil {
		return nil, err
	}

	retentionJob, err := cron.NewQueueRetentionJob(cron.QueueRetentionJobParams{
		Logger:        logg,
		Queue:         queueSvc,
		RetentionDays: cfg.Sync.RetentionDays,
	})
	if err != nil {
		return nil, err
	}

	reclaimJob, err := cron.NewProcessingReclaimJob(cron.ProcessingReclaimJobParams{
		Logger: logg,
		Queue:  queueSvc,
		MaxAge: cfg.Sync.ReclaimMaxAge,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(retentionJob, reclaimJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
}

func cronLockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(cronLockKeyFormat, env)
}
