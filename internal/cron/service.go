package cron

import (
	"context"
	"errors"
	"time"

	"github.com/odoobridge/sync-backend/pkg/logger"
	"github.com/odoobridge/sync-backend/pkg/metrics"
)

const defaultInterval = time.Hour

// ServiceParams holds the dependencies for the cron Service.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
}

// Service runs registered housekeeping jobs on a fixed interval,
// guarded by a distributed lock so only one replica executes a cycle.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Registry == nil {
		return nil, errors.New("registry is required")
	}
	if params.Lock == nil {
		return nil, errors.New("lock is required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
	}, nil
}

// Run blocks until ctx is cancelled, executing one cycle per interval.
// The first cycle runs immediately on startup.
func (s *Service) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Service) runCycle(ctx context.Context) {
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		s.logg.Error(ctx, "failed to acquire cron lock", err)
		return
	}
	if !acquired {
		s.logg.Info(ctx, "cron cycle skipped, another replica holds the lock")
		return
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Error(ctx, "failed to release cron lock", err)
		}
	}()

	for _, job := range s.registry.Jobs() {
		s.runJob(ctx, job)
	}
}

func (s *Service) runJob(ctx context.Context, job Job) {
	ctx = s.logg.WithField(ctx, "cron_job", job.Name())
	start := time.Now()

	err := job.Run(ctx)
	duration := time.Since(start)

	s.metrics.ObserveDuration(job.Name(), duration)
	if err != nil {
		s.metrics.IncFailure(job.Name())
		s.logg.Error(ctx, "cron job failed", err)
		return
	}
	s.metrics.IncSuccess(job.Name())
	s.logg.Info(s.logg.WithField(ctx, "duration", duration.String()), "cron job completed")
}
