package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odoobridge/sync-backend/internal/queue"
	"github.com/odoobridge/sync-backend/pkg/db/models"
	"github.com/odoobridge/sync-backend/pkg/enums"
	"github.com/odoobridge/sync-backend/pkg/logger"
	"github.com/odoobridge/sync-backend/pkg/metrics"
)

const defaultBatchSize = 50

type jobQueue interface {
	FetchDue(ctx context.Context, limit int) ([]models.SyncJob, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.JobStatus, extra map[string]any) error
	GetStats(ctx context.Context) (queue.Stats, error)
}

type queueLock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type mappingFlusher interface {
	FlushCache()
}

type failureNotifier interface {
	RecordFailure(ctx context.Context, message string)
	Reset()
}

// ServiceParams wires the engine dependencies.
type ServiceParams struct {
	Logger    *logger.Logger
	Queue     jobQueue
	Lock      queueLock
	Registry  Registry
	Mappings  mappingFlusher
	Notifier  failureNotifier
	Metrics   *metrics.SyncMetrics
	BatchSize int
	DryRun    bool
}

// Service drains the job queue: one lock-guarded, strictly sequential batch
// per invocation. Concurrency only ever comes from overlapping external
// triggers, which the advisory lock serializes.
type Service struct {
	logg      *logger.Logger
	queue     jobQueue
	lock      queueLock
	registry  Registry
	mappings  mappingFlusher
	notifier  failureNotifier
	metrics   *metrics.SyncMetrics
	batchSize int
	dryRun    bool
	now       func() time.Time
}

// NewService builds a sync engine.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Queue == nil {
		return nil, errors.New("job queue is required")
	}
	if params.Lock == nil {
		return nil, errors.New("queue lock is required")
	}
	if params.Registry == nil {
		params.Registry = Registry{}
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Service{
		logg:      params.Logger,
		queue:     params.Queue,
		lock:      params.Lock,
		registry:  params.Registry,
		mappings:  params.Mappings,
		notifier:  params.Notifier,
		metrics:   params.Metrics,
		batchSize: batchSize,
		dryRun:    params.DryRun,
		now:       time.Now,
	}, nil
}

// SetDryRun toggles diagnostics mode: the full pipeline runs but no module
// is ever invoked.
func (s *Service) SetDryRun(enabled bool) {
	s.dryRun = enabled
}

// ProcessQueue drains one batch of due jobs and returns how many completed.
// When another process holds the queue lock it returns 0 immediately; that is
// the expected outcome of overlapping triggers, not an error.
func (s *Service) ProcessQueue(ctx context.Context) (int, error) {
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire queue lock: %w", err)
	}
	if !acquired {
		s.logg.Info(ctx, "queue lock busy; skipping this trigger")
		return 0, nil
	}
	defer func() {
		if relErr := s.lock.Release(ctx); relErr != nil {
			s.logg.Error(ctx, "failed to release queue lock", relErr)
		}
	}()

	start := s.now()
	if s.mappings != nil {
		s.mappings.FlushCache()
	}

	jobs, err := s.queue.FetchDue(ctx, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch due jobs: %w", err)
	}

	processed := 0
	for _, job := range jobs {
		if s.processJob(ctx, job) {
			processed++
		}
	}

	s.metrics.ObserveBatch(s.now().Sub(start))
	s.publishQueueDepth(ctx)

	if len(jobs) > 0 {
		batchCtx := s.logg.WithFields(ctx, map[string]any{
			"fetched":   len(jobs),
			"completed": processed,
		})
		s.logg.Info(batchCtx, "sync batch complete")
	}
	return processed, nil
}

// processJob runs one job through the state machine and reports whether it
// reached completed.
func (s *Service) processJob(ctx context.Context, job models.SyncJob) bool {
	jobCtx := s.logg.WithFields(ctx, map[string]any{
		"job_id":      job.ID.String(),
		"module":      job.Module,
		"entity_type": job.EntityType,
		"direction":   job.Direction,
		"action":      job.Action,
	})

	if err := s.queue.UpdateStatus(ctx, job.ID, enums.JobStatusProcessing, nil); err != nil {
		s.logg.Error(jobCtx, "failed to claim job", err)
		return false
	}

	if s.dryRun {
		if err := s.queue.UpdateStatus(ctx, job.ID, enums.JobStatusCompleted, nil); err != nil {
			s.logg.Error(jobCtx, "failed to complete dry-run job", err)
			return false
		}
		s.logg.Info(jobCtx, "job skipped (dry run)")
		return true
	}

	result := s.invokeModule(ctx, job)
	if result.Succeeded() {
		extra := map[string]any{"error_message": nil}
		if result.EntityID != 0 && job.RemoteID == 0 {
			extra["remote_id"] = result.EntityID
		}
		if err := s.queue.UpdateStatus(ctx, job.ID, enums.JobStatusCompleted, extra); err != nil {
			s.logg.Error(jobCtx, "failed to complete job", err)
			return false
		}
		if s.notifier != nil {
			s.notifier.Reset()
		}
		s.metrics.IncProcessed(job.Module)
		s.logg.Info(jobCtx, "job completed")
		return true
	}

	s.handleFailure(jobCtx, job, result)
	return false
}

// invokeModule resolves and calls the module for one job. A panic inside the
// module is converted into a transient failure so one broken adapter cannot
// take down the batch.
func (s *Service) invokeModule(ctx context.Context, job models.SyncJob) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{
				Message:   fmt.Sprintf("module panic: %v", r),
				ErrorType: enums.SyncErrorTransient,
			}
		}
	}()

	module, ok := s.registry.Resolve(job.Module)
	if !ok {
		return Result{
			Message:   fmt.Sprintf("module %q not registered", job.Module),
			ErrorType: enums.SyncErrorTransient,
		}
	}

	var err error
	switch job.Direction {
	case enums.DirectionFromRemote:
		result, err = module.PullFromOdoo(ctx, job.EntityType, job.Action, job.RemoteID, job.LocalID, job.Payload)
	default:
		result, err = module.PushToOdoo(ctx, job.EntityType, job.Action, job.LocalID, job.RemoteID, job.Payload)
	}
	if err != nil {
		return Result{
			Message:   err.Error(),
			ErrorType: enums.SyncErrorTransient,
			EntityID:  result.EntityID,
		}
	}
	return result
}

func (s *Service) handleFailure(ctx context.Context, job models.SyncJob, result Result) {
	attempts := job.Attempts + 1
	message := result.Message
	if message == "" {
		message = "module reported failure"
	}
	if result.ErrorType != "" {
		message = fmt.Sprintf("[%s] %s", result.ErrorType, message)
	}

	extra := map[string]any{
		"attempts":      attempts,
		"error_message": message,
	}
	// A failed push may still have created the remote object; keep its id so
	// the retry does not create a duplicate. An existing id is never
	// overwritten, since the failure may refer to a separate operation.
	if result.EntityID != 0 && job.RemoteID == 0 {
		extra["remote_id"] = result.EntityID
	}

	status := enums.JobStatusFailed
	if attempts < job.MaxAttempts {
		status = enums.JobStatusPending
		extra["scheduled_at"] = s.now().UTC().Add(retryDelay(job.Attempts))
	}

	if err := s.queue.UpdateStatus(ctx, job.ID, status, extra); err != nil {
		s.logg.Error(ctx, "failed to record job failure", err)
	}

	s.metrics.IncFailed(job.Module)
	if s.notifier != nil {
		s.notifier.RecordFailure(ctx, message)
	}

	failCtx := s.logg.WithFields(ctx, map[string]any{
		"attempts":     attempts,
		"max_attempts": job.MaxAttempts,
		"error":        message,
	})
	if status == enums.JobStatusFailed {
		s.logg.Error(failCtx, "job failed permanently", errors.New(message))
		return
	}
	s.logg.Warn(failCtx, "job failed; retry scheduled")
}

func (s *Service) publishQueueDepth(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	stats, err := s.queue.GetStats(ctx)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "failed to read queue stats")
		return
	}
	s.metrics.SetQueueDepth(string(enums.JobStatusPending), float64(stats.Pending))
	s.metrics.SetQueueDepth(string(enums.JobStatusProcessing), float64(stats.Processing))
	s.metrics.SetQueueDepth(string(enums.JobStatusCompleted), float64(stats.Completed))
	s.metrics.SetQueueDepth(string(enums.JobStatusFailed), float64(stats.Failed))
}
