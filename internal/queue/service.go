package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgdb "github.com/odoobridge/sync-backend/pkg/db"
	"github.com/odoobridge/sync-backend/pkg/db/models"
	"github.com/odoobridge/sync-backend/pkg/enums"
	pkgerrors "github.com/odoobridge/sync-backend/pkg/errors"
	"github.com/odoobridge/sync-backend/pkg/logger"
)

// MaxPayloadBytes caps the serialized payload size. An oversized payload is a
// module bug, not a transient condition, so enqueue rejects it outright.
const MaxPayloadBytes = 64 << 10

const (
	defaultPriority    = 5
	defaultMaxAttempts = 3
)

// activeTargetConstraint is the partial unique index over
// (module, entity_type, local_id, direction) on non-terminal rows. It backs
// the dedup read at the database level.
const activeTargetConstraint = "uq_sync_jobs_active_target"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type repository interface {
	FindActiveForTarget(tx *gorm.DB, module, entityType string, localID int64, direction enums.SyncDirection) (*models.SyncJob, error)
	InsertTx(tx *gorm.DB, job *models.SyncJob) error
	RefreshTx(tx *gorm.DB, id uuid.UUID, updates map[string]any) error
	FetchDue(ctx context.Context, limit int, now time.Time) ([]models.SyncJob, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status enums.JobStatus, extra map[string]any) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ResetFailed(ctx context.Context, now time.Time) (int64, error)
	Pending(ctx context.Context, module, entityType string) ([]models.SyncJob, error)
	Stats(ctx context.Context) (Stats, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	ReclaimStuck(ctx context.Context, cutoff time.Time) (int64, error)
}

// ServiceParams wires the queue service dependencies.
type ServiceParams struct {
	Logger      *logger.Logger
	DB          txRunner
	Repository  repository
	MaxAttempts int
}

// Service is the Job Queue Store: validation, deduplicating enqueue, batch
// fetch, status writes, and retention maintenance.
type Service struct {
	logg        *logger.Logger
	db          txRunner
	repo        repository
	maxAttempts int
	now         func() time.Time
}

// NewService builds a queue service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("db runner is required")
	}
	if params.Repository == nil {
		return nil, errors.New("queue repository is required")
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &Service{
		logg:        params.Logger,
		db:          params.DB,
		repo:        params.Repository,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}, nil
}

// EnqueueParams describes one unit of work to queue. Only Module and
// EntityType are mandatory; everything else has a default.
type EnqueueParams struct {
	Module      string              `json:"module" validate:"required"`
	EntityType  string              `json:"entity_type" validate:"required"`
	Direction   enums.SyncDirection `json:"direction"`
	Action      enums.SyncAction    `json:"action"`
	LocalID     int64               `json:"local_id" validate:"gte=0"`
	RemoteID    int64               `json:"remote_id" validate:"gte=0"`
	Payload     json.RawMessage     `json:"payload"`
	Priority    int                 `json:"priority"`
	MaxAttempts int                 `json:"max_attempts"`
}

var validate = validator.New()

func (s *Service) applyDefaults(params *EnqueueParams) {
	if params.Direction == "" {
		params.Direction = enums.DirectionToRemote
	}
	if params.Action == "" {
		params.Action = enums.ActionUpdate
	}
	if params.Priority <= 0 {
		params.Priority = defaultPriority
	}
	if params.MaxAttempts <= 0 {
		params.MaxAttempts = s.maxAttempts
	}
}

func (s *Service) validateParams(params EnqueueParams) error {
	if err := validate.Struct(params); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid enqueue request")
	}
	if !params.Direction.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid sync direction")
	}
	if !params.Action.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid sync action")
	}
	if len(params.Payload) > MaxPayloadBytes {
		return pkgerrors.New(pkgerrors.CodeValidation, "payload exceeds size cap")
	}
	return nil
}

// Enqueue validates the request and creates a job, or refreshes the existing
// pending/processing job for the same (module, entity_type, local_id,
// direction) target. The locking read and the insert-or-update run as one
// transaction so two concurrent triggers cannot race in a duplicate.
func (s *Service) Enqueue(ctx context.Context, params EnqueueParams) (uuid.UUID, error) {
	s.applyDefaults(&params)
	if err := s.validateParams(params); err != nil {
		return uuid.Nil, err
	}

	now := s.now().UTC()
	var id uuid.UUID
	enqueueTx := func(tx *gorm.DB) error {
		existing, err := s.repo.FindActiveForTarget(tx, params.Module, params.EntityType, params.LocalID, params.Direction)
		if err != nil {
			return err
		}

		if existing != nil {
			id = existing.ID
			updates := map[string]any{
				"action":   params.Action,
				"payload":  params.Payload,
				"priority": params.Priority,
			}
			if params.RemoteID != 0 && existing.RemoteID == 0 {
				updates["remote_id"] = params.RemoteID
			}
			return s.repo.RefreshTx(tx, existing.ID, updates)
		}

		job := &models.SyncJob{
			ID:          uuid.New(),
			Module:      params.Module,
			EntityType:  params.EntityType,
			Direction:   params.Direction,
			Action:      params.Action,
			LocalID:     params.LocalID,
			RemoteID:    params.RemoteID,
			Payload:     params.Payload,
			Status:      enums.JobStatusPending,
			MaxAttempts: params.MaxAttempts,
			Priority:    params.Priority,
			ScheduledAt: now,
		}
		if err := s.repo.InsertTx(tx, job); err != nil {
			return err
		}
		id = job.ID
		return nil
	}

	err := s.db.WithTx(ctx, enqueueTx)
	if pkgdb.IsUniqueViolation(err, activeTargetConstraint) {
		// Lost the insert race to a concurrent trigger. The winner's row is
		// committed now, so a second pass finds it and refreshes instead.
		err = s.db.WithTx(ctx, enqueueTx)
	}
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "enqueue sync job")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"job_id":      id.String(),
		"module":      params.Module,
		"entity_type": params.EntityType,
		"direction":   params.Direction,
	})
	s.logg.Info(logCtx, "sync job enqueued")
	return id, nil
}

// FetchDue returns up to limit due pending jobs in processing order.
func (s *Service) FetchDue(ctx context.Context, limit int) ([]models.SyncJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	return s.repo.FetchDue(ctx, limit, s.now().UTC())
}

// UpdateStatus merges status plus extra columns into the job row.
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.JobStatus, extra map[string]any) error {
	if !status.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid job status")
	}
	return s.repo.UpdateStatus(ctx, id, status, extra)
}

// Cleanup removes terminal jobs older than the retention window, returning
// the number deleted.
func (s *Service) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "retention days must be positive")
	}
	cutoff := s.now().UTC().Add(-time.Duration(retentionDays) * 24 * time.Hour)
	deleted, err := s.repo.DeleteTerminalBefore(ctx, cutoff)
	if err != nil {
		return deleted, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "queue cleanup")
	}
	return deleted, nil
}

// RetryFailed resets every failed job back to pending for manual recovery.
func (s *Service) RetryFailed(ctx context.Context) (int64, error) {
	count, err := s.repo.ResetFailed(ctx, s.now().UTC())
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retry failed jobs")
	}
	if count > 0 {
		s.logg.Info(s.logg.WithField(ctx, "count", count), "failed jobs reset to pending")
	}
	return count, nil
}

// Pending is a diagnostic read, optionally filtered by entity type.
func (s *Service) Pending(ctx context.Context, module, entityType string) ([]models.SyncJob, error) {
	if module == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "module is required")
	}
	return s.repo.Pending(ctx, module, entityType)
}

// GetStats returns aggregate queue counts.
func (s *Service) GetStats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx)
}

// Cancel deletes a specific job, reporting whether a row was removed.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.repo.Delete(ctx, id)
}

// ReclaimStuck resets processing rows older than maxAge back to pending.
func (s *Service) ReclaimStuck(ctx context.Context, maxAge time.Duration) (int64, error) {
	if maxAge <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "reclaim max age must be positive")
	}
	cutoff := s.now().UTC().Add(-maxAge)
	count, err := s.repo.ReclaimStuck(ctx, cutoff)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reclaim stuck jobs")
	}
	if count > 0 {
		s.logg.Warn(s.logg.WithField(ctx, "count", count), "reclaimed jobs stuck in processing")
	}
	return count, nil
}
