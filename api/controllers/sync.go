package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odoobridge/sync-backend/api/responses"
	"github.com/odoobridge/sync-backend/api/validators"
	"github.com/odoobridge/sync-backend/internal/queue"
	"github.com/odoobridge/sync-backend/pkg/db/models"
	pkgerrors "github.com/odoobridge/sync-backend/pkg/errors"
	"github.com/odoobridge/sync-backend/pkg/logger"
)

// queueService is the queue surface the controllers depend on.
type queueService interface {
	Enqueue(ctx context.Context, params queue.EnqueueParams) (uuid.UUID, error)
	GetStats(ctx context.Context) (queue.Stats, error)
	Pending(ctx context.Context, module, entityType string) ([]models.SyncJob, error)
	RetryFailed(ctx context.Context) (int64, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}

// engineRunner triggers one synchronous queue pass.
type engineRunner interface {
	ProcessQueue(ctx context.Context) (int, error)
}

// SyncEnqueue accepts a job from a CMS hook and queues it.
func SyncEnqueue(svc queueService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "queue service unavailable"))
			return
		}

		var params queue.EnqueueParams
		if err := validators.DecodeJSONBody(r, &params); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		id, err := svc.Enqueue(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"job_id": id.String()})
	}
}

// SyncRunNow runs one queue pass inline and reports how many jobs ran.
func SyncRunNow(engine engineRunner, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync engine unavailable"))
			return
		}

		start := time.Now()
		processed, err := engine.ProcessQueue(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sync run failed"))
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"processed":   processed,
			"duration_ms": time.Since(start).Milliseconds(),
		})
	}
}

// SyncStats returns aggregate queue counts.
func SyncStats(svc queueService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "queue service unavailable"))
			return
		}

		stats, err := svc.GetStats(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, stats)
	}
}

// SyncPending lists queued jobs for a module, optionally narrowed by
// entity type.
func SyncPending(svc queueService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "queue service unavailable"))
			return
		}

		module := strings.TrimSpace(r.URL.Query().Get("module"))
		entityType := strings.TrimSpace(r.URL.Query().Get("entity_type"))

		jobs, err := svc.Pending(r.Context(), module, entityType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]any{
			"jobs":  jobs,
			"count": len(jobs),
		})
	}
}

// SyncRetryFailed resets failed jobs back to pending.
func SyncRetryFailed(svc queueService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "queue service unavailable"))
			return
		}

		count, err := svc.RetryFailed(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]int64{"reset": count})
	}
}

// SyncCancel removes a queued job by id.
func SyncCancel(svc queueService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "queue service unavailable"))
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "jobId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job id"))
			return
		}

		removed, err := svc.Cancel(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !removed {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "job not found"))
			return
		}
		responses.WriteSuccess(w, map[string]string{"cancelled": id.String()})
	}
}
