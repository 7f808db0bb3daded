package routes

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odoobridge/sync-backend/api/controllers"
	"github.com/odoobridge/sync-backend/api/middleware"
	"github.com/odoobridge/sync-backend/internal/queue"
	"github.com/odoobridge/sync-backend/pkg/config"
	"github.com/odoobridge/sync-backend/pkg/db/models"
	"github.com/odoobridge/sync-backend/pkg/logger"

	"github.com/google/uuid"
)

type queueService interface {
	Enqueue(ctx context.Context, params queue.EnqueueParams) (uuid.UUID, error)
	GetStats(ctx context.Context) (queue.Stats, error)
	Pending(ctx context.Context, module, entityType string) ([]models.SyncJob, error)
	RetryFailed(ctx context.Context) (int64, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
}

type engineRunner interface {
	ProcessQueue(ctx context.Context) (int, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// NewRouter assembles the admin/trigger HTTP surface.
func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	database pinger,
	cache pinger,
	queueSvc queueService,
	engineSvc engineRunner,
	gatherer prometheus.Gatherer,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, database, cache))
	})

	if gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1/sync", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.Post("/jobs", controllers.SyncEnqueue(queueSvc, logg))
		r.Get("/jobs", controllers.SyncPending(queueSvc, logg))
		r.Delete("/jobs/{jobId}", controllers.SyncCancel(queueSvc, logg))
		r.Get("/stats", controllers.SyncStats(queueSvc, logg))
		r.Post("/run", controllers.SyncRunNow(engineSvc, logg))
		r.Post("/retry-failed", controllers.SyncRetryFailed(queueSvc, logg))
	})

	return r
}
