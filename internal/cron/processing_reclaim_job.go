package cron

import (
	"context"
	"errors"
	"time"

	"github.com/odoobridge/sync-backend/pkg/logger"
)

const defaultReclaimMaxAge = 30 * time.Minute

// stuckReclaimer resets processing jobs abandoned by crashed workers.
type stuckReclaimer interface {
	ReclaimStuck(ctx context.Context, maxAge time.Duration) (int64, error)
}

// ProcessingReclaimJobParams configures the reclaim job.
type ProcessingReclaimJobParams struct {
	Logger *logger.Logger
	Queue  stuckReclaimer
	MaxAge time.Duration
}

// ProcessingReclaimJob returns jobs stuck in processing back to pending
// so they become eligible for the next cycle. A job stays in processing
// only while a worker holds the queue lock, so anything older than the
// max age belongs to a worker that died mid-batch.
type ProcessingReclaimJob struct {
	logg   *logger.Logger
	queue  stuckReclaimer
	maxAge time.Duration
}

func NewProcessingReclaimJob(params ProcessingReclaimJobParams) (*ProcessingReclaimJob, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Queue == nil {
		return nil, errors.New("queue service is required")
	}
	maxAge := params.MaxAge
	if maxAge <= 0 {
		maxAge = defaultReclaimMaxAge
	}
	return &ProcessingReclaimJob{
		logg:   params.Logger,
		queue:  params.Queue,
		maxAge: maxAge,
	}, nil
}

func (j *ProcessingReclaimJob) Name() string {
	return "processing-reclaim"
}

func (j *ProcessingReclaimJob) Run(ctx context.Context) error {
	reclaimed, err := j.queue.ReclaimStuck(ctx, j.maxAge)
	if err != nil {
		return err
	}
	if reclaimed > 0 {
		j.logg.Info(j.logg.WithField(ctx, "reclaimed", reclaimed), "reclaimed stuck processing jobs")
	}
	return nil
}
