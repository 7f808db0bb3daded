package cron

import (
	"context"
	"errors"

	"github.com/odoobridge/sync-backend/pkg/logger"
)

const defaultRetentionDays = 30

// queueCleaner prunes terminal jobs older than the retention window.
type queueCleaner interface {
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

// QueueRetentionJobParams configures the retention job.
type QueueRetentionJobParams struct {
	Logger        *logger.Logger
	Queue         queueCleaner
	RetentionDays int
}

// QueueRetentionJob deletes completed and failed sync jobs that have
// aged past the retention window.
type QueueRetentionJob struct {
	logg          *logger.Logger
	queue         queueCleaner
	retentionDays int
}

func NewQueueRetentionJob(params QueueRetentionJobParams) (*QueueRetentionJob, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Queue == nil {
		return nil, errors.New("queue service is required")
	}
	retention := params.RetentionDays
	if retention <= 0 {
		retention = defaultRetentionDays
	}
	return &QueueRetentionJob{
		logg:          params.Logger,
		queue:         params.Queue,
		retentionDays: retention,
	}, nil
}

func (j *QueueRetentionJob) Name() string {
	return "queue-retention"
}

func (j *QueueRetentionJob) Run(ctx context.Context) error {
	deleted, err := j.queue.Cleanup(ctx, j.retentionDays)
	if err != nil {
		return err
	}
	if deleted > 0 {
		j.logg.Info(j.logg.WithField(ctx, "deleted", deleted), "pruned terminal sync jobs")
	}
	return nil
}
