package queue

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/odoobridge/sync-backend/internal/repo"
	"github.com/odoobridge/sync-backend/pkg/db/models"
	"github.com/odoobridge/sync-backend/pkg/enums"
)

const cleanupChunkSize = 500

// Repository owns all SQL against the sync_jobs table.
type Repository struct {
	repo.Base
}

// NewRepository constructs a queue repository backed by the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// FindActiveForTarget locks and returns the pending/processing row for the
// given target key, if one exists. Must run inside a transaction so the row
// lock is held until the caller commits.
func (r *Repository) FindActiveForTarget(tx *gorm.DB, module, entityType string, localID int64, direction enums.SyncDirection) (*models.SyncJob, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}

	query := tx.
		Where("module = ? AND entity_type = ? AND local_id = ? AND direction = ?", module, entityType, localID, direction).
		Where("status IN ?", []enums.JobStatus{enums.JobStatusPending, enums.JobStatusProcessing})
	if tx.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}

	var job models.SyncJob
	if err := query.First(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &job, nil
}

// InsertTx creates a new job row inside the caller's transaction.
func (r *Repository) InsertTx(tx *gorm.DB, job *models.SyncJob) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(job).Error
}

// RefreshTx overwrites the mutable fields of an existing active job inside
// the caller's transaction.
func (r *Repository) RefreshTx(tx *gorm.DB, id uuid.UUID, updates map[string]any) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.SyncJob{}).Where("id = ?", id).Updates(updates).Error
}

// FetchDue returns up to limit pending jobs whose schedule time has passed,
// highest priority (lowest value) and oldest due first.
func (r *Repository) FetchDue(ctx context.Context, limit int, now time.Time) ([]models.SyncJob, error) {
	var rows []models.SyncJob
	err := r.DB(ctx).
		Where("status = ? AND scheduled_at <= ?", enums.JobStatusPending, now).
		Order("priority ASC").
		Order("scheduled_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// UpdateStatus merges the new status plus arbitrary extra columns into the
// row in one write.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.JobStatus, extra map[string]any) error {
	updates := map[string]any{"status": status}
	for k, v := range extra {
		updates[k] = v
	}
	return r.DB(ctx).Model(&models.SyncJob{}).Where("id = ?", id).Updates(updates).Error
}

// DeleteTerminalBefore removes completed/failed rows older than the cutoff in
// bounded chunks, returning the total number removed. Chunking keeps lock
// hold times short on a busy table.
func (r *Repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for {
		result := r.DB(ctx).Exec(
			`DELETE FROM sync_jobs WHERE id IN (
				SELECT id FROM sync_jobs
				WHERE status IN (?, ?) AND created_at < ?
				LIMIT ?
			)`,
			enums.JobStatusCompleted, enums.JobStatusFailed, cutoff, cleanupChunkSize,
		)
		if result.Error != nil {
			return total, result.Error
		}
		total += result.RowsAffected
		if result.RowsAffected < cleanupChunkSize {
			return total, nil
		}
	}
}

// ResetFailed flips every failed row back to pending with a clean attempt
// counter, for manual recovery.
func (r *Repository) ResetFailed(ctx context.Context, now time.Time) (int64, error) {
	result := r.DB(ctx).Model(&models.SyncJob{}).
		Where("status = ?", enums.JobStatusFailed).
		Updates(map[string]any{
			"status":        enums.JobStatusPending,
			"attempts":      0,
			"scheduled_at":  now,
			"error_message": nil,
		})
	return result.RowsAffected, result.Error
}

// Pending is a diagnostic read of pending jobs for a module, optionally
// narrowed to one entity type.
func (r *Repository) Pending(ctx context.Context, module, entityType string) ([]models.SyncJob, error) {
	query := r.DB(ctx).
		Where("module = ? AND status = ?", module, enums.JobStatusPending)
	if entityType != "" {
		query = query.Where("entity_type = ?", entityType)
	}

	var rows []models.SyncJob
	err := query.
		Order("priority ASC").
		Order("scheduled_at ASC").
		Find(&rows).Error
	return rows, err
}

// Stats aggregates per-status counts plus the most recent completion time.
type Stats struct {
	Pending         int64  `json:"pending"`
	Processing      int64  `json:"processing"`
	Completed       int64  `json:"completed"`
	Failed          int64  `json:"failed"`
	Total           int64  `json:"total"`
	LastCompletedAt string `json:"last_completed_at"`
}

// Stats returns aggregate queue counts and the timestamp of the most recently
// completed job (empty string when none completed yet).
func (r *Repository) Stats(ctx context.Context) (Stats, error) {
	var stats Stats

	type statusCount struct {
		Status enums.JobStatus
		Count  int64
	}
	var counts []statusCount
	err := r.DB(ctx).Model(&models.SyncJob{}).
		Select("status, COUNT(*) AS count").
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return Stats{}, err
	}

	for _, row := range counts {
		switch row.Status {
		case enums.JobStatusPending:
			stats.Pending = row.Count
		case enums.JobStatusProcessing:
			stats.Processing = row.Count
		case enums.JobStatusCompleted:
			stats.Completed = row.Count
		case enums.JobStatusFailed:
			stats.Failed = row.Count
		}
		stats.Total += row.Count
	}

	var last models.SyncJob
	err = r.DB(ctx).
		Where("status = ?", enums.JobStatusCompleted).
		Order("updated_at DESC").
		First(&last).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return Stats{}, err
		}
		return stats, nil
	}
	stats.LastCompletedAt = last.UpdatedAt.UTC().Format(time.RFC3339)
	return stats, nil
}

// Delete removes one job row, reporting whether anything was removed.
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.DB(ctx).Where("id = ?", id).Delete(&models.SyncJob{})
	return result.RowsAffected > 0, result.Error
}

// ReclaimStuck resets processing rows untouched past the cutoff back to
// pending. A row can only be stuck in processing when a previous run crashed
// between claiming it and writing a terminal status.
func (r *Repository) ReclaimStuck(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.DB(ctx).Model(&models.SyncJob{}).
		Where("status = ? AND updated_at < ?", enums.JobStatusProcessing, cutoff).
		Updates(map[string]any{"status": enums.JobStatusPending})
	return result.RowsAffected, result.Error
}
