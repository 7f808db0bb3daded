package mapping

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/odoobridge/sync-backend/internal/repo"
	"github.com/odoobridge/sync-backend/pkg/db/models"
)

// Repository owns all SQL against the entity_mappings table.
type Repository struct {
	repo.Base
}

// NewRepository constructs a mapping repository backed by the provided GORM connection.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// GetByLocal returns the mapping for a local id, or nil when absent.
func (r *Repository) GetByLocal(ctx context.Context, module, entityType string, localID int64) (*models.EntityMapping, error) {
	var row models.EntityMapping
	err := r.DB(ctx).
		Where("module = ? AND entity_type = ? AND local_id = ?", module, entityType, localID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// GetByRemote returns the mapping for a remote id, or nil when absent.
func (r *Repository) GetByRemote(ctx context.Context, module, entityType string, remoteID int64) (*models.EntityMapping, error) {
	var row models.EntityMapping
	err := r.DB(ctx).
		Where("module = ? AND entity_type = ? AND remote_id = ?", module, entityType, remoteID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// Upsert writes the mapping with replace-on-conflict semantics keyed by
// (module, entity_type, local_id).
func (r *Repository) Upsert(ctx context.Context, row *models.EntityMapping) error {
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "module"},
				{Name: "entity_type"},
				{Name: "local_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{
				"remote_id",
				"remote_model",
				"sync_hash",
				"last_synced_at",
			}),
		}).
		Create(row).Error
}

// Delete removes the mapping row, reporting whether anything was deleted.
func (r *Repository) Delete(ctx context.Context, module, entityType string, localID int64) (bool, error) {
	result := r.DB(ctx).
		Where("module = ? AND entity_type = ? AND local_id = ?", module, entityType, localID).
		Delete(&models.EntityMapping{})
	return result.RowsAffected > 0, result.Error
}

// BatchByLocal resolves N local ids in one round trip. Missing ids are simply
// absent from the result.
func (r *Repository) BatchByLocal(ctx context.Context, module, entityType string, localIDs []int64) ([]models.EntityMapping, error) {
	if len(localIDs) == 0 {
		return nil, nil
	}
	var rows []models.EntityMapping
	err := r.DB(ctx).
		Where("module = ? AND entity_type = ? AND local_id IN ?", module, entityType, localIDs).
		Find(&rows).Error
	return rows, err
}

// BatchByRemote resolves N remote ids in one round trip.
func (r *Repository) BatchByRemote(ctx context.Context, module, entityType string, remoteIDs []int64) ([]models.EntityMapping, error) {
	if len(remoteIDs) == 0 {
		return nil, nil
	}
	var rows []models.EntityMapping
	err := r.DB(ctx).
		Where("module = ? AND entity_type = ? AND remote_id IN ?", module, entityType, remoteIDs).
		Find(&rows).Error
	return rows, err
}

// AllForModuleEntity loads every mapping for one module/entity pair.
func (r *Repository) AllForModuleEntity(ctx context.Context, module, entityType string) ([]models.EntityMapping, error) {
	var rows []models.EntityMapping
	err := r.DB(ctx).
		Where("module = ? AND entity_type = ?", module, entityType).
		Find(&rows).Error
	return rows, err
}
