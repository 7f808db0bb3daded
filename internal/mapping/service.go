package mapping

import (
	"context"
	"errors"
	"time"

	"github.com/odoobridge/sync-backend/pkg/db/models"
	pkgerrors "github.com/odoobridge/sync-backend/pkg/errors"
	"github.com/odoobridge/sync-backend/pkg/logger"
)

type repository interface {
	GetByLocal(ctx context.Context, module, entityType string, localID int64) (*models.EntityMapping, error)
	GetByRemote(ctx context.Context, module, entityType string, remoteID int64) (*models.EntityMapping, error)
	Upsert(ctx context.Context, row *models.EntityMapping) error
	Delete(ctx context.Context, module, entityType string, localID int64) (bool, error)
	BatchByLocal(ctx context.Context, module, entityType string, localIDs []int64) ([]models.EntityMapping, error)
	BatchByRemote(ctx context.Context, module, entityType string, remoteIDs []int64) ([]models.EntityMapping, error)
	AllForModuleEntity(ctx context.Context, module, entityType string) ([]models.EntityMapping, error)
}

// ServiceParams wires the mapping service dependencies.
type ServiceParams struct {
	Logger     *logger.Logger
	Repository repository
}

// Service is the Entity Mapping Store: a read-through/write-through cache
// over the durable bidirectional identity map.
type Service struct {
	logg  *logger.Logger
	repo  repository
	cache *cache
	now   func() time.Time
}

// NewService builds a mapping service with an empty cache.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Repository == nil {
		return nil, errors.New("mapping repository is required")
	}
	return &Service{
		logg:  params.Logger,
		repo:  params.Repository,
		cache: newCache(),
		now:   time.Now,
	}, nil
}

// GetRemoteID resolves a local id to its remote counterpart. Returns 0 when
// no mapping exists.
func (s *Service) GetRemoteID(ctx context.Context, module, entityType string, localID int64) (int64, error) {
	key := localKey{module: module, entityType: entityType, localID: localID}
	if entry, ok := s.cache.getRemote(key); ok {
		return entry.remoteID, nil
	}

	row, err := s.repo.GetByLocal(ctx, module, entityType, localID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve remote id")
	}
	if row == nil {
		return 0, nil
	}
	s.cache.put(module, entityType, row.LocalID, row.RemoteID, row.SyncHash)
	return row.RemoteID, nil
}

// GetLocalID resolves a remote id to its local counterpart. Returns 0 when
// no mapping exists.
func (s *Service) GetLocalID(ctx context.Context, module, entityType string, remoteID int64) (int64, error) {
	key := remoteKey{module: module, entityType: entityType, remoteID: remoteID}
	if localID, ok := s.cache.getLocal(key); ok {
		return localID, nil
	}

	row, err := s.repo.GetByRemote(ctx, module, entityType, remoteID)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve local id")
	}
	if row == nil {
		return 0, nil
	}
	s.cache.put(module, entityType, row.LocalID, row.RemoteID, row.SyncHash)
	return row.LocalID, nil
}

// GetSyncHash returns the stored content fingerprint for a local id, if any.
func (s *Service) GetSyncHash(ctx context.Context, module, entityType string, localID int64) (string, error) {
	key := localKey{module: module, entityType: entityType, localID: localID}
	if entry, ok := s.cache.getRemote(key); ok {
		return entry.syncHash, nil
	}

	row, err := s.repo.GetByLocal(ctx, module, entityType, localID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "resolve sync hash")
	}
	if row == nil {
		return "", nil
	}
	s.cache.put(module, entityType, row.LocalID, row.RemoteID, row.SyncHash)
	return row.SyncHash, nil
}

// Save upserts the mapping and updates both cache directions. last_synced_at
// is always refreshed to now.
func (s *Service) Save(ctx context.Context, module, entityType string, localID, remoteID int64, remoteModel, syncHash string) error {
	if module == "" || entityType == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "module and entity type are required")
	}
	if localID == 0 || remoteID == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "local and remote ids are required")
	}

	row := &models.EntityMapping{
		Module:       module,
		EntityType:   entityType,
		LocalID:      localID,
		RemoteID:     remoteID,
		RemoteModel:  remoteModel,
		SyncHash:     syncHash,
		LastSyncedAt: s.now().UTC(),
	}
	if err := s.repo.Upsert(ctx, row); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "save entity mapping")
	}
	s.cache.put(module, entityType, localID, remoteID, syncHash)
	return nil
}

// Remove deletes the mapping and invalidates both cache directions. Returns
// whether anything was deleted.
func (s *Service) Remove(ctx context.Context, module, entityType string, localID int64) (bool, error) {
	deleted, err := s.repo.Delete(ctx, module, entityType, localID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "remove entity mapping")
	}
	s.cache.remove(module, entityType, localID)
	return deleted, nil
}

// GetRemoteIDsBatch resolves many local ids in one round trip. The result
// contains only the subset that is mapped.
func (s *Service) GetRemoteIDsBatch(ctx context.Context, module, entityType string, localIDs []int64) (map[int64]int64, error) {
	rows, err := s.repo.BatchByLocal(ctx, module, entityType, localIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "batch resolve remote ids")
	}

	result := make(map[int64]int64, len(rows))
	entries := make(map[int64]cachedEntry, len(rows))
	for _, row := range rows {
		result[row.LocalID] = row.RemoteID
		entries[row.LocalID] = cachedEntry{remoteID: row.RemoteID, syncHash: row.SyncHash}
	}
	s.cache.putMany(module, entityType, entries)
	return result, nil
}

// GetLocalIDsBatch resolves many remote ids in one round trip.
func (s *Service) GetLocalIDsBatch(ctx context.Context, module, entityType string, remoteIDs []int64) (map[int64]int64, error) {
	rows, err := s.repo.BatchByRemote(ctx, module, entityType, remoteIDs)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "batch resolve local ids")
	}

	result := make(map[int64]int64, len(rows))
	entries := make(map[int64]cachedEntry, len(rows))
	for _, row := range rows {
		result[row.RemoteID] = row.LocalID
		entries[row.LocalID] = cachedEntry{remoteID: row.RemoteID, syncHash: row.SyncHash}
	}
	s.cache.putMany(module, entityType, entries)
	return result, nil
}

// ModuleMapping is one resolved pair in a bulk load.
type ModuleMapping struct {
	RemoteID int64  `json:"remote_id"`
	SyncHash string `json:"sync_hash"`
}

// GetModuleEntityMappings bulk-loads every mapping for a module/entity pair
// and pre-warms the cache, for full-resync scenarios.
func (s *Service) GetModuleEntityMappings(ctx context.Context, module, entityType string) (map[int64]ModuleMapping, error) {
	rows, err := s.repo.AllForModuleEntity(ctx, module, entityType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load module mappings")
	}

	result := make(map[int64]ModuleMapping, len(rows))
	entries := make(map[int64]cachedEntry, len(rows))
	for _, row := range rows {
		result[row.LocalID] = ModuleMapping{RemoteID: row.RemoteID, SyncHash: row.SyncHash}
		entries[row.LocalID] = cachedEntry{remoteID: row.RemoteID, syncHash: row.SyncHash}
	}
	s.cache.putMany(module, entityType, entries)
	return result, nil
}

// FlushCache clears the in-process cache only; durable storage is untouched.
// The engine calls this at the start of every processing cycle so a
// long-lived worker never serves stale mappings across ticks.
func (s *Service) FlushCache() {
	s.cache.flush()
}
