package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/odoobridge/sync-backend/pkg/enums"
)

// SyncJob is one queued unit of synchronization work between a local CMS
// entity and its Odoo counterpart.
type SyncJob struct {
	ID           uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Module       string              `gorm:"column:module;not null;index:idx_sync_jobs_target"`
	EntityType   string              `gorm:"column:entity_type;not null;index:idx_sync_jobs_target"`
	Direction    enums.SyncDirection `gorm:"column:direction;not null;default:to_remote;index:idx_sync_jobs_target"`
	Action       enums.SyncAction    `gorm:"column:action;not null;default:update"`
	LocalID      int64               `gorm:"column:local_id;not null;default:0;index:idx_sync_jobs_target"`
	RemoteID     int64               `gorm:"column:remote_id;not null;default:0"`
	Payload      json.RawMessage     `gorm:"column:payload;type:jsonb"`
	Status       enums.JobStatus     `gorm:"column:status;not null;default:pending;index:idx_sync_jobs_due"`
	Attempts     int                 `gorm:"column:attempts;not null;default:0"`
	MaxAttempts  int                 `gorm:"column:max_attempts;not null;default:3"`
	Priority     int                 `gorm:"column:priority;not null;default:5"`
	ScheduledAt  time.Time           `gorm:"column:scheduled_at;not null;index:idx_sync_jobs_due"`
	ErrorMessage *string             `gorm:"column:error_message"`
	CreatedAt    time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName pins the table name irrespective of GORM pluralization rules.
func (SyncJob) TableName() string { return "sync_jobs" }
