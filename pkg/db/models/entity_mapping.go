package models

import "time"

// EntityMapping records the durable correspondence between one local CMS
// record and the Odoo record it was materialized as. The composite
// (module, entity_type, local_id) key is unique; it is the single source of
// truth for "has this record already been pushed, and as what".
type EntityMapping struct {
	ID           int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Module       string    `gorm:"column:module;not null;uniqueIndex:uq_entity_mappings_local"`
	EntityType   string    `gorm:"column:entity_type;not null;uniqueIndex:uq_entity_mappings_local"`
	LocalID      int64     `gorm:"column:local_id;not null;uniqueIndex:uq_entity_mappings_local"`
	RemoteID     int64     `gorm:"column:remote_id;not null;index:idx_entity_mappings_remote"`
	RemoteModel  string    `gorm:"column:remote_model;not null"`
	SyncHash     string    `gorm:"column:sync_hash"`
	LastSyncedAt time.Time `gorm:"column:last_synced_at;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName pins the table name irrespective of GORM pluralization rules.
func (EntityMapping) TableName() string { return "entity_mappings" }
