package engine

import (
	"context"
	"encoding/json"

	"github.com/odoobridge/sync-backend/pkg/enums"
)

// Result is what a module reports back for one push or pull.
type Result struct {
	Success   bool
	Message   string
	ErrorType enums.SyncErrorType
	// EntityID is the identifier resolved by this operation, if any. A failed
	// push may still carry the remote id it managed to create before a later
	// step broke.
	EntityID int64
}

// Succeeded reports whether the operation completed.
func (r Result) Succeeded() bool { return r.Success }

// Module adapts one CMS plugin's entity types to Odoo records and back.
// Implementations live outside this engine; the engine only routes jobs to
// them and interprets their results.
type Module interface {
	PushToOdoo(ctx context.Context, entityType string, action enums.SyncAction, localID, remoteID int64, payload json.RawMessage) (Result, error)
	PullFromOdoo(ctx context.Context, entityType string, action enums.SyncAction, remoteID, localID int64, payload json.RawMessage) (Result, error)
}

// Registry maps module keys to their adapters. It is built once at process
// start and handed to the engine; an unknown key is a recoverable job
// failure, since the owning plugin may simply be deactivated right now.
type Registry map[string]Module

// Resolve returns the adapter for the given key.
func (r Registry) Resolve(key string) (Module, bool) {
	module, ok := r[key]
	return module, ok
}
