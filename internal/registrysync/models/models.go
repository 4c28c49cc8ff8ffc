// Package models holds the registry synchronization engine's data types.
// The central entity is RegistryIdentity: one row per (local entity,
// registry, external entity kind) sync step.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SyncStatus is the lifecycle state of a single sync step.
type SyncStatus string

const (
	StatusPending SyncStatus = "pending"
	StatusSyncing SyncStatus = "syncing"
	StatusSynced  SyncStatus = "synced"
	StatusError   SyncStatus = "error"
)

// EntityType tags the local domain kind an identity row refers to. Open set:
// registries may require several external representations of one local kind,
// and new kinds must be addable without a schema change.
type EntityType string

const (
	EntityFacility      EntityType = "facility"
	EntityFeedstockType EntityType = "feedstock_type"
	EntityProductionRun EntityType = "production_run"
	EntityApplication   EntityType = "application"
	EntityCreditBatch   EntityType = "credit_batch"
)

// ExternalEntityType names the registry-side concept a row represents.
type ExternalEntityType string

const (
	ExternalFacility           ExternalEntityType = "facility"
	ExternalFeedstockType      ExternalEntityType = "feedstock_type"
	ExternalProductionBatch    ExternalEntityType = "production_batch"
	ExternalStorageLocation    ExternalEntityType = "storage_location"
	ExternalBiocharApplication ExternalEntityType = "biochar_application"
	ExternalRemoval            ExternalEntityType = "removal"
	ExternalGHGStatement       ExternalEntityType = "ghg_statement"
)

// IdentityKey is the natural idempotency key of a sync step.
type IdentityKey struct {
	EntityType         EntityType
	EntityID           string
	RegistryName       string
	ExternalEntityType ExternalEntityType
}

// RegistryIdentity maps one local entity + one registry + one external entity
// kind to an external id and sync status. Rows are created lazily on the
// first sync attempt and never deleted outside administrative cleanup.
type RegistryIdentity struct {
	ID                 uuid.UUID
	EntityType         EntityType
	EntityID           string
	RegistryName       string
	ExternalEntityType ExternalEntityType
	ExternalID         *string
	SyncStatus         SyncStatus
	LastSyncedAt       *time.Time
	LastSyncError      string
	Metadata           map[string]string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Key returns the row's natural 4-tuple key.
func (r *RegistryIdentity) Key() IdentityKey {
	return IdentityKey{
		EntityType:         r.EntityType,
		EntityID:           r.EntityID,
		RegistryName:       r.RegistryName,
		ExternalEntityType: r.ExternalEntityType,
	}
}

// Synced reports whether this step completed with an external id assigned.
func (r *RegistryIdentity) Synced() bool {
	return r.SyncStatus == StatusSynced && r.ExternalID != nil
}

// Error codes carried on SyncResult so callers can distinguish failure
// classes without parsing messages.
const (
	CodeNotFound   = "not_found"
	CodeValidation = "validation"
	CodeDependency = "dependency"
	CodeTransport  = "transport"
)

// SyncResult is the value-typed outcome of one adapter sync or confirm call.
// Failures are carried here, never raised, so batch callers can aggregate.
type SyncResult struct {
	Success    bool
	RegistryID string
	Data       map[string]any
	Error      string
	ErrorCode  string
}

// OK builds a success result for a freshly synced external id.
func OK(registryID string) SyncResult {
	return SyncResult{Success: true, RegistryID: registryID}
}

// AlreadySynced builds the idempotent short-circuit result: the step had
// completed earlier and no new work was performed.
func AlreadySynced(registryID string) SyncResult {
	return SyncResult{
		Success:    true,
		RegistryID: registryID,
		Data:       map[string]any{"alreadySynced": true},
	}
}

// Fail builds a failure result with a classification code.
func Fail(code, message string) SyncResult {
	return SyncResult{Success: false, Error: message, ErrorCode: code}
}

// EntityError pairs a failing entity id with its human-readable reason.
type EntityError struct {
	EntityID string `json:"entity_id"`
	Message  string `json:"message"`
}

// Stats aggregates one batch operation's outcomes. Always complete, even
// when individual entities fail, so callers can display partial progress.
type Stats struct {
	Total     int           `json:"total"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Skipped   int           `json:"skipped"`
	Errors    []EntityError `json:"errors,omitempty"`
}

// Add folds a single entity outcome into the stats.
func (s *Stats) Add(entityID string, result SyncResult) {
	s.Total++
	if result.Success {
		if result.Data != nil {
			if already, ok := result.Data["alreadySynced"].(bool); ok && already {
				s.Skipped++
				return
			}
		}
		s.Succeeded++
		return
	}
	s.Failed++
	s.Errors = append(s.Errors, EntityError{EntityID: entityID, Message: result.Error})
}

// StatusCounts holds per-status row counts for one entity type.
type StatusCounts struct {
	Pending int `json:"pending"`
	Syncing int `json:"syncing"`
	Synced  int `json:"synced"`
	Error   int `json:"error"`
}
