// Package ports defines shared interfaces for the registry sync engine.
// Interfaces live here when consumed by multiple services to avoid
// duplication.
package ports

import (
	"context"

	"github.com/google/uuid"

	"charlog/internal/registrysync/models"
)

// NeedingSyncQuery selects identity rows eligible for a sync sweep.
type NeedingSyncQuery struct {
	EntityType         models.EntityType
	RegistryName       string
	ExternalEntityType models.ExternalEntityType
	// IncludeErrors widens the selection from pending-only to pending ∪ error.
	IncludeErrors bool
	// Limit caps returned rows; zero means no cap.
	Limit int
}

// IdentityStore is the single owner of RegistryIdentity rows. All mutations
// go through this contract; the adapter and orchestrator never touch rows
// directly. Status transitions are atomic updates keyed by row id.
type IdentityStore interface {
	// GetOrCreate returns the existing row for the key or inserts a pending
	// one. Safe under concurrent calls for the same key: an insert conflict
	// resolves by fetching and returning the winner.
	GetOrCreate(ctx context.Context, key models.IdentityKey) (*models.RegistryIdentity, error)

	// Get fetches a row by its natural 4-tuple key.
	Get(ctx context.Context, key models.IdentityKey) (*models.RegistryIdentity, error)

	// GetByID fetches a row by its surrogate id.
	GetByID(ctx context.Context, id uuid.UUID) (*models.RegistryIdentity, error)

	// ListByEntity returns all rows for a local entity, optionally filtered
	// to one registry (empty registryName means all registries).
	ListByEntity(ctx context.Context, entityType models.EntityType, entityID, registryName string) ([]*models.RegistryIdentity, error)

	// FindExternalID returns the synced external id for a key, or ErrNotFound
	// when the step has not completed.
	FindExternalID(ctx context.Context, key models.IdentityKey) (string, error)

	// FindNeedingSync returns rows matching the query in creation order.
	FindNeedingSync(ctx context.Context, q NeedingSyncQuery) ([]*models.RegistryIdentity, error)

	// FindByExternalID reverse-looks-up a row by registry-assigned id.
	FindByExternalID(ctx context.Context, registryName, externalID string) (*models.RegistryIdentity, error)

	MarkSyncing(ctx context.Context, id uuid.UUID) error
	// MarkSynced records the external id, merges step metadata, and clears
	// any stale LastSyncError.
	MarkSynced(ctx context.Context, id uuid.UUID, externalID string, metadata map[string]string) error
	MarkError(ctx context.Context, id uuid.UUID, message string) error
	ResetToPending(ctx context.Context, id uuid.UUID) error

	// CountByStatus aggregates row counts per entity type and status for one
	// registry, backing the sync summary.
	CountByStatus(ctx context.Context, registryName string) (map[models.EntityType]models.StatusCounts, error)
}

// Adapter is the per-registry sync capability set. Per-entity failures are
// carried in the SyncResult; the error return is reserved for store-level
// invariant violations, which are not recoverable by retrying the entity.
type Adapter interface {
	// Registry names the external registry this adapter serves.
	Registry() string

	SyncFacility(ctx context.Context, facilityID string) (models.SyncResult, error)
	SyncFeedstockType(ctx context.Context, feedstockTypeID string) (models.SyncResult, error)
	SyncProductionBatch(ctx context.Context, productionRunID string) (models.SyncResult, error)
	SyncApplication(ctx context.Context, applicationID string) (models.SyncResult, error)
	SyncGHGStatement(ctx context.Context, creditBatchID string) (models.SyncResult, error)

	ConfirmRemoval(ctx context.Context, externalRemovalID string) (models.SyncResult, error)
	ConfirmGHGStatement(ctx context.Context, externalStatementID string) (models.SyncResult, error)
}

// SyncOrder is the advisory batch ordering: dependent kinds run after their
// prerequisites have had a chance to sync in the same pass. Correctness does
// not rely on it; the adapter resolves dependencies recursively per entity.
var SyncOrder = []models.EntityType{
	models.EntityFacility,
	models.EntityFeedstockType,
	models.EntityProductionRun,
	models.EntityApplication,
	models.EntityCreditBatch,
}

// finalExternalTypes maps each local kind to the external entity type whose
// row marks the kind fully synced. Composite kinds list their last sub-step.
var finalExternalTypes = map[models.EntityType]models.ExternalEntityType{
	models.EntityFacility:      models.ExternalFacility,
	models.EntityFeedstockType: models.ExternalFeedstockType,
	models.EntityProductionRun: models.ExternalProductionBatch,
	models.EntityApplication:   models.ExternalBiocharApplication,
	models.EntityCreditBatch:   models.ExternalGHGStatement,
}

// FinalExternalType returns the terminal external entity type for a kind.
func FinalExternalType(kind models.EntityType) (models.ExternalEntityType, bool) {
	t, ok := finalExternalTypes[kind]
	return t, ok
}

// SyncMethod resolves the adapter call for a kind. Map-based dispatch keeps
// the kind set open: registering a new kind is a table entry, not a type
// hierarchy change.
func SyncMethod(a Adapter, kind models.EntityType) (func(context.Context, string) (models.SyncResult, error), bool) {
	switch kind {
	case models.EntityFacility:
		return a.SyncFacility, true
	case models.EntityFeedstockType:
		return a.SyncFeedstockType, true
	case models.EntityProductionRun:
		return a.SyncProductionBatch, true
	case models.EntityApplication:
		return a.SyncApplication, true
	case models.EntityCreditBatch:
		return a.SyncGHGStatement, true
	default:
		return nil, false
	}
}
