// Package isometric implements the registry adapter for the Isometric
// carbon-credit verification registry. The adapter drives the uniform
// per-step sync algorithm; all registry I/O goes through the injected
// Transport and all identity writes through the IdentityStore contract.
package isometric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"charlog/internal/domain"
	"charlog/internal/registrysync/models"
	"charlog/internal/registrysync/ports"
	"charlog/internal/registrysync/store/identity"
)

// RegistryName identifies this registry in identity rows.
const RegistryName = "isometric"

// Config holds adapter construction knobs. ProjectID is mandatory for any
// registry call; its absence is detected at construction, not mid-sync.
type Config struct {
	ProjectID  string
	AutoRetry  bool
	MaxRetries int
	RetryDelay time.Duration
}

// Adapter satisfies ports.Adapter for the Isometric registry.
type Adapter struct {
	cfg        Config
	identities ports.IdentityStore
	records    domain.Store
	transport  Transport
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New constructs the Isometric adapter.
func New(cfg Config, identities ports.IdentityStore, records domain.Store, transport Transport, opts ...Option) *Adapter {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	a := &Adapter{
		cfg:        cfg,
		identities: identities,
		records:    records,
		transport:  transport,
		logger:     slog.Default(),
		tracer:     otel.Tracer("charlog/registries/isometric"),
	}
	for _, opt := range opts {
		opt(a)
	}
	if cfg.ProjectID == "" {
		a.logger.Warn("isometric project id is not configured; sync calls will be rejected")
	}
	return a
}

// Registry implements ports.Adapter.
func (a *Adapter) Registry() string { return RegistryName }

// step bundles everything runStep needs for one sync step. resolve returns
// the external ids the payload depends on, recursively syncing prerequisites
// that have none yet.
type step struct {
	entityType   models.EntityType
	entityID     string
	externalType models.ExternalEntityType
	validate     func() []string
	resolve      func(ctx context.Context) (Refs, error)
	payload      func(refs Refs) any
	metadata     map[string]string
}

// runStep applies the uniform per-step algorithm: short-circuit on an
// existing external id, validate, resolve dependencies, create the identity
// row, call the registry, record the outcome. Per-entity failures come back
// in the SyncResult; the error return is reserved for identity store
// failures, which indicate a broken invariant rather than a bad entity.
func (a *Adapter) runStep(ctx context.Context, st step) (models.SyncResult, error) {
	ctx, span := a.tracer.Start(ctx, "isometric.sync",
		trace.WithAttributes(
			attribute.String("entity.type", string(st.entityType)),
			attribute.String("entity.id", st.entityID),
			attribute.String("external.type", string(st.externalType)),
		))
	defer span.End()

	key := models.IdentityKey{
		EntityType:         st.entityType,
		EntityID:           st.entityID,
		RegistryName:       RegistryName,
		ExternalEntityType: st.externalType,
	}

	externalID, err := a.identities.FindExternalID(ctx, key)
	if err == nil {
		return models.AlreadySynced(externalID), nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return models.SyncResult{}, err
	}

	if a.cfg.ProjectID == "" {
		return models.Fail(models.CodeValidation, "registry project id is not configured"), nil
	}

	if errs := st.validate(); len(errs) > 0 {
		return models.Fail(models.CodeValidation, strings.Join(errs, "; ")), nil
	}

	// Dependencies resolve before the identity row exists, so a failed
	// prerequisite leaves no row behind in syncing.
	refs, err := st.resolve(ctx)
	if err != nil {
		return models.Fail(models.CodeDependency, err.Error()), nil
	}

	row, err := a.identities.GetOrCreate(ctx, key)
	if err != nil {
		return models.SyncResult{}, err
	}
	if err := a.identities.MarkSyncing(ctx, row.ID); err != nil {
		return models.SyncResult{}, err
	}

	resp, err := a.create(ctx, st.externalType, st.payload(refs))
	if err != nil {
		a.logger.Warn("registry sync failed",
			"entity_type", st.entityType, "entity_id", st.entityID,
			"external_type", st.externalType, "error", err)
		if markErr := a.identities.MarkError(ctx, row.ID, err.Error()); markErr != nil {
			return models.SyncResult{}, markErr
		}
		return models.Fail(models.CodeTransport, err.Error()), nil
	}

	meta := mergeMetadata(st.metadata, resp.Metadata)
	if err := a.identities.MarkSynced(ctx, row.ID, resp.ID, meta); err != nil {
		return models.SyncResult{}, err
	}
	a.logger.Info("registry sync succeeded",
		"entity_type", st.entityType, "entity_id", st.entityID,
		"external_type", st.externalType, "external_id", resp.ID)
	return models.OK(resp.ID), nil
}

// create calls the registry, retrying transient failures when AutoRetry is
// enabled. Validation never reaches this point, so every failure here is a
// transport failure.
func (a *Adapter) create(ctx context.Context, entity models.ExternalEntityType, payload any) (CreateResponse, error) {
	attempts := 1
	if a.cfg.AutoRetry {
		attempts += a.cfg.MaxRetries
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return CreateResponse{}, &TransportError{Message: ctx.Err().Error(), Temporary: true}
			case <-time.After(a.cfg.RetryDelay):
			}
		}
		resp, err := a.transport.Create(ctx, entity, payload)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsTemporary(err) {
			break
		}
	}
	return CreateResponse{}, lastErr
}

// requireExternal returns a dependency's external id, syncing the
// prerequisite first when it has none. A failed prerequisite surfaces as a
// dependency-unresolved error naming the dependency.
func (a *Adapter) requireExternal(
	ctx context.Context,
	key models.IdentityKey,
	syncFn func(context.Context, string) (models.SyncResult, error),
) (string, error) {
	id, err := a.identities.FindExternalID(ctx, key)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, identity.ErrNotFound) {
		return "", fmt.Errorf("look up %s %s: %w", key.ExternalEntityType, key.EntityID, err)
	}
	res, err := syncFn(ctx, key.EntityID)
	if err != nil {
		return "", fmt.Errorf("dependency %s %s: %w", key.EntityType, key.EntityID, err)
	}
	if !res.Success {
		return "", fmt.Errorf("dependency %s %s failed: %s", key.EntityType, key.EntityID, res.Error)
	}
	return res.RegistryID, nil
}

// alreadyComplete short-circuits a kind whose terminal step has an external
// id: re-invoking sync after success is a no-op, even if the local record
// has since been archived.
func (a *Adapter) alreadyComplete(ctx context.Context, entityType models.EntityType, entityID string, finalType models.ExternalEntityType) (string, bool, error) {
	externalID, err := a.identities.FindExternalID(ctx, models.IdentityKey{
		EntityType:         entityType,
		EntityID:           entityID,
		RegistryName:       RegistryName,
		ExternalEntityType: finalType,
	})
	if err == nil {
		return externalID, true, nil
	}
	if errors.Is(err, identity.ErrNotFound) {
		return "", false, nil
	}
	return "", false, err
}

func (a *Adapter) SyncFacility(ctx context.Context, facilityID string) (models.SyncResult, error) {
	if id, done, err := a.alreadyComplete(ctx, models.EntityFacility, facilityID, models.ExternalFacility); err != nil {
		return models.SyncResult{}, err
	} else if done {
		return models.AlreadySynced(id), nil
	}
	facility, err := a.records.GetFacility(ctx, facilityID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return models.Fail(models.CodeNotFound, fmt.Sprintf("facility %s not found", facilityID)), nil
		}
		return models.SyncResult{}, err
	}
	return a.runStep(ctx, step{
		entityType:   models.EntityFacility,
		entityID:     facilityID,
		externalType: models.ExternalFacility,
		validate:     func() []string { return ValidateFacility(facility) },
		resolve:      func(context.Context) (Refs, error) { return Refs{}, nil },
		payload:      func(Refs) any { return BuildFacilityPayload(facility, a.cfg.ProjectID) },
		metadata:     map[string]string{"project_id": a.cfg.ProjectID},
	})
}

func (a *Adapter) SyncFeedstockType(ctx context.Context, feedstockTypeID string) (models.SyncResult, error) {
	if id, done, err := a.alreadyComplete(ctx, models.EntityFeedstockType, feedstockTypeID, models.ExternalFeedstockType); err != nil {
		return models.SyncResult{}, err
	} else if done {
		return models.AlreadySynced(id), nil
	}
	feedstock, err := a.records.GetFeedstockType(ctx, feedstockTypeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return models.Fail(models.CodeNotFound, fmt.Sprintf("feedstock type %s not found", feedstockTypeID)), nil
		}
		return models.SyncResult{}, err
	}
	return a.runStep(ctx, step{
		entityType:   models.EntityFeedstockType,
		entityID:     feedstockTypeID,
		externalType: models.ExternalFeedstockType,
		validate:     func() []string { return ValidateFeedstockType(feedstock) },
		resolve:      func(context.Context) (Refs, error) { return Refs{}, nil },
		payload:      func(Refs) any { return BuildFeedstockTypePayload(feedstock, a.cfg.ProjectID) },
	})
}

func (a *Adapter) SyncProductionBatch(ctx context.Context, productionRunID string) (models.SyncResult, error) {
	if id, done, err := a.alreadyComplete(ctx, models.EntityProductionRun, productionRunID, models.ExternalProductionBatch); err != nil {
		return models.SyncResult{}, err
	} else if done {
		return models.AlreadySynced(id), nil
	}
	run, err := a.records.GetProductionRun(ctx, productionRunID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return models.Fail(models.CodeNotFound, fmt.Sprintf("production run %s not found", productionRunID)), nil
		}
		return models.SyncResult{}, err
	}
	return a.runStep(ctx, step{
		entityType:   models.EntityProductionRun,
		entityID:     productionRunID,
		externalType: models.ExternalProductionBatch,
		validate:     func() []string { return ValidateProductionRun(run) },
		resolve: func(ctx context.Context) (Refs, error) {
			var refs Refs
			var err error
			refs.FacilityID, err = a.requireExternal(ctx, models.IdentityKey{
				EntityType:         models.EntityFacility,
				EntityID:           run.FacilityID,
				RegistryName:       RegistryName,
				ExternalEntityType: models.ExternalFacility,
			}, a.SyncFacility)
			if err != nil {
				return Refs{}, err
			}
			refs.FeedstockTypeID, err = a.requireExternal(ctx, models.IdentityKey{
				EntityType:         models.EntityFeedstockType,
				EntityID:           run.FeedstockTypeID,
				RegistryName:       RegistryName,
				ExternalEntityType: models.ExternalFeedstockType,
			}, a.SyncFeedstockType)
			if err != nil {
				return Refs{}, err
			}
			return refs, nil
		},
		payload: func(refs Refs) any { return BuildProductionBatchPayload(run, a.cfg.ProjectID, refs) },
	})
}

// SyncApplication is a composite sync: one local application maps to a
// registry storage location and then a biochar application. Each sub-step is
// independently resumable; a partial failure leaves the completed sub-step
// synced and only the remainder pending on retry.
func (a *Adapter) SyncApplication(ctx context.Context, applicationID string) (models.SyncResult, error) {
	if id, done, err := a.alreadyComplete(ctx, models.EntityApplication, applicationID, models.ExternalBiocharApplication); err != nil {
		return models.SyncResult{}, err
	} else if done {
		return models.AlreadySynced(id), nil
	}
	app, err := a.records.GetApplication(ctx, applicationID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return models.Fail(models.CodeNotFound, fmt.Sprintf("application %s not found", applicationID)), nil
		}
		return models.SyncResult{}, err
	}

	storage, err := a.runStep(ctx, step{
		entityType:   models.EntityApplication,
		entityID:     applicationID,
		externalType: models.ExternalStorageLocation,
		validate:     func() []string { return ValidateApplication(app) },
		resolve:      func(context.Context) (Refs, error) { return Refs{}, nil },
		payload:      func(Refs) any { return BuildStorageLocationPayload(app, a.cfg.ProjectID) },
	})
	if err != nil || !storage.Success {
		return storage, err
	}

	return a.runStep(ctx, step{
		entityType:   models.EntityApplication,
		entityID:     applicationID,
		externalType: models.ExternalBiocharApplication,
		validate:     func() []string { return ValidateApplication(app) },
		resolve: func(ctx context.Context) (Refs, error) {
			refs := Refs{StorageLocationID: storage.RegistryID}
			var err error
			refs.ProductionBatchID, err = a.requireExternal(ctx, models.IdentityKey{
				EntityType:         models.EntityProductionRun,
				EntityID:           app.ProductionRunID,
				RegistryName:       RegistryName,
				ExternalEntityType: models.ExternalProductionBatch,
			}, a.SyncProductionBatch)
			if err != nil {
				return Refs{}, err
			}
			return refs, nil
		},
		payload: func(refs Refs) any { return BuildBiocharApplicationPayload(app, a.cfg.ProjectID, refs) },
	})
}

// SyncGHGStatement is a composite sync: removal first, then the GHG
// statement referencing it.
func (a *Adapter) SyncGHGStatement(ctx context.Context, creditBatchID string) (models.SyncResult, error) {
	if id, done, err := a.alreadyComplete(ctx, models.EntityCreditBatch, creditBatchID, models.ExternalGHGStatement); err != nil {
		return models.SyncResult{}, err
	} else if done {
		return models.AlreadySynced(id), nil
	}
	batch, err := a.records.GetCreditBatch(ctx, creditBatchID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return models.Fail(models.CodeNotFound, fmt.Sprintf("credit batch %s not found", creditBatchID)), nil
		}
		return models.SyncResult{}, err
	}

	removal, err := a.runStep(ctx, step{
		entityType:   models.EntityCreditBatch,
		entityID:     creditBatchID,
		externalType: models.ExternalRemoval,
		validate:     func() []string { return ValidateCreditBatch(batch) },
		resolve: func(ctx context.Context) (Refs, error) {
			var refs Refs
			var err error
			refs.BiocharApplicationID, err = a.requireExternal(ctx, models.IdentityKey{
				EntityType:         models.EntityApplication,
				EntityID:           batch.ApplicationID,
				RegistryName:       RegistryName,
				ExternalEntityType: models.ExternalBiocharApplication,
			}, a.SyncApplication)
			if err != nil {
				return Refs{}, err
			}
			return refs, nil
		},
		payload:  func(refs Refs) any { return BuildRemovalPayload(batch, a.cfg.ProjectID, refs) },
		metadata: map[string]string{"project_id": a.cfg.ProjectID},
	})
	if err != nil || !removal.Success {
		return removal, err
	}

	return a.runStep(ctx, step{
		entityType:   models.EntityCreditBatch,
		entityID:     creditBatchID,
		externalType: models.ExternalGHGStatement,
		validate:     func() []string { return ValidateCreditBatch(batch) },
		resolve: func(context.Context) (Refs, error) {
			return Refs{RemovalID: removal.RegistryID}, nil
		},
		payload:  func(refs Refs) any { return BuildGHGStatementPayload(batch, a.cfg.ProjectID, refs) },
		metadata: map[string]string{"project_id": a.cfg.ProjectID},
	})
}

func (a *Adapter) ConfirmRemoval(ctx context.Context, externalRemovalID string) (models.SyncResult, error) {
	return a.confirm(ctx, models.ExternalRemoval, externalRemovalID)
}

func (a *Adapter) ConfirmGHGStatement(ctx context.Context, externalStatementID string) (models.SyncResult, error) {
	return a.confirm(ctx, models.ExternalGHGStatement, externalStatementID)
}

func (a *Adapter) confirm(ctx context.Context, entity models.ExternalEntityType, externalID string) (models.SyncResult, error) {
	ctx, span := a.tracer.Start(ctx, "isometric.confirm",
		trace.WithAttributes(
			attribute.String("external.type", string(entity)),
			attribute.String("external.id", externalID),
		))
	defer span.End()

	status, err := a.transport.GetStatus(ctx, entity, externalID)
	if err != nil {
		return models.Fail(models.CodeTransport, err.Error()), nil
	}
	return models.SyncResult{
		Success:    true,
		RegistryID: externalID,
		Data:       map[string]any{"status": status},
	}, nil
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	if len(base) == 0 {
		return extra
	}
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
