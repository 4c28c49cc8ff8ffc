// Package orchestrator drives batch synchronization sweeps: it selects
// candidate entities per kind, invokes the registry adapter for each, and
// aggregates outcomes into batch statistics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"charlog/internal/audit"
	"charlog/internal/domain"
	"charlog/internal/registrysync/metrics"
	"charlog/internal/registrysync/models"
	"charlog/internal/registrysync/ports"
	"charlog/internal/registrysync/store/identity"
)

// Options controls one batch sweep.
type Options struct {
	// Limit caps the number of entities attempted; zero means no cap.
	Limit int
	// ContinueOnError keeps the sweep going past per-entity failures.
	ContinueOnError bool
	// IncludeErrors widens candidate selection to rows already in error,
	// retrying them without an explicit reset.
	IncludeErrors bool
}

// Service is the sync orchestrator.
type Service struct {
	identities ports.IdentityStore
	records    domain.Store
	adapter    ports.Adapter
	metrics    *metrics.Metrics
	publisher  audit.Publisher
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditPublisher attaches an audit event publisher.
func WithAuditPublisher(publisher audit.Publisher) Option {
	return func(s *Service) {
		s.publisher = publisher
	}
}

// New constructs the orchestrator.
func New(identities ports.IdentityStore, records domain.Store, adapter ports.Adapter, opts ...Option) (*Service, error) {
	if identities == nil {
		return nil, fmt.Errorf("identity store is required")
	}
	if records == nil {
		return nil, fmt.Errorf("domain store is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("registry adapter is required")
	}
	s := &Service{
		identities: identities,
		records:    records,
		adapter:    adapter,
		logger:     slog.Default(),
		tracer:     otel.Tracer("charlog/registrysync/orchestrator"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SyncPending syncs every entity of the kind whose terminal identity row is
// missing or pending (plus error rows when IncludeErrors). The returned
// stats are always complete, even when entities fail; the error return
// carries only store-level failures.
func (s *Service) SyncPending(ctx context.Context, kind models.EntityType, opts Options) (models.Stats, error) {
	ctx, span := s.tracer.Start(ctx, "orchestrator.sync_pending",
		trace.WithAttributes(attribute.String("entity.type", string(kind))))
	defer span.End()

	var stats models.Stats

	syncFn, ok := ports.SyncMethod(s.adapter, kind)
	if !ok {
		return stats, fmt.Errorf("no sync method for entity kind %q", kind)
	}

	candidates, err := s.candidates(ctx, kind, opts)
	if err != nil {
		return stats, err
	}

	for _, entityID := range candidates {
		start := time.Now()
		result, err := syncFn(ctx, entityID)
		if err != nil {
			return stats, fmt.Errorf("sync %s %s: %w", kind, entityID, err)
		}
		stats.Add(entityID, result)
		s.observe(ctx, kind, entityID, result, time.Since(start))

		if !result.Success && !opts.ContinueOnError {
			break
		}
	}
	return stats, nil
}

// SyncAllPending runs SyncPending for every kind in dependency order, so
// prerequisites get a chance to sync before their dependents in the same
// pass. The ordering is advisory; the adapter still resolves dependencies
// per entity.
func (s *Service) SyncAllPending(ctx context.Context, opts Options) (map[models.EntityType]models.Stats, error) {
	out := make(map[models.EntityType]models.Stats, len(ports.SyncOrder))
	for _, kind := range ports.SyncOrder {
		stats, err := s.SyncPending(ctx, kind, opts)
		if err != nil {
			return out, err
		}
		out[kind] = stats
	}
	return out, nil
}

// RetryAllFailed is SyncAllPending widened to rows already in error.
func (s *Service) RetryAllFailed(ctx context.Context, opts Options) (map[models.EntityType]models.Stats, error) {
	opts.IncludeErrors = true
	return s.SyncAllPending(ctx, opts)
}

// SyncSummary returns identity row counts per kind and status for this
// adapter's registry, refreshing the corresponding gauges.
func (s *Service) SyncSummary(ctx context.Context) (map[models.EntityType]models.StatusCounts, error) {
	counts, err := s.identities.CountByStatus(ctx, s.adapter.Registry())
	if err != nil {
		return nil, fmt.Errorf("sync summary: %w", err)
	}
	for kind, c := range counts {
		s.metrics.SetIdentityRows(string(kind), string(models.StatusPending), c.Pending)
		s.metrics.SetIdentityRows(string(kind), string(models.StatusSyncing), c.Syncing)
		s.metrics.SetIdentityRows(string(kind), string(models.StatusSynced), c.Synced)
		s.metrics.SetIdentityRows(string(kind), string(models.StatusError), c.Error)
	}
	return counts, nil
}

// candidates selects local entity ids whose terminal sync step still needs
// work, in the stable order the domain store lists them.
func (s *Service) candidates(ctx context.Context, kind models.EntityType, opts Options) ([]string, error) {
	finalType, ok := ports.FinalExternalType(kind)
	if !ok {
		return nil, fmt.Errorf("no terminal external entity type for kind %q", kind)
	}

	ids, err := s.records.ListIDs(ctx, string(kind))
	if err != nil {
		return nil, fmt.Errorf("list %s ids: %w", kind, err)
	}

	var out []string
	for _, id := range ids {
		row, err := s.identities.Get(ctx, models.IdentityKey{
			EntityType:         kind,
			EntityID:           id,
			RegistryName:       s.adapter.Registry(),
			ExternalEntityType: finalType,
		})
		switch {
		case errors.Is(err, identity.ErrNotFound):
			out = append(out, id)
		case err != nil:
			return nil, fmt.Errorf("check identity for %s %s: %w", kind, id, err)
		case row.SyncStatus == models.StatusPending:
			out = append(out, id)
		case opts.IncludeErrors && row.SyncStatus == models.StatusError:
			out = append(out, id)
		}
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (s *Service) observe(ctx context.Context, kind models.EntityType, entityID string, result models.SyncResult, elapsed time.Duration) {
	outcome := audit.OutcomeSuccess
	action := audit.ActionSyncSucceeded
	switch {
	case !result.Success:
		outcome = audit.OutcomeFailure
		action = audit.ActionSyncFailed
	case result.Data != nil:
		if already, ok := result.Data["alreadySynced"].(bool); ok && already {
			outcome = audit.OutcomeSkipped
		}
	}
	s.metrics.RecordSync(string(kind), outcome, elapsed.Seconds())

	if s.publisher == nil {
		return
	}
	event := audit.Event{
		Timestamp:  time.Now().UTC(),
		Action:     action,
		EntityKind: string(kind),
		EntityID:   entityID,
		Registry:   s.adapter.Registry(),
		ExternalID: result.RegistryID,
		Outcome:    outcome,
		Reason:     result.Error,
	}
	if err := s.publisher.Emit(ctx, event); err != nil {
		s.logger.Warn("audit emit failed", "action", action, "entity_id", entityID, "error", err)
	}
}
