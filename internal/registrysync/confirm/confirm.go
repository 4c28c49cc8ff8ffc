// Package confirm reconciles registry-side verification status back onto
// domain records. This is the one place the sync engine writes outside its
// own table, and it touches only the registry-confirmed status field.
package confirm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"charlog/internal/audit"
	"charlog/internal/domain"
	"charlog/internal/registrysync/metrics"
	"charlog/internal/registrysync/models"
	"charlog/internal/registrysync/ports"
	"charlog/internal/registrysync/store/identity"
)

// ErrCacheMiss is returned by a StatusCache when no entry exists.
var ErrCacheMiss = errors.New("status cache miss")

// StatusCache holds recently pulled registry statuses so repeated polls do
// not hammer the registry. Optional; a nil cache disables caching.
type StatusCache interface {
	Get(ctx context.Context, externalID string) (string, error)
	Set(ctx context.Context, externalID, status string) error
}

// StatusMapper translates one registry's status vocabulary into the domain
// vocabulary. Pure and table-driven per registry.
type StatusMapper func(registryStatus string) (domain.CreditBatchStatus, bool)

// Options controls one confirmation sweep.
type Options struct {
	Limit           int
	ContinueOnError bool
}

// Service pulls registry-side status for already-synced entities.
type Service struct {
	identities ports.IdentityStore
	records    domain.Store
	adapter    ports.Adapter
	mapStatus  StatusMapper
	cache      StatusCache
	metrics    *metrics.Metrics
	publisher  audit.Publisher
	logger     *slog.Logger
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

// WithCache attaches a status cache.
func WithCache(cache StatusCache) Option {
	return func(s *Service) {
		s.cache = cache
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

// New constructs the confirmation service.
func New(identities ports.IdentityStore, records domain.Store, adapter ports.Adapter, mapStatus StatusMapper, opts ...Option) (*Service, error) {
	if identities == nil {
		return nil, fmt.Errorf("identity store is required")
	}
	if records == nil {
		return nil, fmt.Errorf("domain store is required")
	}
	if adapter == nil {
		return nil, fmt.Errorf("registry adapter is required")
	}
	if mapStatus == nil {
		return nil, fmt.Errorf("status mapper is required")
	}
	s := &Service{
		identities: identities,
		records:    records,
		adapter:    adapter,
		mapStatus:  mapStatus,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ConfirmPending pulls registry status for every credit batch whose GHG
// statement is synced but whose domain status is still non-terminal, and
// writes the mapped status back to the domain record. The identity row's
// own synced state and external id are never touched.
func (s *Service) ConfirmPending(ctx context.Context, kind models.EntityType, opts Options) (models.Stats, error) {
	var stats models.Stats
	if kind != models.EntityCreditBatch {
		return stats, fmt.Errorf("confirmation is not supported for kind %q", kind)
	}

	batches, err := s.records.ListCreditBatchesAwaitingConfirmation(ctx)
	if err != nil {
		return stats, fmt.Errorf("list batches awaiting confirmation: %w", err)
	}
	if opts.Limit > 0 && len(batches) > opts.Limit {
		batches = batches[:opts.Limit]
	}

	for _, batch := range batches {
		result, err := s.confirmBatch(ctx, batch)
		if err != nil {
			return stats, err
		}
		stats.Add(batch.ID, result)
		if !result.Success {
			s.metrics.RecordConfirm(audit.OutcomeFailure)
			if !opts.ContinueOnError {
				break
			}
			continue
		}
		s.metrics.RecordConfirm(outcomeOf(result))
	}
	return stats, nil
}

func (s *Service) confirmBatch(ctx context.Context, batch *domain.CreditBatch) (models.SyncResult, error) {
	row, err := s.identities.Get(ctx, models.IdentityKey{
		EntityType:         models.EntityCreditBatch,
		EntityID:           batch.ID,
		RegistryName:       s.adapter.Registry(),
		ExternalEntityType: models.ExternalGHGStatement,
	})
	if errors.Is(err, identity.ErrNotFound) {
		// Not submitted yet; nothing to confirm.
		return models.AlreadySynced(""), nil
	}
	if err != nil {
		return models.SyncResult{}, err
	}
	if !row.Synced() {
		return models.AlreadySynced(""), nil
	}

	externalID := *row.ExternalID
	status, cached := s.cachedStatus(ctx, externalID)
	if !cached {
		result, err := s.adapter.ConfirmGHGStatement(ctx, externalID)
		if err != nil {
			return models.SyncResult{}, err
		}
		if !result.Success {
			return result, nil
		}
		status, _ = result.Data["status"].(string)
		s.cacheStatus(ctx, externalID, status)
	}

	mapped, ok := s.mapStatus(status)
	if !ok {
		s.logger.Warn("unmapped registry status", "external_id", externalID, "status", status)
		return models.AlreadySynced(externalID), nil
	}
	if mapped == batch.Status {
		return models.AlreadySynced(externalID), nil
	}

	if err := s.records.UpdateCreditBatchStatus(ctx, batch.ID, mapped); err != nil {
		return models.SyncResult{}, fmt.Errorf("update credit batch %s status: %w", batch.ID, err)
	}
	s.logger.Info("registry status confirmed",
		"credit_batch_id", batch.ID, "external_id", externalID,
		"registry_status", status, "domain_status", mapped)
	s.emit(ctx, batch.ID, externalID, string(mapped))
	return models.OK(externalID), nil
}

func (s *Service) cachedStatus(ctx context.Context, externalID string) (string, bool) {
	if s.cache == nil {
		return "", false
	}
	status, err := s.cache.Get(ctx, externalID)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			s.logger.Warn("status cache read failed", "external_id", externalID, "error", err)
		}
		return "", false
	}
	return status, true
}

func (s *Service) cacheStatus(ctx context.Context, externalID, status string) {
	if s.cache == nil || status == "" {
		return
	}
	if err := s.cache.Set(ctx, externalID, status); err != nil {
		s.logger.Warn("status cache write failed", "external_id", externalID, "error", err)
	}
}

func (s *Service) emit(ctx context.Context, batchID, externalID, status string) {
	if s.publisher == nil {
		return
	}
	event := audit.Event{
		Timestamp:  time.Now().UTC(),
		Action:     audit.ActionStatusConfirmed,
		EntityKind: string(models.EntityCreditBatch),
		EntityID:   batchID,
		Registry:   s.adapter.Registry(),
		ExternalID: externalID,
		Outcome:    audit.OutcomeSuccess,
		Reason:     status,
	}
	if err := s.publisher.Emit(ctx, event); err != nil {
		s.logger.Warn("audit emit failed", "action", event.Action, "entity_id", batchID, "error", err)
	}
}

func outcomeOf(result models.SyncResult) string {
	if result.Data != nil {
		if already, ok := result.Data["alreadySynced"].(bool); ok && already {
			return audit.OutcomeSkipped
		}
	}
	return audit.OutcomeSuccess
}
