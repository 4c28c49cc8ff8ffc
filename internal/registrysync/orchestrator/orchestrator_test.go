package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"charlog/internal/audit"
	"charlog/internal/domain"
	domainstore "charlog/internal/domain/store"
	"charlog/internal/registrysync/models"
	"charlog/internal/registrysync/ports"
	"charlog/internal/registrysync/store/identity"
)

// fakeAdapter returns scripted results per entity id and records the order of
// calls. Unscripted ids succeed.
type fakeAdapter struct {
	identities ports.IdentityStore
	results    map[string]models.SyncResult
	calls      []string
}

func newFakeAdapter(identities ports.IdentityStore) *fakeAdapter {
	return &fakeAdapter{
		identities: identities,
		results:    make(map[string]models.SyncResult),
	}
}

func (f *fakeAdapter) Registry() string { return "isometric" }

// sync mimics the real adapter's bookkeeping: success records a synced
// identity row so candidate selection sees progress across sweeps.
func (f *fakeAdapter) sync(ctx context.Context, kind models.EntityType, finalType models.ExternalEntityType, entityID string) (models.SyncResult, error) {
	f.calls = append(f.calls, string(kind)+":"+entityID)
	if result, ok := f.results[entityID]; ok {
		if !result.Success {
			row, err := f.identities.GetOrCreate(ctx, models.IdentityKey{
				EntityType: kind, EntityID: entityID,
				RegistryName: f.Registry(), ExternalEntityType: finalType,
			})
			if err != nil {
				return models.SyncResult{}, err
			}
			if err := f.identities.MarkError(ctx, row.ID, result.Error); err != nil {
				return models.SyncResult{}, err
			}
		}
		return result, nil
	}
	row, err := f.identities.GetOrCreate(ctx, models.IdentityKey{
		EntityType: kind, EntityID: entityID,
		RegistryName: f.Registry(), ExternalEntityType: finalType,
	})
	if err != nil {
		return models.SyncResult{}, err
	}
	externalID := "ext-" + entityID
	if err := f.identities.MarkSynced(ctx, row.ID, externalID, nil); err != nil {
		return models.SyncResult{}, err
	}
	return models.OK(externalID), nil
}

func (f *fakeAdapter) SyncFacility(ctx context.Context, id string) (models.SyncResult, error) {
	return f.sync(ctx, models.EntityFacility, models.ExternalFacility, id)
}

func (f *fakeAdapter) SyncFeedstockType(ctx context.Context, id string) (models.SyncResult, error) {
	return f.sync(ctx, models.EntityFeedstockType, models.ExternalFeedstockType, id)
}

func (f *fakeAdapter) SyncProductionBatch(ctx context.Context, id string) (models.SyncResult, error) {
	return f.sync(ctx, models.EntityProductionRun, models.ExternalProductionBatch, id)
}

func (f *fakeAdapter) SyncApplication(ctx context.Context, id string) (models.SyncResult, error) {
	return f.sync(ctx, models.EntityApplication, models.ExternalBiocharApplication, id)
}

func (f *fakeAdapter) SyncGHGStatement(ctx context.Context, id string) (models.SyncResult, error) {
	return f.sync(ctx, models.EntityCreditBatch, models.ExternalGHGStatement, id)
}

func (f *fakeAdapter) ConfirmRemoval(context.Context, string) (models.SyncResult, error) {
	return models.OK(""), nil
}

func (f *fakeAdapter) ConfirmGHGStatement(context.Context, string) (models.SyncResult, error) {
	return models.OK(""), nil
}

type OrchestratorSuite struct {
	suite.Suite
	identities *identity.MemoryStore
	records    *domainstore.MemoryStore
	adapter    *fakeAdapter
	publisher  *audit.MemoryPublisher
	service    *Service
}

func (s *OrchestratorSuite) SetupTest() {
	s.identities = identity.NewMemory()
	s.records = domainstore.NewMemory()
	s.adapter = newFakeAdapter(s.identities)
	s.publisher = audit.NewMemoryPublisher()

	service, err := New(s.identities, s.records, s.adapter,
		WithAuditPublisher(s.publisher))
	s.Require().NoError(err)
	s.service = service
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) seedFacilities(ids ...string) {
	for _, id := range ids {
		s.records.PutFacility(domain.Facility{ID: id, Name: id})
	}
}

func (s *OrchestratorSuite) TestSyncPendingStats() {
	ctx := context.Background()
	s.seedFacilities("fac-1", "fac-2", "fac-3", "fac-4", "fac-5")

	// fac-2 is already synced, fac-4 fails.
	row, err := s.identities.GetOrCreate(ctx, models.IdentityKey{
		EntityType: models.EntityFacility, EntityID: "fac-2",
		RegistryName: "isometric", ExternalEntityType: models.ExternalFacility,
	})
	s.Require().NoError(err)
	s.Require().NoError(s.identities.MarkSynced(ctx, row.ID, "ext-fac-2", nil))
	s.adapter.results["fac-4"] = models.Fail(models.CodeValidation, "missing address")

	stats, err := s.service.SyncPending(ctx, models.EntityFacility, Options{ContinueOnError: true})
	s.Require().NoError(err)

	// Synced rows are filtered out during candidate selection, so they do not
	// show up in the totals at all.
	s.Equal(4, stats.Total)
	s.Equal(3, stats.Succeeded)
	s.Equal(1, stats.Failed)
	s.Equal(0, stats.Skipped)
	s.Require().Len(stats.Errors, 1)
	s.Equal("fac-4", stats.Errors[0].EntityID)
	s.Equal("missing address", stats.Errors[0].Message)
}

func (s *OrchestratorSuite) TestStopOnFirstError() {
	ctx := context.Background()
	s.seedFacilities("fac-1", "fac-2", "fac-3")
	s.adapter.results["fac-2"] = models.Fail(models.CodeTransport, "down")

	stats, err := s.service.SyncPending(ctx, models.EntityFacility, Options{})
	s.Require().NoError(err)
	s.Equal(2, stats.Total, "sweep stops after the failure")
	s.Equal(1, stats.Succeeded)
	s.Equal(1, stats.Failed)
}

func (s *OrchestratorSuite) TestLimit() {
	ctx := context.Background()
	s.seedFacilities("fac-1", "fac-2", "fac-3")

	stats, err := s.service.SyncPending(ctx, models.EntityFacility, Options{Limit: 2})
	s.Require().NoError(err)
	s.Equal(2, stats.Total)
}

func (s *OrchestratorSuite) TestErrorRowsNeedIncludeErrors() {
	ctx := context.Background()
	s.seedFacilities("fac-1")
	s.adapter.results["fac-1"] = models.Fail(models.CodeTransport, "down")

	_, err := s.service.SyncPending(ctx, models.EntityFacility, Options{})
	s.Require().NoError(err)

	// The row is now in error; a plain sweep skips it.
	delete(s.adapter.results, "fac-1")
	stats, err := s.service.SyncPending(ctx, models.EntityFacility, Options{})
	s.Require().NoError(err)
	s.Equal(0, stats.Total)

	stats, err = s.service.SyncPending(ctx, models.EntityFacility, Options{IncludeErrors: true})
	s.Require().NoError(err)
	s.Equal(1, stats.Total)
	s.Equal(1, stats.Succeeded)
}

func (s *OrchestratorSuite) TestSyncAllPendingOrder() {
	ctx := context.Background()
	s.records.PutFacility(domain.Facility{ID: "fac-1"})
	s.records.PutCreditBatch(domain.CreditBatch{ID: "cb-1", Status: domain.BatchSubmitted})

	results, err := s.service.SyncAllPending(ctx, Options{ContinueOnError: true})
	s.Require().NoError(err)
	s.Len(results, len(ports.SyncOrder))

	s.Require().Len(s.adapter.calls, 2)
	s.Equal("facility:fac-1", s.adapter.calls[0], "facilities sync before credit batches")
	s.Equal("credit_batch:cb-1", s.adapter.calls[1])
}

func (s *OrchestratorSuite) TestRetryAllFailed() {
	ctx := context.Background()
	s.seedFacilities("fac-1")
	s.adapter.results["fac-1"] = models.Fail(models.CodeTransport, "down")

	_, err := s.service.SyncAllPending(ctx, Options{ContinueOnError: true})
	s.Require().NoError(err)

	delete(s.adapter.results, "fac-1")
	results, err := s.service.RetryAllFailed(ctx, Options{ContinueOnError: true})
	s.Require().NoError(err)
	s.Equal(1, results[models.EntityFacility].Succeeded)
}

func (s *OrchestratorSuite) TestSyncSummary() {
	ctx := context.Background()
	s.seedFacilities("fac-1", "fac-2")
	s.adapter.results["fac-2"] = models.Fail(models.CodeTransport, "down")

	_, err := s.service.SyncPending(ctx, models.EntityFacility, Options{ContinueOnError: true})
	s.Require().NoError(err)

	counts, err := s.service.SyncSummary(ctx)
	s.Require().NoError(err)
	s.Equal(1, counts[models.EntityFacility].Synced)
	s.Equal(1, counts[models.EntityFacility].Error)
}

func (s *OrchestratorSuite) TestAuditEvents() {
	ctx := context.Background()
	s.seedFacilities("fac-1", "fac-2")
	s.adapter.results["fac-2"] = models.Fail(models.CodeTransport, "down")

	_, err := s.service.SyncPending(ctx, models.EntityFacility, Options{ContinueOnError: true})
	s.Require().NoError(err)

	events := s.publisher.Events()
	s.Require().Len(events, 2)
	s.Equal(audit.ActionSyncSucceeded, events[0].Action)
	s.Equal("fac-1", events[0].EntityID)
	s.Equal("isometric", events[0].Registry)
	s.Equal(audit.ActionSyncFailed, events[1].Action)
	s.Equal("down", events[1].Reason)
}
