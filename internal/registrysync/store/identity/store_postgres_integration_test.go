//go:build integration

package identity

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"charlog/internal/registrysync/models"
	"charlog/internal/registrysync/ports"
	"charlog/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	store *PostgresStore
	pg    *containers.PostgresContainer
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.pg = containers.NewPostgresContainer(s.T())
	s.store = NewPostgres(s.pg.DB)
	s.Require().NoError(s.store.EnsureSchema(context.Background()))
}

func (s *PostgresStoreSuite) SetupTest() {
	_, err := s.pg.DB.ExecContext(context.Background(), "TRUNCATE registry_identities")
	s.Require().NoError(err)
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func pgKey(entityID string) models.IdentityKey {
	return models.IdentityKey{
		EntityType:         models.EntityFacility,
		EntityID:           entityID,
		RegistryName:       "isometric",
		ExternalEntityType: models.ExternalFacility,
	}
}

func (s *PostgresStoreSuite) TestGetOrCreateConflict() {
	ctx := context.Background()

	first, err := s.store.GetOrCreate(ctx, pgKey("fac-1"))
	s.Require().NoError(err)
	s.Equal(models.StatusPending, first.SyncStatus)

	second, err := s.store.GetOrCreate(ctx, pgKey("fac-1"))
	s.Require().NoError(err)
	s.Equal(first.ID, second.ID, "conflicting insert must resolve to the existing row")
}

func (s *PostgresStoreSuite) TestConcurrentGetOrCreate() {
	ctx := context.Background()
	key := pgKey("fac-race")

	const workers = 16
	ids := make([]uuid.UUID, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			row, err := s.store.GetOrCreate(ctx, key)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = row.ID
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		s.Require().NoError(err)
	}
	for i := 1; i < workers; i++ {
		s.Equal(ids[0], ids[i])
	}
}

func (s *PostgresStoreSuite) TestLifecycle() {
	ctx := context.Background()

	row, err := s.store.GetOrCreate(ctx, pgKey("fac-life"))
	s.Require().NoError(err)

	s.Require().NoError(s.store.MarkSyncing(ctx, row.ID))
	got, err := s.store.GetByID(ctx, row.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSyncing, got.SyncStatus)

	s.Require().NoError(s.store.MarkError(ctx, row.ID, "timeout"))
	got, err = s.store.GetByID(ctx, row.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusError, got.SyncStatus)
	s.Equal("timeout", got.LastSyncError)

	s.Require().NoError(s.store.MarkSynced(ctx, row.ID, "ext-life", map[string]string{"project_id": "p1"}))
	got, err = s.store.GetByID(ctx, row.ID)
	s.Require().NoError(err)
	s.Equal(models.StatusSynced, got.SyncStatus)
	s.Require().NotNil(got.ExternalID)
	s.Equal("ext-life", *got.ExternalID)
	s.Empty(got.LastSyncError)
	s.NotNil(got.LastSyncedAt)
	s.Equal("p1", got.Metadata["project_id"])
}

func (s *PostgresStoreSuite) TestMetadataMerge() {
	ctx := context.Background()

	row, err := s.store.GetOrCreate(ctx, pgKey("fac-meta"))
	s.Require().NoError(err)

	s.Require().NoError(s.store.MarkSynced(ctx, row.ID, "ext-a", map[string]string{"a": "1"}))
	s.Require().NoError(s.store.MarkSynced(ctx, row.ID, "ext-b", map[string]string{"b": "2"}))

	got, err := s.store.GetByID(ctx, row.ID)
	s.Require().NoError(err)
	s.Equal("1", got.Metadata["a"], "earlier metadata survives the merge")
	s.Equal("2", got.Metadata["b"])
	s.Equal("ext-b", *got.ExternalID)
}

func (s *PostgresStoreSuite) TestFindNeedingSync() {
	ctx := context.Background()

	for _, id := range []string{"fac-a", "fac-b", "fac-c"} {
		_, err := s.store.GetOrCreate(ctx, pgKey(id))
		s.Require().NoError(err)
	}
	errored, err := s.store.Get(ctx, pgKey("fac-b"))
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkError(ctx, errored.ID, "failed"))

	synced, err := s.store.Get(ctx, pgKey("fac-c"))
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkSynced(ctx, synced.ID, "ext-c", nil))

	q := ports.NeedingSyncQuery{
		EntityType:         models.EntityFacility,
		RegistryName:       "isometric",
		ExternalEntityType: models.ExternalFacility,
	}
	rows, err := s.store.FindNeedingSync(ctx, q)
	s.Require().NoError(err)
	s.Require().Len(rows, 1)
	s.Equal("fac-a", rows[0].EntityID)

	q.IncludeErrors = true
	rows, err = s.store.FindNeedingSync(ctx, q)
	s.Require().NoError(err)
	s.Len(rows, 2)

	q.Limit = 1
	rows, err = s.store.FindNeedingSync(ctx, q)
	s.Require().NoError(err)
	s.Len(rows, 1)
}

func (s *PostgresStoreSuite) TestFindByExternalID() {
	ctx := context.Background()

	row, err := s.store.GetOrCreate(ctx, pgKey("fac-rev"))
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkSynced(ctx, row.ID, "ext-rev", nil))

	got, err := s.store.FindByExternalID(ctx, "isometric", "ext-rev")
	s.Require().NoError(err)
	s.Equal("fac-rev", got.EntityID)

	_, err = s.store.FindByExternalID(ctx, "isometric", "missing")
	s.Require().ErrorIs(err, ErrNotFound)
}

func (s *PostgresStoreSuite) TestCountByStatus() {
	ctx := context.Background()

	a, err := s.store.GetOrCreate(ctx, pgKey("fac-1"))
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkSynced(ctx, a.ID, "ext-1", nil))

	_, err = s.store.GetOrCreate(ctx, pgKey("fac-2"))
	s.Require().NoError(err)

	counts, err := s.store.CountByStatus(ctx, "isometric")
	s.Require().NoError(err)
	s.Equal(models.StatusCounts{Pending: 1, Synced: 1}, counts[models.EntityFacility])
}

func (s *PostgresStoreSuite) TestNotFound() {
	ctx := context.Background()

	_, err := s.store.Get(ctx, pgKey("fac-none"))
	s.Require().ErrorIs(err, ErrNotFound)

	s.Require().ErrorIs(s.store.MarkSyncing(ctx, uuid.New()), ErrNotFound)
	s.Require().ErrorIs(s.store.ResetToPending(ctx, uuid.New()), ErrNotFound)
}
