package httptransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charlog/internal/registrysync/models"
	"charlog/internal/registrysync/orchestrator"
	"charlog/pkg/testutil"
)

type fakeSyncService struct {
	lastKind models.EntityType
	lastOpts orchestrator.Options
	stats    models.Stats
	err      error
}

func (f *fakeSyncService) SyncPending(_ context.Context, kind models.EntityType, opts orchestrator.Options) (models.Stats, error) {
	f.lastKind = kind
	f.lastOpts = opts
	return f.stats, f.err
}

func (f *fakeSyncService) SyncAllPending(_ context.Context, opts orchestrator.Options) (map[models.EntityType]models.Stats, error) {
	f.lastOpts = opts
	return map[models.EntityType]models.Stats{models.EntityFacility: f.stats}, f.err
}

func (f *fakeSyncService) RetryAllFailed(_ context.Context, opts orchestrator.Options) (map[models.EntityType]models.Stats, error) {
	f.lastOpts = opts
	return map[models.EntityType]models.Stats{models.EntityFacility: f.stats}, f.err
}

func (f *fakeSyncService) SyncSummary(context.Context) (map[models.EntityType]models.StatusCounts, error) {
	return map[models.EntityType]models.StatusCounts{
		models.EntityFacility: {Synced: 3, Pending: 1},
	}, f.err
}

type fakeIdentityReader struct {
	rows []*models.RegistryIdentity
	err  error
}

func (f *fakeIdentityReader) ListByEntity(context.Context, models.EntityType, string, string) ([]*models.RegistryIdentity, error) {
	return f.rows, f.err
}

func newTestRouter(sync *fakeSyncService, identities *fakeIdentityReader, signingKey string) http.Handler {
	return NewRouter(New(sync, identities, nil), AdminAuth(signingKey))
}

func TestHandleSyncKind(t *testing.T) {
	t.Run("runs a sweep and returns stats", func(t *testing.T) {
		sync := &fakeSyncService{stats: models.Stats{Total: 3, Succeeded: 2, Failed: 1}}
		router := newTestRouter(sync, &fakeIdentityReader{}, "")

		req := testutil.NewJSONRequest(t, http.MethodPost, "/sync/facility",
			syncRequest{Limit: 5, ContinueOnError: true})
		rec := testutil.DoRequest(router, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, models.EntityFacility, sync.lastKind)
		assert.Equal(t, 5, sync.lastOpts.Limit)
		assert.True(t, sync.lastOpts.ContinueOnError)

		stats := testutil.DecodeResponse[models.Stats](t, rec)
		assert.Equal(t, 3, stats.Total)
		assert.Equal(t, 2, stats.Succeeded)
	})

	t.Run("empty body means default options", func(t *testing.T) {
		sync := &fakeSyncService{}
		router := newTestRouter(sync, &fakeIdentityReader{}, "")

		req := httptest.NewRequest(http.MethodPost, "/sync/credit_batch", nil)
		rec := testutil.DoRequest(router, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, models.EntityCreditBatch, sync.lastKind)
		assert.Zero(t, sync.lastOpts.Limit)
	})

	t.Run("unknown kinds are rejected", func(t *testing.T) {
		router := newTestRouter(&fakeSyncService{}, &fakeIdentityReader{}, "")

		req := httptest.NewRequest(http.MethodPost, "/sync/unicorn", nil)
		rec := testutil.DoRequest(router, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed bodies are rejected", func(t *testing.T) {
		router := newTestRouter(&fakeSyncService{}, &fakeIdentityReader{}, "")

		req := httptest.NewRequest(http.MethodPost, "/sync/facility", strings.NewReader("{nope"))
		rec := testutil.DoRequest(router, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleSyncAllAndRetry(t *testing.T) {
	sync := &fakeSyncService{stats: models.Stats{Total: 1, Succeeded: 1}}
	router := newTestRouter(sync, &fakeIdentityReader{}, "")

	for _, path := range []string{"/sync/all", "/sync/retry"} {
		req := httptest.NewRequest(http.MethodPost, path, nil)
		rec := testutil.DoRequest(router, req)
		require.Equal(t, http.StatusOK, rec.Code, path)

		results := testutil.DecodeResponse[map[models.EntityType]models.Stats](t, rec)
		assert.Equal(t, 1, results[models.EntityFacility].Succeeded, path)
	}
}

func TestHandleSyncSummary(t *testing.T) {
	router := newTestRouter(&fakeSyncService{}, &fakeIdentityReader{}, "")

	req := httptest.NewRequest(http.MethodGet, "/sync/summary", nil)
	rec := testutil.DoRequest(router, req)

	require.Equal(t, http.StatusOK, rec.Code)
	counts := testutil.DecodeResponse[map[models.EntityType]models.StatusCounts](t, rec)
	assert.Equal(t, 3, counts[models.EntityFacility].Synced)
}

func TestHandleListIdentities(t *testing.T) {
	externalID := "ext-1"
	now := time.Now().UTC()
	identities := &fakeIdentityReader{rows: []*models.RegistryIdentity{{
		ID:                 uuid.New(),
		EntityType:         models.EntityFacility,
		EntityID:           "fac-1",
		RegistryName:       "isometric",
		ExternalEntityType: models.ExternalFacility,
		ExternalID:         &externalID,
		SyncStatus:         models.StatusSynced,
		CreatedAt:          now,
		UpdatedAt:          now,
	}}}
	router := newTestRouter(&fakeSyncService{}, identities, "")

	req := httptest.NewRequest(http.MethodGet, "/entities/facility/fac-1/identities", nil)
	rec := testutil.DoRequest(router, req)

	require.Equal(t, http.StatusOK, rec.Code)
	rows := testutil.DecodeResponse[[]identityResponse](t, rec)
	require.Len(t, rows, 1)
	assert.Equal(t, "fac-1", rows[0].EntityID)
	assert.Equal(t, "synced", rows[0].SyncStatus)
	require.NotNil(t, rows[0].ExternalID)
	assert.Equal(t, "ext-1", *rows[0].ExternalID)
}

func TestHealthAndMetricsAreOpen(t *testing.T) {
	router := newTestRouter(&fakeSyncService{}, &fakeIdentityReader{}, "some-key")

	for _, path := range []string{"/healthz", "/metrics"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := testutil.DoRequest(router, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func adminToken(t *testing.T, key, role string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, AdminClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	signed, err := token.SignedString([]byte(key))
	require.NoError(t, err)
	return signed
}

func TestAdminAuth(t *testing.T) {
	const key = "test-signing-key"
	router := newTestRouter(&fakeSyncService{}, &fakeIdentityReader{}, key)

	t.Run("missing token is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sync/all", nil)
		rec := testutil.DoRequest(router, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("garbage token is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sync/all", nil)
		req.Header.Set("Authorization", "Bearer not.a.jwt")
		rec := testutil.DoRequest(router, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token signed with the wrong key is unauthorized", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sync/all", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t, "other-key", "admin"))
		rec := testutil.DoRequest(router, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("non-admin role is forbidden", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sync/all", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t, key, "viewer"))
		rec := testutil.DoRequest(router, req)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("valid admin token passes", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/sync/all", nil)
		req.Header.Set("Authorization", "Bearer "+adminToken(t, key, "admin"))
		rec := testutil.DoRequest(router, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
