package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"charlog/internal/domain"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	s.PutFacility(domain.Facility{ID: "fac-1", Name: "Ridgeview"})

	f, err := s.GetFacility(ctx, "fac-1")
	require.NoError(t, err)
	assert.Equal(t, "Ridgeview", f.Name)

	_, err = s.GetFacility(ctx, "fac-2")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMemoryStoreListIDs(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	s.PutFacility(domain.Facility{ID: "fac-b"})
	s.PutFacility(domain.Facility{ID: "fac-a"})
	s.PutCreditBatch(domain.CreditBatch{ID: "cb-1"})

	ids, err := s.ListIDs(ctx, "facility")
	require.NoError(t, err)
	assert.Equal(t, []string{"fac-a", "fac-b"}, ids)

	ids, err = s.ListIDs(ctx, "credit_batch")
	require.NoError(t, err)
	assert.Equal(t, []string{"cb-1"}, ids)
}

func TestMemoryStoreConfirmationFlow(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	s.PutCreditBatch(domain.CreditBatch{ID: "cb-open", Status: domain.BatchSubmitted})
	s.PutCreditBatch(domain.CreditBatch{ID: "cb-done", Status: domain.BatchIssued})

	batches, err := s.ListCreditBatchesAwaitingConfirmation(ctx)
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, "cb-open", batches[0].ID)

	require.NoError(t, s.UpdateCreditBatchStatus(ctx, "cb-open", domain.BatchVerified))
	b, err := s.GetCreditBatch(ctx, "cb-open")
	require.NoError(t, err)
	assert.Equal(t, domain.BatchVerified, b.Status)

	require.ErrorIs(t, s.UpdateCreditBatchStatus(ctx, "cb-none", domain.BatchVerified), domain.ErrNotFound)
}
