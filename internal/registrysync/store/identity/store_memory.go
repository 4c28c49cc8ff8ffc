package identity

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"charlog/internal/registrysync/models"
	"charlog/internal/registrysync/ports"
)

// MemoryStore keeps identity rows in memory behind a mutex. The map keyed by
// the 4-tuple is what enforces the uniqueness invariant here, mirroring the
// unique index the PostgreSQL store relies on.
type MemoryStore struct {
	mu     sync.RWMutex
	rows   map[models.IdentityKey]*models.RegistryIdentity
	byID   map[uuid.UUID]models.IdentityKey
	clock  func() time.Time
	serial int64
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock sets the clock function for testability.
func WithClock(clock func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewMemory creates an empty in-memory identity store.
func NewMemory(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		rows:  make(map[models.IdentityKey]*models.RegistryIdentity),
		byID:  make(map[uuid.UUID]models.IdentityKey),
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) GetOrCreate(_ context.Context, key models.IdentityKey) (*models.RegistryIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if row, ok := s.rows[key]; ok {
		return copyRow(row), nil
	}

	now := s.clock()
	s.serial++
	row := &models.RegistryIdentity{
		ID:                 uuid.New(),
		EntityType:         key.EntityType,
		EntityID:           key.EntityID,
		RegistryName:       key.RegistryName,
		ExternalEntityType: key.ExternalEntityType,
		SyncStatus:         models.StatusPending,
		CreatedAt:          now.Add(time.Duration(s.serial)), // stable creation order even under a frozen clock
		UpdatedAt:          now,
	}
	s.rows[key] = row
	s.byID[row.ID] = key
	return copyRow(row), nil
}

func (s *MemoryStore) Get(_ context.Context, key models.IdentityKey) (*models.RegistryIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if row, ok := s.rows[key]; ok {
		return copyRow(row), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetByID(_ context.Context, id uuid.UUID) (*models.RegistryIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if key, ok := s.byID[id]; ok {
		return copyRow(s.rows[key]), nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) ListByEntity(_ context.Context, entityType models.EntityType, entityID, registryName string) ([]*models.RegistryIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.RegistryIdentity
	for key, row := range s.rows {
		if key.EntityType != entityType || key.EntityID != entityID {
			continue
		}
		if registryName != "" && key.RegistryName != registryName {
			continue
		}
		out = append(out, copyRow(row))
	}
	sortByCreation(out)
	return out, nil
}

func (s *MemoryStore) FindExternalID(_ context.Context, key models.IdentityKey) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.rows[key]
	if !ok || !row.Synced() {
		return "", ErrNotFound
	}
	return *row.ExternalID, nil
}

func (s *MemoryStore) FindNeedingSync(_ context.Context, q ports.NeedingSyncQuery) ([]*models.RegistryIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.RegistryIdentity
	for key, row := range s.rows {
		if key.EntityType != q.EntityType || key.RegistryName != q.RegistryName || key.ExternalEntityType != q.ExternalEntityType {
			continue
		}
		if row.SyncStatus == models.StatusPending || (q.IncludeErrors && row.SyncStatus == models.StatusError) {
			out = append(out, copyRow(row))
		}
	}
	sortByCreation(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) FindByExternalID(_ context.Context, registryName, externalID string) (*models.RegistryIdentity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for key, row := range s.rows {
		if key.RegistryName == registryName && row.ExternalID != nil && *row.ExternalID == externalID {
			return copyRow(row), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) MarkSyncing(_ context.Context, id uuid.UUID) error {
	return s.transition(id, func(row *models.RegistryIdentity, now time.Time) {
		row.SyncStatus = models.StatusSyncing
		row.UpdatedAt = now
	})
}

func (s *MemoryStore) MarkSynced(_ context.Context, id uuid.UUID, externalID string, metadata map[string]string) error {
	return s.transition(id, func(row *models.RegistryIdentity, now time.Time) {
		row.SyncStatus = models.StatusSynced
		row.ExternalID = &externalID
		row.LastSyncError = ""
		row.LastSyncedAt = &now
		row.UpdatedAt = now
		if len(metadata) > 0 {
			if row.Metadata == nil {
				row.Metadata = make(map[string]string, len(metadata))
			}
			for k, v := range metadata {
				row.Metadata[k] = v
			}
		}
	})
}

func (s *MemoryStore) MarkError(_ context.Context, id uuid.UUID, message string) error {
	return s.transition(id, func(row *models.RegistryIdentity, now time.Time) {
		row.SyncStatus = models.StatusError
		row.LastSyncError = message
		row.UpdatedAt = now
	})
}

func (s *MemoryStore) ResetToPending(_ context.Context, id uuid.UUID) error {
	return s.transition(id, func(row *models.RegistryIdentity, now time.Time) {
		row.SyncStatus = models.StatusPending
		row.LastSyncError = ""
		row.UpdatedAt = now
	})
}

func (s *MemoryStore) CountByStatus(_ context.Context, registryName string) (map[models.EntityType]models.StatusCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[models.EntityType]models.StatusCounts)
	for key, row := range s.rows {
		if key.RegistryName != registryName {
			continue
		}
		counts := out[key.EntityType]
		switch row.SyncStatus {
		case models.StatusPending:
			counts.Pending++
		case models.StatusSyncing:
			counts.Syncing++
		case models.StatusSynced:
			counts.Synced++
		case models.StatusError:
			counts.Error++
		}
		out[key.EntityType] = counts
	}
	return out, nil
}

func (s *MemoryStore) transition(id uuid.UUID, apply func(*models.RegistryIdentity, time.Time)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	apply(s.rows[key], s.clock())
	return nil
}

func copyRow(row *models.RegistryIdentity) *models.RegistryIdentity {
	out := *row
	if row.ExternalID != nil {
		v := *row.ExternalID
		out.ExternalID = &v
	}
	if row.LastSyncedAt != nil {
		t := *row.LastSyncedAt
		out.LastSyncedAt = &t
	}
	if row.Metadata != nil {
		out.Metadata = make(map[string]string, len(row.Metadata))
		for k, v := range row.Metadata {
			out.Metadata[k] = v
		}
	}
	return &out
}

func sortByCreation(rows []*models.RegistryIdentity) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].EntityID < rows[j].EntityID
		}
		return rows[i].CreatedAt.Before(rows[j].CreatedAt)
	})
}
