package store

import (
	"context"
	"sort"
	"sync"

	"charlog/internal/domain"
)

// MemoryStore holds domain records in memory. Used by unit tests and local
// development; production wiring uses the PostgreSQL store.
type MemoryStore struct {
	mu             sync.RWMutex
	facilities     map[string]domain.Facility
	feedstockTypes map[string]domain.FeedstockType
	productionRuns map[string]domain.ProductionRun
	applications   map[string]domain.Application
	creditBatches  map[string]domain.CreditBatch
}

// NewMemory creates an empty in-memory domain store.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		facilities:     make(map[string]domain.Facility),
		feedstockTypes: make(map[string]domain.FeedstockType),
		productionRuns: make(map[string]domain.ProductionRun),
		applications:   make(map[string]domain.Application),
		creditBatches:  make(map[string]domain.CreditBatch),
	}
}

// Seed helpers; the form layer owns real writes.

func (s *MemoryStore) PutFacility(f domain.Facility) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facilities[f.ID] = f
}

func (s *MemoryStore) PutFeedstockType(f domain.FeedstockType) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedstockTypes[f.ID] = f
}

func (s *MemoryStore) PutProductionRun(r domain.ProductionRun) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.productionRuns[r.ID] = r
}

func (s *MemoryStore) PutApplication(a domain.Application) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applications[a.ID] = a
}

func (s *MemoryStore) PutCreditBatch(b domain.CreditBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creditBatches[b.ID] = b
}

func (s *MemoryStore) GetFacility(_ context.Context, id string) (*domain.Facility, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.facilities[id]; ok {
		return &f, nil
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryStore) GetFeedstockType(_ context.Context, id string) (*domain.FeedstockType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.feedstockTypes[id]; ok {
		return &f, nil
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryStore) GetProductionRun(_ context.Context, id string) (*domain.ProductionRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.productionRuns[id]; ok {
		return &r, nil
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryStore) GetApplication(_ context.Context, id string) (*domain.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.applications[id]; ok {
		return &a, nil
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryStore) GetCreditBatch(_ context.Context, id string) (*domain.CreditBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if b, ok := s.creditBatches[id]; ok {
		return &b, nil
	}
	return nil, domain.ErrNotFound
}

func (s *MemoryStore) ListIDs(_ context.Context, kind string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	switch kind {
	case "facility":
		for id := range s.facilities {
			ids = append(ids, id)
		}
	case "feedstock_type":
		for id := range s.feedstockTypes {
			ids = append(ids, id)
		}
	case "production_run":
		for id := range s.productionRuns {
			ids = append(ids, id)
		}
	case "application":
		for id := range s.applications {
			ids = append(ids, id)
		}
	case "credit_batch":
		for id := range s.creditBatches {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *MemoryStore) ListCreditBatchesAwaitingConfirmation(_ context.Context) ([]*domain.CreditBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.CreditBatch
	for _, b := range s.creditBatches {
		if !b.Status.Terminal() {
			batch := b
			out = append(out, &batch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateCreditBatchStatus(_ context.Context, id string, status domain.CreditBatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.creditBatches[id]
	if !ok {
		return domain.ErrNotFound
	}
	b.Status = status
	s.creditBatches[id] = b
	return nil
}
