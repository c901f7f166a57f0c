package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// CorporateActionStore is an in-memory implementation of storage.CorporateActionStore.
type CorporateActionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.CorporateActionRecord
}

// NewCorporateActionStore creates a new in-memory corporate action store.
func NewCorporateActionStore() *CorporateActionStore {
	return &CorporateActionStore{
		data: make(map[string]*domain.CorporateActionRecord),
	}
}

// Insert adds a record. Returns ErrDuplicateKey if id exists.
func (s *CorporateActionStore) Insert(_ context.Context, r *domain.CorporateActionRecord) error {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[r.ID] = r.Clone()
	return nil
}

// Get retrieves a record by id.
func (s *CorporateActionStore) Get(_ context.Context, id string) (*domain.CorporateActionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.data[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return r.Clone(), nil
}

// UpdateStatus moves a record forward.
func (s *CorporateActionStore) UpdateStatus(_ context.Context, id string, status domain.CorporateActionStatus, lastStep int, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.data[id]
	if !ok {
		return storage.ErrNotFound
	}
	if !r.Status.CanTransition(status) {
		return storage.ErrInvalidTransition
	}

	now := time.Now().UTC()
	r.Status = status
	if lastStep > r.LastStep {
		r.LastStep = lastStep
	}
	r.Error = errMsg
	r.UpdatedAt = now
	if status == domain.ActionCompleted {
		r.CompletedAt = &now
	}
	return nil
}

// ListByMint returns records for a security, newest first.
func (s *CorporateActionStore) ListByMint(_ context.Context, mint string) ([]*domain.CorporateActionRecord, error) {
	s.mu.RLock()
	var result []*domain.CorporateActionRecord
	for _, r := range s.data {
		if r.Mint == mint {
			result = append(result, r.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

var _ storage.CorporateActionStore = (*CorporateActionStore)(nil)
