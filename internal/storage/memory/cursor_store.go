package memory

import (
	"context"
	"sync"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// CursorStore is an in-memory implementation of storage.CursorStore.
type CursorStore struct {
	mu      sync.RWMutex
	cursors map[string]*domain.IngestCursor
}

// NewCursorStore creates a new in-memory cursor store.
func NewCursorStore() *CursorStore {
	return &CursorStore{
		cursors: make(map[string]*domain.IngestCursor),
	}
}

// Get returns the cursor for a program.
func (s *CursorStore) Get(_ context.Context, programID string) (*domain.IngestCursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cursors[programID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *c
	return &out, nil
}

// Advance moves the cursor forward, ignoring regressions.
func (s *CursorStore) Advance(_ context.Context, c *domain.IngestCursor) error {
	if c == nil || c.ProgramID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if cur, ok := s.cursors[c.ProgramID]; ok && cur.LastSlot > c.LastSlot {
		return nil
	}
	cp := *c
	s.cursors[c.ProgramID] = &cp
	return nil
}

var _ storage.CursorStore = (*CursorStore)(nil)
