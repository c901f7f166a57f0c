package memory

import (
	"context"
	"sort"
	"sync"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]map[int64]*domain.CapTableSnapshot // mint -> height -> snapshot
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]map[int64]*domain.CapTableSnapshot),
	}
}

// Put stores a snapshot, replacing any at the same height.
func (s *SnapshotStore) Put(_ context.Context, snap *domain.CapTableSnapshot) error {
	if snap == nil || snap.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byHeight, ok := s.data[snap.Mint]
	if !ok {
		byHeight = make(map[int64]*domain.CapTableSnapshot)
		s.data[snap.Mint] = byHeight
	}
	byHeight[snap.BlockHeight] = snap.Clone()
	return nil
}

// Get retrieves the snapshot at an exact height.
func (s *SnapshotStore) Get(_ context.Context, mint string, height int64) (*domain.CapTableSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.data[mint][height]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return snap.Clone(), nil
}

// GetNearest retrieves the snapshot with the greatest height <= height.
func (s *SnapshotStore) GetNearest(_ context.Context, mint string, height int64) (*domain.CapTableSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.CapTableSnapshot
	for h, snap := range s.data[mint] {
		if h <= height && (best == nil || h > best.BlockHeight) {
			best = snap
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return best.Clone(), nil
}

// List returns snapshots for a security, newest first.
func (s *SnapshotStore) List(_ context.Context, mint string, limit int) ([]*domain.CapTableSnapshot, error) {
	s.mu.RLock()
	result := make([]*domain.CapTableSnapshot, 0, len(s.data[mint]))
	for _, snap := range s.data[mint] {
		result = append(result, snap.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return result[i].BlockHeight > result[j].BlockHeight
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
