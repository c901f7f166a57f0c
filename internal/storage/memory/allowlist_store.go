package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// AllowlistStore is an in-memory implementation of storage.AllowlistStore.
type AllowlistStore struct {
	mu   sync.RWMutex
	data map[string]*domain.AllowlistEntry // keyed by mint|wallet
}

// NewAllowlistStore creates a new in-memory allowlist store.
func NewAllowlistStore() *AllowlistStore {
	return &AllowlistStore{
		data: make(map[string]*domain.AllowlistEntry),
	}
}

// Upsert inserts or updates an entry, ratcheting on the event position.
func (s *AllowlistStore) Upsert(_ context.Context, e *domain.AllowlistEntry) (bool, error) {
	if e == nil || e.Mint == "" || e.Wallet == "" {
		return false, storage.ErrInvalidInput
	}
	key := balanceKey(e.Mint, e.Wallet)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.data[key]
	if !ok {
		s.data[key] = cloneEntry(e)
		return true, nil
	}
	if !e.Supersedes(cur) {
		return false, nil
	}

	cur.Status = e.Status
	cur.Slot = e.Slot
	cur.Signature = e.Signature
	cur.EventIndex = e.EventIndex
	cur.UpdatedAt = time.Now().UTC()
	if e.Status == domain.AllowlistRevoked {
		cur.RevokedBy = e.RevokedBy
		cur.RevokedAt = copyTime(e.RevokedAt)
		return true, nil
	}
	cur.ApprovedBy = e.ApprovedBy
	cur.ApprovedAt = copyTime(e.ApprovedAt)
	if e.EntryAddress != "" {
		cur.EntryAddress = e.EntryAddress
	}
	return true, nil
}

// Get retrieves an entry.
func (s *AllowlistStore) Get(_ context.Context, mint, wallet string) (*domain.AllowlistEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.data[balanceKey(mint, wallet)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneEntry(e), nil
}

// ListByMint returns all entries for a security, ordered by wallet.
func (s *AllowlistStore) ListByMint(_ context.Context, mint string) ([]*domain.AllowlistEntry, error) {
	return s.list(mint, ""), nil
}

// ListByStatus returns entries with the given status, ordered by wallet.
func (s *AllowlistStore) ListByStatus(_ context.Context, mint string, status domain.AllowlistStatus) ([]*domain.AllowlistEntry, error) {
	return s.list(mint, status), nil
}

func (s *AllowlistStore) list(mint string, status domain.AllowlistStatus) []*domain.AllowlistEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.AllowlistEntry
	for _, e := range s.data {
		if e.Mint != mint {
			continue
		}
		if status != "" && e.Status != status {
			continue
		}
		result = append(result, cloneEntry(e))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Wallet < result[j].Wallet
	})
	return result
}

func cloneEntry(e *domain.AllowlistEntry) *domain.AllowlistEntry {
	c := *e
	c.ApprovedAt = copyTime(e.ApprovedAt)
	c.RevokedAt = copyTime(e.RevokedAt)
	return &c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

var _ storage.AllowlistStore = (*AllowlistStore)(nil)
