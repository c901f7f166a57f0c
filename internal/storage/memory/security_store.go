package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// SecurityStore is an in-memory implementation of storage.SecurityStore.
type SecurityStore struct {
	mu      sync.RWMutex
	data    map[string]*domain.Security
	applied map[string]struct{} // supply delta keys
}

// NewSecurityStore creates a new in-memory security store.
func NewSecurityStore() *SecurityStore {
	return &SecurityStore{
		data:    make(map[string]*domain.Security),
		applied: make(map[string]struct{}),
	}
}

// Insert adds a new security. Returns ErrDuplicateKey if mint exists.
func (s *SecurityStore) Insert(_ context.Context, sec *domain.Security) error {
	if sec == nil || sec.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sec.Mint]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[sec.Mint] = sec.Clone()
	return nil
}

// Get retrieves a security by mint.
func (s *SecurityStore) Get(_ context.Context, mint string) (*domain.Security, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sec, ok := s.data[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return sec.Clone(), nil
}

// ApplySupplyDelta adds a minted amount to total and current supply at most once.
func (s *SecurityStore) ApplySupplyDelta(_ context.Context, d *domain.SupplyDelta) (bool, error) {
	if d == nil || d.Mint == "" {
		return false, storage.ErrInvalidInput
	}
	key := fmt.Sprintf("%s|%s|%d", d.Mint, d.Signature, d.EventIndex)

	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.data[d.Mint]
	if !ok {
		return false, storage.ErrNotFound
	}
	if _, done := s.applied[key]; done {
		return false, nil
	}
	s.applied[key] = struct{}{}
	sec.TotalSupply = sec.TotalSupply.Add(d.Amount)
	sec.CurrentSupply = sec.CurrentSupply.Add(d.Amount)
	sec.UpdatedAt = time.Now().UTC()
	return true, nil
}

// UpdateSymbol renames a security.
func (s *SecurityStore) UpdateSymbol(_ context.Context, mint, symbol string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.data[mint]
	if !ok {
		return storage.ErrNotFound
	}
	sec.Symbol = symbol
	sec.UpdatedAt = time.Now().UTC()
	return nil
}

// SetSupply overwrites total and current supply.
func (s *SecurityStore) SetSupply(_ context.Context, mint string, supply decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.data[mint]
	if !ok {
		return storage.ErrNotFound
	}
	sec.TotalSupply = supply
	sec.CurrentSupply = supply
	sec.UpdatedAt = time.Now().UTC()
	return nil
}

// Retire deactivates a security and links it to its successor.
func (s *SecurityStore) Retire(_ context.Context, mint, replacedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sec, ok := s.data[mint]
	if !ok {
		return storage.ErrNotFound
	}
	sec.IsActive = false
	r := replacedBy
	sec.ReplacedBy = &r
	sec.UpdatedAt = time.Now().UTC()
	return nil
}

var _ storage.SecurityStore = (*SecurityStore)(nil)
