package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// BalanceStore is an in-memory implementation of storage.BalanceStore.
// It keeps the full delta ledger so historical holder lists can be rebuilt.
type BalanceStore struct {
	mu       sync.RWMutex
	balances map[string]*domain.Balance // keyed by mint|wallet
	deltas   map[string]*domain.BalanceDelta
}

// NewBalanceStore creates a new in-memory balance store.
func NewBalanceStore() *BalanceStore {
	return &BalanceStore{
		balances: make(map[string]*domain.Balance),
		deltas:   make(map[string]*domain.BalanceDelta),
	}
}

func balanceKey(mint, wallet string) string {
	return mint + "|" + wallet
}

func deltaKey(d *domain.BalanceDelta) string {
	return fmt.Sprintf("%s|%s|%s|%d|%s", d.Mint, d.Wallet, d.Signature, d.EventIndex, d.Leg)
}

// ApplyDelta applies a delta at most once and ratchets the stored slot.
func (s *BalanceStore) ApplyDelta(_ context.Context, d *domain.BalanceDelta) (bool, error) {
	if d == nil || d.Mint == "" || d.Wallet == "" {
		return false, storage.ErrInvalidInput
	}
	key := deltaKey(d)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.deltas[key]; done {
		return false, nil
	}
	cp := *d
	s.deltas[key] = &cp

	bk := balanceKey(d.Mint, d.Wallet)
	b, ok := s.balances[bk]
	if !ok {
		b = &domain.Balance{Mint: d.Mint, Wallet: d.Wallet, Amount: decimal.Zero}
		s.balances[bk] = b
	}
	b.Amount = b.Amount.Add(d.Amount)
	if d.Slot > b.Slot {
		b.Slot = d.Slot
	}
	b.UpdatedAt = time.Now().UTC()
	return true, nil
}

// Get returns a balance.
func (s *BalanceStore) Get(_ context.Context, mint, wallet string) (*domain.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.balances[balanceKey(mint, wallet)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := *b
	return &out, nil
}

// ListHolders returns balances with a positive amount, ordered by wallet.
func (s *BalanceStore) ListHolders(_ context.Context, mint string) ([]*domain.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Balance
	for _, b := range s.balances {
		if b.Mint == mint && b.Amount.IsPositive() {
			out := *b
			result = append(result, &out)
		}
	}
	sortByWallet(result)
	return result, nil
}

// ListHoldersAt sums deltas with slot <= slot and returns positive positions.
func (s *BalanceStore) ListHoldersAt(_ context.Context, mint string, slot int64) ([]*domain.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc := make(map[string]*domain.Balance)
	for _, d := range s.deltas {
		if d.Mint != mint || d.Slot > slot {
			continue
		}
		b, ok := acc[d.Wallet]
		if !ok {
			b = &domain.Balance{Mint: mint, Wallet: d.Wallet, Amount: decimal.Zero}
			acc[d.Wallet] = b
		}
		b.Amount = b.Amount.Add(d.Amount)
		if d.Slot > b.Slot {
			b.Slot = d.Slot
		}
	}

	var result []*domain.Balance
	for _, b := range acc {
		if b.Amount.IsPositive() {
			result = append(result, b)
		}
	}
	sortByWallet(result)
	return result, nil
}

// MaxSlot returns the highest slot that touched any balance of the security.
func (s *BalanceStore) MaxSlot(_ context.Context, mint string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var max int64
	for _, b := range s.balances {
		if b.Mint == mint && b.Slot > max {
			max = b.Slot
		}
	}
	return max, nil
}

func sortByWallet(bs []*domain.Balance) {
	sort.Slice(bs, func(i, j int) bool {
		return bs[i].Wallet < bs[j].Wallet
	})
}

var _ storage.BalanceStore = (*BalanceStore)(nil)
