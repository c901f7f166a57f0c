package memory

import (
	"context"
	"sort"
	"sync"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// TransferStore is an in-memory implementation of storage.TransferStore.
type TransferStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Transfer // keyed by signature
}

// NewTransferStore creates a new in-memory transfer store.
func NewTransferStore() *TransferStore {
	return &TransferStore{
		data: make(map[string]*domain.Transfer),
	}
}

// Insert adds a transfer. Returns ErrDuplicateKey if signature exists.
func (s *TransferStore) Insert(_ context.Context, t *domain.Transfer) error {
	if t == nil || t.Signature == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.Signature]; exists {
		return storage.ErrDuplicateKey
	}
	cp := *t
	s.data[t.Signature] = &cp
	return nil
}

// Query returns a page of transfers ordered by slot DESC and the total match count.
func (s *TransferStore) Query(_ context.Context, q domain.TransferQuery) ([]*domain.Transfer, int, error) {
	if q.Limit < 0 || q.Offset < 0 {
		return nil, 0, storage.ErrInvalidInput
	}

	s.mu.RLock()
	var matched []*domain.Transfer
	for _, t := range s.data {
		if t.Mint != q.Mint {
			continue
		}
		if q.FromWallet != "" && t.From != q.FromWallet {
			continue
		}
		if q.ToWallet != "" && t.To != q.ToWallet {
			continue
		}
		cp := *t
		matched = append(matched, &cp)
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Slot != matched[j].Slot {
			return matched[i].Slot > matched[j].Slot
		}
		return matched[i].Signature < matched[j].Signature
	})

	total := len(matched)
	if q.Offset >= total {
		return []*domain.Transfer{}, total, nil
	}
	end := total
	if q.Limit > 0 && q.Offset+q.Limit < end {
		end = q.Offset + q.Limit
	}
	return matched[q.Offset:end], total, nil
}

var _ storage.TransferStore = (*TransferStore)(nil)
