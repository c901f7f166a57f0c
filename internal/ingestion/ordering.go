package ingestion

import (
	"errors"
	"sort"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/solana"
)

// ErrInvalidOrdering is returned when items are not in ledger order.
var ErrInvalidOrdering = errors.New("items are not in deterministic ledger order")

// SortSignatures orders signatures by (slot ASC, signature ASC).
// getSignaturesForAddress pages newest first; replay wants oldest first.
func SortSignatures(sigs []solana.SignatureInfo) {
	sort.Slice(sigs, func(i, j int) bool {
		return compareSignatures(sigs[i], sigs[j]) < 0
	})
}

// SortLedgerEvents orders events by (slot ASC, signature ASC, event_index ASC).
func SortLedgerEvents(events []domain.LedgerEvent) {
	sort.Slice(events, func(i, j int) bool {
		return compareLedgerEvents(events[i], events[j]) < 0
	})
}

// ValidateSignatureOrdering checks if signatures are strictly ordered.
// Returns ErrInvalidOrdering if not.
func ValidateSignatureOrdering(sigs []solana.SignatureInfo) error {
	for i := 1; i < len(sigs); i++ {
		if compareSignatures(sigs[i-1], sigs[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// ValidateLedgerEventOrdering checks if events are strictly ordered.
// Returns ErrInvalidOrdering if not.
func ValidateLedgerEventOrdering(events []domain.LedgerEvent) error {
	for i := 1; i < len(events); i++ {
		if compareLedgerEvents(events[i-1], events[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareSignatures returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (slot ASC, signature ASC)
func compareSignatures(a, b solana.SignatureInfo) int {
	if a.Slot != b.Slot {
		if a.Slot < b.Slot {
			return -1
		}
		return 1
	}
	if a.Signature != b.Signature {
		if a.Signature < b.Signature {
			return -1
		}
		return 1
	}
	return 0
}

// compareLedgerEvents orders by (slot ASC, signature ASC, event_index ASC).
func compareLedgerEvents(a, b domain.LedgerEvent) int {
	if a.Slot != b.Slot {
		if a.Slot < b.Slot {
			return -1
		}
		return 1
	}
	if a.Signature != b.Signature {
		if a.Signature < b.Signature {
			return -1
		}
		return 1
	}
	if a.EventIndex != b.EventIndex {
		if a.EventIndex < b.EventIndex {
			return -1
		}
		return 1
	}
	return 0
}
