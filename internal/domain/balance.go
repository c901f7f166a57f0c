package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the projected holding of one wallet in one security.
// Amount is in base units. Slot is the highest ledger position that touched it.
type Balance struct {
	Mint      string
	Wallet    string
	Amount    decimal.Decimal
	Slot      int64
	UpdatedAt time.Time
}

// DeltaLeg distinguishes the sides of a single ledger event so that
// a self-transfer produces two distinct deltas.
type DeltaLeg string

const (
	LegMint   DeltaLeg = "mint"
	LegDebit  DeltaLeg = "debit"
	LegCredit DeltaLeg = "credit"
	LegSplit  DeltaLeg = "split"
)

// BalanceDelta is a signed change to a balance, applied at most once.
// Keyed by (mint, wallet, signature, event_index, leg).
// Applying a delta adds Amount and ratchets the stored slot to max(stored, Slot).
type BalanceDelta struct {
	Mint       string
	Wallet     string
	Signature  string
	EventIndex int
	Leg        DeltaLeg
	Amount     decimal.Decimal
	Slot       int64
}
