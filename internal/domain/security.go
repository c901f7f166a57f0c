package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Security is a tokenized instrument tracked by the indexer.
// Corresponds to the securities table. Keyed by mint.
type Security struct {
	Mint          string // mint address (base58)
	Symbol        string
	Name          string
	Decimals      uint8
	Authority     string // issuer authority from TokenInitialized
	ConfigAddress string // token_config PDA

	TotalSupply   decimal.Decimal // cumulative minted amount
	CurrentSupply decimal.Decimal // sum of non-zero balances after projection converges
	IsActive      bool

	// Split lineage.
	PreviousMint *string
	ReplacedBy   *string

	CreatedSlot int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a copy safe to hand out of a store.
func (s *Security) Clone() *Security {
	c := *s
	if s.PreviousMint != nil {
		v := *s.PreviousMint
		c.PreviousMint = &v
	}
	if s.ReplacedBy != nil {
		v := *s.ReplacedBy
		c.ReplacedBy = &v
	}
	return &c
}

// SupplyDelta is a single idempotent change to a security's supply.
// Keyed by (mint, signature, event_index).
type SupplyDelta struct {
	Mint       string
	Signature  string
	EventIndex int
	Amount     decimal.Decimal
	Slot       int64
}

// Validation bounds enforced by the on-chain program.
const (
	MinSymbolLen = 3
	MaxSymbolLen = 10
	MinNameLen   = 2
	MaxNameLen   = 50
	MaxDecimals  = 9
)
