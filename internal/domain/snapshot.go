package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Holder is a single row of a cap table.
type Holder struct {
	Wallet          string          `json:"wallet"`
	Amount          decimal.Decimal `json:"amount"`
	Percentage      decimal.Decimal `json:"percentage"`
	AllowlistStatus AllowlistStatus `json:"allowlist_status"`
	LastSlot        int64           `json:"last_slot"`
}

// CapTableSnapshot is a frozen cap table at a block height.
// Keyed by (mint, block_height); immutable once stored.
type CapTableSnapshot struct {
	Mint        string          `json:"mint"`
	BlockHeight int64           `json:"block_height"`
	Holders     []Holder        `json:"holders"`
	TotalSupply decimal.Decimal `json:"total_supply"`
	HolderCount int             `json:"holder_count"`
	Reason      string          `json:"reason,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Clone returns a deep copy.
func (s *CapTableSnapshot) Clone() *CapTableSnapshot {
	c := *s
	c.Holders = append([]Holder(nil), s.Holders...)
	return &c
}

// CapTableSummary aggregates a cap table.
type CapTableSummary struct {
	HolderCount        int             `json:"holder_count"`
	TotalShares        decimal.Decimal `json:"total_shares"`
	PercentDistributed decimal.Decimal `json:"percent_distributed"`
}

// CapTable is the result of an ownership query.
// BlockHeight is nil for a live query.
type CapTable struct {
	Mint          string          `json:"mint"`
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Decimals      uint8           `json:"decimals"`
	BlockHeight   *int64          `json:"block_height,omitempty"`
	CurrentSupply decimal.Decimal `json:"current_supply"`
	Holders       []Holder        `json:"holders"`
	Summary       CapTableSummary `json:"summary"`
	GeneratedAt   time.Time       `json:"generated_at"`
}

// ConcentrationMetrics describes how concentrated ownership is.
type ConcentrationMetrics struct {
	Mint           string          `json:"mint"`
	HolderCount    int             `json:"holder_count"`
	Top1Percent    decimal.Decimal `json:"top1_percent"`
	Top5Percent    decimal.Decimal `json:"top5_percent"`
	Top10Percent   decimal.Decimal `json:"top10_percent"`
	Gini           decimal.Decimal `json:"gini"`
	Interpretation string          `json:"interpretation"`
}
