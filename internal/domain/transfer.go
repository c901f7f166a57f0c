package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransferStatus values.
const (
	TransferConfirmed = "confirmed"
)

// Transfer is an immutable record of a gated transfer. Unique by signature.
type Transfer struct {
	Signature  string
	EventIndex int
	Mint       string
	From       string
	To         string
	Amount     decimal.Decimal
	Slot       int64
	BlockTime  time.Time
	Status     string
	CreatedAt  time.Time
}

// TransferQuery filters a page of transfer history.
type TransferQuery struct {
	Mint       string
	Limit      int
	Offset     int
	FromWallet string // optional
	ToWallet   string // optional
}
