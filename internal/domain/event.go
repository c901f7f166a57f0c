package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event is a decoded program event. The set of variants is closed.
type Event interface {
	EventName() string
	// EventMint returns the security the event belongs to.
	EventMint() string
	isEvent()
}

// TokenInitialized announces a new security.
type TokenInitialized struct {
	Authority string
	Mint      string
	Symbol    string
	Name      string
	Decimals  uint8
}

// WalletApproved adds a wallet to a security's allowlist.
type WalletApproved struct {
	Mint       string
	Wallet     string
	ApprovedBy string
	Timestamp  int64 // unix seconds
}

// WalletRevoked removes a wallet's approval.
type WalletRevoked struct {
	Mint      string
	Wallet    string
	RevokedBy string
	Timestamp int64 // unix seconds
}

// TokensMinted credits newly issued units to a recipient.
// NewSupply is the on-chain supply after the mint.
type TokensMinted struct {
	Mint      string
	Recipient string
	Amount    decimal.Decimal
	NewSupply decimal.Decimal
}

// TokensTransferred moves units between two allowlisted wallets.
type TokensTransferred struct {
	Mint   string
	From   string
	To     string
	Amount decimal.Decimal
}

func (TokenInitialized) EventName() string  { return "TokenInitializedEvent" }
func (WalletApproved) EventName() string    { return "WalletApprovedEvent" }
func (WalletRevoked) EventName() string     { return "WalletRevokedEvent" }
func (TokensMinted) EventName() string      { return "TokensMintedEvent" }
func (TokensTransferred) EventName() string { return "TokensTransferredEvent" }

func (e TokenInitialized) EventMint() string  { return e.Mint }
func (e WalletApproved) EventMint() string    { return e.Mint }
func (e WalletRevoked) EventMint() string     { return e.Mint }
func (e TokensMinted) EventMint() string      { return e.Mint }
func (e TokensTransferred) EventMint() string { return e.Mint }

func (TokenInitialized) isEvent()  {}
func (WalletApproved) isEvent()    {}
func (WalletRevoked) isEvent()     {}
func (TokensMinted) isEvent()      {}
func (TokensTransferred) isEvent() {}

// LedgerEvent is an event positioned on the ledger.
// (Signature, EventIndex) identifies it uniquely.
type LedgerEvent struct {
	Signature  string
	EventIndex int
	Slot       int64
	BlockTime  time.Time
	Event      Event
}
