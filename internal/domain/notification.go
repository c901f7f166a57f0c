package domain

import "time"

// Notification types published to downstream consumers.
const (
	NotifyTokenInitialized  = "token_initialized"
	NotifyWalletApproved    = "wallet_approved"
	NotifyWalletRevoked     = "wallet_revoked"
	NotifyTokensMinted      = "tokens_minted"
	NotifyTokensTransferred = "tokens_transferred"
	NotifyCapTableUpdated   = "cap_table_updated"
	NotifyCorporateAction   = "corporate_action"
	NotifySnapshotCreated   = "snapshot_created"
)

// Notification is a change event emitted after a state change is persisted.
type Notification struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	Mint      string            `json:"mint"`
	Slot      int64             `json:"slot,omitempty"`
	Signature string            `json:"signature,omitempty"`
	Payload   map[string]string `json:"payload,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
