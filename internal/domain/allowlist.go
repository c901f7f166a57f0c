package domain

import "time"

// AllowlistStatus is the approval state of a wallet for a security.
type AllowlistStatus string

const (
	AllowlistPending  AllowlistStatus = "pending"
	AllowlistApproved AllowlistStatus = "approved"
	AllowlistRevoked  AllowlistStatus = "revoked"
	// AllowlistNone marks a holder without any allowlist entry.
	AllowlistNone AllowlistStatus = "none"
)

// AllowlistEntry tracks whether a wallet may hold a security.
// Entries are never deleted. Updates ratchet on the writing event's position
// (Slot, Signature, EventIndex): an update at or below the stored position is
// ignored, so replaying the stored event is a no-op.
type AllowlistEntry struct {
	Mint         string
	Wallet       string
	Status       AllowlistStatus
	EntryAddress string // allowlist PDA

	ApprovedBy string
	ApprovedAt *time.Time
	RevokedBy  string
	RevokedAt  *time.Time

	Slot       int64
	Signature  string
	EventIndex int
	UpdatedAt  time.Time
}

// Supersedes reports whether e was written by an event strictly after cur's.
// Events within one slot are ordered by signature, then event index.
func (e *AllowlistEntry) Supersedes(cur *AllowlistEntry) bool {
	if e.Slot != cur.Slot {
		return e.Slot > cur.Slot
	}
	if e.Signature != cur.Signature {
		return e.Signature > cur.Signature
	}
	return e.EventIndex > cur.EventIndex
}
