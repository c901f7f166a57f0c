package storage

import (
	"context"

	"github.com/shopspring/decimal"

	"captable-indexer/internal/domain"
)

// SecurityStore provides access to securities storage.
type SecurityStore interface {
	// Insert adds a new security. Returns ErrDuplicateKey if mint exists.
	Insert(ctx context.Context, s *domain.Security) error

	// Get retrieves a security by mint. Returns ErrNotFound if not exists.
	Get(ctx context.Context, mint string) (*domain.Security, error)

	// ApplySupplyDelta adds a minted amount to total and current supply.
	// Returns false if the delta key was already applied.
	ApplySupplyDelta(ctx context.Context, d *domain.SupplyDelta) (bool, error)

	// UpdateSymbol renames a security. Returns ErrNotFound if not exists.
	UpdateSymbol(ctx context.Context, mint, symbol string) error

	// SetSupply overwrites total and current supply. Used by corporate actions only.
	SetSupply(ctx context.Context, mint string, supply decimal.Decimal) error

	// Retire deactivates a security and links it to its successor.
	Retire(ctx context.Context, mint, replacedBy string) error
}

// BalanceStore provides access to balances and the balance delta ledger.
type BalanceStore interface {
	// ApplyDelta applies a signed delta exactly once and ratchets the stored slot.
	// Returns false if the delta key was already applied.
	ApplyDelta(ctx context.Context, d *domain.BalanceDelta) (bool, error)

	// Get returns a balance. Returns ErrNotFound if the wallet never held the security.
	Get(ctx context.Context, mint, wallet string) (*domain.Balance, error)

	// ListHolders returns balances with a positive amount, ordered by wallet.
	ListHolders(ctx context.Context, mint string) ([]*domain.Balance, error)

	// ListHoldersAt reconstructs positive balances from deltas with slot <= slot.
	ListHoldersAt(ctx context.Context, mint string, slot int64) ([]*domain.Balance, error)

	// MaxSlot returns the highest slot that touched any balance of the security, or 0.
	MaxSlot(ctx context.Context, mint string) (int64, error)
}

// AllowlistStore provides access to allowlist_entries storage.
type AllowlistStore interface {
	// Upsert inserts or updates an entry. The update is skipped when the
	// stored slot is newer than e.Slot. A revoked entry only overwrites
	// status, revoked_by, revoked_at and slot. Returns whether a row changed.
	Upsert(ctx context.Context, e *domain.AllowlistEntry) (bool, error)

	// Get retrieves an entry. Returns ErrNotFound if not exists.
	Get(ctx context.Context, mint, wallet string) (*domain.AllowlistEntry, error)

	// ListByMint returns all entries for a security, ordered by wallet.
	ListByMint(ctx context.Context, mint string) ([]*domain.AllowlistEntry, error)

	// ListByStatus returns entries with the given status, ordered by wallet.
	ListByStatus(ctx context.Context, mint string, status domain.AllowlistStatus) ([]*domain.AllowlistEntry, error)
}

// TransferStore provides access to transfers storage.
type TransferStore interface {
	// Insert adds a transfer. Returns ErrDuplicateKey if signature exists.
	Insert(ctx context.Context, t *domain.Transfer) error

	// Query returns a page of transfers ordered by slot DESC and the total match count.
	Query(ctx context.Context, q domain.TransferQuery) ([]*domain.Transfer, int, error)
}

// SnapshotStore provides access to cap table snapshots.
type SnapshotStore interface {
	// Put stores a snapshot. An existing (mint, block_height) is replaced.
	Put(ctx context.Context, s *domain.CapTableSnapshot) error

	// Get retrieves the snapshot at an exact height. Returns ErrNotFound if not exists.
	Get(ctx context.Context, mint string, height int64) (*domain.CapTableSnapshot, error)

	// GetNearest retrieves the snapshot with the greatest height <= height.
	// Returns ErrNotFound if none exists.
	GetNearest(ctx context.Context, mint string, height int64) (*domain.CapTableSnapshot, error)

	// List returns snapshots for a security, newest first.
	List(ctx context.Context, mint string, limit int) ([]*domain.CapTableSnapshot, error)
}

// CorporateActionStore provides access to corporate_actions storage.
type CorporateActionStore interface {
	// Insert adds a record. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, r *domain.CorporateActionRecord) error

	// Get retrieves a record by id. Returns ErrNotFound if not exists.
	Get(ctx context.Context, id string) (*domain.CorporateActionRecord, error)

	// UpdateStatus moves a record forward. lastStep never decreases.
	// Returns ErrInvalidTransition if the status would move backwards.
	UpdateStatus(ctx context.Context, id string, status domain.CorporateActionStatus, lastStep int, errMsg string) error

	// ListByMint returns records for a security, newest first.
	ListByMint(ctx context.Context, mint string) ([]*domain.CorporateActionRecord, error)
}

// Stores groups every store the indexer needs.
type Stores struct {
	Securities       SecurityStore
	Balances         BalanceStore
	Allowlist        AllowlistStore
	Transfers        TransferStore
	Snapshots        SnapshotStore
	CorporateActions CorporateActionStore
	Cursors          CursorStore
}
