package memory

import "captable-indexer/internal/storage"

// NewStores returns a full set of empty in-memory stores.
func NewStores() *storage.Stores {
	return &storage.Stores{
		Securities:       NewSecurityStore(),
		Balances:         NewBalanceStore(),
		Allowlist:        NewAllowlistStore(),
		Transfers:        NewTransferStore(),
		Snapshots:        NewSnapshotStore(),
		CorporateActions: NewCorporateActionStore(),
		Cursors:          NewCursorStore(),
	}
}
