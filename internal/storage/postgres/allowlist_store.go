package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// AllowlistStore implements storage.AllowlistStore using PostgreSQL.
type AllowlistStore struct {
	pool *Pool
}

// NewAllowlistStore creates a new AllowlistStore.
func NewAllowlistStore(pool *Pool) *AllowlistStore {
	return &AllowlistStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AllowlistStore = (*AllowlistStore)(nil)

const allowlistColumns = `
	mint, wallet, status, entry_address, approved_by, approved_at,
	revoked_by, revoked_at, slot, signature, event_index, updated_at`

// Upsert inserts or updates an entry, ratcheting on (slot, signature,
// event_index). Re-applying the stored event changes nothing. A revoked
// update keeps the approval fields of the stored row.
func (s *AllowlistStore) Upsert(ctx context.Context, e *domain.AllowlistEntry) (changed bool, err error) {
	if e == nil || e.Mint == "" || e.Wallet == "" {
		return false, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("allowlist.upsert", start, err) }(time.Now())

	query := `
		INSERT INTO allowlist_entries (
			mint, wallet, status, entry_address, approved_by, approved_at,
			revoked_by, revoked_at, slot, signature, event_index, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (mint, wallet) DO UPDATE
		SET status = EXCLUDED.status,
			slot = EXCLUDED.slot,
			signature = EXCLUDED.signature,
			event_index = EXCLUDED.event_index,
			updated_at = NOW(),
			revoked_by = CASE WHEN EXCLUDED.status = 'revoked'
				THEN EXCLUDED.revoked_by ELSE allowlist_entries.revoked_by END,
			revoked_at = CASE WHEN EXCLUDED.status = 'revoked'
				THEN EXCLUDED.revoked_at ELSE allowlist_entries.revoked_at END,
			approved_by = CASE WHEN EXCLUDED.status = 'revoked'
				THEN allowlist_entries.approved_by ELSE EXCLUDED.approved_by END,
			approved_at = CASE WHEN EXCLUDED.status = 'revoked'
				THEN allowlist_entries.approved_at ELSE EXCLUDED.approved_at END,
			entry_address = CASE WHEN EXCLUDED.status <> 'revoked' AND EXCLUDED.entry_address <> ''
				THEN EXCLUDED.entry_address ELSE allowlist_entries.entry_address END
		WHERE (allowlist_entries.slot, allowlist_entries.signature COLLATE "C", allowlist_entries.event_index)
			< (EXCLUDED.slot, EXCLUDED.signature COLLATE "C", EXCLUDED.event_index)
	`

	tag, err := s.pool.Exec(ctx, query,
		e.Mint,
		e.Wallet,
		string(e.Status),
		e.EntryAddress,
		e.ApprovedBy,
		e.ApprovedAt,
		e.RevokedBy,
		e.RevokedAt,
		e.Slot,
		e.Signature,
		e.EventIndex,
	)
	if err != nil {
		return false, fmt.Errorf("upsert allowlist entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get retrieves an entry. Returns ErrNotFound if not exists.
func (s *AllowlistStore) Get(ctx context.Context, mint, wallet string) (e *domain.AllowlistEntry, err error) {
	defer func(start time.Time) { observe("allowlist.get", start, err) }(time.Now())

	query := `SELECT ` + allowlistColumns + ` FROM allowlist_entries WHERE mint = $1 AND wallet = $2`

	e, err = scanAllowlistEntry(s.pool.QueryRow(ctx, query, mint, wallet))
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get allowlist entry: %w", err)
	}
	return e, nil
}

// ListByMint returns all entries for a security, ordered by wallet.
func (s *AllowlistStore) ListByMint(ctx context.Context, mint string) (entries []*domain.AllowlistEntry, err error) {
	defer func(start time.Time) { observe("allowlist.list_by_mint", start, err) }(time.Now())

	query := `SELECT ` + allowlistColumns + ` FROM allowlist_entries WHERE mint = $1 ORDER BY wallet ASC`
	return s.query(ctx, query, mint)
}

// ListByStatus returns entries with the given status, ordered by wallet.
func (s *AllowlistStore) ListByStatus(ctx context.Context, mint string, status domain.AllowlistStatus) (entries []*domain.AllowlistEntry, err error) {
	defer func(start time.Time) { observe("allowlist.list_by_status", start, err) }(time.Now())

	query := `SELECT ` + allowlistColumns + `
		FROM allowlist_entries
		WHERE mint = $1 AND status = $2
		ORDER BY wallet ASC`
	return s.query(ctx, query, mint, string(status))
}

func (s *AllowlistStore) query(ctx context.Context, query string, args ...any) ([]*domain.AllowlistEntry, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query allowlist entries: %w", err)
	}
	defer rows.Close()

	var result []*domain.AllowlistEntry
	for rows.Next() {
		e, err := scanAllowlistEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan allowlist entry: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate allowlist entries: %w", err)
	}
	return result, nil
}

// scanAllowlistEntry scans a single row into AllowlistEntry.
func scanAllowlistEntry(row pgx.Row) (*domain.AllowlistEntry, error) {
	var (
		e      domain.AllowlistEntry
		status string
	)

	err := row.Scan(
		&e.Mint,
		&e.Wallet,
		&status,
		&e.EntryAddress,
		&e.ApprovedBy,
		&e.ApprovedAt,
		&e.RevokedBy,
		&e.RevokedAt,
		&e.Slot,
		&e.Signature,
		&e.EventIndex,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = domain.AllowlistStatus(status)
	return &e, nil
}
