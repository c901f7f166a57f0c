package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// BalanceStore implements storage.BalanceStore using PostgreSQL.
// Every change lands in balance_deltas first; balances is the running sum.
type BalanceStore struct {
	pool *Pool
}

// NewBalanceStore creates a new BalanceStore.
func NewBalanceStore(pool *Pool) *BalanceStore {
	return &BalanceStore{pool: pool}
}

// Compile-time interface check.
var _ storage.BalanceStore = (*BalanceStore)(nil)

// ApplyDelta applies a signed delta exactly once and ratchets the stored slot.
func (s *BalanceStore) ApplyDelta(ctx context.Context, d *domain.BalanceDelta) (applied bool, err error) {
	if d == nil || d.Mint == "" || d.Wallet == "" || d.Leg == "" {
		return false, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("balances.apply_delta", start, err) }(time.Now())

	query := `
		WITH ins AS (
			INSERT INTO balance_deltas (mint, wallet, signature, event_index, leg, amount, slot)
			VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7)
			ON CONFLICT DO NOTHING
			RETURNING mint, wallet, amount, slot
		)
		INSERT INTO balances (mint, wallet, amount, slot, updated_at)
		SELECT mint, wallet, amount, slot, NOW() FROM ins
		ON CONFLICT (mint, wallet) DO UPDATE
		SET amount = balances.amount + EXCLUDED.amount,
			slot = GREATEST(balances.slot, EXCLUDED.slot),
			updated_at = NOW()
	`

	tag, err := s.pool.Exec(ctx, query,
		d.Mint,
		d.Wallet,
		d.Signature,
		d.EventIndex,
		string(d.Leg),
		numeric(d.Amount),
		d.Slot,
	)
	if err != nil {
		return false, fmt.Errorf("apply balance delta: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Get returns a balance. Returns ErrNotFound if the wallet never held the security.
func (s *BalanceStore) Get(ctx context.Context, mint, wallet string) (b *domain.Balance, err error) {
	defer func(start time.Time) { observe("balances.get", start, err) }(time.Now())

	query := `
		SELECT mint, wallet, amount::text, slot, updated_at
		FROM balances
		WHERE mint = $1 AND wallet = $2
	`

	b, err = scanBalance(s.pool.QueryRow(ctx, query, mint, wallet))
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return b, nil
}

// ListHolders returns balances with a positive amount, ordered by wallet.
func (s *BalanceStore) ListHolders(ctx context.Context, mint string) (holders []*domain.Balance, err error) {
	defer func(start time.Time) { observe("balances.list_holders", start, err) }(time.Now())

	query := `
		SELECT mint, wallet, amount::text, slot, updated_at
		FROM balances
		WHERE mint = $1 AND amount > 0
		ORDER BY wallet ASC
	`

	return s.queryBalances(ctx, "list holders", query, mint)
}

// ListHoldersAt reconstructs positive balances from deltas with slot <= slot.
func (s *BalanceStore) ListHoldersAt(ctx context.Context, mint string, slot int64) (holders []*domain.Balance, err error) {
	defer func(start time.Time) { observe("balances.list_holders_at", start, err) }(time.Now())

	query := `
		SELECT mint, wallet, SUM(amount)::text, MAX(slot), MAX(created_at)
		FROM balance_deltas
		WHERE mint = $1 AND slot <= $2
		GROUP BY mint, wallet
		HAVING SUM(amount) > 0
		ORDER BY wallet ASC
	`

	return s.queryBalances(ctx, "list holders at slot", query, mint, slot)
}

// MaxSlot returns the highest slot that touched any balance of the security, or 0.
func (s *BalanceStore) MaxSlot(ctx context.Context, mint string) (slot int64, err error) {
	defer func(start time.Time) { observe("balances.max_slot", start, err) }(time.Now())

	query := `SELECT COALESCE(MAX(slot), 0) FROM balances WHERE mint = $1`

	if err = s.pool.QueryRow(ctx, query, mint).Scan(&slot); err != nil {
		return 0, fmt.Errorf("max balance slot: %w", err)
	}
	return slot, nil
}

func (s *BalanceStore) queryBalances(ctx context.Context, what, query string, args ...any) ([]*domain.Balance, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	defer rows.Close()

	var result []*domain.Balance
	for rows.Next() {
		b, err := scanBalance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", what, err)
	}
	return result, nil
}

// scanBalance scans a single row into Balance.
func scanBalance(row pgx.Row) (*domain.Balance, error) {
	var (
		b      domain.Balance
		amount string
	)
	if err := row.Scan(&b.Mint, &b.Wallet, &amount, &b.Slot, &b.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if b.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	return &b, nil
}
