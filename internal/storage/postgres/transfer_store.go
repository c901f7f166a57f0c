package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// TransferStore implements storage.TransferStore using PostgreSQL.
type TransferStore struct {
	pool *Pool
}

// NewTransferStore creates a new TransferStore.
func NewTransferStore(pool *Pool) *TransferStore {
	return &TransferStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TransferStore = (*TransferStore)(nil)

// Insert adds a transfer. Returns ErrDuplicateKey if signature exists.
func (s *TransferStore) Insert(ctx context.Context, t *domain.Transfer) (err error) {
	if t == nil || t.Signature == "" || t.Mint == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("transfers.insert", start, err) }(time.Now())

	status := t.Status
	if status == "" {
		status = domain.TransferConfirmed
	}

	query := `
		INSERT INTO transfers (
			signature, event_index, mint, from_wallet, to_wallet,
			amount, slot, block_time, status
		) VALUES ($1, $2, $3, $4, $5, $6::text::numeric, $7, $8, $9)
	`

	_, err = s.pool.Exec(ctx, query,
		t.Signature,
		t.EventIndex,
		t.Mint,
		t.From,
		t.To,
		numeric(t.Amount),
		t.Slot,
		t.BlockTime,
		status,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transfer: %w", err)
	}
	return nil
}

// Query returns a page of transfers ordered by slot DESC and the total match count.
func (s *TransferStore) Query(ctx context.Context, q domain.TransferQuery) (transfers []*domain.Transfer, total int, err error) {
	defer func(start time.Time) { observe("transfers.query", start, err) }(time.Now())

	where := []string{"mint = $1"}
	args := []any{q.Mint}
	if q.FromWallet != "" {
		args = append(args, q.FromWallet)
		where = append(where, fmt.Sprintf("from_wallet = $%d", len(args)))
	}
	if q.ToWallet != "" {
		args = append(args, q.ToWallet)
		where = append(where, fmt.Sprintf("to_wallet = $%d", len(args)))
	}
	filter := strings.Join(where, " AND ")

	if err = s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers WHERE `+filter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count transfers: %w", err)
	}

	query := `
		SELECT signature, event_index, mint, from_wallet, to_wallet,
			amount::text, slot, block_time, status, created_at
		FROM transfers
		WHERE ` + filter + `
		ORDER BY slot DESC, signature ASC
		OFFSET ` + fmt.Sprintf("$%d", len(args)+1)
	args = append(args, q.Offset)
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("query transfers: %w", err)
	}
	defer rows.Close()

	transfers = []*domain.Transfer{}
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan transfer: %w", err)
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate transfers: %w", err)
	}
	return transfers, total, nil
}

// scanTransfer scans a single row into Transfer.
func scanTransfer(row pgx.Row) (*domain.Transfer, error) {
	var (
		t      domain.Transfer
		amount string
	)

	err := row.Scan(
		&t.Signature,
		&t.EventIndex,
		&t.Mint,
		&t.From,
		&t.To,
		&amount,
		&t.Slot,
		&t.BlockTime,
		&t.Status,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if t.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	return &t, nil
}
