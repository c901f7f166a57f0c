package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// SecurityStore implements storage.SecurityStore using PostgreSQL.
type SecurityStore struct {
	pool *Pool
}

// NewSecurityStore creates a new SecurityStore.
func NewSecurityStore(pool *Pool) *SecurityStore {
	return &SecurityStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SecurityStore = (*SecurityStore)(nil)

const securityColumns = `
	mint, symbol, name, decimals, authority, config_address,
	total_supply::text, current_supply::text, is_active,
	previous_mint, replaced_by, created_slot, created_at, updated_at`

// Insert adds a new security. Returns ErrDuplicateKey if mint exists.
func (s *SecurityStore) Insert(ctx context.Context, sec *domain.Security) (err error) {
	if sec == nil || sec.Mint == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("securities.insert", start, err) }(time.Now())

	createdAt := sec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO securities (
			mint, symbol, name, decimals, authority, config_address,
			total_supply, current_supply, is_active,
			previous_mint, replaced_by, created_slot, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::text::numeric, $8::text::numeric, $9, $10, $11, $12, $13, $13)
	`

	_, err = s.pool.Exec(ctx, query,
		sec.Mint,
		sec.Symbol,
		sec.Name,
		int16(sec.Decimals),
		sec.Authority,
		sec.ConfigAddress,
		numeric(sec.TotalSupply),
		numeric(sec.CurrentSupply),
		sec.IsActive,
		sec.PreviousMint,
		sec.ReplacedBy,
		sec.CreatedSlot,
		createdAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert security: %w", err)
	}
	return nil
}

// Get retrieves a security by mint. Returns ErrNotFound if not exists.
func (s *SecurityStore) Get(ctx context.Context, mint string) (sec *domain.Security, err error) {
	defer func(start time.Time) { observe("securities.get", start, err) }(time.Now())

	query := `SELECT ` + securityColumns + ` FROM securities WHERE mint = $1`

	sec, err = scanSecurity(s.pool.QueryRow(ctx, query, mint))
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get security: %w", err)
	}
	return sec, nil
}

// ApplySupplyDelta adds a minted amount to total and current supply at most once.
func (s *SecurityStore) ApplySupplyDelta(ctx context.Context, d *domain.SupplyDelta) (applied bool, err error) {
	if d == nil || d.Mint == "" {
		return false, storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("securities.apply_supply_delta", start, err) }(time.Now())

	query := `
		WITH ins AS (
			INSERT INTO supply_deltas (mint, signature, event_index, amount, slot)
			SELECT $1::text, $2::text, $3::integer, $4::text::numeric, $5::bigint
			WHERE EXISTS (SELECT 1 FROM securities WHERE mint = $1)
			ON CONFLICT DO NOTHING
			RETURNING amount
		)
		UPDATE securities s
		SET total_supply = s.total_supply + ins.amount,
			current_supply = s.current_supply + ins.amount,
			updated_at = NOW()
		FROM ins
		WHERE s.mint = $1
	`

	tag, err := s.pool.Exec(ctx, query, d.Mint, d.Signature, d.EventIndex, numeric(d.Amount), d.Slot)
	if err != nil {
		return false, fmt.Errorf("apply supply delta: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Nothing changed: either the delta was already applied or the security is unknown.
	if _, err := s.Get(ctx, d.Mint); err != nil {
		return false, err
	}
	return false, nil
}

// UpdateSymbol renames a security. Returns ErrNotFound if not exists.
func (s *SecurityStore) UpdateSymbol(ctx context.Context, mint, symbol string) (err error) {
	defer func(start time.Time) { observe("securities.update_symbol", start, err) }(time.Now())

	return s.update(ctx, "update symbol",
		`UPDATE securities SET symbol = $2, updated_at = NOW() WHERE mint = $1`,
		mint, symbol)
}

// SetSupply overwrites total and current supply.
func (s *SecurityStore) SetSupply(ctx context.Context, mint string, supply decimal.Decimal) (err error) {
	defer func(start time.Time) { observe("securities.set_supply", start, err) }(time.Now())

	return s.update(ctx, "set supply",
		`UPDATE securities
		 SET total_supply = $2::text::numeric, current_supply = $2::text::numeric, updated_at = NOW()
		 WHERE mint = $1`,
		mint, numeric(supply))
}

// Retire deactivates a security and links it to its successor.
func (s *SecurityStore) Retire(ctx context.Context, mint, replacedBy string) (err error) {
	defer func(start time.Time) { observe("securities.retire", start, err) }(time.Now())

	return s.update(ctx, "retire security",
		`UPDATE securities SET is_active = FALSE, replaced_by = $2, updated_at = NOW() WHERE mint = $1`,
		mint, replacedBy)
}

func (s *SecurityStore) update(ctx context.Context, what, query string, args ...any) error {
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// scanSecurity scans a single row into Security.
func scanSecurity(row pgx.Row) (*domain.Security, error) {
	var (
		sec            domain.Security
		decimals       int16
		total, current string
	)

	err := row.Scan(
		&sec.Mint,
		&sec.Symbol,
		&sec.Name,
		&decimals,
		&sec.Authority,
		&sec.ConfigAddress,
		&total,
		&current,
		&sec.IsActive,
		&sec.PreviousMint,
		&sec.ReplacedBy,
		&sec.CreatedSlot,
		&sec.CreatedAt,
		&sec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sec.Decimals = uint8(decimals)
	if sec.TotalSupply, err = parseNumeric(total); err != nil {
		return nil, err
	}
	if sec.CurrentSupply, err = parseNumeric(current); err != nil {
		return nil, err
	}
	return &sec, nil
}
