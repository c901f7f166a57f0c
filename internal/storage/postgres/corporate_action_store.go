package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// CorporateActionStore implements storage.CorporateActionStore using PostgreSQL.
type CorporateActionStore struct {
	pool *Pool
}

// NewCorporateActionStore creates a new CorporateActionStore.
func NewCorporateActionStore(pool *Pool) *CorporateActionStore {
	return &CorporateActionStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CorporateActionStore = (*CorporateActionStore)(nil)

const corporateActionColumns = `
	id, mint, action_type, parameters, status, last_step, error,
	executed_by, created_at, updated_at, completed_at`

// Insert adds a record. Returns ErrDuplicateKey if id exists.
func (s *CorporateActionStore) Insert(ctx context.Context, r *domain.CorporateActionRecord) (err error) {
	if r == nil || r.ID == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("corporate_actions.insert", start, err) }(time.Now())

	params := r.Parameters
	if params == nil {
		params = map[string]string{}
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal parameters: %w", err)
	}

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	updatedAt := r.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = createdAt
	}

	query := `
		INSERT INTO corporate_actions (
			id, mint, action_type, parameters, status, last_step, error,
			executed_by, created_at, updated_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = s.pool.Exec(ctx, query,
		r.ID,
		r.Mint,
		string(r.ActionType),
		paramsJSON,
		string(r.Status),
		r.LastStep,
		r.Error,
		r.ExecutedBy,
		createdAt,
		updatedAt,
		r.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert corporate action: %w", err)
	}
	return nil
}

// Get retrieves a record by id. Returns ErrNotFound if not exists.
func (s *CorporateActionStore) Get(ctx context.Context, id string) (r *domain.CorporateActionRecord, err error) {
	defer func(start time.Time) { observe("corporate_actions.get", start, err) }(time.Now())

	query := `SELECT ` + corporateActionColumns + ` FROM corporate_actions WHERE id = $1`

	r, err = scanCorporateAction(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get corporate action: %w", err)
	}
	return r, nil
}

// UpdateStatus moves a record forward. The transition is checked under a
// row lock so concurrent updates cannot move the status backwards.
func (s *CorporateActionStore) UpdateStatus(ctx context.Context, id string, status domain.CorporateActionStatus, lastStep int, errMsg string) (err error) {
	defer func(start time.Time) { observe("corporate_actions.update_status", start, err) }(time.Now())

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var current string
	err = tx.QueryRow(ctx, `SELECT status FROM corporate_actions WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if isNoRows(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("lock corporate action: %w", err)
	}
	if !domain.CorporateActionStatus(current).CanTransition(status) {
		return storage.ErrInvalidTransition
	}

	query := `
		UPDATE corporate_actions
		SET status = $2,
			last_step = GREATEST(last_step, $3),
			error = $4,
			updated_at = NOW(),
			completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE completed_at END
		WHERE id = $1
	`
	if _, err = tx.Exec(ctx, query, id, string(status), lastStep, errMsg); err != nil {
		return fmt.Errorf("update corporate action: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ListByMint returns records for a security, newest first.
func (s *CorporateActionStore) ListByMint(ctx context.Context, mint string) (records []*domain.CorporateActionRecord, err error) {
	defer func(start time.Time) { observe("corporate_actions.list_by_mint", start, err) }(time.Now())

	query := `SELECT ` + corporateActionColumns + `
		FROM corporate_actions
		WHERE mint = $1
		ORDER BY created_at DESC, id ASC`

	rows, err := s.pool.Query(ctx, query, mint)
	if err != nil {
		return nil, fmt.Errorf("list corporate actions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		r, err := scanCorporateAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan corporate action: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate corporate actions: %w", err)
	}
	return records, nil
}

// scanCorporateAction scans a single row into CorporateActionRecord.
func scanCorporateAction(row pgx.Row) (*domain.CorporateActionRecord, error) {
	var (
		r                  domain.CorporateActionRecord
		actionType, status string
		params             []byte
	)

	err := row.Scan(
		&r.ID,
		&r.Mint,
		&actionType,
		&params,
		&status,
		&r.LastStep,
		&r.Error,
		&r.ExecutedBy,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	r.ActionType = domain.CorporateActionType(actionType)
	r.Status = domain.CorporateActionStatus(status)
	if len(params) > 0 {
		if err := json.Unmarshal(params, &r.Parameters); err != nil {
			return nil, fmt.Errorf("unmarshal parameters: %w", err)
		}
	}
	return &r, nil
}
