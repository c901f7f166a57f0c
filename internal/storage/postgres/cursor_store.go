package postgres

import (
	"context"
	"fmt"
	"time"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// CursorStore implements storage.CursorStore using PostgreSQL.
type CursorStore struct {
	pool *Pool
}

// NewCursorStore creates a new CursorStore.
func NewCursorStore(pool *Pool) *CursorStore {
	return &CursorStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CursorStore = (*CursorStore)(nil)

// Get returns the cursor for a program. Returns ErrNotFound if no progress was saved.
func (s *CursorStore) Get(ctx context.Context, programID string) (c *domain.IngestCursor, err error) {
	defer func(start time.Time) { observe("cursors.get", start, err) }(time.Now())

	query := `
		SELECT program_id, last_slot, signature, updated_at
		FROM ingest_cursors
		WHERE program_id = $1
	`

	var cur domain.IngestCursor
	err = s.pool.QueryRow(ctx, query, programID).Scan(&cur.ProgramID, &cur.LastSlot, &cur.Signature, &cur.UpdatedAt)
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get cursor: %w", err)
	}
	return &cur, nil
}

// Advance moves the cursor forward. A lower slot than the stored one is ignored.
func (s *CursorStore) Advance(ctx context.Context, c *domain.IngestCursor) (err error) {
	if c == nil || c.ProgramID == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("cursors.advance", start, err) }(time.Now())

	updatedAt := c.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO ingest_cursors (program_id, last_slot, signature, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (program_id) DO UPDATE
		SET last_slot = EXCLUDED.last_slot,
			signature = EXCLUDED.signature,
			updated_at = EXCLUDED.updated_at
		WHERE ingest_cursors.last_slot <= EXCLUDED.last_slot
	`

	if _, err = s.pool.Exec(ctx, query, c.ProgramID, c.LastSlot, c.Signature, updatedAt); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	return nil
}
