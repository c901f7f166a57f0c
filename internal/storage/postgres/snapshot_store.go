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

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
// Holders are stored as a JSONB array.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const snapshotColumns = `mint, block_height, holders, total_supply::text, holder_count, reason, created_at`

// Put stores a snapshot. An existing (mint, block_height) is replaced.
func (s *SnapshotStore) Put(ctx context.Context, snap *domain.CapTableSnapshot) (err error) {
	if snap == nil || snap.Mint == "" {
		return storage.ErrInvalidInput
	}
	defer func(start time.Time) { observe("snapshots.put", start, err) }(time.Now())

	holders, err := json.Marshal(snap.Holders)
	if err != nil {
		return fmt.Errorf("marshal holders: %w", err)
	}

	query := `
		INSERT INTO cap_table_snapshots (
			mint, block_height, holders, total_supply, holder_count, reason, created_at
		) VALUES ($1, $2, $3, $4::text::numeric, $5, $6, $7)
		ON CONFLICT (mint, block_height) DO UPDATE
		SET holders = EXCLUDED.holders,
			total_supply = EXCLUDED.total_supply,
			holder_count = EXCLUDED.holder_count,
			reason = EXCLUDED.reason,
			created_at = EXCLUDED.created_at
	`

	_, err = s.pool.Exec(ctx, query,
		snap.Mint,
		snap.BlockHeight,
		holders,
		numeric(snap.TotalSupply),
		snap.HolderCount,
		snap.Reason,
		snap.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

// Get retrieves the snapshot at an exact height. Returns ErrNotFound if not exists.
func (s *SnapshotStore) Get(ctx context.Context, mint string, height int64) (snap *domain.CapTableSnapshot, err error) {
	defer func(start time.Time) { observe("snapshots.get", start, err) }(time.Now())

	query := `SELECT ` + snapshotColumns + ` FROM cap_table_snapshots WHERE mint = $1 AND block_height = $2`
	return s.one(ctx, query, mint, height)
}

// GetNearest retrieves the snapshot with the greatest height <= height.
func (s *SnapshotStore) GetNearest(ctx context.Context, mint string, height int64) (snap *domain.CapTableSnapshot, err error) {
	defer func(start time.Time) { observe("snapshots.get_nearest", start, err) }(time.Now())

	query := `SELECT ` + snapshotColumns + `
		FROM cap_table_snapshots
		WHERE mint = $1 AND block_height <= $2
		ORDER BY block_height DESC
		LIMIT 1`
	return s.one(ctx, query, mint, height)
}

// List returns snapshots for a security, newest first.
func (s *SnapshotStore) List(ctx context.Context, mint string, limit int) (snaps []*domain.CapTableSnapshot, err error) {
	defer func(start time.Time) { observe("snapshots.list", start, err) }(time.Now())

	query := `SELECT ` + snapshotColumns + `
		FROM cap_table_snapshots
		WHERE mint = $1
		ORDER BY block_height DESC`
	args := []any{mint}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}

func (s *SnapshotStore) one(ctx context.Context, query string, args ...any) (*domain.CapTableSnapshot, error) {
	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if isNoRows(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return snap, nil
}

// scanSnapshot scans a single row into CapTableSnapshot.
func scanSnapshot(row pgx.Row) (*domain.CapTableSnapshot, error) {
	var (
		snap    domain.CapTableSnapshot
		holders []byte
		total   string
	)

	err := row.Scan(
		&snap.Mint,
		&snap.BlockHeight,
		&holders,
		&total,
		&snap.HolderCount,
		&snap.Reason,
		&snap.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(holders, &snap.Holders); err != nil {
		return nil, fmt.Errorf("unmarshal holders: %w", err)
	}
	if snap.TotalSupply, err = parseNumeric(total); err != nil {
		return nil, err
	}
	return &snap, nil
}
