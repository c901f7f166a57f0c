package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using ClickHouse.
// cap_table_snapshots is a ReplacingMergeTree keyed by (mint, block_height),
// so Put replaces by inserting a newer version and reads use FINAL.
type SnapshotStore struct {
	conn *Conn
	now  func() time.Time
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(conn *Conn) *SnapshotStore {
	return &SnapshotStore{conn: conn, now: time.Now}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const snapshotColumns = `mint, block_height, holders, total_supply, holder_count, reason, created_at`

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
			mint, block_height, holders, total_supply, holder_count, reason, created_at, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = s.conn.Exec(ctx, query,
		snap.Mint,
		snap.BlockHeight,
		string(holders),
		snap.TotalSupply.String(),
		uint32(snap.HolderCount),
		snap.Reason,
		snap.CreatedAt.UTC(),
		uint64(s.now().UnixNano()),
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// Get retrieves the snapshot at an exact height. Returns ErrNotFound if not exists.
func (s *SnapshotStore) Get(ctx context.Context, mint string, height int64) (snap *domain.CapTableSnapshot, err error) {
	defer func(start time.Time) { observe("snapshots.get", start, err) }(time.Now())

	query := `SELECT ` + snapshotColumns + `
		FROM cap_table_snapshots FINAL
		WHERE mint = ? AND block_height = ?
		LIMIT 1`
	return s.one(ctx, query, mint, height)
}

// GetNearest retrieves the snapshot with the greatest height <= height.
func (s *SnapshotStore) GetNearest(ctx context.Context, mint string, height int64) (snap *domain.CapTableSnapshot, err error) {
	defer func(start time.Time) { observe("snapshots.get_nearest", start, err) }(time.Now())

	query := `SELECT ` + snapshotColumns + `
		FROM cap_table_snapshots FINAL
		WHERE mint = ? AND block_height <= ?
		ORDER BY block_height DESC
		LIMIT 1`
	return s.one(ctx, query, mint, height)
}

// List returns snapshots for a security, newest first.
func (s *SnapshotStore) List(ctx context.Context, mint string, limit int) (snaps []*domain.CapTableSnapshot, err error) {
	defer func(start time.Time) { observe("snapshots.list", start, err) }(time.Now())

	query := `SELECT ` + snapshotColumns + `
		FROM cap_table_snapshots FINAL
		WHERE mint = ?
		ORDER BY block_height DESC`
	args := []any{mint}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, uint64(limit))
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

func (s *SnapshotStore) one(ctx context.Context, query string, args ...any) (*domain.CapTableSnapshot, error) {
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query snapshot: %w", err)
	}
	defer rows.Close()

	snaps, err := scanSnapshots(rows)
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, storage.ErrNotFound
	}
	return snaps[0], nil
}

// scanSnapshots scans multiple rows.
func scanSnapshots(rows chRows) ([]*domain.CapTableSnapshot, error) {
	var snaps []*domain.CapTableSnapshot

	for rows.Next() {
		var (
			snap        domain.CapTableSnapshot
			holders     string
			total       string
			holderCount uint32
		)
		if err := rows.Scan(
			&snap.Mint,
			&snap.BlockHeight,
			&holders,
			&total,
			&holderCount,
			&snap.Reason,
			&snap.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}

		if err := json.Unmarshal([]byte(holders), &snap.Holders); err != nil {
			return nil, fmt.Errorf("unmarshal holders: %w", err)
		}
		supply, err := decimal.NewFromString(total)
		if err != nil {
			return nil, fmt.Errorf("parse total supply %q: %w", total, err)
		}
		snap.TotalSupply = supply
		snap.HolderCount = int(holderCount)
		snaps = append(snaps, &snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return snaps, nil
}
