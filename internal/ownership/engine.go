// Package ownership answers cap table questions from projected balances.
//
// Historical tables are cached as immutable snapshots keyed by
// (mint, block_height). A cached table and a freshly computed one for the same
// key are identical.
package ownership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/notify"
	"captable-indexer/internal/observability"
	"captable-indexer/internal/solana"
	"captable-indexer/internal/storage"
)

// PercentScale is the number of decimal places kept in percentages.
const PercentScale = 4

var hundred = decimal.NewFromInt(100)

// Archiver copies snapshots to long-term storage.
type Archiver interface {
	Archive(ctx context.Context, snap *domain.CapTableSnapshot) error
}

// Options configures an Engine.
type Options struct {
	Securities storage.SecurityStore
	Balances   storage.BalanceStore
	Allowlist  storage.AllowlistStore
	Transfers  storage.TransferStore
	Snapshots  storage.SnapshotStore

	Archiver  Archiver         // optional
	Publisher notify.Publisher // optional
	Logger    *slog.Logger     // optional
	Now       func() time.Time // optional
}

// Engine is the read path over projected state. Its only writes are snapshots.
type Engine struct {
	securities storage.SecurityStore
	balances   storage.BalanceStore
	allowlist  storage.AllowlistStore
	transfers  storage.TransferStore
	snapshots  storage.SnapshotStore
	archiver   Archiver
	publisher  notify.Publisher
	logger     *slog.Logger
	now        func() time.Time
}

// New creates an Engine.
func New(opts Options) *Engine {
	e := &Engine{
		securities: opts.Securities,
		balances:   opts.Balances,
		allowlist:  opts.Allowlist,
		transfers:  opts.Transfers,
		snapshots:  opts.Snapshots,
		archiver:   opts.Archiver,
		publisher:  opts.Publisher,
		logger:     opts.Logger,
		now:        opts.Now,
	}
	if e.publisher == nil {
		e.publisher = notify.Discard{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// ComputeCapTable returns the live cap table, or the table at height when
// height is non-nil. Historical tables are served from the snapshot cache
// when present and cached after computation otherwise.
func (e *Engine) ComputeCapTable(ctx context.Context, mint string, height *int64) (*domain.CapTable, error) {
	sec, err := e.security(ctx, mint)
	if err != nil {
		return nil, err
	}

	if height == nil {
		balances, err := e.balances.ListHolders(ctx, mint)
		if err != nil {
			return nil, fmt.Errorf("list holders: %w", err)
		}
		holders, err := e.holders(ctx, mint, balances, sec.CurrentSupply)
		if err != nil {
			return nil, err
		}
		observability.RecordCapTableQuery("computed")
		return &domain.CapTable{
			Mint:          sec.Mint,
			Symbol:        sec.Symbol,
			Name:          sec.Name,
			Decimals:      sec.Decimals,
			CurrentSupply: sec.CurrentSupply,
			Holders:       holders,
			Summary:       summarize(holders, sec.CurrentSupply),
			GeneratedAt:   e.now().UTC(),
		}, nil
	}

	if *height < 0 {
		return nil, domain.Validationf("block height %d must not be negative", *height)
	}

	snap, err := e.snapshots.Get(ctx, mint, *height)
	switch {
	case err == nil:
		observability.RecordCapTableQuery("cache")
		return tableFromSnapshot(sec, snap), nil
	case !errors.Is(err, storage.ErrNotFound):
		e.logger.Warn("snapshot cache read failed", "mint", mint, "height", *height, "error", err)
	}

	snap, err = e.snapshotAt(ctx, mint, *height, "")
	if err != nil {
		return nil, err
	}
	// Concurrent misses may both write; the content is identical.
	if err := e.snapshots.Put(ctx, snap); err != nil {
		e.logger.Warn("snapshot cache write failed", "mint", mint, "height", *height, "error", err)
	}
	observability.RecordCapTableQuery("computed")
	return tableFromSnapshot(sec, snap), nil
}

// GetSnapshot returns the snapshot at height, or the nearest one below it.
func (e *Engine) GetSnapshot(ctx context.Context, mint string, height int64) (*domain.CapTableSnapshot, error) {
	if err := solana.ValidatePublicKey(mint); err != nil {
		return nil, err
	}

	snap, err := e.snapshots.Get(ctx, mint, height)
	if err == nil {
		return snap, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	snap, err = e.snapshots.GetNearest(ctx, mint, height)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("no snapshot of %s at or before %d: %w", mint, height, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get nearest snapshot: %w", err)
	}
	return snap, nil
}

// CreateSnapshot freezes the cap table at the highest slot that touched the
// security, stores it, archives it when an Archiver is configured and emits
// snapshot_created.
func (e *Engine) CreateSnapshot(ctx context.Context, mint, reason string) (*domain.CapTableSnapshot, error) {
	if _, err := e.security(ctx, mint); err != nil {
		return nil, err
	}

	height, err := e.balances.MaxSlot(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("max slot: %w", err)
	}

	snap, err := e.snapshotAt(ctx, mint, height, reason)
	if err != nil {
		return nil, err
	}
	if err := e.snapshots.Put(ctx, snap); err != nil {
		return nil, fmt.Errorf("store snapshot: %w", err)
	}
	observability.RecordSnapshotCreated()

	if e.archiver != nil {
		if err := e.archiver.Archive(ctx, snap); err != nil {
			e.logger.Warn("snapshot archive failed", "mint", mint, "height", height, "error", err)
		}
	}

	n := notify.New(domain.NotifySnapshotCreated, mint, height, "", map[string]string{
		"reason":       reason,
		"holder_count": strconv.Itoa(snap.HolderCount),
		"total_supply": snap.TotalSupply.String(),
	})
	if err := e.publisher.Publish(ctx, n); err != nil {
		e.logger.Warn("notification publish failed", "type", n.Type, "mint", mint, "error", err)
	}

	e.logger.Info("snapshot created", "mint", mint, "height", height, "holders", snap.HolderCount, "reason", reason)
	return snap, nil
}

// ListSnapshots returns stored snapshots for a security, newest first.
func (e *Engine) ListSnapshots(ctx context.Context, mint string, limit int) ([]*domain.CapTableSnapshot, error) {
	if err := solana.ValidatePublicKey(mint); err != nil {
		return nil, err
	}
	snaps, err := e.snapshots.List(ctx, mint, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	return snaps, nil
}

// snapshotAt builds the snapshot at height. The denominator is the sum of
// balances at that height.
func (e *Engine) snapshotAt(ctx context.Context, mint string, height int64, reason string) (*domain.CapTableSnapshot, error) {
	balances, err := e.balances.ListHoldersAt(ctx, mint, height)
	if err != nil {
		return nil, fmt.Errorf("list holders at %d: %w", height, err)
	}

	supply := decimal.Zero
	for _, b := range balances {
		supply = supply.Add(b.Amount)
	}

	holders, err := e.holders(ctx, mint, balances, supply)
	if err != nil {
		return nil, err
	}

	return &domain.CapTableSnapshot{
		Mint:        mint,
		BlockHeight: height,
		Holders:     holders,
		TotalSupply: supply,
		HolderCount: len(holders),
		Reason:      reason,
		CreatedAt:   e.now().UTC().Truncate(time.Millisecond),
	}, nil
}

// holders ranks balances by amount descending and attaches percentages and
// current allowlist status. Equal amounts keep the store's wallet order.
func (e *Engine) holders(ctx context.Context, mint string, balances []*domain.Balance, supply decimal.Decimal) ([]domain.Holder, error) {
	entries, err := e.allowlist.ListByMint(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("list allowlist: %w", err)
	}
	status := make(map[string]domain.AllowlistStatus, len(entries))
	for _, en := range entries {
		status[en.Wallet] = en.Status
	}

	holders := make([]domain.Holder, 0, len(balances))
	for _, b := range balances {
		if !b.Amount.IsPositive() {
			continue
		}
		st, ok := status[b.Wallet]
		if !ok {
			st = domain.AllowlistNone
		}
		holders = append(holders, domain.Holder{
			Wallet:          b.Wallet,
			Amount:          b.Amount,
			Percentage:      percentOf(b.Amount, supply),
			AllowlistStatus: st,
			LastSlot:        b.Slot,
		})
	}
	sort.SliceStable(holders, func(i, j int) bool {
		return holders[i].Amount.GreaterThan(holders[j].Amount)
	})
	return holders, nil
}

func (e *Engine) security(ctx context.Context, mint string) (*domain.Security, error) {
	if err := solana.ValidatePublicKey(mint); err != nil {
		return nil, err
	}
	sec, err := e.securities.Get(ctx, mint)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("security %s: %w", mint, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get security: %w", err)
	}
	return sec, nil
}

// percentOf returns amount/total*100 rounded to PercentScale, or 0 when total is 0.
func percentOf(amount, total decimal.Decimal) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return amount.Mul(hundred).DivRound(total, PercentScale)
}

func summarize(holders []domain.Holder, supply decimal.Decimal) domain.CapTableSummary {
	total := decimal.Zero
	for _, h := range holders {
		total = total.Add(h.Amount)
	}
	return domain.CapTableSummary{
		HolderCount:        len(holders),
		TotalShares:        total,
		PercentDistributed: percentOf(total, supply),
	}
}

func tableFromSnapshot(sec *domain.Security, snap *domain.CapTableSnapshot) *domain.CapTable {
	height := snap.BlockHeight
	return &domain.CapTable{
		Mint:          sec.Mint,
		Symbol:        sec.Symbol,
		Name:          sec.Name,
		Decimals:      sec.Decimals,
		BlockHeight:   &height,
		CurrentSupply: snap.TotalSupply,
		Holders:       append([]domain.Holder(nil), snap.Holders...),
		Summary:       summarize(snap.Holders, snap.TotalSupply),
		GeneratedAt:   snap.CreatedAt,
	}
}
