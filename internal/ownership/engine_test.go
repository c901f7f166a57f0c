package ownership

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/notify"
	"captable-indexer/internal/storage"
	"captable-indexer/internal/storage/memory"
)

func key(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

var (
	mint  = key(1)
	alice = key(2)
	bob   = key(3)
	carol = key(4)
)

func d(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

type countingSnapshots struct {
	storage.SnapshotStore
	gets, puts int
	putErr     error
}

func (c *countingSnapshots) Get(ctx context.Context, m string, h int64) (*domain.CapTableSnapshot, error) {
	c.gets++
	return c.SnapshotStore.Get(ctx, m, h)
}

func (c *countingSnapshots) Put(ctx context.Context, s *domain.CapTableSnapshot) error {
	c.puts++
	if c.putErr != nil {
		return c.putErr
	}
	return c.SnapshotStore.Put(ctx, s)
}

type recordingArchiver struct {
	archived []*domain.CapTableSnapshot
}

func (a *recordingArchiver) Archive(_ context.Context, s *domain.CapTableSnapshot) error {
	a.archived = append(a.archived, s)
	return nil
}

type fixture struct {
	stores    *storage.Stores
	snapshots *countingSnapshots
	archiver  *recordingArchiver
	events    *notify.Channel
	engine    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	stores := memory.NewStores()
	f := &fixture{
		stores:    stores,
		snapshots: &countingSnapshots{SnapshotStore: stores.Snapshots},
		archiver:  &recordingArchiver{},
		events:    notify.NewChannel(16),
	}
	f.engine = New(Options{
		Securities: stores.Securities,
		Balances:   stores.Balances,
		Allowlist:  stores.Allowlist,
		Transfers:  stores.Transfers,
		Snapshots:  f.snapshots,
		Archiver:   f.archiver,
		Publisher:  f.events,
		Now:        func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) },
	})
	return f
}

func (f *fixture) security(t *testing.T, supply int64) {
	t.Helper()
	require.NoError(t, f.stores.Securities.Insert(context.Background(), &domain.Security{
		Mint:          mint,
		Symbol:        "ACME",
		Name:          "Acme Corp",
		TotalSupply:   d(supply),
		CurrentSupply: d(supply),
		IsActive:      true,
	}))
}

func (f *fixture) delta(t *testing.T, wallet, sig string, leg domain.DeltaLeg, amount, slot int64) {
	t.Helper()
	_, err := f.stores.Balances.ApplyDelta(context.Background(), &domain.BalanceDelta{
		Mint: mint, Wallet: wallet, Signature: sig, Leg: leg, Amount: d(amount), Slot: slot,
	})
	require.NoError(t, err)
}

func (f *fixture) approve(t *testing.T, wallet string) {
	t.Helper()
	_, err := f.stores.Allowlist.Upsert(context.Background(), &domain.AllowlistEntry{
		Mint: mint, Wallet: wallet, Status: domain.AllowlistApproved, Slot: 1,
	})
	require.NoError(t, err)
}

// seed: alice 600, bob 300, carol 100 out of 1000; only alice approved.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	f.security(t, 1000)
	f.approve(t, alice)
	f.delta(t, alice, "m1", domain.LegMint, 1000, 10)
	f.delta(t, alice, "t1", domain.LegDebit, -300, 20)
	f.delta(t, bob, "t1", domain.LegCredit, 300, 20)
	f.delta(t, alice, "t2", domain.LegDebit, -100, 30)
	f.delta(t, carol, "t2", domain.LegCredit, 100, 30)
}

func TestComputeCapTable_Live(t *testing.T) {
	f := newFixture(t)
	f.seed(t)

	table, err := f.engine.ComputeCapTable(context.Background(), mint, nil)
	require.NoError(t, err)

	assert.Nil(t, table.BlockHeight)
	assert.Equal(t, "ACME", table.Symbol)
	require.Len(t, table.Holders, 3)

	wantWallets := []string{alice, bob, carol}
	wantPct := []int64{60, 30, 10}
	for i, h := range table.Holders {
		assert.Equal(t, wantWallets[i], h.Wallet)
		assert.True(t, h.Percentage.Equal(d(wantPct[i])), "holder %d percentage %s", i, h.Percentage)
	}
	assert.Equal(t, domain.AllowlistApproved, table.Holders[0].AllowlistStatus)
	assert.Equal(t, domain.AllowlistNone, table.Holders[1].AllowlistStatus)

	assert.Equal(t, 3, table.Summary.HolderCount)
	assert.True(t, table.Summary.TotalShares.Equal(d(1000)))
	assert.True(t, table.Summary.PercentDistributed.Equal(d(100)))
	assert.Equal(t, 0, f.snapshots.puts, "live queries are not cached")
}

func TestComputeCapTable_PercentRounding(t *testing.T) {
	f := newFixture(t)
	f.security(t, 3)
	f.delta(t, alice, "m1", domain.LegMint, 1, 1)
	f.delta(t, bob, "m2", domain.LegMint, 2, 1)

	table, err := f.engine.ComputeCapTable(context.Background(), mint, nil)
	require.NoError(t, err)
	assert.Equal(t, "66.6667", table.Holders[0].Percentage.String())
	assert.Equal(t, "33.3333", table.Holders[1].Percentage.String())
}

func TestComputeCapTable_ZeroSupply(t *testing.T) {
	f := newFixture(t)
	f.security(t, 0)
	f.delta(t, alice, "m1", domain.LegMint, 5, 1)

	table, err := f.engine.ComputeCapTable(context.Background(), mint, nil)
	require.NoError(t, err)
	require.Len(t, table.Holders, 1)
	assert.True(t, table.Holders[0].Percentage.IsZero())
	assert.True(t, table.Summary.PercentDistributed.IsZero())
}

func TestComputeCapTable_EqualBalancesAreDeterministic(t *testing.T) {
	f := newFixture(t)
	f.security(t, 300)
	f.delta(t, carol, "m3", domain.LegMint, 100, 1)
	f.delta(t, alice, "m1", domain.LegMint, 100, 1)
	f.delta(t, bob, "m2", domain.LegMint, 100, 1)

	first, err := f.engine.ComputeCapTable(context.Background(), mint, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := f.engine.ComputeCapTable(context.Background(), mint, nil)
		require.NoError(t, err)
		assert.Equal(t, first.Holders, again.Holders)
	}
}

func TestComputeCapTable_HistoricalIsCached(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()
	h := int64(25)

	computed, err := f.engine.ComputeCapTable(ctx, mint, &h)
	require.NoError(t, err)
	require.Len(t, computed.Holders, 2)
	assert.Equal(t, alice, computed.Holders[0].Wallet)
	assert.True(t, computed.Holders[0].Amount.Equal(d(700)))
	assert.True(t, computed.Holders[0].Percentage.Equal(d(70)))
	assert.Equal(t, 1, f.snapshots.puts)

	// Later activity must not leak into the cached table.
	f.delta(t, carol, "m9", domain.LegMint, 5000, 26)

	cached, err := f.engine.ComputeCapTable(ctx, mint, &h)
	require.NoError(t, err)
	assert.Equal(t, 1, f.snapshots.puts, "second query must hit the cache")
	assert.Equal(t, computed, cached)
}

func TestComputeCapTable_CacheWriteFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	f.snapshots.putErr = errors.New("disk full")
	h := int64(15)

	table, err := f.engine.ComputeCapTable(context.Background(), mint, &h)
	require.NoError(t, err)
	require.Len(t, table.Holders, 1)
	assert.True(t, table.Holders[0].Amount.Equal(d(1000)))
}

func TestComputeCapTable_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.ComputeCapTable(ctx, "bogus", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.engine.ComputeCapTable(ctx, mint, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.security(t, 0)
	neg := int64(-1)
	_, err = f.engine.ComputeCapTable(ctx, mint, &neg)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestGetSnapshot_NearestFallback(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, h := range []int64{100, 200} {
		require.NoError(t, f.stores.Snapshots.Put(ctx, &domain.CapTableSnapshot{Mint: mint, BlockHeight: h}))
	}

	snap, err := f.engine.GetSnapshot(ctx, mint, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(200), snap.BlockHeight)

	snap, err = f.engine.GetSnapshot(ctx, mint, 150)
	require.NoError(t, err)
	assert.Equal(t, int64(100), snap.BlockHeight)

	_, err = f.engine.GetSnapshot(ctx, mint, 50)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCreateSnapshot(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	ctx := context.Background()

	snap, err := f.engine.CreateSnapshot(ctx, mint, "board meeting")
	require.NoError(t, err)
	assert.Equal(t, int64(30), snap.BlockHeight)
	assert.Equal(t, 3, snap.HolderCount)
	assert.Equal(t, "board meeting", snap.Reason)
	assert.True(t, snap.TotalSupply.Equal(d(1000)))

	require.Len(t, f.archiver.archived, 1)
	assert.Equal(t, snap, f.archiver.archived[0])

	n := <-f.events.C
	assert.Equal(t, domain.NotifySnapshotCreated, n.Type)
	assert.Equal(t, int64(30), n.Slot)
	assert.Equal(t, "board meeting", n.Payload["reason"])

	list, err := f.engine.ListSnapshots(ctx, mint, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	// The snapshot serves historical queries at its height.
	h := int64(30)
	_, err = f.engine.ComputeCapTable(ctx, mint, &h)
	require.NoError(t, err)
	assert.Equal(t, 1, f.snapshots.puts)
}

func TestTransferHistory(t *testing.T) {
	f := newFixture(t)
	f.security(t, 0)
	ctx := context.Background()
	for i, to := range []string{bob, carol, bob} {
		require.NoError(t, f.stores.Transfers.Insert(ctx, &domain.Transfer{
			Signature: "sig" + string(rune('a'+i)),
			Mint:      mint,
			From:      alice,
			To:        to,
			Amount:    d(10),
			Slot:      int64(10 + i),
			Status:    domain.TransferConfirmed,
		}))
	}

	page, err := f.engine.TransferHistory(ctx, domain.TransferQuery{Mint: mint})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, DefaultHistoryLimit, page.Limit)
	require.Len(t, page.Transfers, 3)
	assert.Equal(t, int64(12), page.Transfers[0].Slot)

	page, err = f.engine.TransferHistory(ctx, domain.TransferQuery{Mint: mint, ToWallet: bob, Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Transfers, 1)
	assert.Equal(t, "sigc", page.Transfers[0].Signature)
}

func TestTransferHistory_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.TransferHistory(ctx, domain.TransferQuery{Mint: mint})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.security(t, 0)
	tests := []domain.TransferQuery{
		{Mint: mint, Limit: MaxHistoryLimit + 1},
		{Mint: mint, Offset: -1},
		{Mint: mint, FromWallet: "not-a-wallet"},
	}
	for _, q := range tests {
		_, err := f.engine.TransferHistory(ctx, q)
		assert.ErrorIs(t, err, domain.ErrValidation, "query %+v", q)
	}
}
