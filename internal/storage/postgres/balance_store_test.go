package postgres

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

func delta(wallet, sig string, idx int, leg domain.DeltaLeg, amount, slot int64) *domain.BalanceDelta {
	return &domain.BalanceDelta{
		Mint:       "MintA",
		Wallet:     wallet,
		Signature:  sig,
		EventIndex: idx,
		Leg:        leg,
		Amount:     decimal.NewFromInt(amount),
		Slot:       slot,
	}
}

func TestBalanceStore_ApplyDelta(t *testing.T) {
	pool := testPool(t)

	ctx := context.Background()
	store := NewBalanceStore(pool)

	applied, err := store.ApplyDelta(ctx, delta("alice", "s1", 0, domain.LegMint, 1000, 10))
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.ApplyDelta(ctx, delta("alice", "s1", 0, domain.LegMint, 1000, 10))
	require.NoError(t, err)
	assert.False(t, applied)

	// Transfer to bob; an out-of-order older delta must not lower the slot.
	_, err = store.ApplyDelta(ctx, delta("alice", "s2", 0, domain.LegDebit, -400, 30))
	require.NoError(t, err)
	_, err = store.ApplyDelta(ctx, delta("bob", "s2", 0, domain.LegCredit, 400, 30))
	require.NoError(t, err)
	_, err = store.ApplyDelta(ctx, delta("alice", "s0", 0, domain.LegCredit, 5, 5))
	require.NoError(t, err)

	alice, err := store.Get(ctx, "MintA", "alice")
	require.NoError(t, err)
	assert.True(t, alice.Amount.Equal(decimal.NewFromInt(605)))
	assert.Equal(t, int64(30), alice.Slot)

	_, err = store.Get(ctx, "MintA", "carol")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	maxSlot, err := store.MaxSlot(ctx, "MintA")
	require.NoError(t, err)
	assert.Equal(t, int64(30), maxSlot)

	maxSlot, err = store.MaxSlot(ctx, "MintB")
	require.NoError(t, err)
	assert.Zero(t, maxSlot)
}

func TestBalanceStore_SelfTransferLegs(t *testing.T) {
	pool := testPool(t)

	ctx := context.Background()
	store := NewBalanceStore(pool)

	_, err := store.ApplyDelta(ctx, delta("alice", "s1", 0, domain.LegMint, 100, 10))
	require.NoError(t, err)

	debit, err := store.ApplyDelta(ctx, delta("alice", "s2", 0, domain.LegDebit, -100, 20))
	require.NoError(t, err)
	credit, err := store.ApplyDelta(ctx, delta("alice", "s2", 0, domain.LegCredit, 100, 20))
	require.NoError(t, err)
	assert.True(t, debit)
	assert.True(t, credit)

	b, err := store.Get(ctx, "MintA", "alice")
	require.NoError(t, err)
	assert.True(t, b.Amount.Equal(decimal.NewFromInt(100)))
}

func TestBalanceStore_ListHolders(t *testing.T) {
	pool := testPool(t)

	ctx := context.Background()
	store := NewBalanceStore(pool)

	for _, d := range []*domain.BalanceDelta{
		delta("carol", "s1", 0, domain.LegMint, 100, 10),
		delta("alice", "s1", 1, domain.LegMint, 600, 10),
		delta("bob", "s2", 0, domain.LegMint, 300, 20),
		delta("carol", "s3", 0, domain.LegDebit, -100, 30),
		delta("bob", "s3", 0, domain.LegCredit, 100, 30),
	} {
		_, err := store.ApplyDelta(ctx, d)
		require.NoError(t, err)
	}

	live, err := store.ListHolders(ctx, "MintA")
	require.NoError(t, err)
	require.Len(t, live, 2, "zero balances are not holders")
	assert.Equal(t, "alice", live[0].Wallet)
	assert.Equal(t, "bob", live[1].Wallet)
	assert.True(t, live[1].Amount.Equal(decimal.NewFromInt(400)))

	at, err := store.ListHoldersAt(ctx, "MintA", 20)
	require.NoError(t, err)
	require.Len(t, at, 3)
	assert.Equal(t, "alice", at[0].Wallet)
	assert.Equal(t, "bob", at[1].Wallet)
	assert.True(t, at[1].Amount.Equal(decimal.NewFromInt(300)))
	assert.Equal(t, int64(20), at[1].Slot)
	assert.Equal(t, "carol", at[2].Wallet)

	none, err := store.ListHoldersAt(ctx, "MintA", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}
