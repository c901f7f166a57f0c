package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

func testSnapshot(height int64) *domain.CapTableSnapshot {
	return &domain.CapTableSnapshot{
		Mint:        "MintA",
		BlockHeight: height,
		Holders: []domain.Holder{
			{Wallet: "alice", Amount: decimal.NewFromInt(600), Percentage: decimal.RequireFromString("66.6667"), AllowlistStatus: domain.AllowlistApproved, LastSlot: height},
			{Wallet: "bob", Amount: decimal.NewFromInt(300), Percentage: decimal.RequireFromString("33.3333"), AllowlistStatus: domain.AllowlistNone, LastSlot: height},
		},
		TotalSupply: decimal.NewFromInt(900),
		HolderCount: 2,
		Reason:      "manual",
		CreatedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSnapshotStore_PutGet(t *testing.T) {
	pool := testPool(t)

	ctx := context.Background()
	store := NewSnapshotStore(pool)

	require.NoError(t, store.Put(ctx, testSnapshot(100)))
	require.NoError(t, store.Put(ctx, testSnapshot(200)))

	got, err := store.Get(ctx, "MintA", 100)
	require.NoError(t, err)
	assert.Equal(t, 2, got.HolderCount)
	require.Len(t, got.Holders, 2)
	assert.Equal(t, "alice", got.Holders[0].Wallet)
	assert.True(t, got.Holders[0].Percentage.Equal(decimal.RequireFromString("66.6667")))
	assert.Equal(t, domain.AllowlistNone, got.Holders[1].AllowlistStatus)
	assert.True(t, got.TotalSupply.Equal(decimal.NewFromInt(900)))
	assert.True(t, got.CreatedAt.Equal(testSnapshot(100).CreatedAt))

	_, err = store.Get(ctx, "MintA", 150)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	nearest, err := store.GetNearest(ctx, "MintA", 150)
	require.NoError(t, err)
	assert.Equal(t, int64(100), nearest.BlockHeight)

	_, err = store.GetNearest(ctx, "MintA", 50)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	list, err := store.List(ctx, "MintA", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(200), list[0].BlockHeight)

	list, err = store.List(ctx, "MintA", 1)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSnapshotStore_PutReplaces(t *testing.T) {
	pool := testPool(t)

	ctx := context.Background()
	store := NewSnapshotStore(pool)

	require.NoError(t, store.Put(ctx, testSnapshot(100)))
	replacement := testSnapshot(100)
	replacement.Reason = "recomputed"
	require.NoError(t, store.Put(ctx, replacement))

	got, err := store.Get(ctx, "MintA", 100)
	require.NoError(t, err)
	assert.Equal(t, "recomputed", got.Reason)
}
