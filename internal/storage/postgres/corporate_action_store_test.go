package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

func TestCorporateActionStore_Lifecycle(t *testing.T) {
	pool := testPool(t)

	ctx := context.Background()
	store := NewCorporateActionStore(pool)

	rec := &domain.CorporateActionRecord{
		ID:         "action-1",
		Mint:       "MintA",
		ActionType: domain.ActionStockSplit,
		Parameters: map[string]string{"ratio": "7", "new_mint": "MintB"},
		Status:     domain.ActionInProgress,
		ExecutedBy: "issuer",
		CreatedAt:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Insert(ctx, rec))
	assert.ErrorIs(t, store.Insert(ctx, rec), storage.ErrDuplicateKey)

	require.NoError(t, store.UpdateStatus(ctx, "action-1", domain.ActionInProgress, 5, ""))
	require.NoError(t, store.UpdateStatus(ctx, "action-1", domain.ActionFailed, 3, "boom"))

	got, err := store.Get(ctx, "action-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionFailed, got.Status)
	assert.Equal(t, 5, got.LastStep, "last step never decreases")
	assert.Equal(t, "boom", got.Error)
	assert.Equal(t, "7", got.Parameters["ratio"])
	assert.Nil(t, got.CompletedAt)

	err = store.UpdateStatus(ctx, "action-1", domain.ActionInProgress, 6, "")
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	require.NoError(t, store.UpdateStatus(ctx, "action-1", domain.ActionCompleted, 9, ""))
	got, err = store.Get(ctx, "action-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ActionCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)

	err = store.UpdateStatus(ctx, "action-1", domain.ActionFailed, 9, "late")
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)

	assert.ErrorIs(t, store.UpdateStatus(ctx, "missing", domain.ActionFailed, 1, ""), storage.ErrNotFound)
}

func TestCorporateActionStore_ListByMint(t *testing.T) {
	pool := testPool(t)

	ctx := context.Background()
	store := NewCorporateActionStore(pool)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, store.Insert(ctx, &domain.CorporateActionRecord{
			ID:         id,
			Mint:       "MintA",
			ActionType: domain.ActionSymbolChange,
			Status:     domain.ActionCompleted,
			CreatedAt:  base.Add(time.Duration(i) * time.Minute),
		}))
	}

	list, err := store.ListByMint(ctx, "MintA")
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "c", list[0].ID)
	assert.Equal(t, "a", list[2].ID)
}
