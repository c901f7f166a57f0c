package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable-indexer/internal/domain"
	"captable-indexer/internal/storage"
)

func TestTransferStore_InsertAndQuery(t *testing.T) {
	pool := testPool(t)

	ctx := context.Background()
	store := NewTransferStore(pool)
	blockTime := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 1; i <= 5; i++ {
		from, to := "alice", "bob"
		if i%2 == 0 {
			from, to = "bob", "carol"
		}
		require.NoError(t, store.Insert(ctx, &domain.Transfer{
			Signature: fmt.Sprintf("sig%d", i),
			Mint:      "MintA",
			From:      from,
			To:        to,
			Amount:    decimal.NewFromInt(int64(i * 10)),
			Slot:      int64(i * 100),
			BlockTime: blockTime,
		}))
	}

	err := store.Insert(ctx, &domain.Transfer{Signature: "sig1", Mint: "MintA", BlockTime: blockTime})
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	page, total, err := store.Query(ctx, domain.TransferQuery{Mint: "MintA", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, page, 2)
	assert.Equal(t, "sig5", page[0].Signature)
	assert.Equal(t, "sig4", page[1].Signature)
	assert.Equal(t, domain.TransferConfirmed, page[0].Status)
	assert.True(t, page[0].Amount.Equal(decimal.NewFromInt(50)))

	page, total, err = store.Query(ctx, domain.TransferQuery{Mint: "MintA", Limit: 10, FromWallet: "alice"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.Len(t, page, 3)

	page, total, err = store.Query(ctx, domain.TransferQuery{Mint: "MintA", Limit: 10, FromWallet: "bob", ToWallet: "carol", Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, "sig2", page[0].Signature)

	page, total, err = store.Query(ctx, domain.TransferQuery{Mint: "MintB", Limit: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, page)
}
