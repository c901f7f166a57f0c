package app

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/mr-tron/base58"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable-indexer/internal/config"
	"captable-indexer/internal/decoder"
	"captable-indexer/internal/domain"
	"captable-indexer/internal/ingestion"
	"captable-indexer/internal/notify"
)

func key(b byte) string {
	return base58.Encode(bytes.Repeat([]byte{b}, 32))
}

var (
	programID = key(9)
	mint      = key(1)
	alice     = key(2)
	issuer    = key(4)
)

func memoryConfig() *config.Config {
	cfg := &config.Config{Env: "test"}
	cfg.Program.ID = programID
	cfg.Storage.Driver = "memory"
	cfg.Storage.SnapshotDriver = "memory"
	return cfg
}

func TestOpen_MemoryWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := memoryConfig()
	cfg.Notify.Redis.Addr = mr.Addr()
	cfg.Notify.Redis.Channel = "captable.events"

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a, err := Open(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Archiver, "archive is disabled without a bucket")
	_, isRedis := a.Publisher.(*notify.Redis)
	assert.True(t, isRedis)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	sub := client.Subscribe(ctx, "captable.events")
	defer sub.Close()
	_, err = sub.Receive(ctx)
	require.NoError(t, err)

	logs, err := decoder.ProgramLogs(programID,
		domain.TokenInitialized{Authority: issuer, Mint: mint, Symbol: "ACME", Name: "Acme Corp"},
		domain.TokensMinted{Mint: mint, Recipient: alice, Amount: decimal.NewFromInt(500), NewSupply: decimal.NewFromInt(500)},
	)
	require.NoError(t, err)

	res, err := a.Pipeline().HandleLogs(ctx, ingestion.LogBatch{Signature: "sig1", Slot: 10, Logs: logs})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Projected)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var n domain.Notification
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &n))
	assert.Equal(t, domain.NotifyTokenInitialized, n.Type)
	assert.Equal(t, mint, n.Mint)

	table, err := a.Engine().ComputeCapTable(ctx, mint, nil)
	require.NoError(t, err)
	require.Len(t, table.Holders, 1)
	assert.Equal(t, alice, table.Holders[0].Wallet)
	assert.Equal(t, "100", table.Holders[0].Percentage.String())

	actions, err := a.Workflow().ListActions(ctx, mint)
	require.NoError(t, err)
	assert.Empty(t, actions)
}

func TestOpen_DiscardWithoutSinks(t *testing.T) {
	a, err := Open(context.Background(), memoryConfig(), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, notify.Discard{}, a.Publisher)
	assert.NotNil(t, a.Stores.Snapshots)
}

func TestOpen_RejectsUnknownDrivers(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.Driver = "sqlite"
	_, err := Open(context.Background(), cfg, nil)
	assert.Error(t, err)

	cfg = memoryConfig()
	cfg.Storage.SnapshotDriver = "bolt"
	_, err = Open(context.Background(), cfg, nil)
	assert.Error(t, err)
}
