package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"captable-indexer/internal/storage/migrations"
)

func TestMigrations_RecordedOnce(t *testing.T) {
	ctx := context.Background()
	pool := testPool(t)

	applied, err := migrations.RunPostgresMigrations(ctx, pool)
	require.NoError(t, err)
	assert.Empty(t, applied, "every script is already recorded")

	var n int
	require.NoError(t, pool.QueryRow(ctx, "SELECT count(*) FROM schema_migrations").Scan(&n))
	assert.Equal(t, 7, n)
}
