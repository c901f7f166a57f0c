package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"captable-indexer/internal/storage/migrations"
)

// One container serves the whole package; tests run serially and start from
// empty tables.
var shared struct {
	once      sync.Once
	pool      *Pool
	terminate func()
	err       error
}

func TestMain(m *testing.M) {
	code := m.Run()
	if shared.terminate != nil {
		shared.terminate()
	}
	os.Exit(code)
}

func startPostgres(ctx context.Context) (*Pool, func(), error) {
	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("captable"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("start container: %w", err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		terminate()
		return nil, nil, err
	}
	pool, err := NewPool(ctx, dsn)
	if err != nil {
		terminate()
		return nil, nil, err
	}
	if _, err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		terminate()
		return nil, nil, err
	}
	return pool, func() { pool.Close(); terminate() }, nil
}

// testPool returns the shared migrated pool with every table emptied.
func testPool(t *testing.T) *Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres container test in short mode")
	}

	ctx := context.Background()
	shared.once.Do(func() {
		shared.pool, shared.terminate, shared.err = startPostgres(ctx)
	})
	require.NoError(t, shared.err, "postgres test container")

	_, err := shared.pool.Exec(ctx, `TRUNCATE securities, supply_deltas, balances, balance_deltas,
		allowlist_entries, transfers, cap_table_snapshots, corporate_actions, ingest_cursors`)
	require.NoError(t, err)
	return shared.pool
}

func ptr[T any](v T) *T {
	return &v
}
