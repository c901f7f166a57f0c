package clickhouse

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// The migrations package imports this one, so the schema is inlined here.
const snapshotDDL = `
CREATE TABLE IF NOT EXISTS cap_table_snapshots (
    mint          String,
    block_height  Int64,
    holders       String,
    total_supply  String,
    holder_count  UInt32,
    reason        String,
    created_at    DateTime64(3, 'UTC'),
    version       UInt64
) ENGINE = ReplacingMergeTree(version)
ORDER BY (mint, block_height)`

var shared struct {
	once      sync.Once
	conn      *Conn
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

func startClickHouse(ctx context.Context) (*Conn, func(), error) {
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "clickhouse/clickhouse-server:24.1-alpine",
			ExposedPorts: []string{"9000/tcp"},
			Env:          map[string]string{"CLICKHOUSE_DB": "captable"},
			WaitingFor: wait.ForAll(
				wait.ForLog("Ready for connections").WithStartupTimeout(60*time.Second),
				wait.ForListeningPort("9000/tcp"),
			),
		},
		Started: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("start container: %w", err)
	}
	terminate := func() { _ = container.Terminate(context.Background()) }

	host, err := container.Host(ctx)
	if err != nil {
		terminate()
		return nil, nil, err
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		terminate()
		return nil, nil, err
	}

	conn, err := NewConn(ctx, fmt.Sprintf("clickhouse://%s:%s/captable", host, port.Port()))
	if err != nil {
		terminate()
		return nil, nil, err
	}
	if err := conn.Exec(ctx, snapshotDDL); err != nil {
		_ = conn.Close()
		terminate()
		return nil, nil, err
	}
	return conn, func() { _ = conn.Close(); terminate() }, nil
}

// testConn returns the shared connection with the snapshot table emptied.
func testConn(t *testing.T) *Conn {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping clickhouse container test in short mode")
	}

	ctx := context.Background()
	shared.once.Do(func() {
		shared.conn, shared.terminate, shared.err = startClickHouse(ctx)
	})
	require.NoError(t, shared.err, "clickhouse test container")
	require.NoError(t, shared.conn.Exec(ctx, "TRUNCATE TABLE cap_table_snapshots"))
	return shared.conn
}
