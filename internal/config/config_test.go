package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("CAPTABLE_STORAGE_DRIVER", "memory")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "memory", cfg.Storage.SnapshotDriver)
	assert.Equal(t, 30*time.Second, cfg.Subscription.LivenessInterval)
	assert.Equal(t, 10, cfg.Subscription.MaxReconnects)
	assert.Equal(t, time.Second, cfg.Subscription.ReconnectDelay)
	assert.Equal(t, 1000, cfg.Backfill.PageSize)
	assert.Equal(t, 100, cfg.Backfill.MaxPages)
	assert.Equal(t, "confirmed", cfg.RPC.Commitment)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
storage:
  driver: postgres
postgres:
  dsn: postgres://file
subscription:
  max_reconnects: 3
  liveness_interval: 5s
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("CAPTABLE_POSTGRES_DSN", "postgres://env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env", cfg.Postgres.DSN)
	assert.Equal(t, 3, cfg.Subscription.MaxReconnects)
	assert.Equal(t, 5*time.Second, cfg.Subscription.LivenessInterval)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Program:  ProgramConfig{ID: "prog"},
			Storage:  StorageConfig{Driver: "memory"},
			Backfill: BackfillConfig{PageSize: 100},
		}
	}

	require.NoError(t, base().Validate())

	c := base()
	c.Storage.Driver = "postgres"
	assert.Error(t, c.Validate(), "postgres without dsn")

	c = base()
	c.Storage.Driver = "sqlite"
	assert.Error(t, c.Validate())

	c = base()
	c.Backfill.PageSize = 5000
	assert.Error(t, c.Validate())

	c = base()
	c.Storage.SnapshotDriver = "clickhouse"
	assert.Error(t, c.Validate())
}
