// Package config loads indexer settings from an optional YAML file and
// CAPTABLE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// RPCConfig locates the ledger node.
type RPCConfig struct {
	Endpoint   string `mapstructure:"endpoint"`
	WSEndpoint string `mapstructure:"ws_endpoint"`
	Commitment string `mapstructure:"commitment"`
}

// ProgramConfig identifies the gated token program.
type ProgramConfig struct {
	ID string `mapstructure:"id"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	// Driver is "postgres" or "memory".
	Driver string `mapstructure:"driver"`
	// SnapshotDriver is "postgres", "clickhouse" or "memory". Defaults to Driver.
	SnapshotDriver string `mapstructure:"snapshot_driver"`
}

// PostgresConfig configures the relational store.
type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ClickHouseConfig configures the snapshot cache.
type ClickHouseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// SubscriptionConfig tunes the live subscription.
type SubscriptionConfig struct {
	LivenessInterval  time.Duration `mapstructure:"liveness_interval"`
	MaxReconnects     int           `mapstructure:"max_reconnects"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
}

// BackfillConfig tunes historical replay.
type BackfillConfig struct {
	PageSize    int `mapstructure:"page_size"`
	MaxPages    int `mapstructure:"max_pages"`
	Concurrency int `mapstructure:"concurrency"`
}

// KafkaConfig configures the Kafka notification sink.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// RedisConfig configures the Redis pub/sub notification sink.
type RedisConfig struct {
	Addr    string `mapstructure:"addr"`
	Channel string `mapstructure:"channel"`
}

// NotifyConfig lists the enabled notification sinks. Empty sections are skipped.
type NotifyConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
	Redis RedisConfig `mapstructure:"redis"`
}

// S3Config configures the snapshot archive.
type S3Config struct {
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

// ArchiveConfig configures snapshot archival. An empty bucket disables it.
type ArchiveConfig struct {
	S3 S3Config `mapstructure:"s3"`
}

// MetricsConfig configures the /metrics listener.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Config is the full indexer configuration.
type Config struct {
	Env          string             `mapstructure:"env"`
	RPC          RPCConfig          `mapstructure:"rpc"`
	Program      ProgramConfig      `mapstructure:"program"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Postgres     PostgresConfig     `mapstructure:"postgres"`
	ClickHouse   ClickHouseConfig   `mapstructure:"clickhouse"`
	Subscription SubscriptionConfig `mapstructure:"subscription"`
	Backfill     BackfillConfig     `mapstructure:"backfill"`
	Notify       NotifyConfig       `mapstructure:"notify"`
	Archive      ArchiveConfig      `mapstructure:"archive"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
	Log          LogConfig          `mapstructure:"log"`
}

// Load reads path (if non-empty) and overlays CAPTABLE_* environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CAPTABLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.Storage.SnapshotDriver == "" {
		cfg.Storage.SnapshotDriver = cfg.Storage.Driver
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings that have no usable default.
func (c *Config) Validate() error {
	if c.Program.ID == "" {
		return fmt.Errorf("program.id is required")
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres.dsn is required for storage.driver=postgres")
		}
	default:
		return fmt.Errorf("unknown storage.driver %q", c.Storage.Driver)
	}
	if c.Storage.SnapshotDriver == "clickhouse" && c.ClickHouse.DSN == "" {
		return fmt.Errorf("clickhouse.dsn is required for storage.snapshot_driver=clickhouse")
	}
	if c.Subscription.MaxReconnects < 0 {
		return fmt.Errorf("subscription.max_reconnects must be >= 0")
	}
	if c.Backfill.PageSize <= 0 || c.Backfill.PageSize > 1000 {
		return fmt.Errorf("backfill.page_size must be in 1..1000")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "dev")
	v.SetDefault("rpc.endpoint", "http://127.0.0.1:8899")
	v.SetDefault("rpc.ws_endpoint", "ws://127.0.0.1:8900")
	v.SetDefault("rpc.commitment", "confirmed")
	v.SetDefault("program.id", "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("storage.snapshot_driver", "")
	v.SetDefault("postgres.dsn", "")
	v.SetDefault("clickhouse.dsn", "")
	v.SetDefault("subscription.liveness_interval", "30s")
	v.SetDefault("subscription.max_reconnects", 10)
	v.SetDefault("subscription.reconnect_delay", "1s")
	v.SetDefault("subscription.max_reconnect_delay", "30s")
	v.SetDefault("backfill.page_size", 1000)
	v.SetDefault("backfill.max_pages", 100)
	v.SetDefault("backfill.concurrency", 8)
	v.SetDefault("notify.kafka.brokers", []string{})
	v.SetDefault("notify.kafka.topic", "captable.events")
	v.SetDefault("notify.redis.addr", "")
	v.SetDefault("notify.redis.channel", "captable.events")
	v.SetDefault("archive.s3.bucket", "")
	v.SetDefault("archive.s3.region", "us-east-1")
	v.SetDefault("archive.s3.endpoint", "")
	v.SetDefault("archive.s3.path_style", false)
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("log.level", "info")
}
