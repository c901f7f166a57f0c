// Package app assembles stores, notification sinks and the snapshot archive
// from configuration. Both binaries build their components through it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"captable-indexer/internal/archive"
	"captable-indexer/internal/config"
	"captable-indexer/internal/corporate"
	"captable-indexer/internal/ingestion"
	"captable-indexer/internal/notify"
	"captable-indexer/internal/ownership"
	"captable-indexer/internal/projector"
	"captable-indexer/internal/storage"
	chstore "captable-indexer/internal/storage/clickhouse"
	"captable-indexer/internal/storage/memory"
	"captable-indexer/internal/storage/migrations"
	pgstore "captable-indexer/internal/storage/postgres"
)

// App holds the shared resources of a process.
type App struct {
	Config    *config.Config
	Stores    *storage.Stores
	Publisher notify.Publisher
	Archiver  ownership.Archiver
	Logger    *slog.Logger

	closers []func() error
}

// Open connects every configured backend. On error, anything already opened
// is closed before returning.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (a *App, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	a = &App{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close()
			a = nil
		}
	}()

	if err = a.openStores(ctx); err != nil {
		return nil, err
	}
	if err = a.openPublisher(); err != nil {
		return nil, err
	}
	if err = a.openArchive(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) openStores(ctx context.Context) error {
	cfg := a.Config
	switch cfg.Storage.Driver {
	case "memory":
		a.Stores = memory.NewStores()
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		applied, err := migrations.RunPostgresMigrations(ctx, pool)
		if err != nil {
			return fmt.Errorf("postgres migrations: %w", err)
		}
		if len(applied) > 0 {
			a.Logger.Info("applied postgres migrations", slog.Any("versions", applied))
		}
		a.Stores = pgstore.NewStores(pool)
	default:
		return fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	switch cfg.Storage.SnapshotDriver {
	case "", cfg.Storage.Driver:
	case "memory":
		a.Stores.Snapshots = memory.NewSnapshotStore()
	case "clickhouse":
		conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickHouse.DSN)
		if err != nil {
			return fmt.Errorf("clickhouse migrations: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		a.Stores.Snapshots = chstore.NewSnapshotStore(conn)
	default:
		return fmt.Errorf("unknown snapshot driver %q", cfg.Storage.SnapshotDriver)
	}

	a.Logger.Info("storage ready",
		slog.String("driver", cfg.Storage.Driver),
		slog.String("snapshot_driver", cfg.Storage.SnapshotDriver),
	)
	return nil
}

func (a *App) openPublisher() error {
	var sinks notify.Fanout

	if k := a.Config.Notify.Kafka; len(k.Brokers) > 0 {
		producer, err := notify.NewKafkaProducer(k.Brokers)
		if err != nil {
			return err
		}
		sink := notify.NewKafka(producer, k.Topic, a.Logger)
		a.closers = append(a.closers, sink.Close)
		sinks = append(sinks, sink)
	}

	if r := a.Config.Notify.Redis; r.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: r.Addr})
		a.closers = append(a.closers, client.Close)
		sinks = append(sinks, notify.NewRedis(client, r.Channel))
	}

	switch len(sinks) {
	case 0:
		a.Publisher = notify.Discard{}
	case 1:
		a.Publisher = sinks[0]
	default:
		a.Publisher = sinks
	}
	return nil
}

func (a *App) openArchive(ctx context.Context) error {
	s3cfg := a.Config.Archive.S3
	if s3cfg.Bucket == "" {
		return nil
	}
	arch, err := archive.New(ctx, archive.Config{
		Region:    s3cfg.Region,
		Bucket:    s3cfg.Bucket,
		Endpoint:  s3cfg.Endpoint,
		PathStyle: s3cfg.PathStyle,
	})
	if err != nil {
		return err
	}
	a.Archiver = arch
	return nil
}

// Close releases every backend in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// Projector builds the event projector over the app's stores.
func (a *App) Projector() *projector.Projector {
	return projector.New(projector.Options{
		ProgramID:  a.Config.Program.ID,
		Securities: a.Stores.Securities,
		Balances:   a.Stores.Balances,
		Allowlist:  a.Stores.Allowlist,
		Transfers:  a.Stores.Transfers,
		Publisher:  a.Publisher,
		Logger:     a.Logger,
	})
}

// Pipeline builds the decode and project pipeline shared by live ingestion
// and backfill.
func (a *App) Pipeline() *ingestion.Pipeline {
	return ingestion.NewPipeline(ingestion.PipelineOptions{
		ProgramID: a.Config.Program.ID,
		Projector: a.Projector(),
		Cursors:   a.Stores.Cursors,
		Logger:    a.Logger,
	})
}

// Engine builds the ownership engine.
func (a *App) Engine() *ownership.Engine {
	return ownership.New(ownership.Options{
		Securities: a.Stores.Securities,
		Balances:   a.Stores.Balances,
		Allowlist:  a.Stores.Allowlist,
		Transfers:  a.Stores.Transfers,
		Snapshots:  a.Stores.Snapshots,
		Archiver:   a.Archiver,
		Publisher:  a.Publisher,
		Logger:     a.Logger,
	})
}

// Workflow builds the corporate action workflow.
func (a *App) Workflow() *corporate.Workflow {
	return corporate.New(corporate.Options{
		Securities:       a.Stores.Securities,
		Balances:         a.Stores.Balances,
		Allowlist:        a.Stores.Allowlist,
		CorporateActions: a.Stores.CorporateActions,
		Publisher:        a.Publisher,
		Logger:           a.Logger,
	})
}
