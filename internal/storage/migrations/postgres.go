package migrations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// TxBeginner starts a transaction. *postgres.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Serializes concurrent migrators across processes.
const advisoryLockKey = 7_201_409

const createVersionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version    TEXT PRIMARY KEY,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// RunPostgresMigrations applies every embedded script not yet recorded in
// schema_migrations. Each script runs in its own transaction together with
// its version row. Returns the versions applied by this call.
func RunPostgresMigrations(ctx context.Context, db TxBeginner) ([]string, error) {
	scripts, err := load(postgresFS, "postgres")
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, s := range scripts {
		ok, err := applyPostgres(ctx, db, s)
		if err != nil {
			return applied, fmt.Errorf("apply migration %s: %w", s.Version, err)
		}
		if ok {
			applied = append(applied, s.Version)
		}
	}
	return applied, nil
}

func applyPostgres(ctx context.Context, db TxBeginner, s script) (bool, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		return false, fmt.Errorf("lock: %w", err)
	}
	if _, err := tx.Exec(ctx, createVersionTable); err != nil {
		return false, fmt.Errorf("version table: %w", err)
	}

	var done bool
	if err := tx.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", s.Version,
	).Scan(&done); err != nil {
		return false, fmt.Errorf("check version: %w", err)
	}
	if done {
		return false, nil
	}

	if _, err := tx.Exec(ctx, s.SQL); err != nil {
		return false, err
	}
	if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", s.Version); err != nil {
		return false, fmt.Errorf("record version: %w", err)
	}
	return true, tx.Commit(ctx)
}
