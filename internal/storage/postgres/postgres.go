package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"captable-indexer/internal/observability"
	"captable-indexer/internal/storage"
)

// applicationName tags indexer sessions in pg_stat_activity.
const applicationName = "captable-indexer"

// Pool is the connection pool shared by every cap-table store.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects to the cap-table database and fails fast if it is
// unreachable, so a bad DSN surfaces at startup rather than on the first
// projected event.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping cap-table database: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// Close releases every connection. Stores built on p must not be used after.
func (p *Pool) Close() {
	p.Pool.Close()
}

// NewStores returns the full set of Postgres-backed stores sharing one pool.
func NewStores(pool *Pool) *storage.Stores {
	return &storage.Stores{
		Securities:       NewSecurityStore(pool),
		Balances:         NewBalanceStore(pool),
		Allowlist:        NewAllowlistStore(pool),
		Transfers:        NewTransferStore(pool),
		Snapshots:        NewSnapshotStore(pool),
		CorporateActions: NewCorporateActionStore(pool),
		Cursors:          NewCursorStore(pool),
	}
}

const pgErrUniqueViolation = "23505"

// isUniqueViolation reports whether err is a primary key or unique index
// conflict, which the stores map to storage.ErrDuplicateKey.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

// isNoRows reports a QueryRow that matched nothing; stores map it to
// storage.ErrNotFound.
func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Amounts travel as text and are cast to NUMERIC in SQL so no precision is
// lost between decimal.Decimal and the database.
func numeric(d decimal.Decimal) string {
	return d.String()
}

func parseNumeric(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse numeric %q: %w", s, err)
	}
	return d, nil
}

// observe records query latency under the given operation name. Missing
// rows and duplicate keys are expected outcomes, not query errors.
func observe(op string, start time.Time, err error) {
	if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrDuplicateKey) {
		err = nil
	}
	observability.RecordDBQuery("postgres", op, time.Since(start).Seconds(), err)
}
