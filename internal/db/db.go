package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/mind-engage/psyportal/internal/apperr"
	"github.com/mind-engage/psyportal/internal/breaker"
	"github.com/mind-engage/psyportal/internal/metrics"
)

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// DB guards every database call with a circuit breaker so a failing
// database is not hammered by request traffic.
type DB struct {
	SQL     *sql.DB
	Driver  Driver
	breaker *breaker.Breaker
}

// New wraps sqlDB. A nil breaker disables the guard.
func New(sqlDB *sql.DB, driver Driver, br *breaker.Breaker) *DB {
	return &DB{SQL: sqlDB, Driver: driver, breaker: br}
}

// NewBreaker returns a breaker that ignores caller errors, logs every state
// change and exports it as a metric.
func NewBreaker(cfg breaker.Config, l *zap.Logger) *breaker.Breaker {
	cfg.IsSuccessful = func(err error) bool {
		return err == nil || apperr.IsClientError(err)
	}
	cfg.OnStateChange = func(from, to breaker.State) {
		l.Warn("db circuit breaker state change",
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		metrics.SetCircuitState(int(to), to.String())
	}
	return breaker.New(cfg)
}

// LockClause is appended to a SELECT inside Tx to lock the matched rows.
// SQLite serialises writers and has no row locks.
func (d *DB) LockClause() string {
	if d.Driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

// Breaker exposes the guard for health reporting. May be nil.
func (d *DB) Breaker() *breaker.Breaker { return d.breaker }

// Do runs fn against the pool.
func (d *DB) Do(ctx context.Context, fn func(q Querier) error) error {
	return d.guard(func() error { return fn(d.SQL) })
}

// Tx runs fn in a transaction, committing when fn returns nil.
func (d *DB) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return d.guard(func() error { return WithTx(ctx, d.SQL, nil, fn) })
}

// Ping checks connectivity through the breaker.
func (d *DB) Ping(ctx context.Context) error {
	return d.guard(func() error { return d.SQL.PingContext(ctx) })
}

func (d *DB) Close() error {
	if d == nil || d.SQL == nil {
		return nil
	}
	return d.SQL.Close()
}

func (d *DB) guard(fn func() error) error {
	run := func() error { return translate(fn()) }
	if d.breaker == nil {
		return run()
	}
	err := d.breaker.Execute(run)
	if errors.Is(err, breaker.ErrOpen) {
		return &breaker.OpenError{RetryAfter: d.breaker.RetryAfter()}
	}
	return err
}

// WithTx starts a transaction, runs fn, and commits if fn returns nil.
// If fn returns an error or panics, the transaction is rolled back.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("db: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if e := tx.Commit(); e != nil {
			err = fmt.Errorf("db: commit: %w", e)
		}
	}()
	err = fn(tx)
	return
}

// translate turns constraint violations into caller errors.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case IsUniqueViolation(err):
		return fmt.Errorf("%w: duplicate value (%v)", apperr.ErrConflict, err)
	case IsForeignKeyViolation(err):
		return fmt.Errorf("%w: referenced by other records (%v)", apperr.ErrConflict, err)
	}
	return err
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
