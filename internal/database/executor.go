// Package database provides statement execution against the import
// target. The orchestrator treats execution as opaque: one statement in,
// a row count or an error out.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Result reports the outcome of one executed statement.
type Result struct {
	RowsAffected int64
}

// Executor runs SQL statements. Implementations are not safe for
// concurrent use; an import owns its executor exclusively.
type Executor interface {
	Execute(ctx context.Context, statement string) (Result, error)
	Ping(ctx context.Context) error
	Close() error
}

// SQLExecutor drives a database/sql connection. The pool is pinned to a
// single connection: statement order is a correctness requirement and
// the session-level SET statements below are per-connection.
type SQLExecutor struct {
	db     *sql.DB
	driver string
}

// Open connects using the given driver ("mysql" or "pgx") and DSN,
// verifying connectivity with exponential-backoff pings before
// returning.
func Open(ctx context.Context, driver, dsn string) (*SQLExecutor, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s connection: %w", driver, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	e := &SQLExecutor{db: db, driver: driver}
	if err := e.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to %s: %w", driver, err)
	}
	return e, nil
}

// Ping verifies the connection, retrying transient failures for up to
// 30 seconds.
func (e *SQLExecutor) Ping(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second
	bo.InitialInterval = 500 * time.Millisecond

	return backoff.Retry(func() error {
		return e.db.PingContext(ctx)
	}, backoff.WithContext(bo, ctx))
}

// PrepareBulkSession relaxes per-row integrity checks for the duration
// of the import connection. Failures are returned so the caller can log
// them, but an import can proceed without these optimizations.
func (e *SQLExecutor) PrepareBulkSession(ctx context.Context) error {
	if e.driver != "mysql" {
		return nil
	}
	stmts := []string{
		"SET SESSION foreign_key_checks = 0",
		"SET SESSION unique_checks = 0",
		"SET SESSION sql_mode = 'NO_AUTO_VALUE_ON_ZERO'",
	}
	for _, s := range stmts {
		if _, err := e.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("bulk session setup (%s): %w", s, err)
		}
	}
	return nil
}

// Execute runs one statement.
func (e *SQLExecutor) Execute(ctx context.Context, statement string) (Result, error) {
	res, err := e.db.ExecContext(ctx, statement)
	if err != nil {
		return Result{}, err
	}
	// Some drivers cannot report affected rows for DDL; treat as zero.
	n, err := res.RowsAffected()
	if err != nil {
		n = 0
	}
	return Result{RowsAffected: n}, nil
}

// Close releases the connection.
func (e *SQLExecutor) Close() error {
	return e.db.Close()
}

// NewFromDB wraps an existing pool, used by tests with sqlmock.
func NewFromDB(db *sql.DB, driver string) *SQLExecutor {
	return &SQLExecutor{db: db, driver: driver}
}
