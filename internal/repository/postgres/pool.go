// Package postgres holds the PostgreSQL-backed repository implementations.
package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgxPool is the subset of the pgx pool the repositories actually call.
// Both *pgxpool.Pool and pgxmock.PgxPoolIface satisfy it, which is what
// lets the repository tests run against a mock.
type PgxPool interface {
	// Exec runs a statement and returns its command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// Query runs a SELECT and returns the rows iterator.
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	// QueryRow runs a query that yields at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// BeginTx opens a transaction with the given options.
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	// Close releases the pool and its connections.
	Close()
}

// DB carries the pool handed to repository constructors.
type DB struct{ Pool PgxPool }

// New dials a connection pool for the given DSN.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

// Close releases the underlying pool.
func (db *DB) Close() { db.Pool.Close() }

// isUniqueViolation reports whether err is a Postgres unique-constraint error.
func isUniqueViolation(err error) bool {
	var pg *pgconn.PgError
	return errors.As(err, &pg) && pg.Code == "23505"
}
