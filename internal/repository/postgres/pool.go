// Package postgres contains PostgreSQL implementations of repository interfaces.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/and161185/timeslots/internal/txn"
)

// PgxPool is the pool surface repositories and the transaction manager need.
// It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	txn.Pool
	Ping(ctx context.Context) error
	Close()
}

// DB holds the shared pool. Repositories never use it directly inside a
// transaction: see q.
type DB struct{ Pool PgxPool }

// New opens a pool for dsn and checks that the database answers.
func New(ctx context.Context, dsn string) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close closes the underlying pool.
func (db *DB) Close() { db.Pool.Close() }

// q returns the transaction carried by ctx, or the pool outside a transaction.
func (db *DB) q(ctx context.Context) txn.Querier { return txn.From(ctx, db.Pool) }
