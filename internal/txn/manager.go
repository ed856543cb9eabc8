// Package txn runs work inside Postgres transactions and threads the open
// transaction through context.Context.
package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/and161185/timeslots/internal/errs"
)

// Querier is the statement surface shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool can start transactions. It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type Pool interface {
	Querier
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

type ctxKey struct{}

type state struct {
	tx  pgx.Tx
	iso pgx.TxIsoLevel
}

// Manager opens transactions or joins the one already carried by ctx.
type Manager struct {
	pool Pool
}

// NewManager constructs a transaction manager over pool.
func NewManager(pool Pool) *Manager { return &Manager{pool: pool} }

// InTx runs fn inside a transaction at iso.
//
// When ctx already carries a transaction at the same level, fn runs in a savepoint of
// it, so a failed fn rolls back only its own work. Otherwise a new transaction is
// started. The ctx handed to fn carries the transaction; repositories reach it through
// From. Serialization failures and deadlocks are reported as errs.ErrVersionConflict.
func (m *Manager) InTx(ctx context.Context, iso pgx.TxIsoLevel, fn func(ctx context.Context) error) (err error) {
	var tx pgx.Tx
	if cur, ok := current(ctx); ok && cur.iso == iso {
		tx, err = cur.tx.Begin(ctx)
	} else {
		tx, err = m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	}
	if err != nil {
		return Classify(err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			err = Classify(err)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = Classify(e)
		}
	}()

	return fn(context.WithValue(ctx, ctxKey{}, state{tx: tx, iso: iso}))
}

// InTransaction reports whether ctx carries an open transaction.
func InTransaction(ctx context.Context) bool {
	_, ok := current(ctx)
	return ok
}

// From returns the transaction carried by ctx, or fallback when there is none.
func From(ctx context.Context, fallback Querier) Querier {
	if cur, ok := current(ctx); ok {
		return cur.tx
	}
	return fallback
}

func current(ctx context.Context) (state, bool) {
	s, ok := ctx.Value(ctxKey{}).(state)
	return s, ok
}

// Classify maps Postgres errors onto sentinel errors. Anything else is returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, errs.ErrVersionConflict) || errors.Is(err, errs.ErrAlreadyExists) {
		return err
	}
	var pg *pgconn.PgError
	if !errors.As(err, &pg) {
		return err
	}
	switch pg.Code {
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return fmt.Errorf("%w: %s", errs.ErrVersionConflict, pg.Message)
	case "23505":
		return fmt.Errorf("%w: %s", errs.ErrAlreadyExists, pg.ConstraintName)
	default:
		return err
	}
}
