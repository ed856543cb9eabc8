package postgres

import (
	"context"
	"errors"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/timeslots/internal/errs"
	"github.com/and161185/timeslots/internal/model"
)

// UserRepo implements UserRepository using PostgreSQL.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// GetByID selects a user by ID.
func (r *UserRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	const q = `SELECT "_id", "_kind", "_uinFin", "_name", "_email" FROM "user" WHERE "_id"=$1`
	var (
		u    model.User
		kind int
	)
	if err := r.db.q(ctx).QueryRow(ctx, q, id).Scan(&u.ID, &kind, &u.UinFin, &u.Name, &u.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	u.Kind = model.UserKind(kind)
	return &u, nil
}
