package postgres

import (
	"context"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/timeslots/internal/model"
)

// HierarchyRepo implements HierarchyReader using PostgreSQL.
type HierarchyRepo struct{ db *DB }

// NewHierarchyRepo constructs a hierarchy repository.
func NewHierarchyRepo(db *DB) *HierarchyRepo { return &HierarchyRepo{db: db} }

// ExistingOrganisationIDs returns the ids among ids that name an organisation.
func (r *HierarchyRepo) ExistingOrganisationIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	return r.existing(ctx, `SELECT "_id" FROM organisation WHERE "_id" = ANY($1)`, ids)
}

// ExistingServiceIDs returns the ids among ids that name a service.
func (r *HierarchyRepo) ExistingServiceIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error) {
	return r.existing(ctx, `SELECT "_id" FROM service WHERE "_id" = ANY($1)`, ids)
}

// ServiceProvidersByIDs loads the providers among ids.
func (r *HierarchyRepo) ServiceProvidersByIDs(ctx context.Context, ids []uuid.UUID) ([]model.ServiceProvider, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `SELECT "_id", "_serviceId", "_name", "_userId" FROM service_provider WHERE "_id" = ANY($1)`
	rows, err := r.db.q(ctx).Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := map[uuid.UUID]model.ServiceProvider{}
	for rows.Next() {
		var sp model.ServiceProvider
		if err := rows.Scan(&sp.ID, &sp.ServiceID, &sp.Name, &sp.UserID); err != nil {
			return nil, err
		}
		found[sp.ID] = sp
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	var out []model.ServiceProvider
	for _, id := range ids {
		if sp, ok := found[id]; ok {
			out = append(out, sp)
			delete(found, id)
		}
	}
	return out, nil
}

func (r *HierarchyRepo) existing(ctx context.Context, q string, ids []uuid.UUID) ([]uuid.UUID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.q(ctx).Query(ctx, q, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := map[uuid.UUID]bool{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return keepOrder(ids, found), nil
}

// keepOrder returns the ids present in found, in input order and without duplicates.
func keepOrder(ids []uuid.UUID, found map[uuid.UUID]bool) []uuid.UUID {
	var out []uuid.UUID
	for _, id := range ids {
		if found[id] {
			out = append(out, id)
			found[id] = false
		}
	}
	return out
}
