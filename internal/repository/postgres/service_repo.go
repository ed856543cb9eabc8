package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/timeslots/internal/errs"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/repository"
	"github.com/and161185/timeslots/internal/visibility"
)

const serviceSelect = `SELECT s."_id", s."_organisationId", s."_name", s."_allowAnonymousBookings" FROM service s`

// ServiceRepo implements ServiceRepository using PostgreSQL.
type ServiceRepo struct{ db *DB }

// NewServiceRepo constructs a service repository.
func NewServiceRepo(db *DB) *ServiceRepo { return &ServiceRepo{db: db} }

// GetByID selects a service by ID.
func (r *ServiceRepo) GetByID(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	var s model.Service
	err := r.db.q(ctx).QueryRow(ctx, serviceSelect+` WHERE s."_id"=$1`, id).
		Scan(&s.ID, &s.OrganisationID, &s.Name, &s.AllowAnonymousBookings)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

// Search returns services visible under vis, optionally within one organisation.
func (r *ServiceRepo) Search(ctx context.Context, vis repository.Visibility, organisationID *uuid.UUID) ([]model.Service, error) {
	pred := strings.TrimSpace(vis.Predicate)
	if pred == "" {
		pred = visibility.DenyAll
	}
	params := make(map[string]any, len(vis.Params)+1)
	for k, v := range vis.Params {
		params[k] = v
	}
	q := serviceSelect + ` WHERE ` + pred
	if organisationID != nil {
		q += ` AND s."_organisationId" = :filterOrganisationId`
		params["filterOrganisationId"] = *organisationID
	}
	q += ` ORDER BY s."_name" ASC`

	sql, args, err := visibility.Bind(q, params)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Service
	for rows.Next() {
		var s model.Service
		if err := rows.Scan(&s.ID, &s.OrganisationID, &s.Name, &s.AllowAnonymousBookings); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
