package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"

	"github.com/and161185/timeslots/internal/errs"
	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/repository"
	"github.com/and161185/timeslots/internal/txn"
	"github.com/and161185/timeslots/internal/visibility"
)

const bookingSelect = `
SELECT b."_id", b."_serviceId", b."_serviceProviderId", b."_status", b."_startDateTime", b."_endDateTime",
       b."_citizenUinFin", b."_citizenName", b."_citizenPhone", b."_citizenEmail", b."_location",
       b."_description", b."_ownerTrackingId", b."_version", b."_createdAt",
       service."_id", service."_organisationId", service."_name", service."_allowAnonymousBookings",
       sp."_id", sp."_serviceId", sp."_name", sp."_userId"
FROM booking b
JOIN service ON service."_id" = b."_serviceId"
LEFT JOIN service_provider sp ON sp."_id" = b."_serviceProviderId"`

const defaultSearchLimit = 500

// BookingRepo implements BookingRepository using PostgreSQL.
type BookingRepo struct{ db *DB }

// NewBookingRepo constructs a booking repository.
func NewBookingRepo(db *DB) *BookingRepo { return &BookingRepo{db: db} }

// GetForChangeLog loads a booking together with its service and provider.
func (r *BookingRepo) GetForChangeLog(ctx context.Context, id uuid.UUID) (*model.Booking, error) {
	row := r.db.q(ctx).QueryRow(ctx, bookingSelect+` WHERE b."_id" = $1`, id)
	b, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

// Insert stores a new booking at version 1.
func (r *BookingRepo) Insert(ctx context.Context, b *model.Booking) error {
	const q = `
INSERT INTO booking ("_id", "_serviceId", "_serviceProviderId", "_status", "_startDateTime", "_endDateTime",
  "_citizenUinFin", "_citizenName", "_citizenPhone", "_citizenEmail", "_location", "_description",
  "_ownerTrackingId", "_version")
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,1)
RETURNING "_createdAt"`
	if b.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		b.ID = id
	}
	var created time.Time
	err := r.db.q(ctx).QueryRow(ctx, q,
		b.ID, b.ServiceID, b.ServiceProviderID, int(b.Status), b.StartAt, b.EndAt,
		b.CitizenUinFin, b.CitizenName, b.CitizenPhone, b.CitizenEmail, b.Location, b.Description,
		b.OwnerTrackingID,
	).Scan(&created)
	if err != nil {
		return txn.Classify(err)
	}
	b.Version = 1
	b.CreatedAt = created
	return nil
}

// Update writes b guarded by its version and bumps b.Version on success.
func (r *BookingRepo) Update(ctx context.Context, b *model.Booking) error {
	const q = `
UPDATE booking SET "_serviceProviderId"=$2, "_status"=$3, "_startDateTime"=$4, "_endDateTime"=$5,
  "_citizenName"=$6, "_citizenPhone"=$7, "_citizenEmail"=$8, "_location"=$9, "_description"=$10,
  "_version"="_version"+1
WHERE "_id"=$1 AND "_version"=$11`
	tag, err := r.db.q(ctx).Exec(ctx, q,
		b.ID, b.ServiceProviderID, int(b.Status), b.StartAt, b.EndAt,
		b.CitizenName, b.CitizenPhone, b.CitizenEmail, b.Location, b.Description, b.Version,
	)
	if err != nil {
		return txn.Classify(err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrVersionConflict
	}
	b.Version++
	return nil
}

// Search returns bookings visible under vis and matching filter, ordered by start time.
// An empty predicate denies everything.
func (r *BookingRepo) Search(ctx context.Context, vis repository.Visibility, f model.BookingFilter) ([]*model.Booking, error) {
	pred := strings.TrimSpace(vis.Predicate)
	if pred == "" {
		pred = visibility.DenyAll
	}
	params := make(map[string]any, len(vis.Params)+6)
	for k, v := range vis.Params {
		params[k] = v
	}
	where := []string{pred}
	if !f.From.IsZero() {
		where = append(where, `b."_startDateTime" >= :filterFrom`)
		params["filterFrom"] = f.From
	}
	if !f.To.IsZero() {
		where = append(where, `b."_startDateTime" < :filterTo`)
		params["filterTo"] = f.To
	}
	if len(f.Statuses) > 0 {
		st := make([]int, len(f.Statuses))
		for i, s := range f.Statuses {
			st[i] = int(s)
		}
		where = append(where, `b."_status" = ANY(:filterStatuses)`)
		params["filterStatuses"] = st
	}
	if f.ServiceID != nil {
		where = append(where, `b."_serviceId" = :filterServiceId`)
		params["filterServiceId"] = *f.ServiceID
	}
	if f.ServiceProviderID != nil {
		where = append(where, `b."_serviceProviderId" = :filterServiceProviderId`)
		params["filterServiceProviderId"] = *f.ServiceProviderID
	}
	if len(f.CitizenUinFins) > 0 {
		where = append(where, `b."_citizenUinFin" = ANY(:filterCitizenUinFins)`)
		params["filterCitizenUinFins"] = f.CitizenUinFins
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	params["filterLimit"] = limit

	q := bookingSelect + ` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY b."_startDateTime" ASC, b."_id" ASC LIMIT :filterLimit`
	sql, args, err := visibility.Bind(q, params)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b      model.Booking
		svc    model.Service
		status int
		spID   *uuid.UUID
		spSvc  *uuid.UUID
		spName *string
		spUser *uuid.UUID
	)
	err := row.Scan(
		&b.ID, &b.ServiceID, &b.ServiceProviderID, &status, &b.StartAt, &b.EndAt,
		&b.CitizenUinFin, &b.CitizenName, &b.CitizenPhone, &b.CitizenEmail, &b.Location,
		&b.Description, &b.OwnerTrackingID, &b.Version, &b.CreatedAt,
		&svc.ID, &svc.OrganisationID, &svc.Name, &svc.AllowAnonymousBookings,
		&spID, &spSvc, &spName, &spUser,
	)
	if err != nil {
		return nil, err
	}
	b.Status = model.BookingStatus(status)
	b.Service = &svc
	if spID != nil {
		sp := model.ServiceProvider{ID: *spID, UserID: spUser}
		if spSvc != nil {
			sp.ServiceID = *spSvc
		}
		if spName != nil {
			sp.Name = *spName
		}
		b.ServiceProvider = &sp
	}
	return &b, nil
}
