package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/timeslots/internal/model"
	"github.com/and161185/timeslots/internal/txn"
	"github.com/and161185/timeslots/internal/visibility"
)

// ChangeLogRepo implements ChangeLogRepository using PostgreSQL.
type ChangeLogRepo struct{ db *DB }

// NewChangeLogRepo constructs a change log repository.
func NewChangeLogRepo(db *DB) *ChangeLogRepo { return &ChangeLogRepo{db: db} }

// Save appends entry. ID and Timestamp are filled in when zero.
func (r *ChangeLogRepo) Save(ctx context.Context, e *model.ChangeLog) error {
	const q = `
INSERT INTO booking_change_log ("_id", "_timestamp", "_bookingId", "_serviceId", "_userId", "_action", "_previousState", "_newState")
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	if e.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return err
		}
		e.ID = id
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	prev, err := json.Marshal(e.PreviousState)
	if err != nil {
		return fmt.Errorf("marshal previous state: %w", err)
	}
	next, err := json.Marshal(e.NewState)
	if err != nil {
		return fmt.Errorf("marshal new state: %w", err)
	}
	_, err = r.db.q(ctx).Exec(ctx, q, e.ID, e.Timestamp, e.BookingID, e.ServiceID, e.UserID, int(e.Action), prev, next)
	return txn.Classify(err)
}

// GetLogs returns entries in [ChangedSince, ChangedUntil) grouped by booking id.
// A zero bound is open; a non-nil empty BookingIDs matches nothing.
func (r *ChangeLogRepo) GetLogs(ctx context.Context, f model.ChangeLogFilter) (map[uuid.UUID][]model.ChangeLog, error) {
	out := map[uuid.UUID][]model.ChangeLog{}
	if f.BookingIDs != nil && len(f.BookingIDs) == 0 {
		return out, nil
	}

	where := []string{"TRUE"}
	params := map[string]any{}
	if !f.ChangedSince.IsZero() {
		where = append(where, `l."_timestamp" >= :changedSince`)
		params["changedSince"] = f.ChangedSince
	}
	if !f.ChangedUntil.IsZero() {
		where = append(where, `l."_timestamp" < :changedUntil`)
		params["changedUntil"] = f.ChangedUntil
	}
	if f.ServiceID != nil {
		where = append(where, `l."_serviceId" = :serviceId`)
		params["serviceId"] = *f.ServiceID
	}
	if len(f.BookingIDs) > 0 {
		where = append(where, `l."_bookingId" = ANY(:bookingIds)`)
		params["bookingIds"] = f.BookingIDs
	}
	q := `
SELECT l."_id", l."_timestamp", l."_bookingId", l."_serviceId", l."_userId", l."_action", l."_previousState", l."_newState"
FROM booking_change_log l
WHERE ` + strings.Join(where, " AND ") + `
ORDER BY l."_timestamp" ASC, l."_id" ASC`
	sql, args, err := visibility.Bind(q, params)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.q(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			e          model.ChangeLog
			action     int
			prev, next []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.BookingID, &e.ServiceID, &e.UserID, &action, &prev, &next); err != nil {
			return nil, err
		}
		e.Action = model.ChangeLogAction(action)
		if err := json.Unmarshal(prev, &e.PreviousState); err != nil {
			return nil, fmt.Errorf("change log %s: previous state: %w", e.ID, err)
		}
		if err := json.Unmarshal(next, &e.NewState); err != nil {
			return nil, fmt.Errorf("change log %s: new state: %w", e.ID, err)
		}
		out[e.BookingID] = append(out[e.BookingID], e)
	}
	return out, rows.Err()
}
