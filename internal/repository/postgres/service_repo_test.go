package postgres

import (
	"context"
	"regexp"
	"testing"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/and161185/timeslots/internal/errs"
	"github.com/and161185/timeslots/internal/repository"
)

var serviceColumns = []string{"_id", "_organisationId", "_name", "_allowAnonymousBookings"}

func TestServiceRepo_GetByID(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewServiceRepo(db)
	id, org := uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())
	q := regexp.QuoteMeta(`FROM service s WHERE s."_id"=$1`)

	mock.ExpectQuery(q).WithArgs(id).
		WillReturnRows(pgxmock.NewRows(serviceColumns).AddRow(id, org, "Clinic", true))
	s, err := r.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, org, s.OrganisationID)
	require.True(t, s.AllowAnonymousBookings)

	mock.ExpectQuery(q).WithArgs(id).WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByID(context.Background(), id)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestServiceRepo_Search(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewServiceRepo(db)
	org := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE (s."_allowAnonymousBookings" = TRUE) AND s."_organisationId" = $1 ORDER BY s."_name" ASC`)).
		WithArgs(org).
		WillReturnRows(pgxmock.NewRows(serviceColumns).
			AddRow(uuid.Must(uuid.NewV4()), org, "A", true).
			AddRow(uuid.Must(uuid.NewV4()), org, "B", true))

	got, err := r.Search(context.Background(),
		repository.Visibility{Predicate: `(s."_allowAnonymousBookings" = TRUE)`, Params: map[string]any{}}, &org)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, "A", got[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}
