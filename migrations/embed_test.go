package migrations

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFS_HasOrderedGooseMigrations(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	require.NoError(t, err)
	require.Equal(t, []string{"00001_hierarchy.sql", "00002_booking.sql", "00003_access_limiter.sql"}, names)

	for _, n := range names {
		b, err := fs.ReadFile(FS, n)
		require.NoError(t, err)
		body := string(b)
		require.True(t, strings.HasPrefix(body, "-- +goose Up"), n)
		require.Contains(t, body, "-- +goose Down", n)
	}
}

func TestFS_BookingCarriesVersionAndChangeLogIndexes(t *testing.T) {
	b, err := fs.ReadFile(FS, "00002_booking.sql")
	require.NoError(t, err)
	body := string(b)
	require.Contains(t, body, `"_version"           bigint NOT NULL DEFAULT 1`)
	require.Contains(t, body, `booking_change_log ("_timestamp")`)
	require.Contains(t, body, `booking_change_log ("_bookingId")`)
}
