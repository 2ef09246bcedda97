package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/models"
)

var rideColumns = []string{
	"id", "requester_id", "requester_name", "provider_id", "provider_hint",
	"pickup", "dropoff", "requested_time", "status",
	"requester_confirmed", "provider_confirmed", "requester_arrived", "provider_arrived",
	"cancelled_by", "version", "created_at", "updated_at",
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlx.NewDb(db, "sqlmock"), mock
}

func rideRow(id string, status models.RideStatus, providerID interface{}, version int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(rideColumns).AddRow(
		id, "student-1", "Asha", providerID, nil,
		"Main Gate", "Shirpur", "14:00", string(status),
		false, false, false, false,
		nil, version, now, now,
	)
}

func TestRideRepositoryCreate(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRideRepository(db)

	mock.ExpectExec("INSERT INTO rides").
		WillReturnResult(sqlmock.NewResult(1, 1))

	ride := &models.Ride{
		RequesterID:   "student-1",
		RequesterName: "Asha",
		Pickup:        "Main Gate",
		Dropoff:       "Shirpur",
		RequestedTime: "14:00",
	}
	require.NoError(t, repo.Create(context.Background(), ride))

	assert.NotEmpty(t, ride.ID)
	assert.Equal(t, models.RideStatusOpen, ride.Status)
	assert.Equal(t, int64(1), ride.Version)
	assert.False(t, ride.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepositoryCreateSecondActiveRide(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRideRepository(db)

	mock.ExpectExec("INSERT INTO rides").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_rides_requester_active"})

	err := repo.Create(context.Background(), &models.Ride{RequesterID: "student-1", Pickup: "Main Gate", Dropoff: "Shirpur", RequestedTime: "14:00"})
	assert.ErrorIs(t, err, apperrors.ErrUserHasActiveRide)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepositoryUpdateProviderAlreadyBusy(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRideRepository(db)

	mock.ExpectQuery("UPDATE rides SET").
		WillReturnError(&pq.Error{Code: "23505", Constraint: "uq_rides_provider_active"})

	_, err := repo.Update(context.Background(), "ride-1", models.RidePatch{
		Status:     models.StatusPtr(models.RideStatusNegotiating),
		ProviderID: models.StringPtr("driver-1"),
	}, []models.RideStatus{models.RideStatusOpen})
	assert.ErrorIs(t, err, apperrors.ErrUserHasActiveRide)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepositoryActiveByRequesterReturnsOldest(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRideRepository(db)

	mock.ExpectQuery(`WHERE requester_id = \$1 AND status NOT IN \(\$2, \$3\)\s+ORDER BY created_at ASC`).
		WithArgs("student-1", "completed", "cancelled").
		WillReturnRows(rideRow("ride-1", models.RideStatusOpen, nil, 1))

	ride, err := repo.GetActiveRideByRequesterID(context.Background(), "student-1")
	require.NoError(t, err)
	require.NotNil(t, ride)
	assert.Equal(t, "ride-1", ride.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepositoryGetByIDMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRideRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM rides WHERE id = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	ride, err := repo.GetByID(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, ride)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepositoryUpdateCommits(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRideRepository(db)

	mock.ExpectQuery("UPDATE rides SET").
		WithArgs("ride-1", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(rideRow("ride-1", models.RideStatusNegotiating, "driver-1", 2))

	patch := models.RidePatch{
		Status:     models.StatusPtr(models.RideStatusNegotiating),
		ProviderID: models.StringPtr("driver-1"),
	}
	ride, err := repo.Update(context.Background(), "ride-1", patch, []models.RideStatus{models.RideStatusOpen})
	require.NoError(t, err)

	assert.Equal(t, models.RideStatusNegotiating, ride.Status)
	require.NotNil(t, ride.ProviderID)
	assert.Equal(t, "driver-1", *ride.ProviderID)
	assert.Equal(t, int64(2), ride.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepositoryUpdatePreconditionFailed(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRideRepository(db)

	mock.ExpectQuery("UPDATE rides SET").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM rides WHERE id = $1")).
		WithArgs("ride-1").
		WillReturnRows(rideRow("ride-1", models.RideStatusNegotiating, "driver-2", 2))

	_, err := repo.Update(context.Background(), "ride-1", models.RidePatch{
		Status:     models.StatusPtr(models.RideStatusNegotiating),
		ProviderID: models.StringPtr("driver-1"),
	}, []models.RideStatus{models.RideStatusOpen})

	assert.ErrorIs(t, err, apperrors.ErrPreconditionFailed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepositoryUpdateMissingRide(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRideRepository(db)

	mock.ExpectQuery("UPDATE rides SET").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM rides WHERE id = $1")).
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Update(context.Background(), "gone", models.RidePatch{
		Status: models.StatusPtr(models.RideStatusCancelled),
	}, nil)

	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRideRepositoryListBuildsFilter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewRideRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM rides WHERE status = ANY($1::text[]) ORDER BY created_at ASC LIMIT $2")).
		WithArgs(sqlmock.AnyArg(), 5).
		WillReturnRows(rideRow("ride-1", models.RideStatusOpen, nil, 1))

	rides, err := repo.List(context.Background(), RideFilter{
		Statuses: []models.RideStatus{models.RideStatusOpen},
		Limit:    5,
	})
	require.NoError(t, err)
	require.Len(t, rides, 1)
	assert.Nil(t, rides[0].ProviderID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRideFilterMatches(t *testing.T) {
	ride := &models.Ride{RequesterID: "s1", Status: models.RideStatusNegotiating, ProviderID: models.StringPtr("d1")}

	assert.True(t, RideFilter{}.Matches(ride))
	assert.True(t, RideFilter{Statuses: models.NonTerminalStatuses, ProviderID: "d1"}.Matches(ride))
	assert.False(t, RideFilter{Statuses: []models.RideStatus{models.RideStatusOpen}}.Matches(ride))
	assert.False(t, RideFilter{RequesterID: "s2"}.Matches(ride))
	assert.False(t, RideFilter{ProviderID: "d2"}.Matches(ride))
	assert.False(t, RideFilter{}.Matches(nil))
}
