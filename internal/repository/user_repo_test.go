package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/models"
)

var profileColumns = []string{
	"id", "email", "name", "role", "is_verified", "vehicle", "phone", "rating",
	"password_hash", "created_at", "updated_at",
}

func TestUserRepositoryCreateNormalizesEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO profiles").
		WithArgs(sqlmock.AnyArg(), "asha@campus.edu", "Asha", "student", true,
			nil, nil, 5.0, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	profile := &models.Profile{Email: "  Asha@Campus.edu ", Name: "Asha", Role: models.RoleStudent, IsVerified: true}
	require.NoError(t, repo.Create(context.Background(), profile))

	assert.NotEmpty(t, profile.ID)
	assert.Equal(t, "asha@campus.edu", profile.Email)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryCreateDuplicateEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec("INSERT INTO profiles").
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.Create(context.Background(), &models.Profile{Email: "asha@campus.edu", Role: models.RoleStudent})
	assert.ErrorIs(t, err, apperrors.ErrEmailTaken)
}

func TestUserRepositoryGetByEmail(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	now := time.Now()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM profiles WHERE email = $1")).
		WithArgs("rajesh@campus.edu").
		WillReturnRows(sqlmock.NewRows(profileColumns).AddRow(
			"d1", "rajesh@campus.edu", "Rajesh", "driver", false, "Auto", nil, 4.8, "hash", now, now,
		))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT * FROM profiles WHERE email = $1")).
		WithArgs("nobody@campus.edu").
		WillReturnError(sql.ErrNoRows)

	profile, err := repo.GetByEmail(context.Background(), "Rajesh@campus.edu")
	require.NoError(t, err)
	require.NotNil(t, profile)
	assert.Equal(t, models.RoleDriver, profile.Role)
	require.NotNil(t, profile.Vehicle)
	assert.Equal(t, "Auto", *profile.Vehicle)

	missing, err := repo.GetByEmail(context.Background(), "nobody@campus.edu")
	require.NoError(t, err)
	assert.Nil(t, missing)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositorySetVerified(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE profiles SET is_verified = $1")).
		WithArgs(true, sqlmock.AnyArg(), "d1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE profiles SET is_verified = $1")).
		WithArgs(true, sqlmock.AnyArg(), "ghost").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SetVerified(context.Background(), "d1", true))
	assert.ErrorIs(t, repo.SetVerified(context.Background(), "ghost", true), apperrors.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserRepositoryListVerifiedDrivers(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewUserRepository(db)
	now := time.Now()

	mock.ExpectQuery("SELECT \\* FROM profiles WHERE role = \\$1 AND is_verified = TRUE").
		WithArgs("driver").
		WillReturnRows(sqlmock.NewRows(profileColumns).
			AddRow("d1", "a@campus.edu", "Rajesh", "driver", true, "Auto", nil, 4.9, nil, now, now).
			AddRow("d2", "b@campus.edu", "Sunil", "driver", true, nil, nil, 4.5, nil, now, now))

	drivers, err := repo.ListVerifiedDrivers(context.Background())
	require.NoError(t, err)
	require.Len(t, drivers, 2)
	assert.Equal(t, "d1", drivers[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
