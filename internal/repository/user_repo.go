package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// UserRepository stores account profiles together with their credentials.
type UserRepository interface {
	Create(ctx context.Context, profile *models.Profile) error
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)
	SetVerified(ctx context.Context, id string, verified bool) error
	ListVerifiedDrivers(ctx context.Context) ([]*models.Profile, error)
}

type userRepository struct {
	db *sqlx.DB
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

const uniqueViolation = "23505"

func (r *userRepository) Create(ctx context.Context, profile *models.Profile) error {
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	profile.Email = normalizeEmail(profile.Email)
	profile.CreatedAt = time.Now().UTC()
	profile.UpdatedAt = profile.CreatedAt
	if profile.Rating == 0 {
		profile.Rating = 5.0
	}

	query := `
		INSERT INTO profiles (id, email, name, role, is_verified, vehicle, phone, rating,
			password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.ExecContext(ctx, query,
		profile.ID, profile.Email, profile.Name, string(profile.Role), profile.IsVerified,
		profile.Vehicle, profile.Phone, profile.Rating, profile.PasswordHash,
		profile.CreatedAt, profile.UpdatedAt)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperrors.ErrEmailTaken
	}
	return err
}

func (r *userRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	var profile models.Profile
	query := `SELECT * FROM profiles WHERE id = $1`
	err := r.db.GetContext(ctx, &profile, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	var profile models.Profile
	query := `SELECT * FROM profiles WHERE email = $1`
	err := r.db.GetContext(ctx, &profile, query, normalizeEmail(email))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

func (r *userRepository) SetVerified(ctx context.Context, id string, verified bool) error {
	query := `UPDATE profiles SET is_verified = $1, updated_at = $2 WHERE id = $3`
	res, err := r.db.ExecContext(ctx, query, verified, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *userRepository) ListVerifiedDrivers(ctx context.Context) ([]*models.Profile, error) {
	profiles := []*models.Profile{}
	query := `
		SELECT * FROM profiles
		WHERE role = $1 AND is_verified = TRUE
		ORDER BY rating DESC, name ASC
	`
	if err := r.db.SelectContext(ctx, &profiles, query, string(models.RoleDriver)); err != nil {
		return nil, err
	}
	return profiles, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
