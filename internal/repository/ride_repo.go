package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type RideRepository interface {
	Create(ctx context.Context, ride *models.Ride) error
	GetByID(ctx context.Context, id string) (*models.Ride, error)
	// Update merges patch into the ride and returns the stored result. A
	// non-empty when makes the write conditional on the current status; a
	// failed condition returns ErrPreconditionFailed and writes nothing.
	Update(ctx context.Context, id string, patch models.RidePatch, when []models.RideStatus) (*models.Ride, error)
	List(ctx context.Context, filter RideFilter) ([]*models.Ride, error)
	// The active lookups return the oldest non-terminal ride of the user.
	// Create and Update refuse with ErrUserHasActiveRide when a write would
	// give a requester or provider a second one.
	GetActiveRideByRequesterID(ctx context.Context, requesterID string) (*models.Ride, error)
	GetActiveRideByProviderID(ctx context.Context, providerID string) (*models.Ride, error)
}

// RideFilter selects rides. Zero fields match everything.
type RideFilter struct {
	Statuses    []models.RideStatus
	RequesterID string
	ProviderID  string
	Limit       int
}

func (f RideFilter) Matches(r *models.Ride) bool {
	if r == nil {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if r.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.RequesterID != "" && r.RequesterID != f.RequesterID {
		return false
	}
	if f.ProviderID != "" && (r.ProviderID == nil || *r.ProviderID != f.ProviderID) {
		return false
	}
	return true
}

type rideRepository struct {
	db *sqlx.DB
}

func NewRideRepository(db *sqlx.DB) RideRepository {
	return &rideRepository{db: db}
}

func (r *rideRepository) Create(ctx context.Context, ride *models.Ride) error {
	if ride.ID == "" {
		ride.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	ride.CreatedAt = now
	ride.UpdatedAt = now
	ride.Status = models.RideStatusOpen
	ride.Version = 1

	query := `
		INSERT INTO rides (id, requester_id, requester_name, provider_id, provider_hint,
			pickup, dropoff, requested_time, status, requester_confirmed, provider_confirmed,
			requester_arrived, provider_arrived, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := r.db.ExecContext(ctx, query,
		ride.ID, ride.RequesterID, ride.RequesterName, ride.ProviderID, ride.ProviderHint,
		ride.Pickup, ride.Dropoff, ride.RequestedTime, string(ride.Status),
		ride.RequesterConfirmed, ride.ProviderConfirmed, ride.RequesterArrived, ride.ProviderArrived,
		ride.Version, ride.CreatedAt, ride.UpdatedAt)
	return activeRideConflict(err)
}

func (r *rideRepository) GetByID(ctx context.Context, id string) (*models.Ride, error) {
	var ride models.Ride
	query := `SELECT * FROM rides WHERE id = $1`
	err := r.db.GetContext(ctx, &ride, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

// Update is a single statement so the status guard and the merge commit together.
// Flags are OR-merged and provider_id is only ever filled once.
func (r *rideRepository) Update(ctx context.Context, id string, patch models.RidePatch, when []models.RideStatus) (*models.Ride, error) {
	query := `
		UPDATE rides SET
			status = COALESCE($2, status),
			provider_id = COALESCE(provider_id, $3),
			requester_confirmed = requester_confirmed OR COALESCE($4, FALSE),
			provider_confirmed = provider_confirmed OR COALESCE($5, FALSE),
			requester_arrived = requester_arrived OR COALESCE($6, FALSE),
			provider_arrived = provider_arrived OR COALESCE($7, FALSE),
			cancelled_by = COALESCE($8, cancelled_by),
			version = version + 1,
			updated_at = $9
		WHERE id = $1 AND ($10::text[] IS NULL OR status = ANY($10::text[]))
		RETURNING *
	`
	var ride models.Ride
	err := r.db.GetContext(ctx, &ride, query,
		id,
		nullableStatus(patch.Status),
		patch.ProviderID,
		patch.RequesterConfirmed,
		patch.ProviderConfirmed,
		patch.RequesterArrived,
		patch.ProviderArrived,
		nullableSide(patch.CancelledBy),
		time.Now().UTC(),
		statusArray(when),
	)
	if err == nil {
		return &ride, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, activeRideConflict(err)
	}

	existing, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if existing == nil {
		return nil, apperrors.ErrNotFound
	}
	return nil, fmt.Errorf("%w: ride %s is %s", apperrors.ErrPreconditionFailed, id, existing.Status)
}

func (r *rideRepository) List(ctx context.Context, filter RideFilter) ([]*models.Ride, error) {
	var (
		clauses []string
		args    []interface{}
	)
	if len(filter.Statuses) > 0 {
		args = append(args, statusArray(filter.Statuses))
		clauses = append(clauses, fmt.Sprintf("status = ANY($%d::text[])", len(args)))
	}
	if filter.RequesterID != "" {
		args = append(args, filter.RequesterID)
		clauses = append(clauses, fmt.Sprintf("requester_id = $%d", len(args)))
	}
	if filter.ProviderID != "" {
		args = append(args, filter.ProviderID)
		clauses = append(clauses, fmt.Sprintf("provider_id = $%d", len(args)))
	}

	query := `SELECT * FROM rides`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rides := []*models.Ride{}
	if err := r.db.SelectContext(ctx, &rides, query, args...); err != nil {
		return nil, err
	}
	return rides, nil
}

func (r *rideRepository) GetActiveRideByRequesterID(ctx context.Context, requesterID string) (*models.Ride, error) {
	var ride models.Ride
	query := `
		SELECT * FROM rides
		WHERE requester_id = $1 AND status NOT IN ($2, $3)
		ORDER BY created_at ASC
		LIMIT 1
	`
	err := r.db.GetContext(ctx, &ride, query, requesterID,
		string(models.RideStatusCompleted), string(models.RideStatusCancelled))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

func (r *rideRepository) GetActiveRideByProviderID(ctx context.Context, providerID string) (*models.Ride, error) {
	var ride models.Ride
	query := `
		SELECT * FROM rides
		WHERE provider_id = $1 AND status NOT IN ($2, $3)
		ORDER BY created_at ASC
		LIMIT 1
	`
	err := r.db.GetContext(ctx, &ride, query, providerID,
		string(models.RideStatusCompleted), string(models.RideStatusCancelled))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ride, nil
}

// activeRideConflict maps the partial unique indexes on active rides.
func activeRideConflict(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperrors.ErrUserHasActiveRide
	}
	return err
}

func statusArray(statuses []models.RideStatus) pq.StringArray {
	if len(statuses) == 0 {
		return nil
	}
	out := make(pq.StringArray, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func nullableStatus(s *models.RideStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}

func nullableSide(s *models.Side) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
