package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/lifecycle"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/google/uuid"
)

// MemoryRideRepository keeps rides in process. The mutex makes every Update a
// compare-and-set, the same guarantee the Postgres statement gives.
type MemoryRideRepository struct {
	mu    sync.RWMutex
	rides map[string]*models.Ride
}

func NewMemoryRideRepository() *MemoryRideRepository {
	return &MemoryRideRepository{rides: make(map[string]*models.Ride)}
}

func (m *MemoryRideRepository) Create(ctx context.Context, ride *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ride.ID == "" {
		ride.ID = uuid.New().String()
	}
	if _, exists := m.rides[ride.ID]; exists {
		return apperrors.ErrConflict
	}
	if m.activeLocked(RideFilter{RequesterID: ride.RequesterID}, "") {
		return apperrors.ErrUserHasActiveRide
	}
	now := time.Now().UTC()
	ride.CreatedAt = now
	ride.UpdatedAt = now
	ride.Status = models.RideStatusOpen
	ride.Version = 1
	m.rides[ride.ID] = ride.Clone()
	return nil
}

func (m *MemoryRideRepository) GetByID(ctx context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rides[id].Clone(), nil
}

func (m *MemoryRideRepository) Update(ctx context.Context, id string, patch models.RidePatch, when []models.RideStatus) (*models.Ride, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ride, ok := m.rides[id]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	if !lifecycle.Allowed(ride.Status, when) {
		return nil, fmt.Errorf("%w: ride %s is %s", apperrors.ErrPreconditionFailed, id, ride.Status)
	}

	next := ride.Clone()
	patch.ApplyTo(next)
	if next.IsActive() && next.ProviderID != nil && m.activeLocked(RideFilter{ProviderID: *next.ProviderID}, id) {
		return nil, apperrors.ErrUserHasActiveRide
	}
	next.Version++
	next.UpdatedAt = time.Now().UTC()
	m.rides[id] = next
	return next.Clone(), nil
}

// activeLocked reports whether a non-terminal ride other than skipID matches
// filter. The caller holds m.mu.
func (m *MemoryRideRepository) activeLocked(filter RideFilter, skipID string) bool {
	filter.Statuses = models.NonTerminalStatuses
	for id, r := range m.rides {
		if id != skipID && filter.Matches(r) {
			return true
		}
	}
	return false
}

func (m *MemoryRideRepository) List(ctx context.Context, filter RideFilter) ([]*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*models.Ride{}
	for _, r := range m.rides {
		if filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemoryRideRepository) GetActiveRideByRequesterID(ctx context.Context, requesterID string) (*models.Ride, error) {
	return m.oldestActive(ctx, RideFilter{RequesterID: requesterID, Statuses: models.NonTerminalStatuses})
}

func (m *MemoryRideRepository) GetActiveRideByProviderID(ctx context.Context, providerID string) (*models.Ride, error) {
	return m.oldestActive(ctx, RideFilter{ProviderID: providerID, Statuses: models.NonTerminalStatuses})
}

func (m *MemoryRideRepository) oldestActive(ctx context.Context, filter RideFilter) (*models.Ride, error) {
	filter.Limit = 1
	rides, err := m.List(ctx, filter)
	if err != nil || len(rides) == 0 {
		return nil, err
	}
	return rides[0], nil
}

type MemoryUserRepository struct {
	mu       sync.RWMutex
	profiles map[string]*models.Profile
}

func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{profiles: make(map[string]*models.Profile)}
}

func (m *MemoryUserRepository) Create(ctx context.Context, profile *models.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	profile.Email = normalizeEmail(profile.Email)
	for _, p := range m.profiles {
		if p.Email == profile.Email {
			return apperrors.ErrEmailTaken
		}
	}
	if profile.ID == "" {
		profile.ID = uuid.New().String()
	}
	profile.CreatedAt = time.Now().UTC()
	profile.UpdatedAt = profile.CreatedAt
	if profile.Rating == 0 {
		profile.Rating = 5.0
	}
	cp := *profile
	m.profiles[profile.ID] = &cp
	return nil
}

func (m *MemoryUserRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	email = normalizeEmail(email)
	for _, p := range m.profiles {
		if p.Email == email {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MemoryUserRepository) SetVerified(ctx context.Context, id string, verified bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[id]
	if !ok {
		return apperrors.ErrNotFound
	}
	p.IsVerified = verified
	p.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryUserRepository) ListVerifiedDrivers(ctx context.Context) ([]*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []*models.Profile{}
	for _, p := range m.profiles {
		if p.Role == models.RoleDriver && p.IsVerified {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
