// Package store is the ride record store: durable ride documents with
// conditional merge writes and push subscriptions on single rides and on
// queries. Every committed write is published to the change feed.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/internal/realtime"
	"github.com/aditya/campus-rides/internal/repository"
)

// Unsubscribe stops a subscription. Calling it more than once is harmless.
type Unsubscribe func()

type Filter = repository.RideFilter

type RideStore interface {
	Create(ctx context.Context, ride *models.Ride) (string, error)
	Get(ctx context.Context, id string) (*models.Ride, error)
	Update(ctx context.Context, id string, patch models.RidePatch, when ...models.RideStatus) (*models.Ride, error)
	List(ctx context.Context, filter Filter) ([]*models.Ride, error)
	// Active returns the user's non-terminal ride on the given side, or nil.
	Active(ctx context.Context, userID string, side models.Side) (*models.Ride, error)
	// Subscribe calls fn with the current ride (nil when absent) and again
	// after every committed change to it.
	Subscribe(ctx context.Context, id string, fn func(*models.Ride)) (Unsubscribe, error)
	// SubscribeQuery calls fn with the current result set and again whenever
	// a committed change could alter it.
	SubscribeQuery(ctx context.Context, filter Filter, fn func([]*models.Ride)) (Unsubscribe, error)
}

type rideStore struct {
	repo   repository.RideRepository
	feed   realtime.Feed
	logger *slog.Logger
}

func New(repo repository.RideRepository, feed realtime.Feed, logger *slog.Logger) RideStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &rideStore{repo: repo, feed: feed, logger: logger}
}

func (s *rideStore) Create(ctx context.Context, ride *models.Ride) (string, error) {
	if err := s.repo.Create(ctx, ride); err != nil {
		if errors.Is(err, apperrors.ErrUserHasActiveRide) {
			return "", err
		}
		return "", apperrors.StoreWrite("store.Create", err)
	}
	s.publish(ctx, ride)
	return ride.ID, nil
}

func (s *rideStore) Get(ctx context.Context, id string) (*models.Ride, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *rideStore) Update(ctx context.Context, id string, patch models.RidePatch, when ...models.RideStatus) (*models.Ride, error) {
	ride, err := s.repo.Update(ctx, id, patch, when)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, ride)
	return ride, nil
}

func (s *rideStore) List(ctx context.Context, filter Filter) ([]*models.Ride, error) {
	return s.repo.List(ctx, filter)
}

func (s *rideStore) Active(ctx context.Context, userID string, side models.Side) (*models.Ride, error) {
	if side == models.SideProvider {
		return s.repo.GetActiveRideByProviderID(ctx, userID)
	}
	return s.repo.GetActiveRideByRequesterID(ctx, userID)
}

func (s *rideStore) Subscribe(ctx context.Context, id string, fn func(*models.Ride)) (Unsubscribe, error) {
	// Register before reading so no write can slip between the read and the
	// subscription. The hub drops the duplicate if the read races a publish.
	sub := s.feed.Subscribe(id, fn)

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		sub.Cancel()
		return nil, fmt.Errorf("subscribe to ride %s: %w", id, err)
	}
	sub.Inject(current)
	return sub.Cancel, nil
}

func (s *rideStore) SubscribeQuery(ctx context.Context, filter Filter, fn func([]*models.Ride)) (Unsubscribe, error) {
	q := &query{store: s, filter: filter, fn: fn, members: map[string]bool{}}

	sub := s.feed.Subscribe("", q.onChange)
	// A nil snapshot is the initial tick.
	sub.Inject(nil)
	return sub.Cancel, nil
}

func (s *rideStore) publish(ctx context.Context, ride *models.Ride) {
	if err := s.feed.Publish(ctx, ride); err != nil {
		s.logger.Warn("failed to publish ride change", "ride_id", ride.ID, "version", ride.Version, "error", err)
	}
}

// query re-runs its filter whenever a change touches a ride that matches it
// now or matched it on the last run. Calls happen on one goroutine.
type query struct {
	store   *rideStore
	filter  Filter
	fn      func([]*models.Ride)
	members map[string]bool
}

func (q *query) onChange(ride *models.Ride) {
	if ride != nil && !q.filter.Matches(ride) && !q.members[ride.ID] {
		return
	}

	rides, err := q.store.repo.List(context.Background(), q.filter)
	if err != nil {
		q.store.logger.Error("failed to refresh ride query", "error", err)
		return
	}

	q.members = make(map[string]bool, len(rides))
	for _, r := range rides {
		q.members[r.ID] = true
	}
	q.fn(rides)
}
