package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/aditya/campus-rides/internal/cache"
	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/events"
	"github.com/aditya/campus-rides/internal/lifecycle"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/internal/observability"
	"github.com/aditya/campus-rides/internal/store"
	"github.com/go-playground/validator/v10"
)

// Actor is the signed-in user performing an operation.
type Actor struct {
	ID       string
	Name     string
	Role     models.Role
	Verified bool
}

func ActorFromProfile(p *models.Profile) Actor {
	return Actor{ID: p.ID, Name: p.DisplayName(), Role: p.Role, Verified: p.IsVerified}
}

type RideService interface {
	Submit(ctx context.Context, actor Actor, req *models.CreateRideRequest) (*models.Ride, error)
	Get(ctx context.Context, actor Actor, id string) (*models.Ride, error)
	ListOpen(ctx context.Context, actor Actor) ([]*models.Ride, error)
	ActiveRide(ctx context.Context, actor Actor) (*models.Ride, error)
	Accept(ctx context.Context, actor Actor, id string) (*models.Ride, error)
	Confirm(ctx context.Context, actor Actor, id string) (*models.Ride, error)
	MarkArrived(ctx context.Context, actor Actor, id string) (*models.Ride, error)
	Cancel(ctx context.Context, actor Actor, id string) (*models.Ride, error)
	// Advance performs the forward transition the ride currently qualifies
	// for, if any. Safe to call any number of times.
	Advance(ctx context.Context, actor Actor, id string) (*models.Ride, error)
}

type rideService struct {
	store    store.RideStore
	presence cache.PresenceCache
	events   events.Publisher
	validate *validator.Validate
	logger   *slog.Logger
}

func NewRideService(
	rideStore store.RideStore,
	presence cache.PresenceCache,
	publisher events.Publisher,
	logger *slog.Logger,
) RideService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &rideService{
		store:    rideStore,
		presence: presence,
		events:   publisher,
		validate: NewValidator(),
		logger:   logger,
	}
}

func (s *rideService) Submit(ctx context.Context, actor Actor, req *models.CreateRideRequest) (*models.Ride, error) {
	const op = "ride.Submit"

	if actor.Role != models.RoleStudent {
		return nil, apperrors.Auth(op, apperrors.ErrForbidden)
	}

	req.Pickup = strings.TrimSpace(req.Pickup)
	req.Dropoff = strings.TrimSpace(req.Dropoff)
	req.RequestedTime = strings.TrimSpace(req.RequestedTime)
	req.ProviderHint = strings.TrimSpace(req.ProviderHint)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(op, err)
	}

	active, err := s.activeRide(ctx, actor.ID, models.SideRequester)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperrors.ErrUserHasActiveRide
	}

	ride := &models.Ride{
		RequesterID:   actor.ID,
		RequesterName: actor.Name,
		Pickup:        req.Pickup,
		Dropoff:       req.Dropoff,
		RequestedTime: req.RequestedTime,
	}
	if req.ProviderHint != "" {
		ride.ProviderHint = &req.ProviderHint
	}

	// The store refuses a second active ride too, for submits that race
	// past the check above.
	if _, err := s.store.Create(ctx, ride); err != nil {
		return nil, err
	}

	observability.RidesCreated.Inc()
	s.pointAt(ctx, actor.ID, ride.ID)
	s.emit(ctx, actor, "", ride)

	return ride, nil
}

func (s *rideService) Get(ctx context.Context, actor Actor, id string) (*models.Ride, error) {
	ride, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ride == nil {
		return nil, apperrors.ErrNotFound
	}
	if !CanView(actor, ride) {
		return nil, apperrors.ErrNotParticipant
	}
	return ride, nil
}

// CanView reports whether actor may see ride: participants always, drivers
// only while the request is still open for them to accept.
func CanView(actor Actor, ride *models.Ride) bool {
	if ride == nil {
		return false
	}
	if _, ok := ride.SideOf(actor.ID); ok {
		return true
	}
	return actor.Role == models.RoleDriver && ride.Status == models.RideStatusOpen
}

func (s *rideService) ListOpen(ctx context.Context, actor Actor) ([]*models.Ride, error) {
	if err := requireVerifiedDriver("ride.ListOpen", actor); err != nil {
		return nil, err
	}
	return s.store.List(ctx, store.Filter{Statuses: []models.RideStatus{models.RideStatusOpen}})
}

func (s *rideService) ActiveRide(ctx context.Context, actor Actor) (*models.Ride, error) {
	return s.activeRide(ctx, actor.ID, actor.Role.Side())
}

func (s *rideService) Accept(ctx context.Context, actor Actor, id string) (*models.Ride, error) {
	const op = "ride.Accept"

	if err := requireVerifiedDriver(op, actor); err != nil {
		return nil, err
	}

	ride, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ride == nil {
		return nil, apperrors.ErrNotFound
	}

	step, err := lifecycle.Plan(ride, lifecycle.Accept(actor.ID))
	if err != nil {
		observability.AcceptConflicts.Inc()
		return nil, fmt.Errorf("%s: %w", op, apperrors.ErrRideAlreadyTaken)
	}
	if step.NoOp {
		return ride, nil
	}

	current, err := s.activeRide(ctx, actor.ID, models.SideProvider)
	if err != nil {
		return nil, err
	}
	if current != nil && current.ID != id {
		return nil, apperrors.ErrUserHasActiveRide
	}

	updated, err := s.store.Update(ctx, id, step.Patch, step.When...)
	if errors.Is(err, apperrors.ErrPreconditionFailed) {
		observability.AcceptConflicts.Inc()
		return nil, fmt.Errorf("%s: %w", op, apperrors.ErrRideAlreadyTaken)
	}
	if errors.Is(err, apperrors.ErrUserHasActiveRide) {
		return nil, err
	}
	if err != nil {
		return nil, apperrors.StoreWrite(op, err)
	}

	s.pointAt(ctx, actor.ID, id)
	s.record(ctx, actor, ride.Status, updated)
	return updated, nil
}

func (s *rideService) Confirm(ctx context.Context, actor Actor, id string) (*models.Ride, error) {
	return s.act(ctx, "ride.Confirm", actor, id, lifecycle.Confirm)
}

func (s *rideService) MarkArrived(ctx context.Context, actor Actor, id string) (*models.Ride, error) {
	return s.act(ctx, "ride.MarkArrived", actor, id, lifecycle.Arrive)
}

func (s *rideService) Cancel(ctx context.Context, actor Actor, id string) (*models.Ride, error) {
	return s.act(ctx, "ride.Cancel", actor, id, lifecycle.Cancel)
}

func (s *rideService) Advance(ctx context.Context, actor Actor, id string) (*models.Ride, error) {
	ride, _, err := s.participant(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, "ride.Advance", actor, ride)
}

// act runs one participant intent: plan it against the current record, write
// it under the planned status guard, then settle any joint transition.
func (s *rideService) act(ctx context.Context, op string, actor Actor, id string, event func(models.Side) lifecycle.Event) (*models.Ride, error) {
	ride, side, err := s.participant(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	step, err := lifecycle.Plan(ride, event(side))
	if err != nil {
		return nil, planError(op, err)
	}
	if step.NoOp {
		return s.settle(ctx, op, actor, ride)
	}

	updated, err := s.store.Update(ctx, id, step.Patch, step.When...)
	if errors.Is(err, apperrors.ErrPreconditionFailed) {
		return nil, s.lostRace(ctx, op, id, err)
	}
	if err != nil {
		return nil, apperrors.StoreWrite(op, err)
	}

	if updated.Status != ride.Status {
		s.record(ctx, actor, ride.Status, updated)
	}
	return s.settle(ctx, op, actor, updated)
}

// settle applies every joint transition the ride qualifies for. Each write is
// guarded by the status it was planned from, so a concurrent cancel wins.
func (s *rideService) settle(ctx context.Context, op string, actor Actor, ride *models.Ride) (*models.Ride, error) {
	for {
		step, ok := lifecycle.Advance(ride)
		if !ok {
			return ride, nil
		}
		updated, err := s.store.Update(ctx, ride.ID, step.Patch, step.When...)
		if errors.Is(err, apperrors.ErrPreconditionFailed) {
			// Someone else moved the ride first. Report what is stored now.
			latest, getErr := s.store.Get(ctx, ride.ID)
			if getErr != nil || latest == nil {
				return ride, nil
			}
			return latest, nil
		}
		if err != nil {
			return nil, apperrors.StoreWrite(op, err)
		}
		s.record(ctx, actor, ride.Status, updated)
		ride = updated
	}
}

func (s *rideService) participant(ctx context.Context, actor Actor, id string) (*models.Ride, models.Side, error) {
	ride, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if ride == nil {
		return nil, "", apperrors.ErrNotFound
	}
	side, ok := ride.SideOf(actor.ID)
	if !ok {
		return nil, "", apperrors.ErrNotParticipant
	}
	return ride, side, nil
}

func (s *rideService) lostRace(ctx context.Context, op, id string, cause error) error {
	latest, err := s.store.Get(ctx, id)
	if err == nil && (latest == nil || latest.Status.IsTerminal()) {
		return apperrors.StaleState(op, lifecycle.ErrStale)
	}
	return fmt.Errorf("%s: %w: %v", op, apperrors.ErrInvalidTransition, cause)
}

func planError(op string, err error) error {
	switch {
	case errors.Is(err, lifecycle.ErrStale):
		return apperrors.StaleState(op, err)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		return fmt.Errorf("%s: %w: %v", op, apperrors.ErrInvalidTransition, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func requireVerifiedDriver(op string, actor Actor) error {
	if actor.Role != models.RoleDriver {
		return apperrors.Auth(op, apperrors.ErrForbidden)
	}
	if !actor.Verified {
		return apperrors.Auth(op, apperrors.ErrProviderNotVerified)
	}
	return nil
}

// activeRide looks up the user's non-terminal ride. The presence pointer is
// tried first and the store is the fallback when it is missing or stale.
func (s *rideService) activeRide(ctx context.Context, userID string, side models.Side) (*models.Ride, error) {
	if s.presence != nil {
		rideID, err := s.presence.GetUserActiveRide(ctx, userID)
		if err != nil {
			s.logger.Warn("active ride pointer lookup failed", "user_id", userID, "error", err)
		} else if rideID != "" {
			ride, err := s.store.Get(ctx, rideID)
			if err != nil {
				return nil, err
			}
			if ride != nil && ride.IsActive() {
				if _, ok := ride.SideOf(userID); ok {
					return ride, nil
				}
			}
			s.clearPointer(ctx, userID)
		}
	}

	ride, err := s.store.Active(ctx, userID, side)
	if err != nil || ride == nil {
		return nil, err
	}
	s.pointAt(ctx, userID, ride.ID)
	return ride, nil
}

func (s *rideService) pointAt(ctx context.Context, userID, rideID string) {
	if s.presence == nil {
		return
	}
	if err := s.presence.SetUserActiveRide(ctx, userID, rideID); err != nil {
		s.logger.Warn("failed to set active ride pointer", "user_id", userID, "ride_id", rideID, "error", err)
	}
}

func (s *rideService) clearPointer(ctx context.Context, userID string) {
	if s.presence == nil {
		return
	}
	if err := s.presence.ClearUserActiveRide(ctx, userID); err != nil {
		s.logger.Warn("failed to clear active ride pointer", "user_id", userID, "error", err)
	}
}

// record accounts for a committed status change.
func (s *rideService) record(ctx context.Context, actor Actor, from models.RideStatus, ride *models.Ride) {
	observability.RideTransitions.WithLabelValues(string(from), string(ride.Status)).Inc()
	s.logger.Info("ride status changed",
		"ride_id", ride.ID,
		"from", from,
		"to", ride.Status,
		"actor_id", actor.ID,
		"version", ride.Version,
	)

	if ride.Status.IsTerminal() {
		s.clearPointer(ctx, ride.RequesterID)
		if ride.ProviderID != nil {
			s.clearPointer(ctx, *ride.ProviderID)
		}
	}
	s.emit(ctx, actor, from, ride)
}

func (s *rideService) emit(ctx context.Context, actor Actor, from models.RideStatus, ride *models.Ride) {
	ev := events.RideEvent{
		RideID:    ride.ID,
		From:      from,
		To:        ride.Status,
		ActorID:   actor.ID,
		ActorSide: actor.Role.Side(),
		Version:   ride.Version,
	}
	if ride.ProviderID != nil {
		ev.ProviderID = *ride.ProviderID
	}
	if err := s.events.PublishRideEvent(ctx, ev); err != nil {
		s.logger.Warn("failed to publish ride event", "ride_id", ride.ID, "error", err)
	}
}
