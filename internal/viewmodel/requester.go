package viewmodel

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/lifecycle"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/internal/service"
	"github.com/aditya/campus-rides/internal/store"
)

// Requester is the student's side of a ride: one active ride at a time,
// followed through the store until it completes or is cancelled.
type Requester struct {
	rides    service.RideService
	store    store.RideStore
	actor    service.Actor
	notifier Notifier
	logger   *slog.Logger

	mu     sync.Mutex
	ride   *models.Ride
	rideID string
	phase  Phase
	unsub  store.Unsubscribe
}

func NewRequester(rides service.RideService, st store.RideStore, actor service.Actor, notifier Notifier, logger *slog.Logger) *Requester {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Requester{
		rides:    rides,
		store:    st,
		actor:    actor,
		notifier: notifier,
		logger:   logger.With("requester_id", actor.ID),
		phase:    PhaseSearch,
	}
}

// Resume picks up a ride that is still active, for example after a restart.
func (r *Requester) Resume(ctx context.Context) error {
	ride, err := r.rides.ActiveRide(ctx, r.actor)
	if err != nil {
		return err
	}
	if ride == nil {
		return nil
	}
	return r.follow(ctx, ride)
}

// SubmitRequest creates an open ride and starts following it.
func (r *Requester) SubmitRequest(ctx context.Context, pickup, dropoff, requestedTime, providerHint string) (string, error) {
	ride, err := r.rides.Submit(ctx, r.actor, &models.CreateRideRequest{
		Pickup:        pickup,
		Dropoff:       dropoff,
		RequestedTime: requestedTime,
		ProviderHint:  providerHint,
	})
	if err != nil {
		return "", err
	}
	if err := r.follow(ctx, ride); err != nil {
		return "", err
	}
	return ride.ID, nil
}

func (r *Requester) Confirm(ctx context.Context, rideID string) error {
	ride, err := r.rides.Confirm(ctx, r.actor, rideID)
	if err != nil {
		return err
	}
	r.observe(ride)
	return nil
}

func (r *Requester) MarkArrived(ctx context.Context, rideID string) error {
	ride, err := r.rides.MarkArrived(ctx, r.actor, rideID)
	if err != nil {
		return err
	}
	r.observe(ride)
	return nil
}

// Cancel cancels the ride and returns to search. The requester caused it, so
// there is no notification.
func (r *Requester) Cancel(ctx context.Context, rideID string) error {
	_, err := r.rides.Cancel(ctx, r.actor, rideID)
	if err != nil && !apperrors.IsKind(err, apperrors.KindStaleState) {
		return err
	}
	r.mu.Lock()
	if r.rideID == rideID {
		r.detachLocked()
	}
	r.mu.Unlock()
	return err
}

// Reset leaves a completed ride and goes back to search.
func (r *Requester) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.phase == PhaseCompleted || r.rideID == "" {
		r.detachLocked()
	}
}

// Release drops the ride subscription without touching the ride.
func (r *Requester) Release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.detachLocked()
}

func (r *Requester) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return State{
		Phase:  r.phase,
		Ride:   r.ride.Clone(),
		Prompt: prompt(models.SideRequester, r.ride),
	}
}

func (r *Requester) follow(ctx context.Context, ride *models.Ride) error {
	r.mu.Lock()
	r.detachLocked()
	r.rideID = ride.ID
	r.ride = ride.Clone()
	r.phase = phaseOf(ride.Status)
	r.mu.Unlock()

	id := ride.ID
	unsub, err := r.store.Subscribe(ctx, id, func(snap *models.Ride) { r.onSnapshot(id, snap) })
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rideID != id {
		// Detached while subscribing.
		unsub()
		return nil
	}
	r.unsub = unsub
	return nil
}

func (r *Requester) onSnapshot(rideID string, snap *models.Ride) {
	r.mu.Lock()
	if r.rideID != rideID {
		r.mu.Unlock()
		return
	}

	if snap == nil || snap.Status == models.RideStatusCancelled {
		byMe := snap != nil && snap.CancelledBy != nil && *snap.CancelledBy == models.SideRequester
		r.detachLocked()
		r.mu.Unlock()
		if !byMe {
			r.notifier.Notify(Notification{Kind: NotificationCancelled, RideID: rideID, Message: "Ride was cancelled"})
		}
		return
	}

	if !r.applyLocked(snap) {
		r.mu.Unlock()
		return
	}
	_, advance := lifecycle.Next(snap)
	r.mu.Unlock()

	if advance {
		if _, err := r.rides.Advance(context.Background(), r.actor, rideID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			r.logger.Warn("failed to advance ride", "ride_id", rideID, "error", err)
		}
	}
}

// observe applies a ride returned by a write this view-model made.
func (r *Requester) observe(ride *models.Ride) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ride == nil || ride.ID != r.rideID || ride.Status == models.RideStatusCancelled {
		return
	}
	r.applyLocked(ride)
}

// applyLocked keeps the newest snapshot. It reports whether snap was newer.
func (r *Requester) applyLocked(snap *models.Ride) bool {
	if r.ride != nil && snap.Version < r.ride.Version {
		return false
	}
	r.ride = snap.Clone()
	r.phase = phaseOf(snap.Status)
	return true
}

func (r *Requester) detachLocked() {
	if r.unsub != nil {
		r.unsub()
		r.unsub = nil
	}
	r.ride = nil
	r.rideID = ""
	r.phase = PhaseSearch
}
