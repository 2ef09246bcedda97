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

// Provider is the driver's side: going online, seeing one incoming request
// at a time, and following the ride it accepted.
type Provider struct {
	rides     service.RideService
	providers service.ProviderService
	store     store.RideStore
	actor     service.Actor
	notifier  Notifier
	logger    *slog.Logger

	mu        sync.Mutex
	online    bool
	openUnsub store.Unsubscribe
	open      []*models.Ride
	incoming  *models.Ride
	ride      *models.Ride
	rideID    string
	rideUnsub store.Unsubscribe
	completed bool
}

// NewProvider refuses accounts that are not verified drivers.
func NewProvider(rides service.RideService, providers service.ProviderService, st store.RideStore, actor service.Actor, notifier Notifier, logger *slog.Logger) (*Provider, error) {
	const op = "viewmodel.NewProvider"
	if actor.Role != models.RoleDriver {
		return nil, apperrors.Auth(op, apperrors.ErrForbidden)
	}
	if !actor.Verified {
		return nil, apperrors.Auth(op, apperrors.ErrProviderNotVerified)
	}
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		rides:     rides,
		providers: providers,
		store:     st,
		actor:     actor,
		notifier:  notifier,
		logger:    logger.With("driver_id", actor.ID),
	}, nil
}

// GoOnline marks the driver available, resumes any ride already accepted and
// starts watching open requests.
func (p *Provider) GoOnline(ctx context.Context) error {
	if err := p.providers.GoOnline(ctx, p.actor); err != nil {
		return err
	}

	active, err := p.rides.ActiveRide(ctx, p.actor)
	if err != nil {
		return err
	}
	if active != nil {
		if err := p.follow(ctx, active); err != nil {
			return err
		}
	}

	p.mu.Lock()
	if p.online {
		p.mu.Unlock()
		return nil
	}
	p.online = true
	p.mu.Unlock()

	unsub, err := p.store.SubscribeQuery(ctx, store.Filter{Statuses: []models.RideStatus{models.RideStatusOpen}}, p.onOpen)
	if err != nil {
		p.mu.Lock()
		p.online = false
		p.mu.Unlock()
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.online {
		unsub()
		return nil
	}
	p.openUnsub = unsub
	return nil
}

func (p *Provider) GoOffline(ctx context.Context) error {
	p.mu.Lock()
	p.stopWatchingLocked()
	p.mu.Unlock()
	return p.providers.GoOffline(ctx, p.actor)
}

// Accept claims the ride. taken is true when another driver got there first
// or the ride is gone. That is an expected outcome, not an error.
func (p *Provider) Accept(ctx context.Context, rideID string) (taken bool, err error) {
	ride, err := p.rides.Accept(ctx, p.actor, rideID)
	if errors.Is(err, apperrors.ErrRideAlreadyTaken) || errors.Is(err, apperrors.ErrNotFound) {
		p.mu.Lock()
		if p.incoming != nil && p.incoming.ID == rideID {
			p.open = withoutRide(p.open, rideID)
			p.incoming = models.NextIncoming(p.open, p.actor.ID)
		}
		p.mu.Unlock()
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return false, p.follow(ctx, ride)
}

func (p *Provider) Confirm(ctx context.Context, rideID string) error {
	ride, err := p.rides.Confirm(ctx, p.actor, rideID)
	if err != nil {
		return err
	}
	p.observe(ride)
	return nil
}

func (p *Provider) MarkArrived(ctx context.Context, rideID string) error {
	ride, err := p.rides.MarkArrived(ctx, p.actor, rideID)
	if err != nil {
		return err
	}
	p.observe(ride)
	return nil
}

// Cancel rejects the ride and returns to the online idle state.
func (p *Provider) Cancel(ctx context.Context, rideID string) error {
	_, err := p.rides.Cancel(ctx, p.actor, rideID)
	if err != nil && !apperrors.IsKind(err, apperrors.KindStaleState) {
		return err
	}
	p.mu.Lock()
	if p.rideID == rideID {
		p.detachLocked()
	}
	p.mu.Unlock()
	return err
}

// Close leaves a completed ride and goes back to waiting for requests.
func (p *Provider) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.completed || p.rideID == "" {
		p.detachLocked()
	}
}

// Release drops every subscription without changing presence.
func (p *Provider) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopWatchingLocked()
	p.detachLocked()
}

func (p *Provider) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := State{Ride: p.ride.Clone(), Prompt: prompt(models.SideProvider, p.ride)}
	switch {
	case p.ride != nil:
		st.Phase = phaseOf(p.ride.Status)
	case !p.online:
		st.Phase = PhaseOffline
		st.Prompt = "Go Online"
	case p.incoming != nil:
		st.Phase = PhaseIncoming
		st.Incoming = p.incoming.Clone()
		st.Prompt = "Accept"
	default:
		st.Phase = PhaseIdle
	}
	return st
}

func (p *Provider) onOpen(rides []*models.Ride) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.online {
		return
	}
	p.open = rides
	p.incoming = models.NextIncoming(rides, p.actor.ID)
}

func (p *Provider) follow(ctx context.Context, ride *models.Ride) error {
	p.mu.Lock()
	p.detachLocked()
	p.rideID = ride.ID
	p.ride = ride.Clone()
	p.incoming = nil
	p.mu.Unlock()

	id := ride.ID
	unsub, err := p.store.Subscribe(ctx, id, func(snap *models.Ride) { p.onSnapshot(id, snap) })
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rideID != id {
		unsub()
		return nil
	}
	p.rideUnsub = unsub
	return nil
}

func (p *Provider) onSnapshot(rideID string, snap *models.Ride) {
	p.mu.Lock()
	if p.rideID != rideID {
		p.mu.Unlock()
		return
	}

	if snap == nil || snap.Status == models.RideStatusCancelled {
		byMe := snap != nil && snap.CancelledBy != nil && *snap.CancelledBy == models.SideProvider
		p.detachLocked()
		p.mu.Unlock()
		if !byMe {
			p.notifier.Notify(Notification{Kind: NotificationCancelled, RideID: rideID, Message: "Ride was cancelled by student."})
		}
		return
	}

	if !p.applyLocked(snap) {
		p.mu.Unlock()
		return
	}
	_, advance := lifecycle.Next(snap)
	p.mu.Unlock()

	if advance {
		if _, err := p.rides.Advance(context.Background(), p.actor, rideID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			p.logger.Warn("failed to advance ride", "ride_id", rideID, "error", err)
		}
	}
}

func (p *Provider) observe(ride *models.Ride) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ride == nil || ride.ID != p.rideID || ride.Status == models.RideStatusCancelled {
		return
	}
	p.applyLocked(ride)
}

func (p *Provider) applyLocked(snap *models.Ride) bool {
	if p.ride != nil && snap.Version < p.ride.Version {
		return false
	}
	p.ride = snap.Clone()
	p.completed = snap.Status == models.RideStatusCompleted
	return true
}

func (p *Provider) detachLocked() {
	if p.rideUnsub != nil {
		p.rideUnsub()
		p.rideUnsub = nil
	}
	p.ride = nil
	p.rideID = ""
	p.completed = false
	p.incoming = models.NextIncoming(p.open, p.actor.ID)
}

func (p *Provider) stopWatchingLocked() {
	if p.openUnsub != nil {
		p.openUnsub()
		p.openUnsub = nil
	}
	p.online = false
	p.open = nil
	p.incoming = nil
}

func withoutRide(rides []*models.Ride, id string) []*models.Ride {
	out := make([]*models.Ride, 0, len(rides))
	for _, r := range rides {
		if r.ID != id {
			out = append(out, r)
		}
	}
	return out
}
