// Package lifecycle holds the ride state machine: which writes each actor
// intent produces, under which status they are valid, and when a ride moves
// forward on its own because both sides agreed.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/aditya/campus-rides/internal/models"
)

var (
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrStale             = errors.New("ride is no longer active")
	ErrProviderMismatch  = errors.New("ride already has a different provider")
)

// FlagPair is one boolean per side. Merging is a per-side OR, so concurrent
// writes from both sides commute and replays are harmless.
type FlagPair struct {
	Requester bool
	Provider  bool
}

func (f FlagPair) Set(side models.Side) FlagPair {
	switch side {
	case models.SideRequester:
		f.Requester = true
	case models.SideProvider:
		f.Provider = true
	}
	return f
}

func (f FlagPair) Get(side models.Side) bool {
	if side == models.SideProvider {
		return f.Provider
	}
	return f.Requester
}

func (f FlagPair) Merge(other FlagPair) FlagPair {
	return FlagPair{
		Requester: f.Requester || other.Requester,
		Provider:  f.Provider || other.Provider,
	}
}

func (f FlagPair) Both() bool {
	return f.Requester && f.Provider
}

func Confirmations(r *models.Ride) FlagPair {
	return FlagPair{Requester: r.RequesterConfirmed, Provider: r.ProviderConfirmed}
}

func Arrivals(r *models.Ride) FlagPair {
	return FlagPair{Requester: r.RequesterArrived, Provider: r.ProviderArrived}
}

type Action string

const (
	ActionAccept  Action = "accept"
	ActionConfirm Action = "confirm"
	ActionArrive  Action = "arrive"
	ActionCancel  Action = "cancel"
)

// Event is an actor intent against an existing ride.
type Event struct {
	Action     Action
	Side       models.Side
	ProviderID string
}

func Accept(providerID string) Event {
	return Event{Action: ActionAccept, Side: models.SideProvider, ProviderID: providerID}
}

func Confirm(side models.Side) Event {
	return Event{Action: ActionConfirm, Side: side}
}

func Arrive(side models.Side) Event {
	return Event{Action: ActionArrive, Side: side}
}

func Cancel(side models.Side) Event {
	return Event{Action: ActionCancel, Side: side}
}

// Step is the write an event turns into. The write is only valid while the
// stored status is one of When. A NoOp step needs no write at all.
type Step struct {
	Patch models.RidePatch
	When  []models.RideStatus
	NoOp  bool
}

// Plan computes the write for ev against the current snapshot r.
func Plan(r *models.Ride, ev Event) (Step, error) {
	if r == nil {
		return Step{}, ErrStale
	}
	if r.Status.IsTerminal() {
		return Step{}, fmt.Errorf("%w: ride is %s", ErrStale, r.Status)
	}

	step, err := plan(r, ev)
	if err != nil || step.NoOp {
		return step, err
	}
	if to := step.Patch.Status; to != nil && !r.CanTransitionTo(*to) {
		return Step{}, fmt.Errorf("%w: %s to %s", ErrInvalidTransition, r.Status, *to)
	}
	return step, nil
}

func plan(r *models.Ride, ev Event) (Step, error) {
	switch ev.Action {
	case ActionAccept:
		if r.Status != models.RideStatusOpen {
			if r.ProviderID != nil && *r.ProviderID == ev.ProviderID {
				return Step{NoOp: true}, nil
			}
			return Step{}, ErrProviderMismatch
		}
		return Step{
			Patch: models.RidePatch{
				Status:     models.StatusPtr(models.RideStatusNegotiating),
				ProviderID: models.StringPtr(ev.ProviderID),
			},
			When: []models.RideStatus{models.RideStatusOpen},
		}, nil

	case ActionConfirm:
		if Confirmations(r).Get(ev.Side) {
			return Step{NoOp: true}, nil
		}
		if r.Status != models.RideStatusNegotiating {
			return Step{}, invalid(r.Status, ev.Action)
		}
		return Step{
			Patch: flagPatch(ev.Side, true),
			When:  []models.RideStatus{models.RideStatusNegotiating},
		}, nil

	case ActionArrive:
		if Arrivals(r).Get(ev.Side) {
			return Step{NoOp: true}, nil
		}
		if r.Status != models.RideStatusLocked {
			return Step{}, invalid(r.Status, ev.Action)
		}
		return Step{
			Patch: flagPatch(ev.Side, false),
			When:  []models.RideStatus{models.RideStatusLocked},
		}, nil

	case ActionCancel:
		return Step{
			Patch: models.RidePatch{
				Status:      models.StatusPtr(models.RideStatusCancelled),
				CancelledBy: models.SidePtr(ev.Side),
			},
			When: models.NonTerminalStatuses,
		}, nil
	}

	return Step{}, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, ev.Action)
}

func flagPatch(side models.Side, confirm bool) models.RidePatch {
	var p models.RidePatch
	switch {
	case confirm && side == models.SideRequester:
		p.RequesterConfirmed = models.BoolPtr(true)
	case confirm && side == models.SideProvider:
		p.ProviderConfirmed = models.BoolPtr(true)
	case side == models.SideRequester:
		p.RequesterArrived = models.BoolPtr(true)
	default:
		p.ProviderArrived = models.BoolPtr(true)
	}
	return p
}

func invalid(status models.RideStatus, action Action) error {
	return fmt.Errorf("%w: cannot %s while %s", ErrInvalidTransition, action, status)
}

// Next is the joint-agreement rule: a negotiating ride locks once both sides
// confirmed, a locked ride completes once both sides arrived.
func Next(r *models.Ride) (models.RideStatus, bool) {
	if r == nil {
		return "", false
	}
	switch r.Status {
	case models.RideStatusNegotiating:
		if Confirmations(r).Both() {
			return models.RideStatusLocked, true
		}
	case models.RideStatusLocked:
		if Arrivals(r).Both() {
			return models.RideStatusCompleted, true
		}
	}
	return "", false
}

// Advance returns the guarded write that moves r forward, if any.
func Advance(r *models.Ride) (Step, bool) {
	to, ok := Next(r)
	if !ok || !r.CanTransitionTo(to) {
		return Step{}, false
	}
	return Step{
		Patch: models.RidePatch{Status: models.StatusPtr(to)},
		When:  []models.RideStatus{r.Status},
	}, true
}

// Apply runs ev against a copy of r and settles any forward transitions.
func Apply(r *models.Ride, ev Event) (*models.Ride, error) {
	step, err := Plan(r, ev)
	if err != nil {
		return nil, err
	}
	out := r.Clone()
	if step.NoOp {
		return out, nil
	}
	step.Patch.ApplyTo(out)
	Settle(out)
	return out, nil
}

// Settle applies every forward transition r currently qualifies for.
func Settle(r *models.Ride) {
	for {
		to, ok := Next(r)
		if !ok {
			return
		}
		r.Status = to
	}
}

// Allowed reports whether status is one of when. An empty when allows anything.
func Allowed(status models.RideStatus, when []models.RideStatus) bool {
	if len(when) == 0 {
		return true
	}
	for _, s := range when {
		if s == status {
			return true
		}
	}
	return false
}
