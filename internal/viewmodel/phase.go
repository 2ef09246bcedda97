// Package viewmodel turns user intents into ride writes and derives what each
// participant's screen shows from the ride snapshots it observes.
package viewmodel

import (
	"sync/atomic"

	"github.com/aditya/campus-rides/internal/auth"
	"github.com/aditya/campus-rides/internal/lifecycle"
	"github.com/aditya/campus-rides/internal/models"
)

type Phase string

const (
	// Requester only.
	PhaseSearch  Phase = "search"
	PhaseWaiting Phase = "waiting"

	// Provider only.
	PhaseOffline  Phase = "offline"
	PhaseIdle     Phase = "idle"
	PhaseIncoming Phase = "incoming"

	PhaseNegotiating Phase = "negotiating"
	PhaseLocked      Phase = "locked"
	PhaseCompleted   Phase = "completed"
)

type NotificationKind string

const (
	NotificationCancelled NotificationKind = "cancelled"
)

// Notification is an out-of-band message such as an alert or a toast.
type Notification struct {
	Kind    NotificationKind
	RideID  string
	Message string
}

type Notifier interface {
	Notify(n Notification)
}

type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

type nopNotifier struct{}

func (nopNotifier) Notify(Notification) {}

// State is a point-in-time view of a view-model.
type State struct {
	Phase    Phase
	Ride     *models.Ride
	Incoming *models.Ride
	Prompt   string
}

func phaseOf(status models.RideStatus) Phase {
	switch status {
	case models.RideStatusOpen:
		return PhaseWaiting
	case models.RideStatusNegotiating:
		return PhaseNegotiating
	case models.RideStatusLocked:
		return PhaseLocked
	case models.RideStatusCompleted:
		return PhaseCompleted
	}
	return PhaseSearch
}

// prompt is the action text for side given the ride it is looking at.
func prompt(side models.Side, ride *models.Ride) string {
	if ride == nil {
		if side == models.SideProvider {
			return "Waiting for requests..."
		}
		return "Request Ride"
	}

	switch ride.Status {
	case models.RideStatusOpen:
		return "Waiting for a driver to accept..."
	case models.RideStatusNegotiating:
		if lifecycle.Confirmations(ride).Get(side) {
			return "Waiting..."
		}
		return "Confirm Ride"
	case models.RideStatusLocked:
		if !lifecycle.Arrivals(ride).Get(side) {
			return "Mark Arrived"
		}
		if side == models.SideProvider {
			return "Waiting for Student..."
		}
		return "Waiting for Driver..."
	case models.RideStatusCompleted:
		if side == models.SideProvider {
			return "Back to Online"
		}
		return "Book New Ride"
	}
	return ""
}

// Releaser is anything holding subscriptions that must end on sign-out.
type Releaser interface {
	Release()
}

// ReleaseOnSignOut releases r once the session goes from signed in to signed
// out.
func ReleaseOnSignOut(session *auth.Session, r Releaser) (cancel func()) {
	var signedIn atomic.Bool
	return session.OnIdentityChange(func(id *auth.Identity) {
		if id != nil {
			signedIn.Store(true)
			return
		}
		if signedIn.Swap(false) {
			r.Release()
		}
	})
}
