package models

import (
	"time"
)

type RideStatus string

// Ride status constants
const (
	RideStatusOpen        RideStatus = "open"
	RideStatusNegotiating RideStatus = "negotiating"
	RideStatusLocked      RideStatus = "locked"
	RideStatusCompleted   RideStatus = "completed"
	RideStatusCancelled   RideStatus = "cancelled"
)

// Valid ride state transitions
var ValidRideTransitions = map[RideStatus][]RideStatus{
	RideStatusOpen:        {RideStatusNegotiating, RideStatusCancelled},
	RideStatusNegotiating: {RideStatusLocked, RideStatusCancelled},
	RideStatusLocked:      {RideStatusCompleted, RideStatusCancelled},
	RideStatusCompleted:   {},
	RideStatusCancelled:   {},
}

// NonTerminalStatuses lists every status a ride can still be cancelled from.
var NonTerminalStatuses = []RideStatus{RideStatusOpen, RideStatusNegotiating, RideStatusLocked}

func (s RideStatus) IsTerminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

func (s RideStatus) IsValid() bool {
	_, ok := ValidRideTransitions[s]
	return ok
}

// Side identifies which participant of a ride performed an action.
type Side string

const (
	SideRequester Side = "requester"
	SideProvider  Side = "provider"
)

// Ride is the single record shared by the requester and the provider.
type Ride struct {
	ID                 string     `db:"id" json:"id"`
	RequesterID        string     `db:"requester_id" json:"requester_id"`
	RequesterName      string     `db:"requester_name" json:"requester_name"`
	ProviderID         *string    `db:"provider_id" json:"provider_id,omitempty"`
	ProviderHint       *string    `db:"provider_hint" json:"provider_hint,omitempty"`
	Pickup             string     `db:"pickup" json:"pickup"`
	Dropoff            string     `db:"dropoff" json:"dropoff"`
	RequestedTime      string     `db:"requested_time" json:"requested_time"`
	Status             RideStatus `db:"status" json:"status"`
	RequesterConfirmed bool       `db:"requester_confirmed" json:"requester_confirmed"`
	ProviderConfirmed  bool       `db:"provider_confirmed" json:"provider_confirmed"`
	RequesterArrived   bool       `db:"requester_arrived" json:"requester_arrived"`
	ProviderArrived    bool       `db:"provider_arrived" json:"provider_arrived"`
	CancelledBy        *Side      `db:"cancelled_by" json:"cancelled_by,omitempty"`
	Version            int64      `db:"version" json:"version"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// RidePatch is a partial update merged into a stored ride. Nil fields are left untouched.
type RidePatch struct {
	Status             *RideStatus `json:"status,omitempty"`
	ProviderID         *string     `json:"provider_id,omitempty"`
	RequesterConfirmed *bool       `json:"requester_confirmed,omitempty"`
	ProviderConfirmed  *bool       `json:"provider_confirmed,omitempty"`
	RequesterArrived   *bool       `json:"requester_arrived,omitempty"`
	ProviderArrived    *bool       `json:"provider_arrived,omitempty"`
	CancelledBy        *Side       `json:"cancelled_by,omitempty"`
}

func (p RidePatch) IsEmpty() bool {
	return p.Status == nil && p.ProviderID == nil &&
		p.RequesterConfirmed == nil && p.ProviderConfirmed == nil &&
		p.RequesterArrived == nil && p.ProviderArrived == nil &&
		p.CancelledBy == nil
}

// ApplyTo merges the patch into r in place. Flags only ever move to true and
// the provider is set at most once, matching the SQL merge in the repository.
func (p RidePatch) ApplyTo(r *Ride) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.ProviderID != nil && r.ProviderID == nil {
		id := *p.ProviderID
		r.ProviderID = &id
	}
	if p.RequesterConfirmed != nil {
		r.RequesterConfirmed = r.RequesterConfirmed || *p.RequesterConfirmed
	}
	if p.ProviderConfirmed != nil {
		r.ProviderConfirmed = r.ProviderConfirmed || *p.ProviderConfirmed
	}
	if p.RequesterArrived != nil {
		r.RequesterArrived = r.RequesterArrived || *p.RequesterArrived
	}
	if p.ProviderArrived != nil {
		r.ProviderArrived = r.ProviderArrived || *p.ProviderArrived
	}
	if p.CancelledBy != nil {
		side := *p.CancelledBy
		r.CancelledBy = &side
	}
}

type CreateRideRequest struct {
	Pickup        string `json:"pickup" validate:"required,campus_location"`
	Dropoff       string `json:"dropoff" validate:"required,campus_location,nefield=Pickup"`
	RequestedTime string `json:"requested_time" validate:"required,datetime=15:04"`
	ProviderHint  string `json:"provider_hint,omitempty" validate:"omitempty,max=64"`
}

// Clone returns a deep copy so snapshots handed to subscribers never alias stored state.
func (r *Ride) Clone() *Ride {
	if r == nil {
		return nil
	}
	c := *r
	if r.ProviderID != nil {
		id := *r.ProviderID
		c.ProviderID = &id
	}
	if r.ProviderHint != nil {
		hint := *r.ProviderHint
		c.ProviderHint = &hint
	}
	if r.CancelledBy != nil {
		side := *r.CancelledBy
		c.CancelledBy = &side
	}
	return &c
}

// CanTransitionTo checks if a ride can transition to a new status
func (r *Ride) CanTransitionTo(newStatus RideStatus) bool {
	validNextStates, exists := ValidRideTransitions[r.Status]
	if !exists {
		return false
	}

	for _, state := range validNextStates {
		if state == newStatus {
			return true
		}
	}
	return false
}

// IsActive returns true if the ride is not in a terminal state
func (r *Ride) IsActive() bool {
	return !r.Status.IsTerminal()
}

// SideOf reports which side userID plays in the ride, if any.
func (r *Ride) SideOf(userID string) (Side, bool) {
	if userID == "" {
		return "", false
	}
	if r.RequesterID == userID {
		return SideRequester, true
	}
	if r.ProviderID != nil && *r.ProviderID == userID {
		return SideProvider, true
	}
	return "", false
}

// HintedTo reports whether the requester picked providerID from the directory.
func (r *Ride) HintedTo(providerID string) bool {
	return r.ProviderHint != nil && *r.ProviderHint == providerID
}

func StatusPtr(s RideStatus) *RideStatus { return &s }

func BoolPtr(b bool) *bool { return &b }

func StringPtr(s string) *string { return &s }

func SidePtr(s Side) *Side { return &s }

// NextIncoming picks the request a provider is shown: the oldest open ride
// hinted to them, otherwise the oldest open ride. rides must be oldest first.
func NextIncoming(rides []*Ride, providerID string) *Ride {
	var first *Ride
	for _, r := range rides {
		if r == nil || r.Status != RideStatusOpen {
			continue
		}
		if r.HintedTo(providerID) {
			return r
		}
		if first == nil {
			first = r
		}
	}
	return first
}
