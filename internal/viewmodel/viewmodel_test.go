package viewmodel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aditya/campus-rides/internal/auth"
	"github.com/aditya/campus-rides/internal/cache"
	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/internal/realtime"
	"github.com/aditya/campus-rides/internal/repository"
	"github.com/aditya/campus-rides/internal/service"
	"github.com/aditya/campus-rides/internal/store"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

var (
	asha   = service.Actor{ID: "s1", Name: "Asha", Role: models.RoleStudent, Verified: true}
	rajesh = service.Actor{ID: "d1", Name: "Rajesh", Role: models.RoleDriver, Verified: true}
	sunil  = service.Actor{ID: "d2", Name: "Sunil", Role: models.RoleDriver, Verified: true}
)

type env struct {
	rides     service.RideService
	providers service.ProviderService
	store     store.RideStore
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hub := realtime.NewHub(nil)
	t.Cleanup(func() { hub.Close() })
	st := store.New(repository.NewMemoryRideRepository(), hub, nil)
	presence := cache.NewMemoryPresenceCache()
	return &env{
		rides:     service.NewRideService(st, presence, nil, nil),
		providers: service.NewProviderService(repository.NewMemoryUserRepository(), presence, nil),
		store:     st,
	}
}

type inbox struct {
	mu   sync.Mutex
	msgs []Notification
}

func (i *inbox) Notify(n Notification) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, n)
}

func (i *inbox) all() []Notification {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Notification(nil), i.msgs...)
}

func (e *env) requester(t *testing.T, n Notifier) *Requester {
	t.Helper()
	r := NewRequester(e.rides, e.store, asha, n, nil)
	t.Cleanup(r.Release)
	return r
}

func (e *env) provider(t *testing.T, actor service.Actor, n Notifier) *Provider {
	t.Helper()
	p, err := NewProvider(e.rides, e.providers, e.store, actor, n, nil)
	require.NoError(t, err)
	t.Cleanup(p.Release)
	return p
}

func phaseIs(t *testing.T, want Phase, state func() State) {
	t.Helper()
	require.Eventually(t, func() bool { return state().Phase == want }, waitFor, tick, "want phase %s", want)
}

func TestRideHappyPath(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	req := e.requester(t, nil)
	prov := e.provider(t, rajesh, nil)

	require.NoError(t, prov.GoOnline(ctx))
	assert.Equal(t, PhaseIdle, prov.State().Phase)

	rideID, err := req.SubmitRequest(ctx, "Main Gate", "Shirpur", "14:00", "")
	require.NoError(t, err)
	assert.Equal(t, PhaseWaiting, req.State().Phase)

	phaseIs(t, PhaseIncoming, prov.State)
	assert.Equal(t, rideID, prov.State().Incoming.ID)

	taken, err := prov.Accept(ctx, rideID)
	require.NoError(t, err)
	assert.False(t, taken)

	phaseIs(t, PhaseNegotiating, req.State)
	assert.Equal(t, PhaseNegotiating, prov.State().Phase)
	assert.Equal(t, "Confirm Ride", req.State().Prompt)

	require.NoError(t, req.Confirm(ctx, rideID))
	assert.Equal(t, "Waiting...", req.State().Prompt)
	require.NoError(t, prov.Confirm(ctx, rideID))

	phaseIs(t, PhaseLocked, req.State)
	phaseIs(t, PhaseLocked, prov.State)

	require.NoError(t, req.MarkArrived(ctx, rideID))
	assert.Equal(t, "Waiting for Driver...", req.State().Prompt)
	require.NoError(t, prov.MarkArrived(ctx, rideID))

	phaseIs(t, PhaseCompleted, req.State)
	phaseIs(t, PhaseCompleted, prov.State)
	assert.Equal(t, "Book New Ride", req.State().Prompt)
	assert.Equal(t, "Back to Online", prov.State().Prompt)

	req.Reset()
	assert.Equal(t, PhaseSearch, req.State().Phase)
	prov.Close()
	phaseIs(t, PhaseIdle, prov.State)

	stored, err := e.store.Get(ctx, rideID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, stored.Status)
	assert.True(t, stored.RequesterConfirmed && stored.ProviderConfirmed && stored.RequesterArrived && stored.ProviderArrived)
}

func TestSubmitRequestValidation(t *testing.T) {
	e := newEnv(t)
	req := e.requester(t, nil)

	_, err := req.SubmitRequest(context.Background(), "", "Shirpur", "14:00", "")
	require.Error(t, err)
	assert.True(t, apperrors.IsKind(err, apperrors.KindValidation))
	assert.Equal(t, "Please fill in all fields", apperrors.UserMessage(err))
	assert.Equal(t, PhaseSearch, req.State().Phase)

	rides, err := e.store.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, rides)
}

func TestRequesterCancelNotifiesProvider(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	var studentInbox, driverInbox inbox
	req := e.requester(t, &studentInbox)
	prov := e.provider(t, rajesh, &driverInbox)
	require.NoError(t, prov.GoOnline(ctx))

	rideID, err := req.SubmitRequest(ctx, "Main Gate", "Savalde", "08:15", "")
	require.NoError(t, err)
	_, err = prov.Accept(ctx, rideID)
	require.NoError(t, err)

	require.NoError(t, req.Cancel(ctx, rideID))
	assert.Equal(t, PhaseSearch, req.State().Phase)

	require.Eventually(t, func() bool { return len(driverInbox.all()) == 1 }, waitFor, tick)
	assert.Equal(t, "Ride was cancelled by student.", driverInbox.all()[0].Message)
	phaseIs(t, PhaseIdle, prov.State)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, studentInbox.all())
}

func TestProviderCancelNotifiesRequester(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	var studentInbox, driverInbox inbox
	req := e.requester(t, &studentInbox)
	prov := e.provider(t, rajesh, &driverInbox)
	require.NoError(t, prov.GoOnline(ctx))

	rideID, err := req.SubmitRequest(ctx, "Main Gate", "Savalde", "08:15", "")
	require.NoError(t, err)
	_, err = prov.Accept(ctx, rideID)
	require.NoError(t, err)
	require.NoError(t, req.Confirm(ctx, rideID))
	require.NoError(t, prov.Confirm(ctx, rideID))
	phaseIs(t, PhaseLocked, req.State)

	require.NoError(t, prov.Cancel(ctx, rideID))
	phaseIs(t, PhaseIdle, prov.State)

	require.Eventually(t, func() bool { return len(studentInbox.all()) == 1 }, waitFor, tick)
	assert.Equal(t, NotificationCancelled, studentInbox.all()[0].Kind)
	assert.Equal(t, "Ride was cancelled", studentInbox.all()[0].Message)
	phaseIs(t, PhaseSearch, req.State)
	assert.Empty(t, driverInbox.all())
}

func TestSecondProviderSeesTaken(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	req := e.requester(t, nil)
	first := e.provider(t, rajesh, nil)
	second := e.provider(t, sunil, nil)
	require.NoError(t, first.GoOnline(ctx))
	require.NoError(t, second.GoOnline(ctx))

	rideID, err := req.SubmitRequest(ctx, "Shirpur", "Main Gate", "18:00", "")
	require.NoError(t, err)
	phaseIs(t, PhaseIncoming, second.State)

	taken, err := first.Accept(ctx, rideID)
	require.NoError(t, err)
	require.False(t, taken)

	taken, err = second.Accept(ctx, rideID)
	require.NoError(t, err)
	assert.True(t, taken)
	phaseIs(t, PhaseIdle, second.State)

	stored, err := e.store.Get(ctx, rideID)
	require.NoError(t, err)
	require.NotNil(t, stored.ProviderID)
	assert.Equal(t, rajesh.ID, *stored.ProviderID)
}

func TestUnverifiedDriverIsRefused(t *testing.T) {
	e := newEnv(t)

	_, err := NewProvider(e.rides, e.providers, e.store, service.Actor{ID: "d9", Role: models.RoleDriver}, nil, nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuth))
	assert.ErrorIs(t, err, apperrors.ErrProviderNotVerified)

	_, err = NewProvider(e.rides, e.providers, e.store, asha, nil, nil)
	assert.True(t, apperrors.IsKind(err, apperrors.KindAuth))
}

func TestHintedRequestIsSurfacedFirst(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	prov := e.provider(t, sunil, nil)
	require.NoError(t, prov.GoOnline(ctx))

	_, err := e.rides.Submit(ctx, asha, &models.CreateRideRequest{Pickup: "Main Gate", Dropoff: "Shirpur", RequestedTime: "09:00"})
	require.NoError(t, err)
	other := service.Actor{ID: "s2", Name: "Neha", Role: models.RoleStudent, Verified: true}
	hinted, err := e.rides.Submit(ctx, other, &models.CreateRideRequest{Pickup: "Savalde", Dropoff: "Shirpur", RequestedTime: "09:30", ProviderHint: sunil.ID})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := prov.State()
		return st.Incoming != nil && st.Incoming.ID == hinted.ID
	}, waitFor, tick)
}

func TestObservedAgreementAdvancesRide(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	req := e.requester(t, nil)

	rideID, err := req.SubmitRequest(ctx, "Main Gate", "Shirpur", "14:00", "")
	require.NoError(t, err)
	_, err = e.rides.Accept(ctx, rajesh, rideID)
	require.NoError(t, err)

	// Both flags land through raw writes, as if two clients raced and
	// neither saw the other's confirmation.
	_, err = e.store.Update(ctx, rideID, models.RidePatch{RequesterConfirmed: models.BoolPtr(true)}, models.RideStatusNegotiating)
	require.NoError(t, err)
	_, err = e.store.Update(ctx, rideID, models.RidePatch{ProviderConfirmed: models.BoolPtr(true)}, models.RideStatusNegotiating)
	require.NoError(t, err)

	phaseIs(t, PhaseLocked, req.State)
	stored, err := e.store.Get(ctx, rideID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusLocked, stored.Status)
}

func TestConfirmTwiceIsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	req := e.requester(t, nil)

	rideID, err := req.SubmitRequest(ctx, "Main Gate", "Shirpur", "14:00", "")
	require.NoError(t, err)
	_, err = e.rides.Accept(ctx, rajesh, rideID)
	require.NoError(t, err)

	require.NoError(t, req.Confirm(ctx, rideID))
	before, _ := e.store.Get(ctx, rideID)
	require.NoError(t, req.Confirm(ctx, rideID))
	after, _ := e.store.Get(ctx, rideID)

	assert.Equal(t, before.Version, after.Version)
	assert.Equal(t, models.RideStatusNegotiating, after.Status)
}

func TestGoOfflineStopsIncoming(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	prov := e.provider(t, rajesh, nil)

	require.NoError(t, prov.GoOnline(ctx))
	require.NoError(t, prov.GoOffline(ctx))
	assert.Equal(t, PhaseOffline, prov.State().Phase)

	_, err := e.rides.Submit(ctx, asha, &models.CreateRideRequest{Pickup: "Main Gate", Dropoff: "Shirpur", RequestedTime: "09:00"})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, PhaseOffline, prov.State().Phase)
	online, err := e.providers.IsOnline(ctx, rajesh.ID)
	require.NoError(t, err)
	assert.False(t, online)
}

func TestReleaseOnSignOut(t *testing.T) {
	users := repository.NewMemoryUserRepository()
	authSvc := auth.NewService(users, nil, auth.Config{Secret: "s"}, nil)
	session := auth.NewSession(authSvc)
	ctx := context.Background()

	e := newEnv(t)
	req := e.requester(t, nil)
	cancel := ReleaseOnSignOut(session, req)
	defer cancel()

	_, err := session.SignUp(ctx, &models.SignUpRequest{Email: "asha@campus.edu", Password: "secret1", Role: models.RoleStudent})
	require.NoError(t, err)
	_, err = req.SubmitRequest(ctx, "Main Gate", "Shirpur", "14:00", "")
	require.NoError(t, err)
	assert.Equal(t, PhaseWaiting, req.State().Phase)

	require.NoError(t, session.SignOut(ctx))
	assert.Equal(t, PhaseSearch, req.State().Phase)
}
