package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aditya/campus-rides/internal/auth"
	"github.com/aditya/campus-rides/internal/cache"
	"github.com/aditya/campus-rides/internal/logging"
	"github.com/aditya/campus-rides/internal/middleware"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/internal/realtime"
	"github.com/aditya/campus-rides/internal/repository"
	"github.com/aditya/campus-rides/internal/service"
	"github.com/aditya/campus-rides/internal/store"
)

type testEnv struct {
	router http.Handler
	users  *repository.MemoryUserRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.NewLoggerTo(io.Discard, "error")

	hub := realtime.NewHub(logger)
	t.Cleanup(func() { hub.Close() })

	users := repository.NewMemoryUserRepository()
	presence := cache.NewMemoryPresenceCache()
	st := store.New(repository.NewMemoryRideRepository(), hub, logger)

	router := NewRouter(Deps{
		Logger: logger,
		Auth: auth.NewService(users, cache.NewMemoryRevocationList(), auth.Config{
			Secret:          "test-secret",
			FederatedSecret: "federated-secret",
			TokenTTL:        time.Hour,
		}, logger),
		Rides:     service.NewRideService(st, presence, nil, logger),
		Providers: service.NewProviderService(users, presence, logger),
		Store:     st,
		Heartbeat: 50 * time.Millisecond,
	})
	return &testEnv{router: router, users: users}
}

type account struct {
	ID    string
	Token string
}

func (e *testEnv) signUp(t *testing.T, email string, role models.Role, verified bool) account {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"email":    email,
		"password": "secret1",
		"role":     string(role),
		"name":     strings.Split(email, "@")[0],
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	if role == models.RoleDriver && verified {
		require.NoError(t, e.users.SetVerified(context.Background(), resp.Profile.ID, true))
	}
	return account{ID: resp.Profile.ID, Token: resp.Token}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeRide(t *testing.T, rec *httptest.ResponseRecorder) models.Ride {
	t.Helper()
	var ride models.Ride
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ride), rec.Body.String())
	return ride
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body["error"]
}

var rideRequest = map[string]string{
	"pickup":         "Main Gate",
	"dropoff":        "Shirpur",
	"requested_time": "09:30",
}

func TestSignUpSetsCookieAndMe(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodPost, "/v1/auth/signup", "", map[string]string{
		"email": "asha@campus.edu", "password": "secret1", "role": "student", "name": "Asha",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	assert.Equal(t, middleware.SessionCookie, cookies[0].Name)

	var resp sessionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "/student-dashboard", resp.Redirect)

	me := env.do(t, http.MethodGet, "/v1/auth/me", resp.Token, nil)
	require.Equal(t, http.StatusOK, me.Code)
	assert.Contains(t, me.Body.String(), "asha@campus.edu")

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/auth/me", "", nil).Code)
}

func TestLoginWrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "asha@campus.edu", models.RoleStudent, false)

	rec := env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"email": "asha@campus.edu", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	asha := env.signUp(t, "asha@campus.edu", models.RoleStudent, false)

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodPost, "/v1/auth/logout", asha.Token, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodGet, "/v1/auth/me", asha.Token, nil).Code)
}

func TestCreateRideValidationAndSingleActive(t *testing.T) {
	env := newTestEnv(t)
	asha := env.signUp(t, "asha@campus.edu", models.RoleStudent, false)

	rec := env.do(t, http.MethodPost, "/v1/rides", asha.Token, map[string]string{"pickup": "Main Gate"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", errorCode(t, rec))

	rec = env.do(t, http.MethodPost, "/v1/rides", asha.Token, rideRequest)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	ride := decodeRide(t, rec)
	assert.Equal(t, models.RideStatusOpen, ride.Status)

	rec = env.do(t, http.MethodPost, "/v1/rides", asha.Token, rideRequest)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "active_ride_exists", errorCode(t, rec))

	active := env.do(t, http.MethodGet, "/v1/rides/active", asha.Token, nil)
	require.Equal(t, http.StatusOK, active.Code)
	assert.Equal(t, ride.ID, decodeRide(t, active).ID)
}

func TestDriversCannotRequestRides(t *testing.T) {
	env := newTestEnv(t)
	rajesh := env.signUp(t, "rajesh@campus.edu", models.RoleDriver, true)

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/v1/rides", rajesh.Token, rideRequest).Code)
}

func TestUnverifiedDriverRefused(t *testing.T) {
	env := newTestEnv(t)
	vikram := env.signUp(t, "vikram@campus.edu", models.RoleDriver, false)

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/v1/rides/open", vikram.Token, nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/v1/providers/me/online", vikram.Token, nil).Code)
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	asha := env.signUp(t, "asha@campus.edu", models.RoleStudent, false)
	rajesh := env.signUp(t, "rajesh@campus.edu", models.RoleDriver, true)
	sunil := env.signUp(t, "sunil@campus.edu", models.RoleDriver, true)

	ride := decodeRide(t, env.do(t, http.MethodPost, "/v1/rides", asha.Token, rideRequest))

	open := env.do(t, http.MethodGet, "/v1/rides/open", rajesh.Token, nil)
	require.Equal(t, http.StatusOK, open.Code)
	assert.Contains(t, open.Body.String(), ride.ID)

	rec := env.do(t, http.MethodPost, "/v1/rides/"+ride.ID+"/accept", rajesh.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, models.RideStatusNegotiating, decodeRide(t, rec).Status)

	rec = env.do(t, http.MethodPost, "/v1/rides/"+ride.ID+"/accept", sunil.Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "ride_already_taken", errorCode(t, rec))

	// Outsiders cannot read or act on the ride once it is taken.
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/v1/rides/"+ride.ID, sunil.Token, nil).Code)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/rides/"+ride.ID+"/confirm", asha.Token, nil).Code)
	rec = env.do(t, http.MethodPost, "/v1/rides/"+ride.ID+"/confirm", rajesh.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RideStatusLocked, decodeRide(t, rec).Status)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/rides/"+ride.ID+"/arrive", rajesh.Token, nil).Code)
	rec = env.do(t, http.MethodPost, "/v1/rides/"+ride.ID+"/arrive", asha.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, models.RideStatusCompleted, decodeRide(t, rec).Status)

	rec = env.do(t, http.MethodPost, "/v1/rides/"+ride.ID+"/cancel", asha.Token, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "stale_state", errorCode(t, rec))

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodGet, "/v1/rides/active", asha.Token, nil).Code)
}

func TestRideIDMustBeValid(t *testing.T) {
	env := newTestEnv(t)
	asha := env.signUp(t, "asha@campus.edu", models.RoleStudent, false)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/rides/not-a-ride", asha.Token, nil).Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/rides/6f1c1f2e-9a55-4b7a-9a7d-2f6b0a1e3c44", asha.Token, nil).Code)
}

func TestDirectory(t *testing.T) {
	env := newTestEnv(t)
	asha := env.signUp(t, "asha@campus.edu", models.RoleStudent, false)
	rajesh := env.signUp(t, "rajesh@campus.edu", models.RoleDriver, true)
	env.signUp(t, "vikram@campus.edu", models.RoleDriver, false)

	rec := env.do(t, http.MethodGet, "/v1/locations", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Nardana Railway Station")

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/providers/me/online", rajesh.Token, nil).Code)

	rec = env.do(t, http.MethodGet, "/v1/providers", asha.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Providers []models.ProviderListing `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Providers, 1)
	assert.Equal(t, rajesh.ID, body.Providers[0].ID)
	assert.True(t, body.Providers[0].Online)
}

func TestDashboards(t *testing.T) {
	env := newTestEnv(t)
	asha := env.signUp(t, "asha@campus.edu", models.RoleStudent, false)
	vikram := env.signUp(t, "vikram@campus.edu", models.RoleDriver, false)
	rajesh := env.signUp(t, "rajesh@campus.edu", models.RoleDriver, true)

	for _, path := range []string{"/student-dashboard", "/driver-dashboard"} {
		rec := env.do(t, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusFound, rec.Code, path)
		assert.Equal(t, "/login", rec.Header().Get("Location"), path)
	}

	rec := env.do(t, http.MethodGet, "/driver-dashboard", vikram.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "under review")

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/driver-dashboard", rajesh.Token, nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/student-dashboard", asha.Token, nil).Code)

	rec = env.do(t, http.MethodGet, "/student-dashboard", rajesh.Token, nil)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/driver-dashboard", rec.Header().Get("Location"))

	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/driver/login", "", nil).Code)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
}

// readEvent returns the next SSE event name and its data line, skipping
// heartbeats.
func readEvent(t *testing.T, r *bufio.Reader) (string, string) {
	t.Helper()
	var event, data string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			data = strings.TrimPrefix(line, "data: ")
		case line == "" && event == "heartbeat":
			event, data = "", ""
		case line == "" && event != "":
			return event, data
		}
	}
}

func TestRideEventsStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	asha := env.signUp(t, "asha@campus.edu", models.RoleStudent, false)
	ride := decodeRide(t, env.do(t, http.MethodPost, "/v1/rides", asha.Token, rideRequest))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/rides/"+ride.ID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+asha.Token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	event, data := readEvent(t, reader)
	require.Equal(t, "ride", event)
	assert.Contains(t, data, `"status":"open"`)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/rides/"+ride.ID+"/cancel", asha.Token, nil).Code)

	sawCancelled := false
	for {
		event, data = readEvent(t, reader)
		if event == "ride" && strings.Contains(data, `"status":"cancelled"`) {
			sawCancelled = true
		}
		if event == "end" {
			break
		}
	}
	assert.True(t, sawCancelled)
	assert.Contains(t, data, "cancelled")
}

func TestRideEventsRejectsOutsiders(t *testing.T) {
	env := newTestEnv(t)
	asha := env.signUp(t, "asha@campus.edu", models.RoleStudent, false)
	neha := env.signUp(t, "neha@campus.edu", models.RoleStudent, false)
	ride := decodeRide(t, env.do(t, http.MethodPost, "/v1/rides", asha.Token, rideRequest))

	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/v1/rides/"+ride.ID+"/events", neha.Token, nil).Code)
}

func TestRideEventsEndForDriverWhenRideIsTaken(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	asha := env.signUp(t, "asha@campus.edu", models.RoleStudent, false)
	rajesh := env.signUp(t, "rajesh@campus.edu", models.RoleDriver, true)
	sunil := env.signUp(t, "sunil@campus.edu", models.RoleDriver, true)
	ride := decodeRide(t, env.do(t, http.MethodPost, "/v1/rides", asha.Token, rideRequest))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/v1/rides/"+ride.ID+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+sunil.Token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	event, data := readEvent(t, reader)
	require.Equal(t, "ride", event)
	assert.Contains(t, data, `"status":"open"`)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/v1/rides/"+ride.ID+"/accept", rajesh.Token, nil).Code)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodGet, "/v1/rides/"+ride.ID, sunil.Token, nil).Code)

	event, data = readEvent(t, reader)
	assert.Equal(t, "end", event)
	assert.Contains(t, data, "taken")
	assert.NotContains(t, data, rajesh.ID)
}

func TestOpenRidesWebSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	asha := env.signUp(t, "asha@campus.edu", models.RoleStudent, false)
	rajesh := env.signUp(t, "rajesh@campus.edu", models.RoleDriver, true)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+rajesh.Token)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/v1/rides/open/ws", header)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var msg openRidesMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "open_rides", msg.Type)
	assert.Empty(t, msg.Rides)

	ride := decodeRide(t, env.do(t, http.MethodPost, "/v1/rides", asha.Token, rideRequest))

	for {
		require.NoError(t, conn.ReadJSON(&msg))
		if len(msg.Rides) > 0 {
			break
		}
	}
	require.Len(t, msg.Rides, 1)
	assert.Equal(t, ride.ID, msg.Rides[0].ID)
	require.NotNil(t, msg.Incoming)
	assert.Equal(t, ride.ID, msg.Incoming.ID)
}

func TestOpenRidesWebSocketChecksOrigin(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.router)
	defer srv.Close()
	rajesh := env.signUp(t, "rajesh@campus.edu", models.RoleDriver, true)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/rides/open/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+rajesh.Token)
	header.Set("Origin", "http://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", srv.URL)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	conn.Close()
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://rides.campus.edu"})
	req := func(origin string) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "http://api.campus.edu/v1/rides/open/ws", nil)
		if origin != "" {
			r.Header.Set("Origin", origin)
		}
		return r
	}

	assert.True(t, check(req("")))
	assert.True(t, check(req("https://rides.campus.edu")))
	assert.True(t, check(req("http://api.campus.edu")))
	assert.False(t, check(req("https://evil.example")))
	assert.True(t, originChecker([]string{"*"})(req("https://evil.example")))
}

func TestOpenRidesWebSocketRefusesUnverified(t *testing.T) {
	env := newTestEnv(t)
	vikram := env.signUp(t, "vikram@campus.edu", models.RoleDriver, false)

	rec := env.do(t, http.MethodGet, "/v1/rides/open/ws", vikram.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
