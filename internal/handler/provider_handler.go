package handler

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/aditya/campus-rides/internal/middleware"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/internal/observability"
	"github.com/aditya/campus-rides/internal/service"
	"github.com/aditya/campus-rides/internal/store"
	"github.com/aditya/campus-rides/pkg/utils"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

type ProviderHandler struct {
	providers service.ProviderService
	rides     service.RideService
	store     store.RideStore
	upgrader  websocket.Upgrader
	logger    *slog.Logger
}

// NewProviderHandler accepts WebSocket upgrades from allowedOrigins and from
// the server's own host. An empty list means same host only.
func NewProviderHandler(providers service.ProviderService, rides service.RideService, st store.RideStore, allowedOrigins []string, logger *slog.Logger) *ProviderHandler {
	return &ProviderHandler{
		providers: providers,
		rides:     rides,
		store:     st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

// originChecker guards cookie-authenticated upgrades against cross-site
// pages. Requests without an Origin header come from non-browser clients.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		u, err := url.Parse(origin)
		return err == nil && strings.EqualFold(u.Host, r.Host)
	}
}

// openRidesMessage is one frame of the open-request feed.
type openRidesMessage struct {
	Type     string         `json:"type"`
	Rides    []*models.Ride `json:"rides"`
	Incoming *models.Ride   `json:"incoming,omitempty"`
}

func (h *ProviderHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(models.RoleDriver))

		r.Post("/providers/me/online", h.GoOnline)
		r.Post("/providers/me/offline", h.GoOffline)
		r.Get("/rides/open/ws", h.StreamOpenRides)
	})
}

// POST /v1/providers/me/online
func (h *ProviderHandler) GoOnline(w http.ResponseWriter, r *http.Request) {
	if err := h.providers.GoOnline(r.Context(), actor(r)); err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, map[string]bool{"online": true})
}

// POST /v1/providers/me/offline
func (h *ProviderHandler) GoOffline(w http.ResponseWriter, r *http.Request) {
	if err := h.providers.GoOffline(r.Context(), actor(r)); err != nil {
		handleError(w, h.logger, err)
		return
	}
	utils.JSON(w, http.StatusOK, map[string]bool{"online": false})
}

// GET /v1/rides/open/ws
//
// Streams the current open requests, and a fresh list every time that set
// changes, until the client goes away.
func (h *ProviderHandler) StreamOpenRides(w http.ResponseWriter, r *http.Request) {
	a := actor(r)
	// Unverified drivers get a JSON error before any upgrade.
	if _, err := h.rides.ListOpen(r.Context(), a); err != nil {
		handleError(w, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	observability.PushStreams.Inc()
	defer observability.PushStreams.Dec()

	updates := make(chan []*models.Ride, 1)
	unsub, err := h.store.SubscribeQuery(r.Context(), store.Filter{Statuses: []models.RideStatus{models.RideStatusOpen}}, func(rides []*models.Ride) {
		// Keep only the newest list when the writer falls behind.
		select {
		case <-updates:
		default:
		}
		updates <- rides
	})
	if err != nil {
		h.logger.Error("failed to watch open rides", "error", err)
		return
	}
	defer unsub()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case rides := <-updates:
			if rides == nil {
				rides = []*models.Ride{}
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteJSON(openRidesMessage{
				Type:     "open_rides",
				Rides:    rides,
				Incoming: models.NextIncoming(rides, a.ID),
			}); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}
