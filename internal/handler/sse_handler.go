package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/middleware"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/internal/observability"
	"github.com/aditya/campus-rides/internal/service"
	"github.com/aditya/campus-rides/internal/store"
	"github.com/aditya/campus-rides/pkg/utils"
)

const defaultHeartbeat = 15 * time.Second

// SSEHandler streams snapshots of one ride to its participants.
type SSEHandler struct {
	rides     service.RideService
	store     store.RideStore
	heartbeat time.Duration
	logger    *slog.Logger
}

func NewSSEHandler(rides service.RideService, st store.RideStore, heartbeat time.Duration, logger *slog.Logger) *SSEHandler {
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}
	return &SSEHandler{rides: rides, store: st, heartbeat: heartbeat, logger: logger}
}

func (h *SSEHandler) RegisterRoutes(r chi.Router) {
	r.With(middleware.RequireAuth).Get("/rides/{id}/events", h.StreamRide)
}

// latest holds the newest undelivered snapshot. Older ones are superseded.
type latest struct {
	mu      sync.Mutex
	ride    *models.Ride
	removed bool
	ready   chan struct{}
}

func (l *latest) set(ride *models.Ride) {
	l.mu.Lock()
	l.ride = ride
	l.removed = ride == nil
	l.mu.Unlock()
	select {
	case l.ready <- struct{}{}:
	default:
	}
}

func (l *latest) take() (*models.Ride, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ride, removed := l.ride, l.removed
	l.ride, l.removed = nil, false
	return ride, removed
}

// GET /v1/rides/{id}/events
//
// Sends an event "ride" per snapshot, "heartbeat" on a timer, and "end"
// once the ride is completed, cancelled or deleted, or once the caller may no
// longer see it.
func (h *SSEHandler) StreamRide(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}
	act := actor(r)
	if _, err := h.rides.Get(r.Context(), act, id); err != nil {
		handleError(w, h.logger, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.Error(w, apperrors.InternalError("streaming unsupported"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	observability.PushStreams.Inc()
	defer observability.PushStreams.Dec()

	next := &latest{ready: make(chan struct{}, 1)}
	unsub, err := h.store.Subscribe(r.Context(), id, next.set)
	if err != nil {
		h.logger.Error("failed to subscribe to ride", "ride_id", id, "error", err)
		return
	}
	defer unsub()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-next.ready:
			ride, removed := next.take()
			if removed {
				writeEvent(w, "end", map[string]string{"reason": "deleted"})
				flusher.Flush()
				return
			}
			if ride == nil {
				continue
			}
			// A driver watching an open request loses access once
			// someone else takes it.
			if !service.CanView(act, ride) {
				reason := "taken"
				if ride.Status.IsTerminal() {
					reason = string(ride.Status)
				}
				writeEvent(w, "end", map[string]string{"reason": reason})
				flusher.Flush()
				return
			}
			writeEvent(w, "ride", ride)
			if ride.Status.IsTerminal() {
				writeEvent(w, "end", map[string]string{"reason": string(ride.Status)})
				flusher.Flush()
				return
			}
			flusher.Flush()
		case <-ticker.C:
			writeEvent(w, "heartbeat", map[string]string{"time": time.Now().UTC().Format(time.RFC3339)})
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
