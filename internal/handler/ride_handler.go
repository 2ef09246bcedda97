package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aditya/campus-rides/internal/middleware"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/internal/service"
	"github.com/aditya/campus-rides/pkg/utils"
)

type RideHandler struct {
	rides  service.RideService
	logger *slog.Logger
}

func NewRideHandler(rides service.RideService, logger *slog.Logger) *RideHandler {
	return &RideHandler{rides: rides, logger: logger}
}

func (h *RideHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)

		r.With(middleware.RequireRole(models.RoleStudent)).Post("/rides", h.CreateRide)
		r.With(middleware.RequireRole(models.RoleDriver)).Get("/rides/open", h.ListOpen)
		r.Get("/rides/active", h.ActiveRide)
		r.Get("/rides/{id}", h.GetRide)
		r.With(middleware.RequireRole(models.RoleDriver)).Post("/rides/{id}/accept", h.action(h.rides.Accept))
		r.Post("/rides/{id}/confirm", h.action(h.rides.Confirm))
		r.Post("/rides/{id}/arrive", h.action(h.rides.MarkArrived))
		r.Post("/rides/{id}/cancel", h.action(h.rides.Cancel))
	})
}

// POST /v1/rides
func (h *RideHandler) CreateRide(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRideRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}

	ride, err := h.rides.Submit(r.Context(), actor(r), &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	utils.Created(w, ride)
}

// GET /v1/rides/open
func (h *RideHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	rides, err := h.rides.ListOpen(r.Context(), actor(r))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if rides == nil {
		rides = []*models.Ride{}
	}

	a := actor(r)
	utils.JSON(w, http.StatusOK, map[string]interface{}{
		"rides":    rides,
		"incoming": models.NextIncoming(rides, a.ID),
	})
}

// GET /v1/rides/active
func (h *RideHandler) ActiveRide(w http.ResponseWriter, r *http.Request) {
	ride, err := h.rides.ActiveRide(r.Context(), actor(r))
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if ride == nil {
		utils.NoContent(w)
		return
	}
	utils.JSON(w, http.StatusOK, ride)
}

// GET /v1/rides/{id}
func (h *RideHandler) GetRide(w http.ResponseWriter, r *http.Request) {
	id, ok := rideID(w, r)
	if !ok {
		return
	}

	ride, err := h.rides.Get(r.Context(), actor(r), id)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	utils.JSON(w, http.StatusOK, ride)
}

// action serves the POST /v1/rides/{id}/<verb> routes, which all take no
// body and answer with the ride as written.
func (h *RideHandler) action(do func(ctx context.Context, a service.Actor, id string) (*models.Ride, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := rideID(w, r)
		if !ok {
			return
		}

		ride, err := do(r.Context(), actor(r), id)
		if err != nil {
			handleError(w, h.logger, err)
			return
		}

		utils.JSON(w, http.StatusOK, ride)
	}
}
