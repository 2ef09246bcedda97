package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/aditya/campus-rides/internal/errors"
	"github.com/aditya/campus-rides/internal/middleware"
	"github.com/aditya/campus-rides/internal/service"
	"github.com/aditya/campus-rides/pkg/utils"
)

func handleError(w http.ResponseWriter, logger *slog.Logger, err error) {
	apiErr := apperrors.ToAPIError(err)
	if apiErr.StatusCode >= http.StatusInternalServerError {
		logger.Error("request failed", "error", err)
	}
	utils.Error(w, apiErr)
}

// actor is only called behind RequireAuth.
func actor(r *http.Request) service.Actor {
	return service.ActorFromProfile(middleware.IdentityFrom(r.Context()).Profile)
}

// rideID reads the {id} parameter, answering 404 when it cannot name a ride.
func rideID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if !utils.IsValidID(id) {
		utils.NotFound(w, "ride")
		return "", false
	}
	return id, true
}
