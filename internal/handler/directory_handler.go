package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aditya/campus-rides/internal/middleware"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/internal/service"
	"github.com/aditya/campus-rides/pkg/utils"
)

// DirectoryHandler serves the lookups a student needs to fill in a request:
// the campus locations and the drivers they can ask for.
type DirectoryHandler struct {
	providers service.ProviderService
	logger    *slog.Logger
}

func NewDirectoryHandler(providers service.ProviderService, logger *slog.Logger) *DirectoryHandler {
	return &DirectoryHandler{providers: providers, logger: logger}
}

func (h *DirectoryHandler) RegisterRoutes(r chi.Router) {
	r.Get("/locations", h.Locations)
	r.With(middleware.RequireAuth).Get("/providers", h.Providers)
}

// GET /v1/locations
func (h *DirectoryHandler) Locations(w http.ResponseWriter, r *http.Request) {
	utils.JSON(w, http.StatusOK, map[string][]string{"locations": models.CampusLocations})
}

// GET /v1/providers
func (h *DirectoryHandler) Providers(w http.ResponseWriter, r *http.Request) {
	listings, err := h.providers.ListProviders(r.Context())
	if err != nil {
		handleError(w, h.logger, err)
		return
	}
	if listings == nil {
		listings = []models.ProviderListing{}
	}
	utils.JSON(w, http.StatusOK, map[string]interface{}{"providers": listings})
}
