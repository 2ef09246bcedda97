package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/aditya/campus-rides/internal/middleware"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/pkg/utils"
)

const underReviewMessage = "Your driver account is currently under review. Admin approval is required before you can access the dashboard."

// PageHandler answers the browser routes with a small view descriptor that
// a front end renders.
type PageHandler struct{}

func NewPageHandler() *PageHandler {
	return &PageHandler{}
}

type pageView struct {
	View      string                  `json:"view"`
	Title     string                  `json:"title"`
	Role      models.Role             `json:"role,omitempty"`
	Profile   *models.ProfileResponse `json:"profile,omitempty"`
	Message   string                  `json:"message,omitempty"`
	Locations []string                `json:"locations,omitempty"`
}

func (h *PageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.static(pageView{View: "home", Title: "Campus Rides"}))
	r.Get("/login", h.static(pageView{View: "login", Title: "Sign in", Role: models.RoleStudent}))
	r.Get("/signup", h.static(pageView{View: "signup", Title: "Create account", Role: models.RoleStudent}))
	r.Get("/driver/login", h.static(pageView{View: "login", Title: "Driver sign in", Role: models.RoleDriver}))
	r.Get("/driver/signup", h.static(pageView{View: "signup", Title: "Sign up to drive", Role: models.RoleDriver}))
	r.Get("/student-dashboard", h.StudentDashboard)
	r.Get("/driver-dashboard", h.DriverDashboard)
}

func (h *PageHandler) static(v pageView) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		utils.JSON(w, http.StatusOK, v)
	}
}

// GET /student-dashboard
func (h *PageHandler) StudentDashboard(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFrom(r.Context())
	if id == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	if id.Profile.Role != models.RoleStudent {
		http.Redirect(w, r, dashboardFor(id.Profile.Role), http.StatusFound)
		return
	}

	utils.JSON(w, http.StatusOK, pageView{
		View:      "student-dashboard",
		Title:     "Book a ride",
		Role:      id.Profile.Role,
		Profile:   id.Profile.ToResponse(),
		Locations: models.CampusLocations,
	})
}

// GET /driver-dashboard
func (h *PageHandler) DriverDashboard(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFrom(r.Context())
	if id == nil {
		http.Redirect(w, r, "/login", http.StatusFound)
		return
	}
	if id.Profile.Role != models.RoleDriver {
		http.Redirect(w, r, dashboardFor(id.Profile.Role), http.StatusFound)
		return
	}
	if !id.Profile.IsVerified {
		utils.JSON(w, http.StatusForbidden, pageView{
			View:    "verification-pending",
			Title:   "Verification Pending",
			Role:    id.Profile.Role,
			Profile: id.Profile.ToResponse(),
			Message: underReviewMessage,
		})
		return
	}

	utils.JSON(w, http.StatusOK, pageView{
		View:    "driver-dashboard",
		Title:   "Driver Portal",
		Role:    id.Profile.Role,
		Profile: id.Profile.ToResponse(),
	})
}
