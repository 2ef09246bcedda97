package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aditya/campus-rides/internal/auth"
	"github.com/aditya/campus-rides/internal/middleware"
	"github.com/aditya/campus-rides/internal/models"
	"github.com/aditya/campus-rides/pkg/utils"
)

type AuthHandler struct {
	auth          auth.Service
	secureCookies bool
	logger        *slog.Logger
}

func NewAuthHandler(svc auth.Service, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: svc, secureCookies: secureCookies, logger: logger}
}

type sessionResponse struct {
	Token     string                  `json:"token"`
	ExpiresAt time.Time               `json:"expires_at"`
	Profile   *models.ProfileResponse `json:"profile"`
	Redirect  string                  `json:"redirect"`
}

func (h *AuthHandler) RegisterRoutes(r chi.Router) {
	r.Post("/auth/signup", h.SignUp)
	r.Post("/auth/login", h.SignIn)
	r.Post("/auth/federated", h.SignInFederated)
	r.Post("/auth/logout", h.SignOut)
	r.With(middleware.RequireAuth).Get("/auth/me", h.Me)
}

// POST /v1/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req models.SignUpRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}

	id, err := h.auth.SignUp(r.Context(), &req)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	h.startSession(w, id)
	utils.Created(w, newSessionResponse(id))
}

// POST /v1/auth/login
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req models.SignInRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}

	id, err := h.auth.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	h.startSession(w, id)
	utils.JSON(w, http.StatusOK, newSessionResponse(id))
}

// POST /v1/auth/federated
func (h *AuthHandler) SignInFederated(w http.ResponseWriter, r *http.Request) {
	var req models.FederatedSignInRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.BadRequest(w, "invalid request body")
		return
	}
	if req.Assertion == "" {
		utils.BadRequest(w, "assertion is required")
		return
	}

	id, err := h.auth.SignInFederated(r.Context(), req.Assertion, req.RoleHint)
	if err != nil {
		handleError(w, h.logger, err)
		return
	}

	h.startSession(w, id)
	utils.JSON(w, http.StatusOK, newSessionResponse(id))
}

// POST /v1/auth/logout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if token := middleware.TokenFrom(r); token != "" {
		if err := h.auth.SignOut(r.Context(), token); err != nil {
			h.logger.Warn("sign out failed", "error", err)
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	utils.NoContent(w)
}

// GET /v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	id := middleware.IdentityFrom(r.Context())
	utils.JSON(w, http.StatusOK, id.Profile.ToResponse())
}

func (h *AuthHandler) startSession(w http.ResponseWriter, id *auth.Identity) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    id.Token,
		Path:     "/",
		Expires:  id.ExpiresAt,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func newSessionResponse(id *auth.Identity) sessionResponse {
	return sessionResponse{
		Token:     id.Token,
		ExpiresAt: id.ExpiresAt,
		Profile:   id.Profile.ToResponse(),
		Redirect:  dashboardFor(id.Profile.Role),
	}
}

func dashboardFor(role models.Role) string {
	if role == models.RoleDriver {
		return "/driver-dashboard"
	}
	return "/student-dashboard"
}
