package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/diagnosis/citizen-portal/pkg/auth"
	"github.com/diagnosis/citizen-portal/pkg/logger"
	mw "github.com/diagnosis/citizen-portal/pkg/middleware"
	"github.com/diagnosis/citizen-portal/pkg/ratelimit"
	"github.com/diagnosis/citizen-portal/pkg/response"
	"github.com/diagnosis/citizen-portal/services/auth/internal/domain"
	"github.com/diagnosis/citizen-portal/services/auth/internal/service"
	"github.com/go-chi/chi/v5"
)

type Handlers struct {
	authService service.AuthService
}

func New(authService service.AuthService) *Handlers {
	return &Handlers{authService: authService}
}

func (h *Handlers) Routes(r chi.Router, jwtSecret string, loginLimiter ratelimit.Limiter) {
	if loginLimiter == nil {
		loginLimiter = ratelimit.Noop{}
	}
	r.With(mw.RateLimit(loginLimiter, mw.IPKey)).Post("/login", h.Login)
	r.With(auth.RequireRole(jwtSecret, "")).Get("/me", h.Me)

	r.Route("/admin/staff", func(r chi.Router) {
		r.Use(auth.RequireRole(jwtSecret, auth.RoleAdmin))
		r.Get("/", h.ListStaff)
		r.Post("/", h.CreateStaff)
	})
}

// Login handles staff authentication
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	res, err := h.authService.Login(r.Context(), &req)
	if errors.Is(err, domain.ErrInvalidCredentials) {
		response.Unauthorized(w, "Invalid email or password")
		return
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "Login failed", "error", err)
		response.InternalError(w, "Internal error")
		return
	}
	response.JSON(w, http.StatusOK, res)
}

// Me echoes the caller's identity.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	staff, err := h.authService.GetStaff(r.Context(), claims.Sub)
	if errors.Is(err, domain.ErrNotFound) {
		response.NotFound(w, "Staff member not found")
		return
	}
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to load staff", "error", err)
		response.InternalError(w, "Internal error")
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"id":     staff.ID,
		"email":  staff.Email,
		"name":   staff.Name,
		"role":   claims.Role,
		"tenant": claims.Tenant,
	})
}

func (h *Handlers) CreateStaff(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateStaffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	staff, err := h.authService.CreateStaff(r.Context(), &req)
	switch {
	case errors.Is(err, domain.ErrValidation):
		response.WriteErrorWithDetails(w, http.StatusBadRequest, "Invalid request", response.CodeInvalidInput, err.Error())
	case errors.Is(err, domain.ErrStaffExists):
		response.Conflict(w, err.Error())
	case err != nil:
		logger.ErrorContext(r.Context(), "Failed to create staff", "error", err)
		response.InternalError(w, "Internal error")
	default:
		response.JSON(w, http.StatusCreated, staff)
	}
}

func (h *Handlers) ListStaff(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	staff, err := h.authService.ListStaff(r.Context(), limit, offset)
	if err != nil {
		logger.ErrorContext(r.Context(), "Failed to list staff", "error", err)
		response.InternalError(w, "Internal error")
		return
	}
	response.JSON(w, http.StatusOK, staff)
}
