package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/diagnosis/citizen-portal/pkg/auth"
	"github.com/diagnosis/citizen-portal/pkg/logger"
	mw "github.com/diagnosis/citizen-portal/pkg/middleware"
	"github.com/diagnosis/citizen-portal/pkg/ratelimit"
	"github.com/diagnosis/citizen-portal/pkg/response"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/domain"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/service"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 16 << 10

type Handlers struct {
	bookingService  service.BookingService
	trackingService service.TrackingService
}

func New(bookingService service.BookingService, trackingService service.TrackingService) *Handlers {
	return &Handlers{
		bookingService:  bookingService,
		trackingService: trackingService,
	}
}

// Routes mounts the public, officer and admin endpoints on r.
func (h *Handlers) Routes(r chi.Router, jwtSecret string, createLimiter ratelimit.Limiter) {
	if createLimiter == nil {
		createLimiter = ratelimit.Noop{}
	}
	r.Get("/availability", h.Availability)
	r.With(mw.RateLimit(createLimiter, mw.IPKey)).Post("/bookings", h.CreateBooking)

	r.Post("/track/request", h.RequestTrackingLink)
	r.Get("/track", h.ResolveTracking)

	r.Route("/officer/bookings", func(r chi.Router) {
		r.Use(auth.RequireRole(jwtSecret, auth.RoleOfficer))
		r.Get("/", h.ListBookings)
		r.Get("/{id}", h.GetBooking)
		r.Patch("/{id}/status", h.ChangeStatus)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(auth.RequireRole(jwtSecret, auth.RoleAdmin))
		r.Get("/stats", h.Stats)
	})
}

// writeServiceError maps service errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		response.WriteErrorWithDetails(w, http.StatusBadRequest, "Invalid request", response.CodeInvalidInput, verr.Error())
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, "Booking not found")
	case errors.Is(err, domain.ErrSlotUnavailable):
		response.WriteError(w, http.StatusConflict, "The selected slot is not available", response.CodeSlotUnavailable)
	case errors.Is(err, domain.ErrIdempotencyReused):
		response.WriteError(w, http.StatusUnprocessableEntity, "Idempotency-Key was already used with a different request", response.CodeIdempotencyReused)
	case errors.Is(err, domain.ErrInvalidTransition):
		response.WriteErrorWithDetails(w, http.StatusConflict, "Status change not allowed", response.CodeInvalidTransition, err.Error())
	default:
		logger.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
		response.InternalError(w, "Internal error")
	}
}

// Helper to parse pagination parameters
func parsePagination(r *http.Request) (limit, offset int) {
	limit = 20
	offset = 0

	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return limit, offset
}
