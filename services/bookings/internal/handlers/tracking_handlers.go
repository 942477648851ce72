package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/diagnosis/citizen-portal/pkg/logger"
	mw "github.com/diagnosis/citizen-portal/pkg/middleware"
	"github.com/diagnosis/citizen-portal/pkg/response"
	"github.com/diagnosis/citizen-portal/pkg/tracking"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/domain"
)

type trackRequest struct {
	BookingCode string `json:"booking_code"`
	Email       string `json:"email"`
}

type trackResponse struct {
	OK      bool                  `json:"ok"`
	Error   string                `json:"error,omitempty"`
	Booking *domain.PublicBooking `json:"booking,omitempty"`
}

// RequestTrackingLink always answers 200 {"ok":true} so callers cannot learn
// which codes exist or which email owns them.
func (h *Handlers) RequestTrackingLink(w http.ResponseWriter, r *http.Request) {
	var req trackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err == nil {
		h.trackingService.RequestLink(r.Context(), req.BookingCode, req.Email, mw.ClientIP(r))
	}
	response.JSON(w, http.StatusOK, trackResponse{OK: true})
}

// ResolveTracking returns the public view of the booking a token points at.
func (h *Handlers) ResolveTracking(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		response.JSON(w, http.StatusBadRequest, trackResponse{Error: "Missing token"})
		return
	}

	booking, err := h.trackingService.Resolve(r.Context(), token)
	switch {
	case err == nil:
		pub := booking.Public()
		response.JSON(w, http.StatusOK, trackResponse{OK: true, Booking: &pub})
	case errors.Is(err, tracking.ErrExpired):
		response.JSON(w, http.StatusUnauthorized, trackResponse{Error: "Expired token"})
	case errors.Is(err, tracking.ErrMalformedToken),
		errors.Is(err, tracking.ErrBadSignature),
		errors.Is(err, tracking.ErrNoSecret):
		response.JSON(w, http.StatusUnauthorized, trackResponse{Error: "Invalid token"})
	case errors.Is(err, domain.ErrNotFound):
		response.JSON(w, http.StatusNotFound, trackResponse{Error: "Booking not found"})
	default:
		logger.ErrorContext(r.Context(), "Tracking resolve failed", "error", err)
		response.JSON(w, http.StatusInternalServerError, trackResponse{Error: "Internal error"})
	}
}
