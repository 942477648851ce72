package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/diagnosis/citizen-portal/pkg/response"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/domain"
)

// CreateBooking handles citizen booking creation
func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateBookingReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	booking, replayed, err := h.bookingService.Create(r.Context(), &req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	status := http.StatusCreated
	if replayed {
		status = http.StatusOK
	}
	response.JSON(w, status, domain.CreateBookingRes{
		ID:          booking.ID,
		Reference:   booking.Reference,
		Status:      string(booking.Status),
		ScheduledAt: booking.ScheduledAt,
	})
}

// Availability lists the slot grid for one service on one day.
func (h *Handlers) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("date") == "" {
		response.BadRequest(w, "date is required")
		return
	}

	slots, err := h.bookingService.Availability(r.Context(), q.Get("tenant"), q.Get("service"), q.Get("date"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"date":  q.Get("date"),
		"slots": slots,
	})
}
