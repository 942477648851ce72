package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/diagnosis/citizen-portal/pkg/auth"
	"github.com/diagnosis/citizen-portal/pkg/response"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/domain"
	"github.com/go-chi/chi/v5"
)

// ListBookings handles the officer review queue
func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	claims := auth.ClaimsFrom(r.Context())
	limit, offset := parsePagination(r)

	filter := domain.ListFilter{
		Tenant: scopedTenant(claims, r.URL.Query().Get("tenant")),
		Limit:  limit,
		Offset: offset,
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, ok := domain.ParseBookingStatus(raw)
		if !ok {
			response.BadRequest(w, "Invalid status parameter")
			return
		}
		filter.Status = &st
	}

	bookings, err := h.bookingService.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, bookings)
}

// GetBooking handles getting a single booking for officers
func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	booking, ok := h.loadScoped(w, r)
	if !ok {
		return
	}
	response.JSON(w, http.StatusOK, booking)
}

// ChangeStatus moves a booking along its review workflow.
func (h *Handlers) ChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.StatusChangeReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}
	to, ok := domain.ParseBookingStatus(req.Status)
	if !ok {
		response.BadRequest(w, "Invalid status")
		return
	}

	booking, ok := h.loadScoped(w, r)
	if !ok {
		return
	}

	claims := auth.ClaimsFrom(r.Context())
	updated, err := h.bookingService.ChangeStatus(r.Context(), booking.ID, to, req.Note, claims.Sub)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, updated)
}

// loadScoped fetches the {id} booking, hiding other tenants' bookings from
// tenant-bound officers.
func (h *Handlers) loadScoped(w http.ResponseWriter, r *http.Request) (*domain.Booking, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		response.BadRequest(w, "Invalid booking ID")
		return nil, false
	}

	booking, err := h.bookingService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return nil, false
	}

	claims := auth.ClaimsFrom(r.Context())
	if tenant := scopedTenant(claims, booking.Tenant); tenant != booking.Tenant {
		response.NotFound(w, "Booking not found")
		return nil, false
	}
	return booking, true
}

// Stats returns booking counts per status for the admin dashboard.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	counts, err := h.bookingService.Stats(r.Context(), tenant)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"tenant":    tenant,
		"total":     total,
		"by_status": counts,
	})
}

// scopedTenant pins officers bound to a tenant; admins and unbound officers
// may pick any tenant.
func scopedTenant(claims *auth.Claims, requested string) string {
	if claims != nil && claims.Role == auth.RoleOfficer && claims.Tenant != "" {
		return claims.Tenant
	}
	return requested
}
