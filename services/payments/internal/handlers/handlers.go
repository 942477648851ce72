package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/diagnosis/citizen-portal/pkg/auth"
	"github.com/diagnosis/citizen-portal/pkg/logger"
	"github.com/diagnosis/citizen-portal/pkg/response"
	"github.com/diagnosis/citizen-portal/services/payments/internal/domain"
	"github.com/diagnosis/citizen-portal/services/payments/internal/gateway"
	"github.com/diagnosis/citizen-portal/services/payments/internal/service"
	"github.com/go-chi/chi/v5"
)

const (
	maxBodyBytes    = 16 << 10
	maxWebhookBytes = 64 << 10
)

type Handlers struct {
	paymentService service.PaymentService
	webhook        gateway.WebhookParser
}

// New wires the handlers. A nil webhook parser rejects every callback.
func New(paymentService service.PaymentService, webhook gateway.WebhookParser) *Handlers {
	return &Handlers{paymentService: paymentService, webhook: webhook}
}

// Routes mounts the payment endpoints. Payment records carry citizen
// emails, so reading one needs a staff token.
func (h *Handlers) Routes(r chi.Router, jwtSecret string) {
	r.Route("/payments", func(r chi.Router) {
		r.Post("/tax", h.PayTax)
		r.Post("/webhook", h.Webhook)
		r.With(auth.RequireRole(jwtSecret, auth.RoleOfficer)).Get("/{id}", h.GetPayment)
	})
}

// PayTax opens a payment intent for a local tax bill.
func (h *Handlers) PayTax(w http.ResponseWriter, r *http.Request) {
	var req domain.TaxPaymentReq
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		response.BadRequest(w, "Invalid JSON format")
		return
	}

	res, err := h.paymentService.PayTax(r.Context(), &req, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusCreated, res)
}

func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(w, "Invalid payment ID")
		return
	}
	p, err := h.paymentService.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	response.JSON(w, http.StatusOK, p)
}

// Webhook receives provider callbacks. Signature failures return 400 so the
// provider retries; handled and ignored events both return 200.
func (h *Handlers) Webhook(w http.ResponseWriter, r *http.Request) {
	if h.webhook == nil {
		response.WriteError(w, http.StatusServiceUnavailable, "Payments are not configured", response.CodePaymentsDisabled)
		return
	}
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		response.BadRequest(w, "Unreadable body")
		return
	}

	ev, err := h.webhook.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		logger.WarnContext(r.Context(), "Rejected webhook", "error", err)
		response.BadRequest(w, "Invalid webhook")
		return
	}
	if ev != nil {
		if err := h.paymentService.HandleEvent(r.Context(), ev); err != nil {
			writeServiceError(w, r, err)
			return
		}
	}
	response.JSON(w, http.StatusOK, map[string]bool{"received": true})
}

func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		response.WriteErrorWithDetails(w, http.StatusBadRequest, "Invalid request", response.CodeInvalidInput, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		response.NotFound(w, "Payment not found")
	case errors.Is(err, domain.ErrPaymentsDisabled):
		response.WriteError(w, http.StatusServiceUnavailable, "Payments are not configured", response.CodePaymentsDisabled)
	case errors.Is(err, domain.ErrProviderDown):
		response.WriteError(w, http.StatusBadGateway, "Payment provider unavailable", response.CodeInternalError)
	default:
		logger.ErrorContext(r.Context(), "Request failed", "error", err, "path", r.URL.Path)
		response.InternalError(w, "Internal error")
	}
}
