package handlers

import (
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/diagnosis/citizen-portal/pkg/logger"
	"github.com/diagnosis/citizen-portal/pkg/response"
	"github.com/diagnosis/citizen-portal/services/gateway/internal/proxy"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

type Handlers struct {
	authProxy     *proxy.ServiceProxy
	bookingsProxy *proxy.ServiceProxy
	paymentsProxy *proxy.ServiceProxy
}

func New(authProxy, bookingsProxy, paymentsProxy *proxy.ServiceProxy) *Handlers {
	return &Handlers{
		authProxy:     authProxy,
		bookingsProxy: bookingsProxy,
		paymentsProxy: paymentsProxy,
	}
}

// Routes mounts the public /v1 API. Authorization is enforced by the
// upstream services; the gateway only forwards.
func (h *Handlers) Routes(r chi.Router) {
	r.Route("/v1", func(r chi.Router) {
		auth := h.forward(h.authProxy, "/v1/auth")
		r.Post("/auth/login", auth)
		r.Get("/auth/me", auth)
		r.Get("/auth/admin/staff", auth)
		r.Post("/auth/admin/staff", auth)

		bookings := h.forward(h.bookingsProxy, "/v1")
		r.Get("/availability", bookings)
		r.Post("/bookings", bookings)
		r.Post("/track/request", bookings)
		r.Get("/track", bookings)
		r.HandleFunc("/officer/*", bookings)
		r.Get("/admin/stats", bookings)

		r.HandleFunc("/payments/*", h.forward(h.paymentsProxy, "/v1"))
	})
}

func (h *Handlers) forward(p *proxy.ServiceProxy, prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, prefix)
		if path == "" {
			path = "/"
		}
		if r.URL.RawQuery != "" {
			path += "?" + r.URL.RawQuery
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			response.BadRequest(w, "Failed to read request body")
			return
		}

		header := r.Header.Clone()
		// The gateway is the edge, so the peer address is the client.
		if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			header.Set("X-Forwarded-For", ip)
			header.Set("X-Real-IP", ip)
		}

		resp, err := p.ProxyRequest(r.Context(), r.Method, path, body, header)
		if err != nil {
			logger.ErrorContext(r.Context(), "Service proxy error", "error", err, "service", p.Name())
			response.WriteError(w, http.StatusBadGateway, "Service unavailable", response.CodeInternalError)
			return
		}
		defer resp.Body.Close()

		if err := proxy.CopyResponse(w, resp); err != nil {
			logger.ErrorContext(r.Context(), "Failed to copy response body", "error", err, "service", p.Name())
		}
	}
}
