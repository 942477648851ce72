package handlers_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/citizen-portal/pkg/config"
	"github.com/diagnosis/citizen-portal/pkg/tracking"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/domain"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/handlers"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/repository"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/service"
)

const (
	trackingSecret = "test-tracking-secret"
	jwtSecret      = "test-jwt-secret"
	siteURL        = "https://portal.example.gov"
)

// Sunday 6 January 2030, noon UTC.
var testNow = time.Date(2030, 1, 6, 12, 0, 0, 0, time.UTC)

type fixture struct {
	repo     *mockBookingRepo
	idem     *mockIdempotencyRepo
	bus      *mockPublisher
	notifier *mockNotifier
	limiter  *mockLimiter
	signer   *tracking.Signer
	clock    time.Time
	router   http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     newMockBookingRepo(testNow),
		idem:     &mockIdempotencyRepo{keys: map[string]repository.IdempotencyRecord{}},
		bus:      &mockPublisher{},
		notifier: &mockNotifier{},
		limiter:  &mockLimiter{deny: map[string]bool{}},
		clock:    testNow,
	}

	signer, err := tracking.NewSigner(trackingSecret, 15*time.Minute)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	f.signer = signer.WithClock(func() time.Time { return f.clock })

	cfg := &config.Config{Portal: config.PortalConfig{
		DefaultTenant:       "springfield",
		Timezone:            "UTC",
		AvailabilityPercent: 100,
		SlotLength:          30 * time.Minute,
	}}
	bookingService := service.NewBookingService(f.repo, f.idem, f.bus, cfg, service.WithClock(func() time.Time { return f.clock }))
	trackingService := service.NewTrackingService(f.repo, f.signer, f.notifier, f.limiter, siteURL)

	r := chi.NewRouter()
	handlers.New(bookingService, trackingService).Routes(r, jwtSecret, nil)
	f.router = r
	return f
}

func (f *fixture) seed() *domain.Booking {
	return f.repo.add(domain.Booking{
		Reference:   "SL-ABC234",
		Tenant:      "springfield",
		Service:     "passport",
		Office:      "City Hall",
		Status:      domain.BookingConfirmed,
		Name:        "Jane Doe",
		Email:       "jane@example.org",
		Phone:       "+15550100",
		Notes:       "wheelchair access",
		ScheduledAt: time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC),
	})
}

func (f *fixture) do(method, target string, body any, header map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	switch v := body.(type) {
	case nil:
	case string:
		buf.WriteString(v)
	default:
		_ = json.NewEncoder(&buf).Encode(v)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.RemoteAddr = "203.0.113.9:5555"
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	u, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse link %q: %v", link, err)
	}
	return u.Query().Get("token")
}

// ---------- POST /track/request ----------

func TestRequestTrackingLinkSendsOnMatch(t *testing.T) {
	f := newFixture(t)
	f.seed()

	rec := f.do(http.MethodPost, "/track/request", map[string]string{
		"booking_code": " sl-abc234 ",
		"email":        "JANE@example.org ",
	}, nil)

	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"ok":true}` {
		t.Fatalf("response = %d %s", rec.Code, rec.Body.String())
	}
	if len(f.notifier.sent) != 1 {
		t.Fatalf("sent %d links, want 1", len(f.notifier.sent))
	}
	sent := f.notifier.sent[0]
	if sent.email != "jane@example.org" || !strings.HasPrefix(sent.link, siteURL+"/track?token=") {
		t.Errorf("sent = %+v", sent)
	}
	ref, err := f.signer.Verify(tokenFromLink(t, sent.link))
	if err != nil || ref != "SL-ABC234" {
		t.Errorf("link token resolves to %q, %v", ref, err)
	}
}

func TestRequestTrackingLinkExpiryFollowsSignerClock(t *testing.T) {
	f := newFixture(t)
	f.seed()

	f.do(http.MethodPost, "/track/request", map[string]string{
		"booking_code": "SL-ABC234",
		"email":        "jane@example.org",
	}, nil)
	if len(f.notifier.sent) != 1 {
		t.Fatalf("sent %d links, want 1", len(f.notifier.sent))
	}
	sent := f.notifier.sent[0]

	want := testNow.Add(15 * time.Minute)
	if !sent.expiresAt.Equal(want) {
		t.Errorf("email expiry = %v, want %v", sent.expiresAt, want)
	}
	p, err := tracking.Decode(tokenFromLink(t, sent.link), []byte(trackingSecret))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if p.ExpiresAtEpochSeconds != sent.expiresAt.Unix() {
		t.Errorf("token exp = %d, email expiry = %d", p.ExpiresAtEpochSeconds, sent.expiresAt.Unix())
	}
}

func TestRequestTrackingLinkIsEnumerationResistant(t *testing.T) {
	tests := []struct {
		name  string
		body  any
		setup func(f *fixture)
	}{
		{"matching", map[string]string{"booking_code": "SL-ABC234", "email": "jane@example.org"}, nil},
		{"wrong email", map[string]string{"booking_code": "SL-ABC234", "email": "mallory@example.org"}, nil},
		{"unknown code", map[string]string{"booking_code": "SL-ZZZZZZ", "email": "jane@example.org"}, nil},
		{"invalid json", `{"booking_code":`, nil},
		{"empty body", "", nil},
		{"missing fields", map[string]string{}, nil},
		{"store error", map[string]string{"booking_code": "SL-ABC234", "email": "jane@example.org"},
			func(f *fixture) { f.repo.err = errors.New("db down") }},
		{"rate limited", map[string]string{"booking_code": "SL-ABC234", "email": "jane@example.org"},
			func(f *fixture) { f.limiter.deny["track:email:jane@example.org"] = true }},
		{"delivery failure", map[string]string{"booking_code": "SL-ABC234", "email": "jane@example.org"},
			func(f *fixture) { f.notifier.err = errors.New("nats down") }},
	}

	var want string
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.seed()
			if tt.setup != nil {
				tt.setup(f)
			}
			rec := f.do(http.MethodPost, "/track/request", tt.body, nil)
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if want == "" {
				want = rec.Body.String()
			}
			if rec.Body.String() != want {
				t.Errorf("body = %q, want %q", rec.Body.String(), want)
			}
		})
	}
}

func TestRequestTrackingLinkOnlyDeliversToOwner(t *testing.T) {
	f := newFixture(t)
	f.seed()

	f.do(http.MethodPost, "/track/request", map[string]string{"booking_code": "SL-ABC234", "email": "mallory@example.org"}, nil)
	f.do(http.MethodPost, "/track/request", map[string]string{"booking_code": "SL-ZZZZZZ", "email": "jane@example.org"}, nil)

	if len(f.notifier.sent) != 0 {
		t.Errorf("sent %d links to non-owners", len(f.notifier.sent))
	}
	if f.repo.lookups != 2 {
		t.Errorf("lookups = %d, want one per request", f.repo.lookups)
	}
}

func TestRequestTrackingLinkRateLimitsByEmailAndIP(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.limiter.deny["track:ip:203.0.113.9"] = true

	f.do(http.MethodPost, "/track/request", map[string]string{"booking_code": "SL-ABC234", "email": "jane@example.org"}, nil)

	if len(f.notifier.sent) != 0 {
		t.Error("link sent despite ip limit")
	}
	if len(f.limiter.keys) != 2 || f.limiter.keys[0] != "track:email:jane@example.org" {
		t.Errorf("limiter keys = %v", f.limiter.keys)
	}
	if f.repo.lookups != 0 {
		t.Error("limited request still hit the store")
	}
}

// ---------- GET /track ----------

type trackBody struct {
	OK      bool           `json:"ok"`
	Error   string         `json:"error"`
	Booking map[string]any `json:"booking"`
}

func decodeTrack(t *testing.T, rec *httptest.ResponseRecorder) trackBody {
	t.Helper()
	var body trackBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return body
}

func TestResolveTrackingSuccess(t *testing.T) {
	f := newFixture(t)
	f.seed()
	token, err := f.signer.Issue("SL-ABC234")
	if err != nil {
		t.Fatal(err)
	}

	rec := f.do(http.MethodGet, "/track?token="+url.QueryEscape(token), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	body := decodeTrack(t, rec)
	if !body.OK || body.Booking["reference"] != "SL-ABC234" || body.Booking["status"] != "confirmed" || body.Booking["office"] != "City Hall" {
		t.Errorf("body = %+v", body)
	}
	for _, secret := range []string{"jane@example.org", "+15550100", "wheelchair"} {
		if strings.Contains(rec.Body.String(), secret) {
			t.Errorf("response leaks %q", secret)
		}
	}
}

func TestResolveTrackingErrors(t *testing.T) {
	f := newFixture(t)
	f.seed()

	valid, _ := f.signer.Issue("SL-ABC234")
	expired, _ := tracking.IssueAt("SL-ABC234", 15*time.Minute, []byte(trackingSecret), testNow.Add(-15*time.Minute))
	foreign, _ := tracking.IssueAt("SL-ABC234", 15*time.Minute, []byte("other-secret"), testNow)
	gone, _ := f.signer.Issue("SL-GONE99")

	tests := []struct {
		name   string
		target string
		setup  func(f *fixture)
		status int
		errMsg string
	}{
		{"missing token", "/track", nil, http.StatusBadRequest, "Missing token"},
		{"empty token", "/track?token=", nil, http.StatusBadRequest, "Missing token"},
		{"garbage", "/track?token=not-a-token", nil, http.StatusUnauthorized, "Invalid token"},
		{"two dots", "/track?token=a.b.c", nil, http.StatusUnauthorized, "Invalid token"},
		{"wrong secret", "/track?token=" + foreign, nil, http.StatusUnauthorized, "Invalid token"},
		{"tampered", "/track?token=x" + valid, nil, http.StatusUnauthorized, "Invalid token"},
		{"expired at boundary", "/track?token=" + expired, nil, http.StatusUnauthorized, "Expired token"},
		{"booking deleted", "/track?token=" + gone, nil, http.StatusNotFound, "Booking not found"},
		{"store error", "/track?token=" + valid, func(f *fixture) { f.repo.err = errors.New("db down") },
			http.StatusInternalServerError, "Internal error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup(f)
				defer func() { f.repo.err = nil }()
			}
			rec := f.do(http.MethodGet, tt.target, nil, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tt.status, rec.Body.String())
			}
			body := decodeTrack(t, rec)
			if body.OK || body.Error != tt.errMsg {
				t.Errorf("body = %+v, want error %q", body, tt.errMsg)
			}
		})
	}
}

func TestResolveTrackingExpiryBoundary(t *testing.T) {
	f := newFixture(t)
	f.seed()
	f.clock = time.Unix(1_700_000_000, 0)
	token, err := f.signer.Issue("SL-ABC234")
	if err != nil {
		t.Fatal(err)
	}

	f.clock = time.Unix(1_700_000_899, 0)
	if rec := f.do(http.MethodGet, "/track?token="+token, nil, nil); rec.Code != http.StatusOK {
		t.Errorf("one second before expiry: status = %d", rec.Code)
	}

	f.clock = time.Unix(1_700_000_900, 0)
	rec := f.do(http.MethodGet, "/track?token="+token, nil, nil)
	if rec.Code != http.StatusUnauthorized || decodeTrack(t, rec).Error != "Expired token" {
		t.Errorf("at expiry: %d %s", rec.Code, rec.Body.String())
	}
}

func TestEmailedLinkResolves(t *testing.T) {
	f := newFixture(t)
	f.seed()

	f.do(http.MethodPost, "/track/request", map[string]string{"booking_code": "SL-ABC234", "email": "jane@example.org"}, nil)
	if len(f.notifier.sent) != 1 {
		t.Fatalf("sent %d links", len(f.notifier.sent))
	}
	link := f.notifier.sent[0].link
	path := strings.TrimPrefix(link, siteURL)

	rec := f.do(http.MethodGet, path, nil, nil)
	if rec.Code != http.StatusOK || decodeTrack(t, rec).Booking["reference"] != "SL-ABC234" {
		t.Errorf("resolve = %d %s", rec.Code, rec.Body.String())
	}
}
