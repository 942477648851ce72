package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alexedwards/argon2id"
	"github.com/go-chi/chi/v5"

	"github.com/diagnosis/citizen-portal/pkg/auth"
	"github.com/diagnosis/citizen-portal/pkg/config"
	"github.com/diagnosis/citizen-portal/services/auth/internal/domain"
	"github.com/diagnosis/citizen-portal/services/auth/internal/handlers"
	"github.com/diagnosis/citizen-portal/services/auth/internal/service"
)

const jwtSecret = "test-jwt-secret"

var cheapParams = &argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

// ---------- Mocks ----------

type mockStaffRepo struct {
	nextID int64
	staff  map[int64]*domain.Staff
	err    error
}

func newMockStaffRepo() *mockStaffRepo {
	return &mockStaffRepo{nextID: 1, staff: map[int64]*domain.Staff{}}
}

func (m *mockStaffRepo) seed(t *testing.T, email, password, role, tenant string, active bool) *domain.Staff {
	t.Helper()
	hash, err := argon2id.CreateHash(password, cheapParams)
	if err != nil {
		t.Fatal(err)
	}
	s := &domain.Staff{ID: m.nextID, Email: email, PasswordHash: hash, Name: "Test " + role, Role: role, Tenant: tenant, Active: active}
	m.staff[s.ID] = s
	m.nextID++
	return s
}

func (m *mockStaffRepo) Create(_ context.Context, req *domain.CreateStaffRequest, hash string) (*domain.Staff, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, s := range m.staff {
		if s.Email == req.Email {
			return nil, domain.ErrStaffExists
		}
	}
	s := &domain.Staff{ID: m.nextID, Email: req.Email, PasswordHash: hash, Name: req.Name, Role: req.Role, Tenant: req.Tenant, Active: true}
	m.staff[s.ID] = s
	m.nextID++
	return s, nil
}

func (m *mockStaffRepo) FindByEmail(_ context.Context, email string) (*domain.Staff, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, s := range m.staff {
		if s.Email == email {
			return s, nil
		}
	}
	return nil, nil
}

func (m *mockStaffRepo) FindByID(_ context.Context, id int64) (*domain.Staff, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.staff[id], nil
}

func (m *mockStaffRepo) List(_ context.Context, _, _ int) ([]domain.Staff, error) {
	out := []domain.Staff{}
	for i := int64(1); i < m.nextID; i++ {
		if s, ok := m.staff[i]; ok {
			out = append(out, *s)
		}
	}
	return out, nil
}

func setup(t *testing.T) (*mockStaffRepo, http.Handler) {
	t.Helper()
	repo := newMockStaffRepo()
	svc, err := service.NewAuthService(repo, config.AuthConfig{JWTSecret: jwtSecret, AccessTokenTTL: 15 * time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	r := chi.NewRouter()
	handlers.New(svc).Routes(r, jwtSecret, nil)
	return repo, r
}

func do(h http.Handler, method, target string, body any, token string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ---------- Tests ----------

func TestLogin(t *testing.T) {
	repo, h := setup(t)
	repo.seed(t, "officer@city.gov", "correct horse battery", auth.RoleOfficer, "springfield", true)
	repo.seed(t, "retired@city.gov", "correct horse battery", auth.RoleOfficer, "", false)

	rec := do(h, http.MethodPost, "/login", map[string]string{"email": " Officer@City.gov ", "password": "correct horse battery"}, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d %s", rec.Code, rec.Body.String())
	}
	var res domain.LoginResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatal(err)
	}
	if res.Role != auth.RoleOfficer || res.ExpiresIn != 900 {
		t.Errorf("response = %+v", res)
	}
	claims, err := auth.Parse(res.AccessToken, jwtSecret)
	if err != nil || claims.Tenant != "springfield" || claims.Sub != 1 {
		t.Errorf("claims = %+v, %v", claims, err)
	}

	failures := []map[string]string{
		{"email": "officer@city.gov", "password": "wrong"},
		{"email": "nobody@city.gov", "password": "correct horse battery"},
		{"email": "retired@city.gov", "password": "correct horse battery"},
		{"email": "", "password": ""},
	}
	for _, body := range failures {
		if rec := do(h, http.MethodPost, "/login", body, ""); rec.Code != http.StatusUnauthorized {
			t.Errorf("login %v = %d, want 401", body, rec.Code)
		}
	}
}

func TestLoginStoreError(t *testing.T) {
	repo, h := setup(t)
	repo.err = errors.New("db down")
	if rec := do(h, http.MethodPost, "/login", map[string]string{"email": "a@city.gov", "password": "x"}, ""); rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestMe(t *testing.T) {
	repo, h := setup(t)
	s := repo.seed(t, "officer@city.gov", "correct horse battery", auth.RoleOfficer, "springfield", true)
	tok, _ := auth.NewAccessToken(s.ID, s.Email, s.Role, s.Tenant, jwtSecret, time.Minute)

	rec := do(h, http.MethodGet, "/me", nil, tok)
	var body map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if rec.Code != http.StatusOK || body["email"] != "officer@city.gov" || body["tenant"] != "springfield" {
		t.Errorf("me = %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(h, http.MethodGet, "/me", nil, ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("anonymous me = %d", rec.Code)
	}
}

func TestCreateStaff(t *testing.T) {
	repo, h := setup(t)
	admin := repo.seed(t, "admin@city.gov", "correct horse battery", auth.RoleAdmin, "", true)
	adminTok, _ := auth.NewAccessToken(admin.ID, admin.Email, admin.Role, "", jwtSecret, time.Minute)
	officerTok, _ := auth.NewAccessToken(99, "o@city.gov", auth.RoleOfficer, "", jwtSecret, time.Minute)

	newStaff := map[string]string{"email": "New@City.gov", "password": "a long enough password", "name": "New Officer", "tenant": "springfield"}

	if rec := do(h, http.MethodPost, "/admin/staff", newStaff, officerTok); rec.Code != http.StatusForbidden {
		t.Errorf("officer create = %d, want 403", rec.Code)
	}

	rec := do(h, http.MethodPost, "/admin/staff", newStaff, adminTok)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d %s", rec.Code, rec.Body.String())
	}
	if bytes.Contains(rec.Body.Bytes(), []byte("password")) {
		t.Error("response leaks password hash")
	}

	// The new account can log in.
	if rec := do(h, http.MethodPost, "/login", map[string]string{"email": "new@city.gov", "password": "a long enough password"}, ""); rec.Code != http.StatusOK {
		t.Errorf("new staff login = %d", rec.Code)
	}

	if rec := do(h, http.MethodPost, "/admin/staff", newStaff, adminTok); rec.Code != http.StatusConflict {
		t.Errorf("duplicate = %d, want 409", rec.Code)
	}
	short := map[string]string{"email": "x@city.gov", "password": "short", "name": "X"}
	if rec := do(h, http.MethodPost, "/admin/staff", short, adminTok); rec.Code != http.StatusBadRequest {
		t.Errorf("short password = %d, want 400", rec.Code)
	}
	badRole := map[string]string{"email": "y@city.gov", "password": "a long enough password", "name": "Y", "role": "citizen"}
	if rec := do(h, http.MethodPost, "/admin/staff", badRole, adminTok); rec.Code != http.StatusBadRequest {
		t.Errorf("bad role = %d, want 400", rec.Code)
	}

	rec = do(h, http.MethodGet, "/admin/staff", nil, adminTok)
	var list []domain.Staff
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 2 {
		t.Errorf("list = %d %s", rec.Code, rec.Body.String())
	}
}
