package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/citizen-portal/pkg/auth"
	"github.com/diagnosis/citizen-portal/pkg/utils"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrStaffExists        = errors.New("staff member with this email already exists")
	ErrNotFound           = errors.New("staff member not found")
	ErrValidation         = errors.New("validation failed")
)

const MinPasswordLength = 12

// Staff is an officer or administrator of the portal. Citizens have no accounts.
type Staff struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Role         string    `json:"role"`
	Tenant       string    `json:"tenant"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	Role        string `json:"role"`
}

type CreateStaffRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Tenant   string `json:"tenant"`
}

func IsValidRole(role string) bool {
	return role == auth.RoleOfficer || role == auth.RoleAdmin
}

func (r *LoginRequest) Normalize() {
	r.Email = utils.NormalizeEmail(r.Email)
}

func (r *LoginRequest) Validate() error {
	if r.Email == "" || r.Password == "" {
		return fmt.Errorf("email and password are required")
	}
	return nil
}

func (r *CreateStaffRequest) Normalize() {
	r.Email = utils.NormalizeEmail(r.Email)
	r.Name = strings.TrimSpace(r.Name)
	r.Tenant = strings.TrimSpace(r.Tenant)
	if r.Role == "" {
		r.Role = auth.RoleOfficer
	}
}

func (r *CreateStaffRequest) Validate() error {
	if !utils.IsValidEmail(r.Email) {
		return fmt.Errorf("invalid email format")
	}
	if len(r.Password) < MinPasswordLength {
		return fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	}
	if r.Name == "" {
		return fmt.Errorf("name is required")
	}
	if !IsValidRole(r.Role) {
		return fmt.Errorf("invalid role")
	}
	return nil
}
