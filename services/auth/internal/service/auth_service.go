package service

import (
	"context"
	"fmt"

	"github.com/alexedwards/argon2id"
	"github.com/diagnosis/citizen-portal/pkg/auth"
	"github.com/diagnosis/citizen-portal/pkg/config"
	"github.com/diagnosis/citizen-portal/pkg/logger"
	"github.com/diagnosis/citizen-portal/services/auth/internal/domain"
	"github.com/diagnosis/citizen-portal/services/auth/internal/repository"
)

type AuthService interface {
	Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error)
	GetStaff(ctx context.Context, id int64) (*domain.Staff, error)
	CreateStaff(ctx context.Context, req *domain.CreateStaffRequest) (*domain.Staff, error)
	ListStaff(ctx context.Context, limit, offset int) ([]domain.Staff, error)
}

type authService struct {
	staffRepo repository.StaffRepository
	config    config.AuthConfig
	// dummyHash is compared against when the email is unknown so a miss
	// takes as long as a wrong password.
	dummyHash string
}

func NewAuthService(staffRepo repository.StaffRepository, cfg config.AuthConfig) (AuthService, error) {
	dummy, err := argon2id.CreateHash("not-a-real-password", argon2id.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}
	return &authService{staffRepo: staffRepo, config: cfg, dummyHash: dummy}, nil
}

func (s *authService) Login(ctx context.Context, req *domain.LoginRequest) (*domain.LoginResponse, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	staff, err := s.staffRepo.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to find staff: %w", err)
	}

	hash := s.dummyHash
	if staff != nil {
		hash = staff.PasswordHash
	}
	valid, err := argon2id.ComparePasswordAndHash(req.Password, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to verify password: %w", err)
	}
	if staff == nil || !valid || !staff.Active {
		logger.InfoContext(ctx, "Login failed", "email", logger.MaskEmail(req.Email))
		return nil, domain.ErrInvalidCredentials
	}

	accessToken, err := auth.NewAccessToken(
		staff.ID,
		staff.Email,
		staff.Role,
		staff.Tenant,
		s.config.JWTSecret,
		s.config.AccessTokenTTL,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create access token: %w", err)
	}

	logger.InfoContext(ctx, "Staff logged in", "staff_id", staff.ID, "role", staff.Role)
	return &domain.LoginResponse{
		AccessToken: accessToken,
		ExpiresIn:   int64(s.config.AccessTokenTTL.Seconds()),
		Role:        staff.Role,
	}, nil
}

func (s *authService) GetStaff(ctx context.Context, id int64) (*domain.Staff, error) {
	staff, err := s.staffRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get staff: %w", err)
	}
	if staff == nil {
		return nil, domain.ErrNotFound
	}
	return staff, nil
}

func (s *authService) CreateStaff(ctx context.Context, req *domain.CreateStaffRequest) (*domain.Staff, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}

	passwordHash, err := argon2id.CreateHash(req.Password, argon2id.DefaultParams)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	staff, err := s.staffRepo.Create(ctx, req, passwordHash)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "Staff created", "staff_id", staff.ID, "role", staff.Role)
	return staff, nil
}

func (s *authService) ListStaff(ctx context.Context, limit, offset int) ([]domain.Staff, error) {
	return s.staffRepo.List(ctx, limit, offset)
}
