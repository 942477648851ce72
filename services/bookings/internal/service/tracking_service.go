package service

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/citizen-portal/pkg/logger"
	"github.com/diagnosis/citizen-portal/pkg/ratelimit"
	"github.com/diagnosis/citizen-portal/pkg/tracking"
	"github.com/diagnosis/citizen-portal/pkg/utils"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/domain"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/repository"
)

// Notifier delivers a tracking link to the citizen who owns the booking.
type Notifier interface {
	SendTrackingLink(ctx context.Context, b *domain.Booking, link string, expiresAt time.Time) error
}

type TrackingService interface {
	// RequestLink never reports whether the booking exists or the email matched.
	RequestLink(ctx context.Context, reference, email, clientIP string)
	// Resolve verifies token and loads its booking. Errors are tracking
	// sentinels, domain.ErrNotFound, or wrapped store errors.
	Resolve(ctx context.Context, token string) (*domain.Booking, error)
}

type trackingService struct {
	bookingRepo repository.BookingRepository
	signer      *tracking.Signer
	notifier    Notifier
	limiter     ratelimit.Limiter
	siteURL     string
}

func NewTrackingService(
	bookingRepo repository.BookingRepository,
	signer *tracking.Signer,
	notifier Notifier,
	limiter ratelimit.Limiter,
	siteURL string,
) TrackingService {
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	return &trackingService{
		bookingRepo: bookingRepo,
		signer:      signer,
		notifier:    notifier,
		limiter:     limiter,
		siteURL:     siteURL,
	}
}

func (s *trackingService) RequestLink(ctx context.Context, reference, email, clientIP string) {
	reference = domain.NormalizeReference(reference)
	email = utils.NormalizeEmail(email)
	if reference == "" || email == "" {
		return
	}

	if !s.allow(ctx, "track:email:"+email) || (clientIP != "" && !s.allow(ctx, "track:ip:"+clientIP)) {
		logger.InfoContext(ctx, "Tracking link request rate limited", "email", logger.MaskEmail(email))
		return
	}

	booking, err := s.bookingRepo.GetByReference(ctx, reference)
	if err != nil {
		logger.ErrorContext(ctx, "Tracking lookup failed", "error", err)
		return
	}

	// Mint on every path so a hit costs the same as a miss.
	token, expiresAt, err := s.signer.IssueExpiring(reference)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to issue tracking token", "error", err)
		return
	}

	if booking == nil || !utils.EmailsMatch(booking.Email, email) {
		return
	}

	link := tracking.Link(s.siteURL, token)
	if err := s.notifier.SendTrackingLink(ctx, booking, link, expiresAt); err != nil {
		logger.ErrorContext(ctx, "Failed to deliver tracking link", "error", err, "booking_id", booking.ID)
		return
	}
	logger.InfoContext(ctx, "Tracking link sent", "booking_id", booking.ID, "email", logger.MaskEmail(email))
}

func (s *trackingService) allow(ctx context.Context, key string) bool {
	ok, err := s.limiter.Allow(ctx, key)
	if err != nil {
		logger.WarnContext(ctx, "Rate limiter unavailable", "error", err)
	}
	return ok
}

func (s *trackingService) Resolve(ctx context.Context, token string) (*domain.Booking, error) {
	reference, err := s.signer.Verify(token)
	if err != nil {
		return nil, err
	}

	booking, err := s.bookingRepo.GetByReference(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking: %w", err)
	}
	if booking == nil {
		return nil, domain.ErrNotFound
	}
	return booking, nil
}
