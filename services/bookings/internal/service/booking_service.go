package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/citizen-portal/pkg/config"
	"github.com/diagnosis/citizen-portal/pkg/events"
	"github.com/diagnosis/citizen-portal/pkg/logger"
	"github.com/diagnosis/citizen-portal/pkg/utils"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/domain"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/repository"
)

const referenceAttempts = 3

type BookingService interface {
	// Create returns replayed=true when the idempotency key matched an earlier booking.
	Create(ctx context.Context, req *domain.CreateBookingReq, idempotencyKey string) (b *domain.Booking, replayed bool, err error)
	Get(ctx context.Context, id int64) (*domain.Booking, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Booking, error)
	ChangeStatus(ctx context.Context, id int64, to domain.BookingStatus, note string, actorID int64) (*domain.Booking, error)
	Stats(ctx context.Context, tenant string) (map[domain.BookingStatus]int, error)
	Availability(ctx context.Context, tenant, service, date string) ([]domain.Slot, error)
}

type bookingService struct {
	bookingRepo     repository.BookingRepository
	idempotencyRepo repository.IdempotencyRepository
	eventBus        events.Publisher
	availability    domain.Availability
	defaultTenant   string
	now             func() time.Time
}

func NewBookingService(
	bookingRepo repository.BookingRepository,
	idempotencyRepo repository.IdempotencyRepository,
	eventBus events.Publisher,
	cfg *config.Config,
	opts ...Option,
) BookingService {
	s := &bookingService{
		bookingRepo:     bookingRepo,
		idempotencyRepo: idempotencyRepo,
		eventBus:        eventBus,
		availability:    domain.NewAvailability(cfg.Portal.AvailabilityPercent, cfg.Portal.SlotLength, cfg.Portal.Location()),
		defaultTenant:   cfg.Portal.DefaultTenant,
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type Option func(*bookingService)

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *bookingService) { s.now = now }
}

func (s *bookingService) Create(ctx context.Context, req *domain.CreateBookingReq, idempotencyKey string) (*domain.Booking, bool, error) {
	if err := s.normalizeAndValidate(req); err != nil {
		return nil, false, err
	}

	fingerprint := req.Fingerprint()
	if idempotencyKey != "" {
		rec, err := s.idempotencyRepo.Lookup(ctx, idempotencyKey)
		if err != nil {
			return nil, false, fmt.Errorf("idempotency check failed: %w", err)
		}
		if rec != nil {
			if rec.RequestHash != fingerprint {
				return nil, false, domain.ErrIdempotencyReused
			}
			b, err := s.Get(ctx, rec.BookingID)
			return b, err == nil, err
		}
	}

	if !s.availability.Bookable(req.Tenant, req.Service, req.ScheduledAt, s.now()) {
		return nil, false, domain.ErrSlotUnavailable
	}

	in := &domain.Booking{
		Tenant:      req.Tenant,
		Service:     req.Service,
		Office:      req.Office,
		Name:        req.Name,
		Email:       req.Email,
		Phone:       req.Phone,
		ScheduledAt: req.ScheduledAt.UTC(),
		Notes:       req.Notes,
	}

	var booking *domain.Booking
	for attempt := 0; attempt < referenceAttempts; attempt++ {
		ref, err := domain.NewReference()
		if err != nil {
			return nil, false, err
		}
		in.Reference = ref
		booking, err = s.bookingRepo.Create(ctx, in)
		if errors.Is(err, domain.ErrDuplicateRef) {
			continue
		}
		if err != nil {
			if errors.Is(err, domain.ErrSlotUnavailable) {
				return nil, false, err
			}
			return nil, false, fmt.Errorf("failed to create booking: %w", err)
		}
		break
	}
	if booking == nil {
		return nil, false, fmt.Errorf("failed to create booking: %w", domain.ErrDuplicateRef)
	}

	if idempotencyKey != "" {
		if err := s.idempotencyRepo.Store(ctx, idempotencyKey, fingerprint, booking.ID); err != nil {
			logger.ErrorContext(ctx, "Failed to store idempotency record", "error", err, "booking_id", booking.ID)
		}
	}

	event := events.BookingCreatedEvent{
		BookingID:   booking.ID,
		Reference:   booking.Reference,
		Tenant:      booking.Tenant,
		Email:       booking.Email,
		Name:        booking.Name,
		Service:     booking.Service,
		Office:      booking.Office,
		ScheduledAt: booking.ScheduledAt,
		CreatedAt:   booking.CreatedAt,
	}
	if err := s.eventBus.Publish(ctx, events.BookingCreated, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish booking created event", "error", err, "booking_id", booking.ID)
	}

	logger.InfoContext(ctx, "Booking created", "booking_id", booking.ID, "tenant", booking.Tenant, "service", booking.Service)
	return booking, false, nil
}

func (s *bookingService) Get(ctx context.Context, id int64) (*domain.Booking, error) {
	b, err := s.bookingRepo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	if b == nil {
		return nil, domain.ErrNotFound
	}
	return b, nil
}

func (s *bookingService) List(ctx context.Context, filter domain.ListFilter) ([]domain.Booking, error) {
	return s.bookingRepo.List(ctx, filter)
}

func (s *bookingService) ChangeStatus(ctx context.Context, id int64, to domain.BookingStatus, note string, actorID int64) (*domain.Booking, error) {
	existing, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !domain.CanTransition(existing.Status, to) {
		return nil, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, existing.Status, to)
	}

	note = strings.TrimSpace(note)
	updated, err := s.bookingRepo.UpdateStatus(ctx, id, existing.Status, to, note)
	if err != nil {
		return nil, fmt.Errorf("failed to update booking status: %w", err)
	}
	if updated == nil {
		// Status moved underneath us.
		return nil, fmt.Errorf("%w: booking changed concurrently", domain.ErrInvalidTransition)
	}

	event := events.BookingStatusChangedEvent{
		BookingID: updated.ID,
		Reference: updated.Reference,
		Email:     updated.Email,
		Name:      updated.Name,
		From:      string(existing.Status),
		To:        string(updated.Status),
		Note:      note,
		ChangedBy: actorID,
		ChangedAt: updated.UpdatedAt,
	}
	if err := s.eventBus.Publish(ctx, events.BookingStatusChanged, event); err != nil {
		logger.ErrorContext(ctx, "Failed to publish status changed event", "error", err, "booking_id", updated.ID)
	}

	logger.InfoContext(ctx, "Booking status changed", "booking_id", updated.ID, "from", existing.Status, "to", updated.Status)
	return updated, nil
}

func (s *bookingService) Stats(ctx context.Context, tenant string) (map[domain.BookingStatus]int, error) {
	return s.bookingRepo.CountByStatus(ctx, strings.TrimSpace(tenant))
}

func (s *bookingService) Availability(ctx context.Context, tenant, service, date string) ([]domain.Slot, error) {
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		tenant = s.defaultTenant
	}
	service = strings.TrimSpace(service)
	if service == "" {
		return nil, &domain.ValidationError{Field: "service", Message: "is required"}
	}
	day, err := s.availability.ParseDate(date)
	if err != nil {
		return nil, &domain.ValidationError{Field: "date", Message: "must be YYYY-MM-DD"}
	}

	booked, err := s.bookingRepo.BookedSlots(ctx, tenant, service, day, day.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("failed to load booked slots: %w", err)
	}
	return s.availability.Slots(tenant, service, day, s.now(), booked), nil
}

func (s *bookingService) normalizeAndValidate(req *domain.CreateBookingReq) error {
	req.Tenant = strings.TrimSpace(req.Tenant)
	if req.Tenant == "" {
		req.Tenant = s.defaultTenant
	}
	req.Service = strings.TrimSpace(req.Service)
	req.Office = strings.TrimSpace(req.Office)
	req.Name = strings.TrimSpace(req.Name)
	req.Email = utils.NormalizeEmail(req.Email)
	req.Phone = utils.NormalizePhone(req.Phone)
	req.Notes = strings.TrimSpace(req.Notes)

	switch {
	case req.Service == "":
		return &domain.ValidationError{Field: "service", Message: "is required"}
	case req.Office == "":
		return &domain.ValidationError{Field: "office", Message: "is required"}
	case req.Name == "":
		return &domain.ValidationError{Field: "name", Message: "is required"}
	case !utils.IsValidEmail(req.Email):
		return &domain.ValidationError{Field: "email", Message: "must be a valid email address"}
	case req.Phone != "" && !utils.IsValidPhone(req.Phone):
		return &domain.ValidationError{Field: "phone", Message: "must be a valid phone number"}
	case len(req.Notes) > domain.MaxNotesLength:
		return &domain.ValidationError{Field: "notes", Message: fmt.Sprintf("must be at most %d characters", domain.MaxNotesLength)}
	case req.ScheduledAt.IsZero():
		return &domain.ValidationError{Field: "scheduled_at", Message: "is required"}
	}
	return nil
}
