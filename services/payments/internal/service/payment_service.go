package service

import (
	"context"
	"fmt"
	"time"

	"github.com/diagnosis/citizen-portal/pkg/events"
	"github.com/diagnosis/citizen-portal/pkg/logger"
	"github.com/diagnosis/citizen-portal/services/payments/internal/domain"
	"github.com/diagnosis/citizen-portal/services/payments/internal/gateway"
	"github.com/diagnosis/citizen-portal/services/payments/internal/repository"
)

type PaymentService interface {
	PayTax(ctx context.Context, req *domain.TaxPaymentReq, idempotencyKey string) (*domain.TaxPaymentRes, error)
	Get(ctx context.Context, id int64) (*domain.Payment, error)
	// HandleEvent applies a verified provider event. Unknown intents and
	// repeated deliveries are ignored.
	HandleEvent(ctx context.Context, ev *domain.WebhookEvent) error
}

type paymentService struct {
	repo          repository.PaymentRepository
	intents       gateway.IntentCreator
	eventBus      events.Publisher
	defaultTenant string
	now           func() time.Time
}

// NewPaymentService builds the service. A nil intents creator disables
// new payments while lookups and webhooks keep working.
func NewPaymentService(repo repository.PaymentRepository, intents gateway.IntentCreator, eventBus events.Publisher, defaultTenant string) PaymentService {
	return &paymentService{
		repo:          repo,
		intents:       intents,
		eventBus:      eventBus,
		defaultTenant: defaultTenant,
		now:           time.Now,
	}
}

func (s *paymentService) PayTax(ctx context.Context, req *domain.TaxPaymentReq, idempotencyKey string) (*domain.TaxPaymentRes, error) {
	if s.intents == nil {
		return nil, domain.ErrPaymentsDisabled
	}
	req.Normalize(s.defaultTenant)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	intent, err := s.intents.CreateIntent(ctx, domain.IntentRequest{
		AmountCents:    req.AmountCents,
		Currency:       req.Currency,
		Email:          req.Email,
		Description:    fmt.Sprintf("%s tax %s", req.TaxType, req.Reference),
		IdempotencyKey: idempotencyKey,
		Metadata: map[string]string{
			"tenant":    req.Tenant,
			"tax_type":  req.TaxType,
			"reference": req.Reference,
		},
	})
	if err != nil {
		return nil, err
	}

	// A replayed idempotency key yields the same intent; return the stored row.
	if existing, err := s.repo.GetByIntentID(ctx, intent.ID); err != nil {
		return nil, fmt.Errorf("failed to look up payment: %w", err)
	} else if existing != nil {
		return &domain.TaxPaymentRes{ID: existing.ID, IntentID: intent.ID, ClientSecret: intent.ClientSecret, Status: string(existing.Status)}, nil
	}

	p, err := s.repo.Create(ctx, &domain.Payment{
		Tenant:      req.Tenant,
		TaxType:     req.TaxType,
		Reference:   req.Reference,
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Email:       req.Email,
		IntentID:    intent.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record payment: %w", err)
	}

	logger.InfoContext(ctx, "Tax payment intent created",
		"payment_id", p.ID,
		"tax_type", p.TaxType,
		"amount_cents", p.AmountCents,
		"email", logger.MaskEmail(p.Email),
	)
	return &domain.TaxPaymentRes{ID: p.ID, IntentID: intent.ID, ClientSecret: intent.ClientSecret, Status: string(p.Status)}, nil
}

func (s *paymentService) Get(ctx context.Context, id int64) (*domain.Payment, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (s *paymentService) HandleEvent(ctx context.Context, ev *domain.WebhookEvent) error {
	p, err := s.repo.UpdateStatusByIntent(ctx, ev.IntentID, ev.Status, ev.FailureMsg)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", err)
	}
	if p == nil {
		logger.InfoContext(ctx, "Ignoring webhook for unknown or settled intent", "event_id", ev.ID, "intent_id", ev.IntentID)
		return nil
	}

	subject := events.PaymentCaptured
	if p.Status == domain.PaymentFailed {
		subject = events.PaymentFailed
	}
	payload := events.PaymentEvent{
		PaymentID:   p.ID,
		IntentID:    p.IntentID,
		Tenant:      p.Tenant,
		Reference:   p.Reference,
		TaxType:     p.TaxType,
		Email:       p.Email,
		AmountCents: p.AmountCents,
		Currency:    p.Currency,
		OccurredAt:  s.now().UTC(),
	}
	if err := s.eventBus.Publish(ctx, subject, payload); err != nil {
		logger.ErrorContext(ctx, "Failed to publish payment event", "error", err, "payment_id", p.ID)
	}
	logger.InfoContext(ctx, "Payment settled", "payment_id", p.ID, "status", p.Status)
	return nil
}
