package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/diagnosis/citizen-portal/services/payments/internal/domain"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

type IntentCreator interface {
	CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.Intent, error)
}

// WebhookParser verifies a provider callback and reduces it to a domain event.
// It returns (nil, nil) for event types the portal ignores.
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*domain.WebhookEvent, error)
}

type StripeGateway struct {
	client *client.API
}

func NewStripeGateway(apiKey string) *StripeGateway {
	sc := &client.API{}
	sc.Init(apiKey, nil)
	return &StripeGateway{client: sc}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:       stripe.Int64(req.AmountCents),
		Currency:     stripe.String(req.Currency),
		ReceiptEmail: stripe.String(req.Email),
		Description:  stripe.String(req.Description),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if req.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	pi, err := g.client.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &domain.Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Status: string(pi.Status)}, nil
}

func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode >= http.StatusInternalServerError {
			return domain.ErrProviderDown
		}
		if stripeErr.Type == stripe.ErrorTypeInvalidRequest {
			return fmt.Errorf("%w: %s", domain.ErrValidation, stripeErr.Msg)
		}
	}
	return fmt.Errorf("stripe: %w", err)
}

type StripeWebhook struct {
	secret string
}

func NewStripeWebhook(secret string) *StripeWebhook {
	return &StripeWebhook{secret: secret}
}

var ErrBadWebhookSignature = errors.New("invalid webhook signature")

func (p *StripeWebhook) ParseWebhook(payload []byte, signature string) (*domain.WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadWebhookSignature, err)
	}

	var status domain.PaymentStatus
	switch string(event.Type) {
	case "payment_intent.succeeded":
		status = domain.PaymentPaid
	case "payment_intent.payment_failed":
		status = domain.PaymentFailed
	default:
		return nil, nil
	}

	var pi stripe.PaymentIntent
	if event.Data == nil {
		return nil, fmt.Errorf("event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent: %w", err)
	}

	ev := &domain.WebhookEvent{ID: event.ID, IntentID: pi.ID, Status: status}
	if pi.LastPaymentError != nil {
		ev.FailureMsg = pi.LastPaymentError.Msg
	}
	return ev, nil
}
