package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diagnosis/citizen-portal/pkg/utils"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

var (
	ErrNotFound         = errors.New("payment not found")
	ErrValidation       = errors.New("validation failed")
	ErrPaymentsDisabled = errors.New("payments are not configured")
	ErrProviderDown     = errors.New("payment provider is currently unavailable")
)

// Supported local tax types.
var TaxTypes = map[string]bool{
	"property":     true,
	"vehicle":      true,
	"business":     true,
	"waste":        true,
	"dog_license":  true,
	"parking_fine": true,
}

const (
	MinAmountCents = 50
	MaxAmountCents = 10_000_000
)

type Payment struct {
	ID          int64         `json:"id"`
	Tenant      string        `json:"tenant"`
	TaxType     string        `json:"tax_type"`
	Reference   string        `json:"reference"`
	AmountCents int64         `json:"amount_cents"`
	Currency    string        `json:"currency"`
	Email       string        `json:"email"`
	IntentID    string        `json:"intent_id"`
	Status      PaymentStatus `json:"status"`
	FailureMsg  string        `json:"failure_message,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type TaxPaymentReq struct {
	Tenant      string `json:"tenant"`
	TaxType     string `json:"tax_type"`
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	Email       string `json:"email"`
}

type TaxPaymentRes struct {
	ID           int64  `json:"id"`
	IntentID     string `json:"intent_id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

func (r *TaxPaymentReq) Normalize(defaultTenant string) {
	r.Tenant = strings.TrimSpace(r.Tenant)
	if r.Tenant == "" {
		r.Tenant = defaultTenant
	}
	r.TaxType = strings.ToLower(strings.TrimSpace(r.TaxType))
	r.Reference = strings.TrimSpace(r.Reference)
	r.Currency = strings.ToLower(strings.TrimSpace(r.Currency))
	if r.Currency == "" {
		r.Currency = "usd"
	}
	r.Email = utils.NormalizeEmail(r.Email)
}

func (r *TaxPaymentReq) Validate() error {
	switch {
	case !TaxTypes[r.TaxType]:
		return fmt.Errorf("%w: unknown tax_type %q", ErrValidation, r.TaxType)
	case r.Reference == "":
		return fmt.Errorf("%w: reference is required", ErrValidation)
	case r.AmountCents < MinAmountCents || r.AmountCents > MaxAmountCents:
		return fmt.Errorf("%w: amount_cents must be between %d and %d", ErrValidation, MinAmountCents, MaxAmountCents)
	case len(r.Currency) != 3:
		return fmt.Errorf("%w: currency must be a 3-letter code", ErrValidation)
	case !utils.IsValidEmail(r.Email):
		return fmt.Errorf("%w: email must be a valid address", ErrValidation)
	}
	return nil
}

// IntentRequest is what the provider needs to open a payment.
type IntentRequest struct {
	AmountCents    int64
	Currency       string
	Email          string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

type Intent struct {
	ID           string
	ClientSecret string
	Status       string
}

// WebhookEvent is a provider event reduced to what the portal acts on.
type WebhookEvent struct {
	ID         string
	IntentID   string
	Status     PaymentStatus
	FailureMsg string
}
