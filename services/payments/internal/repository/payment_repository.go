package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/citizen-portal/services/payments/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PaymentRepository returns (nil, nil) from lookups that match nothing.
type PaymentRepository interface {
	Create(ctx context.Context, p *domain.Payment) (*domain.Payment, error)
	GetByID(ctx context.Context, id int64) (*domain.Payment, error)
	GetByIntentID(ctx context.Context, intentID string) (*domain.Payment, error)
	// UpdateStatusByIntent only moves payments that are still pending.
	UpdateStatusByIntent(ctx context.Context, intentID string, status domain.PaymentStatus, failureMsg string) (*domain.Payment, error)
}

type paymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) PaymentRepository {
	return &paymentRepository{pool: pool}
}

const paymentCols = `id, tenant, tax_type, reference, amount_cents, currency,
email, intent_id, status, failure_message, created_at, updated_at`

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	err := row.Scan(
		&p.ID, &p.Tenant, &p.TaxType, &p.Reference, &p.AmountCents, &p.Currency,
		&p.Email, &p.IntentID, &p.Status, &p.FailureMsg, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *paymentRepository) Create(ctx context.Context, in *domain.Payment) (*domain.Payment, error) {
	const q = `INSERT INTO payments (
		tenant, tax_type, reference, amount_cents, currency, email, intent_id, status
	) VALUES ($1,$2,$3,$4,$5,$6,$7,'pending')
	RETURNING ` + paymentCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	return scanPayment(r.pool.QueryRow(ctx, q,
		in.Tenant, in.TaxType, in.Reference, in.AmountCents, in.Currency, in.Email, in.IntentID,
	))
}

func (r *paymentRepository) GetByID(ctx context.Context, id int64) (*domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE id = $1`, id))
}

func (r *paymentRepository) GetByIntentID(ctx context.Context, intentID string) (*domain.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanPayment(r.pool.QueryRow(ctx, `SELECT `+paymentCols+` FROM payments WHERE intent_id = $1`, intentID))
}

func (r *paymentRepository) UpdateStatusByIntent(ctx context.Context, intentID string, status domain.PaymentStatus, failureMsg string) (*domain.Payment, error) {
	const q = `UPDATE payments
	SET status = $2, failure_message = $3, updated_at = now()
	WHERE intent_id = $1 AND status = 'pending'
	RETURNING ` + paymentCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanPayment(r.pool.QueryRow(ctx, q, intentID, status, failureMsg))
}
