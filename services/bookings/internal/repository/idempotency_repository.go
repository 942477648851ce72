package repository

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const idempotencyTTL = 24 * time.Hour

// IdempotencyRecord is the booking a key produced and the fingerprint of
// the request that produced it.
type IdempotencyRecord struct {
	BookingID   int64
	RequestHash string
}

type IdempotencyRepository interface {
	// Lookup returns the live record for key, or nil.
	Lookup(ctx context.Context, key string) (*IdempotencyRecord, error)
	Store(ctx context.Context, key, requestHash string, bookingID int64) error
	CleanupExpired(ctx context.Context) (int64, error)
}

type idempotencyRepository struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepository(pool *pgxpool.Pool) IdempotencyRepository {
	return &idempotencyRepository{pool: pool}
}

func hashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x", sum[:])
}

func (r *idempotencyRepository) Lookup(ctx context.Context, key string) (*IdempotencyRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var rec IdempotencyRecord
	err := r.pool.QueryRow(ctx,
		`SELECT booking_id, request_hash FROM booking_idempotency WHERE key_hash = $1 AND expires_at > now()`,
		hashKey(key),
	).Scan(&rec.BookingID, &rec.RequestHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *idempotencyRepository) Store(ctx context.Context, key, requestHash string, bookingID int64) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := r.pool.Exec(ctx, `
		INSERT INTO booking_idempotency (key_hash, request_hash, booking_id, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key_hash) DO NOTHING`,
		hashKey(key), requestHash, bookingID, time.Now().Add(idempotencyTTL),
	)
	return err
}

func (r *idempotencyRepository) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, `DELETE FROM booking_idempotency WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}
