package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/citizen-portal/services/bookings/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Constraint names from migrations/001_init.sql.
const (
	constraintReference = "bookings_reference_key"
	constraintSlot      = "bookings_active_slot_idx"

	uniqueViolation = "23505"
)

// BookingRepository returns (nil, nil) from single-row lookups that match nothing.
type BookingRepository interface {
	Create(ctx context.Context, b *domain.Booking) (*domain.Booking, error)
	GetByID(ctx context.Context, id int64) (*domain.Booking, error)
	GetByReference(ctx context.Context, reference string) (*domain.Booking, error)
	List(ctx context.Context, filter domain.ListFilter) ([]domain.Booking, error)
	UpdateStatus(ctx context.Context, id int64, from, to domain.BookingStatus, note string) (*domain.Booking, error)
	CountByStatus(ctx context.Context, tenant string) (map[domain.BookingStatus]int, error)
	BookedSlots(ctx context.Context, tenant, service string, from, to time.Time) ([]time.Time, error)
}

type bookingRepository struct {
	pool *pgxpool.Pool
}

func NewBookingRepository(pool *pgxpool.Pool) BookingRepository {
	return &bookingRepository{pool: pool}
}

const bookingCols = `id, reference, tenant, service, office, status,
citizen_name, citizen_email, citizen_phone,
scheduled_at, notes, officer_note, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.ID, &b.Reference, &b.Tenant, &b.Service, &b.Office, &b.Status,
		&b.Name, &b.Email, &b.Phone,
		&b.ScheduledAt, &b.Notes, &b.OfficerNote, &b.CreatedAt, &b.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *bookingRepository) Create(ctx context.Context, in *domain.Booking) (*domain.Booking, error) {
	const q = `INSERT INTO bookings (
		reference, tenant, service, office, status,
		citizen_name, citizen_email, citizen_phone,
		scheduled_at, notes
	) VALUES ($1,$2,$3,$4,'pending',$5,$6,$7,$8,$9)
	RETURNING ` + bookingCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	b, err := scanBooking(r.pool.QueryRow(ctx, q,
		in.Reference, in.Tenant, in.Service, in.Office,
		in.Name, in.Email, in.Phone,
		in.ScheduledAt, in.Notes,
	))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			switch pgErr.ConstraintName {
			case constraintReference:
				return nil, domain.ErrDuplicateRef
			case constraintSlot:
				return nil, domain.ErrSlotUnavailable
			}
		}
		return nil, err
	}
	return b, nil
}

func (r *bookingRepository) GetByID(ctx context.Context, id int64) (*domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE id=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanBooking(r.pool.QueryRow(ctx, q, id))
}

func (r *bookingRepository) GetByReference(ctx context.Context, reference string) (*domain.Booking, error) {
	const q = `SELECT ` + bookingCols + ` FROM bookings WHERE reference=$1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanBooking(r.pool.QueryRow(ctx, q, reference))
}

func (r *bookingRepository) List(ctx context.Context, f domain.ListFilter) ([]domain.Booking, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := `SELECT ` + bookingCols + ` FROM bookings
	WHERE ($1 = '' OR tenant = $1) AND ($2::text IS NULL OR status = $2)
	ORDER BY scheduled_at ASC, id ASC LIMIT $3 OFFSET $4`

	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rows, err := r.pool.Query(ctx, q, f.Tenant, status, f.Limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bookings := []domain.Booking{}
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, *b)
	}
	return bookings, rows.Err()
}

// UpdateStatus only applies when the row is still in status from, so two
// officers racing on the same booking cannot both win.
func (r *bookingRepository) UpdateStatus(ctx context.Context, id int64, from, to domain.BookingStatus, note string) (*domain.Booking, error) {
	const q = `UPDATE bookings
	SET status=$3, officer_note=COALESCE(NULLIF($4, ''), officer_note), updated_at=now()
	WHERE id=$1 AND status=$2
	RETURNING ` + bookingCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanBooking(r.pool.QueryRow(ctx, q, id, from, to, note))
}

func (r *bookingRepository) CountByStatus(ctx context.Context, tenant string) (map[domain.BookingStatus]int, error) {
	const q = `SELECT status, count(*) FROM bookings WHERE ($1 = '' OR tenant = $1) GROUP BY status`

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.pool.Query(ctx, q, tenant)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.BookingStatus]int, len(domain.AllStatuses))
	for _, s := range domain.AllStatuses {
		counts[s] = 0
	}
	for rows.Next() {
		var (
			status domain.BookingStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

func (r *bookingRepository) BookedSlots(ctx context.Context, tenant, service string, from, to time.Time) ([]time.Time, error) {
	const q = `SELECT scheduled_at FROM bookings
	WHERE tenant=$1 AND service=$2 AND scheduled_at >= $3 AND scheduled_at < $4
	AND status NOT IN ('canceled', 'rejected')`

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rows, err := r.pool.Query(ctx, q, tenant, service, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []time.Time
	for rows.Next() {
		var t time.Time
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		slots = append(slots, t)
	}
	return slots, rows.Err()
}
