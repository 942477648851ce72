package repository

import (
	"context"
	"errors"
	"time"

	"github.com/diagnosis/citizen-portal/services/auth/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// StaffRepository returns (nil, nil) when a lookup matches nothing.
type StaffRepository interface {
	Create(ctx context.Context, req *domain.CreateStaffRequest, passwordHash string) (*domain.Staff, error)
	FindByEmail(ctx context.Context, email string) (*domain.Staff, error)
	FindByID(ctx context.Context, id int64) (*domain.Staff, error)
	List(ctx context.Context, limit, offset int) ([]domain.Staff, error)
}

type staffRepository struct {
	pool *pgxpool.Pool
}

func NewStaffRepository(pool *pgxpool.Pool) StaffRepository {
	return &staffRepository{pool: pool}
}

const staffCols = `id, email, password_hash, name, role, tenant, active, created_at, updated_at`

func scanStaff(row pgx.Row) (*domain.Staff, error) {
	var s domain.Staff
	err := row.Scan(&s.ID, &s.Email, &s.PasswordHash, &s.Name, &s.Role, &s.Tenant, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *staffRepository) Create(ctx context.Context, req *domain.CreateStaffRequest, passwordHash string) (*domain.Staff, error) {
	const q = `
		INSERT INTO staff (email, password_hash, name, role, tenant, active)
		VALUES ($1, $2, $3, $4, $5, true)
		RETURNING ` + staffCols

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	s, err := scanStaff(r.pool.QueryRow(ctx, q, req.Email, passwordHash, req.Name, req.Role, req.Tenant))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, domain.ErrStaffExists
		}
		return nil, err
	}
	return s, nil
}

func (r *staffRepository) FindByEmail(ctx context.Context, email string) (*domain.Staff, error) {
	const q = `SELECT ` + staffCols + ` FROM staff WHERE email = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanStaff(r.pool.QueryRow(ctx, q, email))
}

func (r *staffRepository) FindByID(ctx context.Context, id int64) (*domain.Staff, error) {
	const q = `SELECT ` + staffCols + ` FROM staff WHERE id = $1`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return scanStaff(r.pool.QueryRow(ctx, q, id))
}

func (r *staffRepository) List(ctx context.Context, limit, offset int) ([]domain.Staff, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	const q = `SELECT ` + staffCols + ` FROM staff ORDER BY id LIMIT $1 OFFSET $2`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	rows, err := r.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	staff := []domain.Staff{}
	for rows.Next() {
		s, err := scanStaff(rows)
		if err != nil {
			return nil, err
		}
		staff = append(staff, *s)
	}
	return staff, rows.Err()
}
