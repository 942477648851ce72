package handlers_test

import (
	"context"
	"sort"
	"time"

	"github.com/diagnosis/citizen-portal/services/bookings/internal/domain"
	"github.com/diagnosis/citizen-portal/services/bookings/internal/repository"
)

// ---------- Mocks ----------

type mockBookingRepo struct {
	nextID   int64
	bookings map[int64]*domain.Booking
	err      error
	lookups  int
	now      time.Time
}

func newMockBookingRepo(now time.Time) *mockBookingRepo {
	return &mockBookingRepo{nextID: 1, bookings: make(map[int64]*domain.Booking), now: now}
}

func (m *mockBookingRepo) add(b domain.Booking) *domain.Booking {
	b.ID = m.nextID
	m.nextID++
	if b.Status == "" {
		b.Status = domain.BookingPending
	}
	b.CreatedAt, b.UpdatedAt = m.now, m.now
	m.bookings[b.ID] = &b
	return &b
}

func (m *mockBookingRepo) Create(_ context.Context, in *domain.Booking) (*domain.Booking, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, b := range m.bookings {
		if b.Reference == in.Reference {
			return nil, domain.ErrDuplicateRef
		}
		if b.Tenant == in.Tenant && b.Service == in.Service && b.ScheduledAt.Equal(in.ScheduledAt) && !b.Status.Terminal() {
			return nil, domain.ErrSlotUnavailable
		}
	}
	cp := *in
	return m.add(cp), nil
}

func (m *mockBookingRepo) GetByID(_ context.Context, id int64) (*domain.Booking, error) {
	if m.err != nil {
		return nil, m.err
	}
	b, ok := m.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *mockBookingRepo) GetByReference(_ context.Context, ref string) (*domain.Booking, error) {
	m.lookups++
	if m.err != nil {
		return nil, m.err
	}
	for _, b := range m.bookings {
		if b.Reference == ref {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *mockBookingRepo) List(_ context.Context, f domain.ListFilter) ([]domain.Booking, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := []domain.Booking{}
	for _, b := range m.bookings {
		if f.Tenant != "" && b.Tenant != f.Tenant {
			continue
		}
		if f.Status != nil && b.Status != *f.Status {
			continue
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockBookingRepo) UpdateStatus(_ context.Context, id int64, from, to domain.BookingStatus, note string) (*domain.Booking, error) {
	if m.err != nil {
		return nil, m.err
	}
	b, ok := m.bookings[id]
	if !ok || b.Status != from {
		return nil, nil
	}
	b.Status = to
	if note != "" {
		b.OfficerNote = note
	}
	b.UpdatedAt = m.now.Add(time.Minute)
	cp := *b
	return &cp, nil
}

func (m *mockBookingRepo) CountByStatus(_ context.Context, tenant string) (map[domain.BookingStatus]int, error) {
	if m.err != nil {
		return nil, m.err
	}
	counts := map[domain.BookingStatus]int{}
	for _, b := range m.bookings {
		if tenant == "" || b.Tenant == tenant {
			counts[b.Status]++
		}
	}
	return counts, nil
}

func (m *mockBookingRepo) BookedSlots(_ context.Context, tenant, service string, from, to time.Time) ([]time.Time, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []time.Time
	for _, b := range m.bookings {
		if b.Tenant == tenant && b.Service == service && !b.ScheduledAt.Before(from) && b.ScheduledAt.Before(to) && !b.Status.Terminal() {
			out = append(out, b.ScheduledAt)
		}
	}
	return out, nil
}

type mockIdempotencyRepo struct {
	keys map[string]repository.IdempotencyRecord
}

func (m *mockIdempotencyRepo) Lookup(_ context.Context, key string) (*repository.IdempotencyRecord, error) {
	rec, ok := m.keys[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *mockIdempotencyRepo) Store(_ context.Context, key, requestHash string, id int64) error {
	if _, ok := m.keys[key]; !ok {
		m.keys[key] = repository.IdempotencyRecord{BookingID: id, RequestHash: requestHash}
	}
	return nil
}

func (m *mockIdempotencyRepo) CleanupExpired(context.Context) (int64, error) { return 0, nil }

type published struct {
	subject string
	data    any
}

type mockPublisher struct {
	events []published
}

func (m *mockPublisher) Publish(_ context.Context, subject string, data any) error {
	m.events = append(m.events, published{subject: subject, data: data})
	return nil
}

func (m *mockPublisher) Close() error { return nil }

type sentLink struct {
	reference string
	email     string
	link      string
	expiresAt time.Time
}

type mockNotifier struct {
	sent []sentLink
	err  error
}

func (m *mockNotifier) SendTrackingLink(_ context.Context, b *domain.Booking, link string, expiresAt time.Time) error {
	m.sent = append(m.sent, sentLink{reference: b.Reference, email: b.Email, link: link, expiresAt: expiresAt})
	return m.err
}

type mockLimiter struct {
	deny map[string]bool
	keys []string
}

func (m *mockLimiter) Allow(_ context.Context, key string) (bool, error) {
	m.keys = append(m.keys, key)
	return !m.deny[key], nil
}
