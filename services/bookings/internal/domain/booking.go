package domain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingInReview  BookingStatus = "in_review"
	BookingCompleted BookingStatus = "completed"
	BookingRejected  BookingStatus = "rejected"
	BookingCanceled  BookingStatus = "canceled"
)

// AllStatuses lists every status in display order.
var AllStatuses = []BookingStatus{
	BookingPending, BookingConfirmed, BookingInReview,
	BookingCompleted, BookingRejected, BookingCanceled,
}

func ParseBookingStatus(s string) (BookingStatus, bool) {
	switch BookingStatus(s) {
	case BookingPending, BookingConfirmed, BookingInReview, BookingCompleted, BookingRejected, BookingCanceled:
		return BookingStatus(s), true
	default:
		return "", false
	}
}

var transitions = map[BookingStatus][]BookingStatus{
	BookingPending:   {BookingConfirmed, BookingRejected, BookingCanceled},
	BookingConfirmed: {BookingInReview, BookingCompleted, BookingCanceled},
	BookingInReview:  {BookingCompleted, BookingRejected},
}

// CanTransition reports whether an officer may move a booking from one status to another.
func CanTransition(from, to BookingStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal statuses free their slot.
func (s BookingStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

var (
	ErrNotFound          = errors.New("booking not found")
	ErrSlotUnavailable   = errors.New("slot is not available")
	ErrInvalidTransition = errors.New("status transition not allowed")
	ErrDuplicateRef      = errors.New("booking reference already exists")
	ErrIdempotencyReused = errors.New("idempotency key was used for a different request")
)

// ValidationError is returned for bad citizen input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type Booking struct {
	ID          int64         `json:"id"`
	Reference   string        `json:"reference"`
	Tenant      string        `json:"tenant"`
	Service     string        `json:"service"`
	Office      string        `json:"office"`
	Status      BookingStatus `json:"status"`
	Name        string        `json:"name"`
	Email       string        `json:"email"`
	Phone       string        `json:"phone"`
	ScheduledAt time.Time     `json:"scheduled_at"`
	Notes       string        `json:"notes"`
	OfficerNote string        `json:"officer_note"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

type CreateBookingReq struct {
	Tenant      string    `json:"tenant"`
	Service     string    `json:"service"`
	Office      string    `json:"office"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Phone       string    `json:"phone"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Notes       string    `json:"notes"`
}

// Fingerprint identifies a normalized request so a replayed idempotency key
// can be checked against the body it was first used with.
func (r *CreateBookingReq) Fingerprint() string {
	h := sha256.New()
	for _, field := range []string{
		r.Tenant, r.Service, r.Office, r.Name, r.Email, r.Phone,
		r.ScheduledAt.UTC().Format(time.RFC3339), r.Notes,
	} {
		h.Write([]byte(field))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

type CreateBookingRes struct {
	ID          int64     `json:"id"`
	Reference   string    `json:"reference"`
	Status      string    `json:"status"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

// PublicBooking is what a tracking link reveals. It carries no contact details.
type PublicBooking struct {
	Reference   string    `json:"reference"`
	Status      string    `json:"status"`
	Service     string    `json:"service"`
	Office      string    `json:"office"`
	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (b *Booking) Public() PublicBooking {
	return PublicBooking{
		Reference:   b.Reference,
		Status:      string(b.Status),
		Service:     b.Service,
		Office:      b.Office,
		ScheduledAt: b.ScheduledAt,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

type StatusChangeReq struct {
	Status string `json:"status"`
	Note   string `json:"note"`
}

type ListFilter struct {
	Tenant string
	Status *BookingStatus
	Limit  int
	Offset int
}

const (
	ReferencePrefix = "SL-"
	referenceLen    = 6
	// No 0/O or 1/I so codes survive being read over the phone.
	referenceAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

	MaxNotesLength = 1000
)

// NewReference returns a random booking code such as SL-7KQ2ZD.
func NewReference() (string, error) {
	buf := make([]byte, referenceLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate reference: %w", err)
	}
	out := make([]byte, referenceLen)
	for i, b := range buf {
		out[i] = referenceAlphabet[int(b)%len(referenceAlphabet)]
	}
	return ReferencePrefix + string(out), nil
}

// NormalizeReference uppercases and trims a citizen-typed code.
func NormalizeReference(ref string) string {
	return strings.ToUpper(strings.TrimSpace(ref))
}
