// Package tracking mints and verifies the signed bearer tokens carried by
// booking tracking links.
//
// Wire form:
//
//	base64url(JSON(payload)) "." base64url(HMAC-SHA256(secret, base64url(JSON(payload))))
//
// The MAC is computed over the encoded payload string, never the decoded JSON.
// Tokens are not tracked server side: a token stays valid for any number of
// uses until it expires.
package tracking

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	// NonceSize is the number of random bytes mixed into every token.
	NonceSize = 12

	// DefaultTTL is how long an emailed tracking link stays usable.
	DefaultTTL = 15 * time.Minute

	separator = "."
)

var (
	ErrMalformedToken = errors.New("malformed token")
	ErrBadSignature   = errors.New("bad token signature")
	ErrExpired        = errors.New("token expired")
	ErrNoSecret       = errors.New("tracking secret is not configured")
	ErrInvalidInput   = errors.New("invalid token input")
)

var encoding = base64.RawURLEncoding

// Payload is the signed body of a tracking token.
type Payload struct {
	BookingRef            string `json:"bookingRef"`
	ExpiresAtEpochSeconds int64  `json:"expiresAtEpochSeconds"`
	Nonce                 string `json:"nonce"`
}

// Issue mints a token for bookingRef that expires ttl from now.
func Issue(bookingRef string, ttl time.Duration, secret []byte) (string, error) {
	return IssueAt(bookingRef, ttl, secret, time.Now())
}

// IssueAt mints a token as if the current time were now.
func IssueAt(bookingRef string, ttl time.Duration, secret []byte, now time.Time) (string, error) {
	if len(secret) == 0 {
		return "", ErrNoSecret
	}
	if strings.TrimSpace(bookingRef) == "" {
		return "", fmt.Errorf("%w: booking reference is required", ErrInvalidInput)
	}
	ttlSeconds := int64(ttl / time.Second)
	if ttlSeconds <= 0 {
		return "", fmt.Errorf("%w: ttl must be at least one second", ErrInvalidInput)
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	body, err := json.Marshal(Payload{
		BookingRef:            bookingRef,
		ExpiresAtEpochSeconds: now.Unix() + ttlSeconds,
		Nonce:                 encoding.EncodeToString(nonce),
	})
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}

	encodedPayload := encoding.EncodeToString(body)
	return encodedPayload + separator + sign(secret, encodedPayload), nil
}

// Verify checks token against secret at time now and returns the booking
// reference it authorizes.
func Verify(token string, secret []byte, now time.Time) (string, error) {
	payload, err := Decode(token, secret)
	if err != nil {
		return "", err
	}
	if now.Unix() >= payload.ExpiresAtEpochSeconds {
		return "", ErrExpired
	}
	return payload.BookingRef, nil
}

// Decode authenticates token and returns its payload without checking expiry.
func Decode(token string, secret []byte) (*Payload, error) {
	if len(secret) == 0 {
		return nil, ErrNoSecret
	}
	if strings.Count(token, separator) != 1 {
		return nil, fmt.Errorf("%w: expected exactly one separator", ErrMalformedToken)
	}
	encodedPayload, encodedMAC, _ := strings.Cut(token, separator)

	expected := sign(secret, encodedPayload)
	if subtle.ConstantTimeCompare([]byte(expected), []byte(encodedMAC)) != 1 {
		return nil, ErrBadSignature
	}

	body, err := encoding.DecodeString(encodedPayload)
	if err != nil {
		return nil, fmt.Errorf("%w: payload is not base64url", ErrMalformedToken)
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: payload is not json", ErrMalformedToken)
	}
	if payload.BookingRef == "" {
		return nil, fmt.Errorf("%w: missing booking reference", ErrMalformedToken)
	}
	return &payload, nil
}

func sign(secret []byte, encodedPayload string) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(encodedPayload))
	return encoding.EncodeToString(mac.Sum(nil))
}

// Signer holds the process-wide signing configuration.
type Signer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner returns a Signer for secret. An empty secret is refused so the
// feature fails closed instead of signing with a substitute key.
func NewSigner(secret string, ttl time.Duration) (*Signer, error) {
	if secret == "" {
		return nil, ErrNoSecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Signer{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// WithClock replaces the time source, for tests.
func (s *Signer) WithClock(now func() time.Time) *Signer {
	cp := *s
	cp.now = now
	return &cp
}

func (s *Signer) TTL() time.Duration { return s.ttl }

func (s *Signer) Issue(bookingRef string) (string, error) {
	token, _, err := s.IssueExpiring(bookingRef)
	return token, err
}

// IssueExpiring also returns the expiry written into the token, read from
// the same clock reading.
func (s *Signer) IssueExpiring(bookingRef string) (string, time.Time, error) {
	if s == nil {
		return "", time.Time{}, ErrNoSecret
	}
	now := s.now()
	token, err := IssueAt(bookingRef, s.ttl, s.secret, now)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, time.Unix(now.Unix()+int64(s.ttl/time.Second), 0), nil
}

func (s *Signer) Verify(token string) (string, error) {
	if s == nil {
		return "", ErrNoSecret
	}
	return Verify(token, s.secret, s.now())
}

// Link builds the citizen-facing tracking URL for token under siteURL.
func Link(siteURL, token string) string {
	return strings.TrimRight(siteURL, "/") + "/track?token=" + url.QueryEscape(token)
}
