package tracking

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

var testSecret = []byte("s3cr3t")

func TestIssueVerify_RoundTrip(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	refs := []string{"SL-AB12Y3", "x", "SL-ÄÖÜ-unicode", strings.Repeat("R", 256)}

	for _, ref := range refs {
		tok, err := IssueAt(ref, 900*time.Second, testSecret, now)
		if err != nil {
			t.Fatalf("IssueAt(%q) error = %v", ref, err)
		}
		got, err := Verify(tok, testSecret, now)
		if err != nil {
			t.Fatalf("Verify() error = %v", err)
		}
		if got != ref {
			t.Errorf("Verify() = %q, want %q", got, ref)
		}
	}
}

func TestVerify_ExpiryBoundary(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	tok, err := IssueAt("SL-AB12Y3", 900*time.Second, testSecret, issued)
	if err != nil {
		t.Fatalf("IssueAt() error = %v", err)
	}

	got, err := Verify(tok, testSecret, time.Unix(1_700_000_899, 0))
	if err != nil {
		t.Fatalf("Verify() one second before expiry error = %v", err)
	}
	if got != "SL-AB12Y3" {
		t.Errorf("Verify() = %q, want SL-AB12Y3", got)
	}

	if _, err := Verify(tok, testSecret, time.Unix(1_700_000_900, 0)); !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() at expiry error = %v, want ErrExpired", err)
	}
	if _, err := Verify(tok, testSecret, time.Unix(1_800_000_000, 0)); !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() long after expiry error = %v, want ErrExpired", err)
	}
}

func TestVerify_ExpiredWithBadSignatureIsBadSignature(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	tok, _ := IssueAt("SL-AB12Y3", time.Minute, testSecret, issued)

	_, err := Verify(tok, []byte("other"), issued.Add(time.Hour))
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify() error = %v, want ErrBadSignature", err)
	}
}

func TestVerify_TamperedBits(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	tok, err := IssueAt("SL-AB12Y3", time.Hour, testSecret, now)
	if err != nil {
		t.Fatalf("IssueAt() error = %v", err)
	}

	sep := strings.Index(tok, ".")
	for i := 0; i < len(tok); i++ {
		if i == sep {
			continue
		}
		for bit := 0; bit < 8; bit++ {
			b := []byte(tok)
			b[i] ^= 1 << bit
			if b[i] == '.' {
				// A new separator is a structural change, covered below.
				continue
			}
			_, err := Verify(string(b), testSecret, now)
			if !errors.Is(err, ErrBadSignature) {
				t.Fatalf("flip byte %d bit %d: error = %v, want ErrBadSignature", i, bit, err)
			}
		}
	}
}

func TestVerify_SecretMismatch(t *testing.T) {
	now := time.Now()
	secrets := [][]byte{[]byte("a"), []byte("b"), []byte("s3cr3t "), []byte("S3CR3T")}
	for _, other := range secrets {
		tok, _ := IssueAt("SL-AB12Y3", time.Hour, testSecret, now)
		if _, err := Verify(tok, other, now); !errors.Is(err, ErrBadSignature) {
			t.Errorf("Verify() with secret %q error = %v, want ErrBadSignature", other, err)
		}
	}
}

func TestVerify_Malformed(t *testing.T) {
	now := time.Now()
	signed := func(encodedPayload string) string {
		return encodedPayload + "." + sign(testSecret, encodedPayload)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no separator", "abcdef"},
		{"two separators", "a.b.c"},
		{"not base64", signed("!!!not-base64!!!")},
		{"not json", signed(base64.RawURLEncoding.EncodeToString([]byte("not json")))},
		{"missing ref", signed(base64.RawURLEncoding.EncodeToString([]byte(`{"expiresAtEpochSeconds":99999999999}`)))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Verify(tt.token, testSecret, now)
			if !errors.Is(err, ErrMalformedToken) {
				t.Errorf("Verify(%q) error = %v, want ErrMalformedToken", tt.token, err)
			}
		})
	}
}

func TestVerify_SignatureCheckedBeforeDecoding(t *testing.T) {
	_, err := Verify("!!!.abc", testSecret, time.Now())
	if !errors.Is(err, ErrBadSignature) {
		t.Errorf("Verify() error = %v, want ErrBadSignature", err)
	}
}

func TestFailClosedWithoutSecret(t *testing.T) {
	if _, err := Issue("SL-AB12Y3", time.Minute, nil); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Issue() error = %v, want ErrNoSecret", err)
	}
	tok, _ := Issue("SL-AB12Y3", time.Minute, testSecret)
	if _, err := Verify(tok, nil, time.Now()); !errors.Is(err, ErrNoSecret) {
		t.Errorf("Verify() error = %v, want ErrNoSecret", err)
	}
	if _, err := NewSigner("", time.Minute); !errors.Is(err, ErrNoSecret) {
		t.Errorf("NewSigner() error = %v, want ErrNoSecret", err)
	}
	var s *Signer
	if _, err := s.Verify(tok); !errors.Is(err, ErrNoSecret) {
		t.Errorf("nil Signer.Verify() error = %v, want ErrNoSecret", err)
	}
}

func TestIssue_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		ttl  time.Duration
	}{
		{"empty ref", "", time.Minute},
		{"blank ref", "   ", time.Minute},
		{"zero ttl", "SL-1", 0},
		{"negative ttl", "SL-1", -time.Minute},
		{"sub-second ttl", "SL-1", 500 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Issue(tt.ref, tt.ttl, testSecret); !errors.Is(err, ErrInvalidInput) {
				t.Errorf("Issue() error = %v, want ErrInvalidInput", err)
			}
		})
	}
}

func TestIssue_PayloadShape(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	a, _ := IssueAt("SL-AB12Y3", 900*time.Second, testSecret, now)
	b, _ := IssueAt("SL-AB12Y3", 900*time.Second, testSecret, now)
	if a == b {
		t.Error("two tokens for the same booking and time must differ")
	}
	if strings.ContainsAny(a, "+/=") {
		t.Errorf("token %q is not URL safe", a)
	}

	encoded, _, _ := strings.Cut(a, ".")
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p.ExpiresAtEpochSeconds != 1_700_000_900 {
		t.Errorf("expiresAtEpochSeconds = %d, want 1700000900", p.ExpiresAtEpochSeconds)
	}
	nonce, err := base64.RawURLEncoding.DecodeString(p.Nonce)
	if err != nil || len(nonce) < 8 {
		t.Errorf("nonce = %q (%d bytes), want at least 8 random bytes", p.Nonce, len(nonce))
	}
}

func TestSigner(t *testing.T) {
	clock := time.Unix(1_700_000_000, 0)
	s, err := NewSigner("s3cr3t", 0)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	if s.TTL() != DefaultTTL {
		t.Errorf("TTL() = %v, want %v", s.TTL(), DefaultTTL)
	}
	s = s.WithClock(func() time.Time { return clock })

	tok, err := s.Issue("SL-AB12Y3")
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	if ref, err := s.Verify(tok); err != nil || ref != "SL-AB12Y3" {
		t.Errorf("Verify() = %q, %v", ref, err)
	}

	tok, exp, err := s.IssueExpiring("SL-AB12Y3")
	if err != nil {
		t.Fatalf("IssueExpiring() error = %v", err)
	}
	p, err := Decode(tok, []byte("s3cr3t"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !exp.Equal(clock.Add(DefaultTTL)) || exp.Unix() != p.ExpiresAtEpochSeconds {
		t.Errorf("expiry = %v, payload exp = %d, want %v", exp, p.ExpiresAtEpochSeconds, clock.Add(DefaultTTL))
	}

	clock = clock.Add(DefaultTTL)
	if _, err := s.Verify(tok); !errors.Is(err, ErrExpired) {
		t.Errorf("Verify() after ttl error = %v, want ErrExpired", err)
	}
}

func TestLink(t *testing.T) {
	got := Link("https://portal.example.gov/", "abc.def")
	if got != "https://portal.example.gov/track?token=abc.def" {
		t.Errorf("Link() = %q", got)
	}
}
