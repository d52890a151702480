package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const testTrackingSecret = "0123456789abcdef0123456789abcdef"

func TestTrackingTokenRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	issuer, err := NewTrackingTokenIssuer(testTrackingSecret, "atelier-sucre",
		WithTrackingClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("NewTrackingTokenIssuer: %v", err)
	}

	token, err := issuer.Issue("ord_123")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	orderID, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if orderID != "ord_123" {
		t.Fatalf("expected ord_123, got %s", orderID)
	}
}

func TestTrackingTokenExpired(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := now
	issuer, err := NewTrackingTokenIssuer(testTrackingSecret, "atelier-sucre",
		WithTrackingClock(func() time.Time { return clock }),
		WithTrackingTTL(time.Hour),
	)
	if err != nil {
		t.Fatalf("NewTrackingTokenIssuer: %v", err)
	}

	token, err := issuer.Issue("ord_123")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	clock = now.Add(2 * time.Hour)
	if _, err := issuer.Verify(token); !errors.Is(err, ErrTrackingTokenExpired) {
		t.Fatalf("expected ErrTrackingTokenExpired, got %v", err)
	}
}

func TestTrackingTokenTamperedSignature(t *testing.T) {
	issuer, err := NewTrackingTokenIssuer(testTrackingSecret, "atelier-sucre")
	if err != nil {
		t.Fatalf("NewTrackingTokenIssuer: %v", err)
	}

	token, err := issuer.Issue("ord_123")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("unexpected token shape")
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	if _, err := issuer.Verify(tampered); !errors.Is(err, ErrTrackingTokenInvalid) {
		t.Fatalf("expected ErrTrackingTokenInvalid, got %v", err)
	}
}

func TestTrackingTokenWrongSecret(t *testing.T) {
	issuer, err := NewTrackingTokenIssuer(testTrackingSecret, "atelier-sucre")
	if err != nil {
		t.Fatalf("NewTrackingTokenIssuer: %v", err)
	}
	other, err := NewTrackingTokenIssuer("ffffffffffffffffffffffffffffffff", "atelier-sucre")
	if err != nil {
		t.Fatalf("NewTrackingTokenIssuer: %v", err)
	}

	token, err := issuer.Issue("ord_123")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := other.Verify(token); !errors.Is(err, ErrTrackingTokenInvalid) {
		t.Fatalf("expected ErrTrackingTokenInvalid, got %v", err)
	}
}

func TestTrackingTokenWrongAudience(t *testing.T) {
	issuer, err := NewTrackingTokenIssuer(testTrackingSecret, "atelier-sucre")
	if err != nil {
		t.Fatalf("NewTrackingTokenIssuer: %v", err)
	}

	claims := trackingClaims{
		OrderID: "ord_123",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "atelier-sucre",
			Audience:  jwt.ClaimStrings{"some-other-scope"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testTrackingSecret))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	if _, err := issuer.Verify(token); !errors.Is(err, ErrTrackingTokenInvalid) {
		t.Fatalf("expected ErrTrackingTokenInvalid, got %v", err)
	}
}

func TestNewTrackingTokenIssuerRejectsShortSecret(t *testing.T) {
	if _, err := NewTrackingTokenIssuer("short", "atelier-sucre"); err == nil {
		t.Fatalf("expected error for short secret")
	}
}
