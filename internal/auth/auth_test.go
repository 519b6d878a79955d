package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newManager(t *testing.T, now *time.Time) *TokenManager {
	t.Helper()
	m, err := NewTokenManager("test-secret", 15*time.Minute, WithClock(func() time.Time { return *now }))
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	return m
}

func TestIssueAndParse(t *testing.T) {
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	m := newManager(t, &now)

	token, expires, err := m.Issue("user-42", " admin ")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expires.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry: %v", expires)
	}

	claims, err := m.Parse(token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.Subject != "user-42" || claims.Role != "ADMIN" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.Issuer != defaultIssuer || claims.ID == "" {
		t.Fatalf("registered claims missing: %+v", claims.RegisteredClaims)
	}
}

func TestParseRejectsExpired(t *testing.T) {
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	m := newManager(t, &now)
	token, _, err := m.Issue("user-1", "USER")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	now = now.Add(16 * time.Minute)
	if _, err := m.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsForeignSignature(t *testing.T) {
	now := time.Now()
	m := newManager(t, &now)
	other, err := NewTokenManager("other-secret", time.Minute)
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	token, _, err := other.Issue("user-1", "USER")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := m.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestParseRejectsOtherAlgorithm(t *testing.T) {
	now := time.Now()
	m := newManager(t, &now)
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	})
	token, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := m.Parse(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := m.Parse("  "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for empty token, got %v", err)
	}
}

func TestNewTokenManagerValidation(t *testing.T) {
	if _, err := NewTokenManager(" ", time.Minute); err == nil {
		t.Fatal("expected missing secret error")
	}
	if _, err := NewTokenManager("s", 0); err == nil {
		t.Fatal("expected ttl error")
	}
	m, _ := NewTokenManager("s", time.Minute)
	if _, _, err := m.Issue(" ", "USER"); err == nil || !strings.Contains(err.Error(), "userID") {
		t.Fatalf("expected userID error, got %v", err)
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if _, ok := UserIDFromContext(ctx); ok {
		t.Fatal("empty context must not carry a user")
	}
	ctx = ContextWithPrincipal(ctx, Principal{UserID: "user-7", Role: "ADMIN"})
	id, ok := UserIDFromContext(ctx)
	if !ok || id != "user-7" {
		t.Fatalf("unexpected user id: %s, ok=%v", id, ok)
	}
	if !HasRole(ctx, "admin") {
		t.Fatal("HasRole should be case-insensitive")
	}
	if HasRole(ctx, "USER") {
		t.Fatal("unexpected role found")
	}
}
