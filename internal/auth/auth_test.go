package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret, userID string, expiry time.Time) string {
	t.Helper()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return tok
}

func TestVerify(t *testing.T) {
	v := NewVerifier("test-secret")

	tok := signToken(t, "test-secret", "user-1", time.Now().Add(time.Hour))
	id, err := v.Verify(tok)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id != "user-1" {
		t.Fatalf("unexpected identity %q", id)
	}
}

func TestVerifyRejections(t *testing.T) {
	v := NewVerifier("test-secret")

	cases := map[string]string{
		"empty":        "",
		"garbage":      "not.a.jwt",
		"wrong secret": signToken(t, "other-secret", "user-1", time.Now().Add(time.Hour)),
		"expired":      signToken(t, "test-secret", "user-1", time.Now().Add(-time.Hour)),
		"no userId":    signToken(t, "test-secret", "", time.Now().Add(time.Hour)),
	}
	for name, tok := range cases {
		if _, err := v.Verify(tok); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("%s: expected ErrInvalidToken, got %v", name, err)
		}
	}
}
