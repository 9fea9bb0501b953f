package auth

import (
	"errors"
	"testing"

	"github.com/golang-jwt/jwt"
)

func signedToken(t *testing.T, secret, subject string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, &jwt.StandardClaims{Subject: subject})
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestJWTVerifier(t *testing.T) {
	v := NewJWTVerifier("s3cret")

	sub, err := v.Verify(signedToken(t, "s3cret", "user-42"))
	if err != nil || sub != "user-42" {
		t.Fatalf("expected user-42, got %q err=%v", sub, err)
	}

	if _, err := v.Verify(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := v.Verify("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := v.Verify(signedToken(t, "wrong-secret", "user-42")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rejection on bad signature, got %v", err)
	}
	if _, err := v.Verify(signedToken(t, "s3cret", "")); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected rejection on empty subject, got %v", err)
	}
}

func TestOpaqueVerifier(t *testing.T) {
	v := OpaqueVerifier{}
	if _, err := v.Verify(""); !errors.Is(err, ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if sub, err := v.Verify("anything"); err != nil || sub != "anything" {
		t.Fatalf("expected opaque pass-through, got %q err=%v", sub, err)
	}
}
