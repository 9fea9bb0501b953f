// Package auth is the boundary to the external authentication collaborator.
// The dispatch engine only needs two things at connect time: that a bearer
// credential is present, and a stable subject identity to hang the session on.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt"
)

var (
	ErrMissingToken = errors.New("authentication required")
	ErrInvalidToken = errors.New("invalid credential")
)

// Verifier validates a bearer token and returns the subject it identifies.
type Verifier interface {
	Verify(token string) (subject string, err error)
}

// JWTVerifier checks an HMAC-signed JWT against a shared secret issued by the
// external auth service.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	claims := &jwt.StandardClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil || !parsed.Valid {
		return "", ErrInvalidToken
	}
	if claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// OpaqueVerifier only requires that some credential was presented. Used when
// no shared secret is configured and token validation is delegated entirely
// to the upstream proxy.
type OpaqueVerifier struct{}

func (OpaqueVerifier) Verify(token string) (string, error) {
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
