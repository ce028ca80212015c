// Package auth issues and checks the HS256 bearer tokens that guard the
// HTTP API and WebSocket routes.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrAuthDisabled = errors.New("auth disabled")
	ErrInvalidToken = errors.New("invalid token")
)

// Principal is the caller identified by a token.
type Principal struct {
	Subject string
	Name    string
}

// JWTService handles token signing and verification.
type JWTService struct {
	secret []byte
	expiry time.Duration
	now    func() time.Time
}

// NewJWTService builds a JWT helper with the given secret and expiry. An
// empty secret yields a service that reports itself disabled.
func NewJWTService(secret string, expiry time.Duration) *JWTService {
	return &JWTService{secret: []byte(strings.TrimSpace(secret)), expiry: expiry, now: time.Now}
}

// Enabled reports whether tokens are checked.
func (s *JWTService) Enabled() bool {
	return s != nil && len(s.secret) > 0
}

type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Generate issues a signed token for subject.
func (s *JWTService) Generate(subject, name string) (string, error) {
	if !s.Enabled() {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("subject required")
	}

	now := s.now()
	claims := Claims{
		Name: strings.TrimSpace(name),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate parses and validates a token and returns its principal.
func (s *JWTService) Validate(token string) (*Principal, error) {
	if !s.Enabled() {
		return nil, ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &Principal{Subject: claims.Subject, Name: claims.Name}, nil
}
