package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestJWTServiceGenerateValidate(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	token, err := service.Generate("user-1", "Tony")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	p, err := service.Validate(token)
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if p.Subject != "user-1" {
		t.Fatalf("expected subject, got %q", p.Subject)
	}
	if p.Name != "Tony" {
		t.Fatalf("expected name, got %q", p.Name)
	}
}

func TestJWTServiceDisabled(t *testing.T) {
	service := NewJWTService("  ", time.Hour)
	if service.Enabled() {
		t.Fatal("blank secret should disable auth")
	}
	if _, err := service.Generate("user-1", ""); !errors.Is(err, ErrAuthDisabled) {
		t.Fatalf("Generate() error = %v, want ErrAuthDisabled", err)
	}
	if _, err := service.Validate("anything"); !errors.Is(err, ErrAuthDisabled) {
		t.Fatalf("Validate() error = %v, want ErrAuthDisabled", err)
	}
	var nilService *JWTService
	if nilService.Enabled() {
		t.Fatal("nil service should be disabled")
	}
}

func TestJWTServiceRejects(t *testing.T) {
	service := NewJWTService("secret", time.Minute)
	other := NewJWTService("other", time.Minute)

	foreign, err := other.Generate("user-1", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	expiredSvc := NewJWTService("secret", time.Minute)
	expiredSvc.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := expiredSvc.Generate("user-1", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	noSubject := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Name: "x"})
	blank, err := noSubject.SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}

	tests := []struct {
		name  string
		token string
	}{
		{"garbage", "not-a-token"},
		{"wrong secret", foreign},
		{"expired", expired},
		{"alg none", unsigned},
		{"missing subject", blank},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := service.Validate(tt.token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("Validate() error = %v, want ErrInvalidToken", err)
			}
		})
	}
}

func TestJWTServiceRequiresSubject(t *testing.T) {
	service := NewJWTService("secret", 0)
	if _, err := service.Generate(" ", ""); err == nil {
		t.Fatal("expected error for empty subject")
	}
}
