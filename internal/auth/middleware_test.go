package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestMiddleware(t *testing.T) {
	service := NewJWTService("secret", time.Hour)
	token, err := service.Generate("user-1", "")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	var seen string
	handler := Middleware(service, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := PrincipalFromContext(r.Context()); ok {
			seen = p.Subject
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"missing", "/api/tools", "", http.StatusUnauthorized},
		{"bearer header", "/api/tools", "Bearer " + token, http.StatusNoContent},
		{"lowercase scheme", "/api/tools", "bearer " + token, http.StatusNoContent},
		{"query token", "/ws/s1?token=" + token, "", http.StatusNoContent},
		{"bad token", "/api/tools", "Bearer nope", http.StatusUnauthorized},
		{"basic scheme", "/api/tools", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusNoContent && seen != "user-1" {
				t.Fatalf("principal = %q, want user-1", seen)
			}
			if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Fatal("expected WWW-Authenticate header")
			}
		})
	}
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	called := false
	handler := Middleware(NewJWTService("", 0), nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/tools", nil))
	if !called {
		t.Fatal("disabled middleware should call next")
	}
}
