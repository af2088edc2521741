package auth

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("test-secret")

func hmacKeyfunc(t *jwt.Token) (interface{}, error) {
	return testSecret, nil
}

func sign(t *testing.T, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "https://auth.example.com",
			Audience:  jwt.ClaimStrings{"sdlc-console"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestValidateAcceptsGoodToken(t *testing.T) {
	v := NewValidatorWithKeyfunc(hmacKeyfunc, "https://auth.example.com", "sdlc-console")
	claims, err := v.Validate(sign(t, validClaims()))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %q", claims.Subject)
	}
}

func TestValidateRejects(t *testing.T) {
	v := NewValidatorWithKeyfunc(hmacKeyfunc, "https://auth.example.com", "sdlc-console")

	tests := map[string]func(*Claims){
		"wrong audience": func(c *Claims) { c.Audience = jwt.ClaimStrings{"other-service"} },
		"wrong issuer":   func(c *Claims) { c.Issuer = "https://evil.example.com" },
		"expired":        func(c *Claims) { c.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute)) },
		"no expiry":      func(c *Claims) { c.ExpiresAt = nil },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			c := validClaims()
			mutate(&c)
			if _, err := v.Validate(sign(t, c)); err == nil {
				t.Fatal("expected rejection")
			}
		})
	}
}

func TestAllowsProject(t *testing.T) {
	open := &Claims{}
	if !open.AllowsProject("proj-1") {
		t.Fatal("empty project list should allow all")
	}
	scoped := &Claims{Projects: []string{"proj-1"}}
	if !scoped.AllowsProject("proj-1") || scoped.AllowsProject("proj-2") {
		t.Fatal("project scoping wrong")
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest("GET", "/projects/p/workspace/ws?token=from-query", nil)
	if got := TokenFromRequest(r); got != "from-query" {
		t.Fatalf("query token = %q", got)
	}
	r.Header.Set("Authorization", "Bearer from-header")
	if got := TokenFromRequest(r); got != "from-header" {
		t.Fatalf("header token = %q", got)
	}

	v := NewValidatorWithKeyfunc(hmacKeyfunc, "", "")
	if _, err := v.ValidateRequest(httptest.NewRequest("GET", "/", nil)); err != ErrMissingToken {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
}
