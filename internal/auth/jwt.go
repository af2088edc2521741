// Package auth validates bearer JWTs for the console API using a JWKS
// endpoint.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// ErrMissingToken is returned when a request carries no bearer token.
var ErrMissingToken = errors.New("missing bearer token")

// Claims are the console's JWT claims. An empty Projects list grants every
// project.
type Claims struct {
	jwt.RegisteredClaims
	Projects []string `json:"projects,omitempty"`
}

// AllowsProject reports whether the token grants projectID.
func (c *Claims) AllowsProject(projectID string) bool {
	return len(c.Projects) == 0 || slices.Contains(c.Projects, projectID)
}

// JWTValidator validates JWTs using a remote JWKS endpoint.
type JWTValidator struct {
	keyfunc  jwt.Keyfunc
	audience string
	issuer   string
}

// NewJWTValidator creates a validator that fetches and caches keys from
// jwksURL.
func NewJWTValidator(jwksURL, issuer, audience string) (*JWTValidator, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	k, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		return nil, fmt.Errorf("failed to create JWKS keyfunc: %w", err)
	}
	return NewValidatorWithKeyfunc(k.Keyfunc, issuer, audience), nil
}

// NewValidatorWithKeyfunc creates a validator over an existing key source,
// such as a static key.
func NewValidatorWithKeyfunc(kf jwt.Keyfunc, issuer, audience string) *JWTValidator {
	return &JWTValidator{keyfunc: kf, issuer: issuer, audience: audience}
}

// Validate parses tokenString and checks signature, expiry, issuer and
// audience.
func (v *JWTValidator) Validate(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, v.keyfunc, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid claims type")
	}
	return claims, nil
}

// ValidateRequest validates the bearer token of r. Browsers cannot set
// headers on websocket upgrades, so a token query parameter is accepted too.
func (v *JWTValidator) ValidateRequest(r *http.Request) (*Claims, error) {
	token := TokenFromRequest(r)
	if token == "" {
		return nil, ErrMissingToken
	}
	return v.Validate(token)
}

// TokenFromRequest extracts the bearer token from the Authorization header
// or the token query parameter.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}
