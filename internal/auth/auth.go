// Package auth verifies bearer tokens on mutating API routes.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CommandScope grants permission to submit commands and pause the run.
const CommandScope = "routesim:command"

const issuer = "routesim"

var (
	ErrMissingToken = errors.New("authentication required: bearer token")
	ErrMissingScope = errors.New("missing required scope")
)

// Claims carries the granted scopes as a space-separated string.
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// HasScope reports whether scope was granted.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(strings.Fields(c.Scope), scope)
}

// Verifier checks HMAC-signed tokens issued with the shared secret.
type Verifier struct {
	secret []byte
	scope  string
}

// NewVerifier requires a non-empty secret.
func NewVerifier(secret, scope string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("jwt secret required")
	}
	if scope == "" {
		scope = CommandScope
	}
	return &Verifier{secret: []byte(secret), scope: scope}, nil
}

// IssueToken signs a token for subject valid for ttl with the verifier's
// scope.
func (v *Verifier) IssueToken(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Scope: v.scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Verify parses tokenStr and checks signature, expiry, issuer and scope.
func (v *Verifier) Verify(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token parse error: %w", err)
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if !claims.HasScope(v.scope) {
		return nil, ErrMissingScope
	}
	return claims, nil
}

// VerifyRequest checks the Authorization header.
func (v *Verifier) VerifyRequest(r *http.Request) (*Claims, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return nil, ErrMissingToken
	}
	return v.Verify(strings.TrimPrefix(header, "Bearer "))
}

type ctxKey struct{}

// Middleware rejects requests without a valid token with 401, or 403 when
// the scope is missing. Verified claims are stored in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, err := v.VerifyRequest(r)
		if err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, ErrMissingScope) {
				status = http.StatusForbidden
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			fmt.Fprintf(w, "{\"error\":%q}\n", err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
	})
}

// FromContext returns the claims stored by Middleware.
func FromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKey{}).(*Claims)
	return c, ok
}
