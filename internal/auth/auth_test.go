package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier(t *testing.T) {
	v, err := NewVerifier("s3cret", "")
	require.NoError(t, err)

	t.Run("issued token verifies", func(t *testing.T) {
		tok, err := v.IssueToken("alice", time.Hour)
		require.NoError(t, err)
		claims, err := v.Verify(tok)
		require.NoError(t, err)
		assert.Equal(t, "alice", claims.Subject)
		assert.True(t, claims.HasScope(CommandScope))
	})

	t.Run("wrong secret", func(t *testing.T) {
		other, err := NewVerifier("other", "")
		require.NoError(t, err)
		tok, err := other.IssueToken("alice", time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(tok)
		assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
	})

	t.Run("expired", func(t *testing.T) {
		tok, err := v.IssueToken("alice", -time.Minute)
		require.NoError(t, err)
		_, err = v.Verify(tok)
		assert.ErrorIs(t, err, jwt.ErrTokenExpired)
	})

	t.Run("missing scope", func(t *testing.T) {
		reader, err := NewVerifier("s3cret", "routesim:read")
		require.NoError(t, err)
		tok, err := reader.IssueToken("bob", time.Hour)
		require.NoError(t, err)
		_, err = v.Verify(tok)
		assert.ErrorIs(t, err, ErrMissingScope)
	})

	t.Run("no expiry", func(t *testing.T) {
		tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
			Scope:            CommandScope,
			RegisteredClaims: jwt.RegisteredClaims{Issuer: issuer},
		}).SignedString([]byte("s3cret"))
		require.NoError(t, err)
		_, err = v.Verify(tok)
		assert.Error(t, err)
	})
}

func TestNewVerifier_RequiresSecret(t *testing.T) {
	_, err := NewVerifier("", "")
	assert.Error(t, err)
}

func TestMiddleware(t *testing.T) {
	v, err := NewVerifier("s3cret", "")
	require.NoError(t, err)
	var subject string
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, ok := FromContext(r.Context())
		require.True(t, ok)
		subject = c.Subject
		w.WriteHeader(http.StatusNoContent)
	}))

	// GIVEN no header THEN 401
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/commands", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// GIVEN a token without the scope THEN 403
	reader, err := NewVerifier("s3cret", "routesim:read")
	require.NoError(t, err)
	tok, err := reader.IssueToken("bob", time.Hour)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/api/v1/commands", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// GIVEN a valid token THEN the handler sees the claims
	tok, err = v.IssueToken("alice", time.Hour)
	require.NoError(t, err)
	rec = httptest.NewRecorder()
	req = httptest.NewRequest("POST", "/api/v1/commands", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "alice", subject)
}
