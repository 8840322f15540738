package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/FairForge/requestopt/internal/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTokenAuth_EmptySecretDisables(t *testing.T) {
	assert.Nil(t, NewTokenAuth(""))
	assert.NotNil(t, NewTokenAuth("s3cret"))
}

func TestTokenAuth_RoundTrip(t *testing.T) {
	auth := NewTokenAuth("s3cret")

	token, err := auth.GenerateToken("ci", time.Hour)
	require.NoError(t, err)

	claims, err := auth.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "ci", claims.Subject)
	assert.Equal(t, tokenIssuer, claims.Issuer)
}

func TestTokenAuth_Rejects(t *testing.T) {
	auth := NewTokenAuth("s3cret")

	expired, err := auth.GenerateToken("ci", -time.Minute)
	require.NoError(t, err)
	_, err = auth.ValidateToken(expired)
	assert.Error(t, err)

	other, err := NewTokenAuth("different").GenerateToken("ci", time.Hour)
	require.NoError(t, err)
	_, err = auth.ValidateToken(other)
	assert.Error(t, err)

	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    "someone-else",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	signed, err := foreign.SignedString([]byte("s3cret"))
	require.NoError(t, err)
	_, err = auth.ValidateToken(signed)
	assert.Error(t, err)

	_, err = auth.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func TestServer_RequiresTokenWhenConfigured(t *testing.T) {
	cfg := config.Default().Server
	cfg.JWTSecret = "s3cret"
	env := newTestServerWithConfig(t, cfg)

	w := env.do(t, http.MethodGet, "/optimizer/metrics", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("WWW-Authenticate"))

	// health and metrics stay open for probes and scrapers
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/metrics", "").Code)

	token, err := NewTokenAuth("s3cret").GenerateToken("ci", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/optimizer/metrics", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/optimizer/metrics", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClientKey_PrefersSubject(t *testing.T) {
	auth := NewTokenAuth("s3cret")
	token, err := auth.GenerateToken("ci", time.Hour)
	require.NoError(t, err)

	var key string
	h := auth.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = clientKey(r)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Client-ID", "ignored")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "sub:ci", key)
}
