package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frontdesk-ops/frontdesk/internal/clock"
	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

var testEpoch = time.Date(2026, 4, 2, 8, 30, 0, 0, time.UTC)

// directoryServer is a minimal directory that accepts a fixed set of
// Authorization header values and issues one OAuth token.
type directoryServer struct {
	*httptest.Server
	accepted     map[string]bool
	tokenBody    map[string]any
	probes       atomic.Int64
	tokenRequest atomic.Int64
}

func newDirectoryServer(t *testing.T, accepted ...string) *directoryServer {
	t.Helper()
	d := &directoryServer{accepted: map[string]bool{}}
	for _, a := range accepted {
		d.accepted[a] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		d.tokenRequest.Add(1)
		if err := r.ParseForm(); err != nil || r.FormValue("client_id") != "desk" || r.FormValue("client_secret") != "s3cret" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.tokenBody)
	})
	mux.HandleFunc("/members", func(w http.ResponseWriter, r *http.Request) {
		d.probes.Add(1)
		if !d.accepted[r.Header.Get("Authorization")] {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"message":"bad credentials"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"members":[],"total":0}`))
	})

	d.Server = httptest.NewTLSServer(mux)
	t.Cleanup(d.Close)
	return d
}

func newTestAuthenticator(d *directoryServer, fake clock.Clock, mutate func(*AuthConfig)) *Authenticator {
	cfg := AuthConfig{
		BaseURL:    d.URL,
		SiteID:     "site-7",
		HTTPClient: d.Client(),
		Clock:      fake,
		Logger:     logging.Discard(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewAuthenticator(cfg)
}

func TestAuthenticate_APIKeyOnly(t *testing.T) {
	d := newDirectoryServer(t, "key-1")
	fake := clock.Fake(testEpoch)
	auth := newTestAuthenticator(d, fake, func(c *AuthConfig) { c.APIKey = "key-1" })

	require.True(t, auth.Authenticate(context.Background()))
	assert.True(t, auth.IsValid())

	cred := auth.CurrentCredential()
	require.NotNil(t, cred)
	assert.Equal(t, StrategyAPIKey, cred.Strategy)
	assert.Equal(t, "key-1", cred.Secret)
	assert.True(t, cred.ExpiresAt.Equal(testEpoch.Add(24*time.Hour)))
	assert.Equal(t, int64(1), d.probes.Load())

	fake.Advance(24 * time.Hour)
	assert.False(t, auth.IsValid())
}

func TestAuthenticate_NoCredentialsConfigured(t *testing.T) {
	d := newDirectoryServer(t)
	auth := newTestAuthenticator(d, clock.Fake(testEpoch), nil)

	assert.False(t, auth.Configured())
	assert.False(t, auth.Authenticate(context.Background()))
	assert.Nil(t, auth.CurrentCredential())
	assert.ErrorIs(t, auth.AuthenticateErr(context.Background()), types.ErrConfigurationMissing)
	assert.Zero(t, d.probes.Load())
	assert.Zero(t, d.tokenRequest.Load())
}

func TestAuthenticate_FallsBackToClientCredentials(t *testing.T) {
	exp := testEpoch.Add(time.Hour)
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(exp),
		Subject:   "desk",
	}).SignedString([]byte("signing-key"))
	require.NoError(t, err)

	d := newDirectoryServer(t, "Bearer "+access)
	d.tokenBody = map[string]any{"access_token": access, "token_type": "bearer"}

	auth := newTestAuthenticator(d, clock.Fake(testEpoch), func(c *AuthConfig) {
		c.APIKey = "stale-key"
		c.ClientID = "desk"
		c.ClientSecret = "s3cret"
	})

	require.True(t, auth.Authenticate(context.Background()))
	cred := auth.CurrentCredential()
	require.NotNil(t, cred)
	assert.Equal(t, StrategyClientCredentials, cred.Strategy)
	assert.Equal(t, "Bearer "+access, cred.AuthorizationHeader())
	assert.True(t, cred.ExpiresAt.Equal(exp), "expiry should come from the token's exp claim, got %s", cred.ExpiresAt)
	assert.Equal(t, int64(1), d.tokenRequest.Load())
}

func TestAuthenticate_ExpiresInFromTokenResponse(t *testing.T) {
	d := newDirectoryServer(t, "Bearer opaque-token")
	d.tokenBody = map[string]any{"access_token": "opaque-token", "token_type": "bearer", "expires_in": 3600}

	auth := newTestAuthenticator(d, clock.Fake(testEpoch), func(c *AuthConfig) {
		c.ClientID = "desk"
		c.ClientSecret = "s3cret"
	})

	require.True(t, auth.Authenticate(context.Background()))
	cred := auth.CurrentCredential()
	require.NotNil(t, cred)
	assert.WithinDuration(t, testEpoch.Add(time.Hour), cred.ExpiresAt, 10*time.Second)
}

func TestAuthenticate_BearerFallback(t *testing.T) {
	d := newDirectoryServer(t, "Bearer key-1")
	auth := newTestAuthenticator(d, clock.Fake(testEpoch), func(c *AuthConfig) { c.APIKey = "key-1" })

	require.True(t, auth.Authenticate(context.Background()))
	assert.Equal(t, StrategyBearer, auth.CurrentCredential().Strategy)
	assert.Equal(t, int64(2), d.probes.Load())
}

func TestAuthenticate_AllStrategiesRejected(t *testing.T) {
	d := newDirectoryServer(t)
	d.tokenBody = map[string]any{"access_token": "tok", "token_type": "bearer"}
	auth := newTestAuthenticator(d, clock.Fake(testEpoch), func(c *AuthConfig) {
		c.APIKey = "nope"
		c.ClientID = "desk"
		c.ClientSecret = "s3cret"
	})

	err := auth.AuthenticateErr(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrAuthenticationRejected)
	assert.Nil(t, auth.CurrentCredential())
	assert.False(t, auth.IsValid())
}

func TestAuthenticate_Unreachable(t *testing.T) {
	d := newDirectoryServer(t)
	auth := newTestAuthenticator(d, clock.Fake(testEpoch), func(c *AuthConfig) { c.APIKey = "key-1" })
	d.Close()

	err := auth.AuthenticateErr(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrRemoteUnavailable)
	assert.True(t, types.IsRetryable(err))
}

func TestInvalidate(t *testing.T) {
	d := newDirectoryServer(t, "key-1")
	auth := newTestAuthenticator(d, clock.Fake(testEpoch), func(c *AuthConfig) { c.APIKey = "key-1" })

	require.True(t, auth.Authenticate(context.Background()))
	auth.Invalidate()
	assert.False(t, auth.IsValid())
	assert.Nil(t, auth.CurrentCredential())
	assert.Equal(t, int64(1), auth.Attempts())
}
