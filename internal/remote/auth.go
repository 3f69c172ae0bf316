package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/frontdesk-ops/frontdesk/internal/clock"
	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// Strategy names an authentication method accepted by the directory.
type Strategy string

const (
	StrategyAPIKey            Strategy = "API_KEY"
	StrategyClientCredentials Strategy = "OAUTH_CLIENT_CREDENTIALS"
	StrategyBearer            Strategy = "BEARER"
)

// DefaultCredentialTTL is the lifetime given to credentials whose expiry
// the directory does not report.
const DefaultCredentialTTL = 24 * time.Hour

// probePath is the cheapest authenticated endpoint on the directory.
const probePath = "/members?limit=1"

// Credential is an authenticated session with the directory.
type Credential struct {
	Strategy  Strategy
	Secret    string
	ExpiresAt time.Time
}

// AuthorizationHeader returns the Authorization header value for the
// credential's strategy.
func (c *Credential) AuthorizationHeader() string {
	if c.Strategy == StrategyAPIKey {
		return c.Secret
	}
	return "Bearer " + c.Secret
}

// ValidAt reports whether the credential has not yet expired at now.
func (c *Credential) ValidAt(now time.Time) bool {
	return c != nil && c.Secret != "" && now.Before(c.ExpiresAt)
}

// AuthConfig configures an Authenticator.
type AuthConfig struct {
	// BaseURL is the directory's API root, e.g. "https://api.example.com/v1".
	BaseURL string

	// TokenURL is the OAuth token endpoint. Defaults to BaseURL + "/oauth/token".
	TokenURL string

	APIKey       string
	SiteID       string
	ClientID     string
	ClientSecret string

	// HTTPClient is used for token requests and probes. Defaults to a
	// client with a 30 second timeout.
	HTTPClient *http.Client

	// Clock is used for expiry checks. Defaults to the real clock.
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// strategy is one entry of the ordered fallback chain. ready reports
// whether the required settings are present; acquire obtains a candidate
// credential, which is then probed against the directory.
type strategy struct {
	name    Strategy
	ready   func() bool
	acquire func(ctx context.Context) (*Credential, error)
}

// Authenticator holds at most one valid credential and knows how to obtain
// a new one by trying each configured strategy in order.
type Authenticator struct {
	cfg        AuthConfig
	httpClient *http.Client
	clock      clock.Clock
	logger     *slog.Logger
	strategies []strategy

	// authMu serializes Authenticate so concurrent callers do not run the
	// strategy chain twice.
	authMu sync.Mutex

	mu         sync.RWMutex
	credential *Credential

	attempts atomic.Int64
}

// NewAuthenticator creates an Authenticator. It performs no I/O.
func NewAuthenticator(cfg AuthConfig) *Authenticator {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.TokenURL == "" && cfg.BaseURL != "" {
		cfg.TokenURL = cfg.BaseURL + "/oauth/token"
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}

	a := &Authenticator{
		cfg:        cfg,
		httpClient: cfg.HTTPClient,
		clock:      cfg.Clock,
		logger:     logging.Component(cfg.Logger, "auth"),
	}
	a.strategies = []strategy{
		{
			name:    StrategyAPIKey,
			ready:   func() bool { return a.cfg.APIKey != "" },
			acquire: a.staticCredential(StrategyAPIKey),
		},
		{
			name:    StrategyClientCredentials,
			ready:   func() bool { return a.cfg.ClientID != "" && a.cfg.ClientSecret != "" },
			acquire: a.clientCredentials,
		},
		{
			name:    StrategyBearer,
			ready:   func() bool { return a.cfg.APIKey != "" },
			acquire: a.staticCredential(StrategyBearer),
		},
	}
	return a
}

// Configured reports whether any strategy has the settings it needs.
func (a *Authenticator) Configured() bool {
	if a.cfg.BaseURL == "" {
		return false
	}
	for _, s := range a.strategies {
		if s.ready() {
			return true
		}
	}
	return false
}

// Authenticate tries each strategy in order and keeps the first credential
// the directory accepts. It returns false, with no credential held, when
// every strategy fails.
func (a *Authenticator) Authenticate(ctx context.Context) bool {
	return a.AuthenticateErr(ctx) == nil
}

// AuthenticateErr is Authenticate with the failure classified:
// ErrConfigurationMissing when no strategy is configured,
// ErrRemoteUnavailable when every attempt failed to reach the directory,
// and ErrAuthenticationRejected otherwise.
func (a *Authenticator) AuthenticateErr(ctx context.Context) error {
	a.authMu.Lock()
	defer a.authMu.Unlock()
	a.attempts.Add(1)

	if !a.Configured() {
		a.setCredential(nil)
		return fmt.Errorf("%w: no directory credentials configured", types.ErrConfigurationMissing)
	}

	var errs []error
	unreachable := true
	for _, s := range a.strategies {
		if !s.ready() {
			continue
		}
		cred, err := s.acquire(ctx)
		if err == nil {
			err = a.probe(ctx, cred)
		}
		if err != nil {
			a.logger.Warn("authentication strategy failed", "strategy", s.name, "error", err)
			if !errors.Is(err, types.ErrRemoteUnavailable) {
				unreachable = false
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.name, err))
			continue
		}

		a.setCredential(cred)
		a.logger.Info("authenticated", "strategy", s.name, "expires_at", cred.ExpiresAt)
		return nil
	}

	a.setCredential(nil)
	cause := errors.Join(errs...)
	if unreachable {
		return fmt.Errorf("%w: %w", types.ErrRemoteUnavailable, cause)
	}
	return fmt.Errorf("%w: %w", types.ErrAuthenticationRejected, cause)
}

// IsValid reports whether a credential is held and has not expired.
func (a *Authenticator) IsValid() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.credential.ValidAt(a.clock.Now())
}

// CurrentCredential returns a copy of the held credential, or nil.
func (a *Authenticator) CurrentCredential() *Credential {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.credential == nil {
		return nil
	}
	c := *a.credential
	return &c
}

// Invalidate discards the held credential.
func (a *Authenticator) Invalidate() {
	a.setCredential(nil)
}

// Attempts returns how many times the strategy chain has been run.
func (a *Authenticator) Attempts() int64 {
	return a.attempts.Load()
}

func (a *Authenticator) setCredential(c *Credential) {
	a.mu.Lock()
	a.credential = c
	a.mu.Unlock()
}

func (a *Authenticator) staticCredential(name Strategy) func(context.Context) (*Credential, error) {
	return func(context.Context) (*Credential, error) {
		return &Credential{
			Strategy:  name,
			Secret:    a.cfg.APIKey,
			ExpiresAt: a.clock.Now().Add(DefaultCredentialTTL),
		}, nil
	}
}

func (a *Authenticator) clientCredentials(ctx context.Context) (*Credential, error) {
	conf := &clientcredentials.Config{
		ClientID:     a.cfg.ClientID,
		ClientSecret: a.cfg.ClientSecret,
		TokenURL:     a.cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.httpClient)
	token, err := conf.Token(ctx)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return nil, fmt.Errorf("token request rejected: %w", err)
		}
		return nil, fmt.Errorf("%w: token request: %w", types.ErrRemoteUnavailable, err)
	}

	return &Credential{
		Strategy:  StrategyClientCredentials,
		Secret:    token.AccessToken,
		ExpiresAt: a.tokenExpiry(token),
	}, nil
}

// tokenExpiry prefers the token response's expires_in, then the exp claim
// of a JWT access token, then DefaultCredentialTTL.
func (a *Authenticator) tokenExpiry(token *oauth2.Token) time.Time {
	now := a.clock.Now()
	if !token.Expiry.IsZero() {
		// oauth2 computes Expiry from the wall clock; carry the remaining
		// lifetime over to our clock.
		return now.Add(time.Until(token.Expiry))
	}
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token.AccessToken, &claims); err == nil && claims.ExpiresAt != nil {
		return claims.ExpiresAt.Time
	}
	return now.Add(DefaultCredentialTTL)
}

// probe verifies that the directory accepts cred.
func (a *Authenticator) probe(ctx context.Context, cred *Credential) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.BaseURL+probePath, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}
	setCommonHeaders(req, cred, a.cfg.SiteID)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", types.ErrRemoteUnavailable, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := newAPIError(resp.StatusCode, body)
		if resp.StatusCode >= 500 {
			return fmt.Errorf("%w: %w", types.ErrRemoteUnavailable, apiErr)
		}
		return apiErr
	}
	return nil
}
