// Package remote talks to the cloud-hosted member directory over HTTPS.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/frontdesk-ops/frontdesk/internal/clock"
	"github.com/frontdesk-ops/frontdesk/internal/logging"
	"github.com/frontdesk-ops/frontdesk/internal/types"
)

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 4 << 20

// CredentialSource supplies credentials to the Client. *Authenticator
// implements it.
type CredentialSource interface {
	IsValid() bool
	CurrentCredential() *Credential
	Invalidate()
	AuthenticateErr(ctx context.Context) error
}

// Config configures a Client.
type Config struct {
	BaseURL string
	SiteID  string

	// Timeout bounds every request. Defaults to 30 seconds.
	Timeout time.Duration

	// HTTPClient defaults to a client with Timeout applied.
	HTTPClient *http.Client

	Clock  clock.Clock
	Logger *slog.Logger
}

// Client is the remote directory API client.
type Client struct {
	baseURL    string
	siteID     string
	timeout    time.Duration
	httpClient *http.Client
	auth       CredentialSource
	clock      clock.Clock
	logger     *slog.Logger
}

// NewClient creates a Client. BaseURL must use HTTPS.
func NewClient(cfg Config, auth CredentialSource) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: directory base URL is empty", types.ErrConfigurationMissing)
	}
	if !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, fmt.Errorf("directory base URL must use HTTPS (got %q)", cfg.BaseURL)
	}
	if auth == nil {
		return nil, fmt.Errorf("credential source is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		siteID:     cfg.SiteID,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		auth:       auth,
		clock:      cfg.Clock,
		logger:     logging.Component(cfg.Logger, "remote"),
	}, nil
}

// GetByID fetches one member. A 404 is reported as types.ErrNotFound.
func (c *Client) GetByID(ctx context.Context, externalID string) (*types.Member, error) {
	body, err := c.do(ctx, http.MethodGet, "/members/"+url.PathEscape(externalID), nil)
	if err != nil {
		return nil, err
	}
	var p memberPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode member %s: %w", externalID, err)
	}
	return p.toMember(c.clock.Now())
}

// Search runs a free-text query against the directory.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]*types.Member, error) {
	params := url.Values{"q": {query}}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	body, err := c.do(ctx, http.MethodGet, "/members/search?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	return decodeMembers(body, c.clock.Now())
}

// List returns one page of the directory.
func (c *Client) List(ctx context.Context, limit, offset int) ([]*types.Member, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		params.Set("offset", strconv.Itoa(offset))
	}
	path := "/members"
	if len(params) > 0 {
		path += "?" + params.Encode()
	}
	body, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return decodeMembers(body, c.clock.Now())
}

// Update applies patch to a member and returns the directory's new copy.
func (c *Client) Update(ctx context.Context, externalID string, patch MemberPatch) (*types.Member, error) {
	if patch.IsEmpty() {
		return nil, fmt.Errorf("update for member %s changes nothing", externalID)
	}
	payload, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode member patch: %w", err)
	}
	body, err := c.do(ctx, http.MethodPatch, "/members/"+url.PathEscape(externalID), payload)
	if err != nil {
		return nil, err
	}
	var p memberPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("failed to decode member %s: %w", externalID, err)
	}
	return p.toMember(c.clock.Now())
}

// Ping performs the cheapest authenticated request the directory offers.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, probePath, nil)
	return err
}

// do sends a request with the current credential. When the directory
// rejects the credential it re-authenticates once and retries once; a
// second rejection is surfaced as types.ErrAuthenticationRejected.
func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	cred, err := c.credential(ctx)
	if err != nil {
		return nil, err
	}

	body, err := c.send(ctx, method, path, payload, cred)
	if !IsUnauthorized(err) {
		return body, err
	}

	c.logger.Info("credential rejected, re-authenticating", "method", method, "path", path)
	c.auth.Invalidate()
	if authErr := c.auth.AuthenticateErr(ctx); authErr != nil {
		return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationRejected, err)
	}
	cred = c.auth.CurrentCredential()
	if cred == nil {
		return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationRejected, err)
	}

	body, err = c.send(ctx, method, path, payload, cred)
	if IsUnauthorized(err) {
		return nil, fmt.Errorf("%w: %w", types.ErrAuthenticationRejected, err)
	}
	return body, err
}

func (c *Client) credential(ctx context.Context) (*Credential, error) {
	if !c.auth.IsValid() {
		if err := c.auth.AuthenticateErr(ctx); err != nil {
			return nil, err
		}
	}
	cred := c.auth.CurrentCredential()
	if cred == nil {
		return nil, fmt.Errorf("%w: no credential available", types.ErrAuthenticationRejected)
	}
	return cred, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, cred *Credential) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	setCommonHeaders(req, cred, c.siteID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", types.ErrRemoteUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %w", types.ErrRemoteUnavailable, err)
	}
	c.logger.Debug("directory request",
		"method", method, "path", path, "status", resp.StatusCode,
		"request_id", req.Header.Get("X-Request-Id"), "elapsed", c.clock.Now().Sub(start))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %w", types.ErrNotFound, newAPIError(resp.StatusCode, body))
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: %w", types.ErrRemoteUnavailable, newAPIError(resp.StatusCode, body))
	default:
		return nil, newAPIError(resp.StatusCode, body)
	}
}

func setCommonHeaders(req *http.Request, cred *Credential, siteID string) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", cred.AuthorizationHeader())
	req.Header.Set("X-Request-Id", uuid.NewString())
	if siteID != "" {
		req.Header.Set("X-Site-Id", siteID)
	}
}
