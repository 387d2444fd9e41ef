// Package refreshclient performs the network exchange that trades a
// refresh token for a new access/refresh pair. It is the sole owner of
// failure classification for that exchange: callers only ever see a new
// credential record, a transient failure, or a terminal one.
package refreshclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/campuslink/cskeep/internal/credstore"
	"github.com/campuslink/cskeep/internal/token"
)

// DefaultTimeout bounds the refresh call. A hung call is reported as a
// transient failure rather than blocking the refresh path forever.
const DefaultTimeout = 15 * time.Second

// Client exchanges refresh tokens against the backend's refresh
// endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient injects a custom HTTP client (useful for tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithTimeout overrides the request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// New creates a refresh client for the given endpoint URL.
func New(endpoint string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: DefaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the configured refresh endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

type refreshRequest struct {
	Refresh string `json:"refresh"`
}

// refreshResponse accepts both response layouts the backend emits: a
// nested tokens object and backward-compatible top-level fields.
type refreshResponse struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
	Tokens  struct {
		Access  string `json:"access"`
		Refresh string `json:"refresh"`
	} `json:"tokens"`
}

func (r *refreshResponse) pair() (access, refresh string) {
	access, refresh = r.Tokens.Access, r.Tokens.Refresh
	if access == "" {
		access = r.Access
	}
	if refresh == "" {
		refresh = r.Refresh
	}
	return access, refresh
}

// Refresh performs exactly one refresh call and classifies the outcome.
// On success it returns a complete new record with the expiry decoded
// from the new access token. Errors unwrap to ErrTransient or
// ErrTerminal.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*credstore.Record, error) {
	if refreshToken == "" {
		return nil, &TerminalError{Reason: "refresh token is empty"}
	}

	body, err := json.Marshal(refreshRequest{Refresh: refreshToken})
	if err != nil {
		return nil, &TerminalError{Reason: fmt.Sprintf("marshal request: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &TerminalError{Reason: fmt.Sprintf("create request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Covers DNS failures, refused connections, and client timeouts.
		return nil, &TransientError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decode
	case resp.StatusCode >= 500:
		return nil, &TransientError{Reason: fmt.Sprintf("server error %d", resp.StatusCode)}
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &TransientError{Reason: "rate limited"}
	default:
		// 400/401/403: the refresh token is invalid, expired, or
		// blacklisted after rotation.
		return nil, &TerminalError{Reason: "refresh token rejected", StatusCode: resp.StatusCode}
	}

	var parsed refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, &TerminalError{Reason: fmt.Sprintf("decode response: %v", err)}
	}

	access, refresh := parsed.pair()
	if access == "" || refresh == "" {
		return nil, &TerminalError{Reason: "response missing token pair"}
	}

	expiry, err := token.ExpiryFromAccessToken(access)
	if err != nil {
		return nil, &TerminalError{Reason: fmt.Sprintf("undecodable access token: %v", err)}
	}

	return &credstore.Record{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    expiry.UnixMilli(),
	}, nil
}
