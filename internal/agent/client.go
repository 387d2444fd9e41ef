package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/campuslink/cskeep/internal/session"
)

// Client talks to a running agent endpoint from another process.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

const clientTimeout = 5 * time.Second

// NewClient builds a client for the agent at addr (host:port).
func NewClient(addr string) *Client {
	return &Client{
		baseURL:    "http://" + addr,
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

// Ping reports whether an agent answers at the configured address.
func (c *Client) Ping(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Status fetches the attached manager's status.
func (c *Client) Status(ctx context.Context) (session.Status, error) {
	var st session.Status

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return st, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return st, fmt.Errorf("agent status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return st, fmt.Errorf("agent status: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return st, fmt.Errorf("agent status: decode: %w", err)
	}
	return st, nil
}

// Send posts one message to the agent and reports whether it was
// delivered to a manager immediately (as opposed to deferred).
func (c *Client) Send(ctx context.Context, t MsgType) (bool, error) {
	body, err := json.Marshal(MessageRequest{Type: string(t)})
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/message", bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("agent send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("agent send: unexpected status %d", resp.StatusCode)
	}

	var mr MessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&mr); err != nil {
		return false, fmt.Errorf("agent send: decode: %w", err)
	}
	return mr.Delivered, nil
}
