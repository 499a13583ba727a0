package caddy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrControlPlane means the admin API rejected a request or was
// unreachable. The attempted transaction is rolled back by the caller.
var ErrControlPlane = errors.New("control plane request failed")

// Client talks to the caddy admin API. Every call is bounded by the
// client timeout so a stuck control plane cannot hang a scheduler loop.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient returns a Client for the admin API at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Load replaces the full control plane configuration with cfg.
// Any non-2xx response is a hard failure.
func (c *Client) Load(ctx context.Context, cfg *Config) error {
	body, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/load", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build load request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrControlPlane, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: load returned %d: %s", ErrControlPlane, resp.StatusCode, detail)
	}
	return nil
}

// Fetch returns the control plane's current configuration verbatim.
// This is the authoritative view, guarding against out-of-band edits.
func (c *Client) Fetch(ctx context.Context) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/config/", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build config request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrControlPlane, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		detail, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: config fetch returned %d: %s", ErrControlPlane, resp.StatusCode, detail)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read config response: %w", err)
	}
	return body, nil
}
