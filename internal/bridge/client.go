// Package bridge talks to the local bridge process that owns the live
// office: it serves events in proxy mode and accepts forwarded prompts.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/eldtechnologies/observatory/internal/metrics"
)

// ErrNotConfigured is returned when no bridge URL is set.
var ErrNotConfigured = errors.New("bridge not configured")

// StatusError is returned when the bridge answers with a non-2xx status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream %d", e.Code)
}

// Client is an HTTP client for the bridge.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a bridge client. An empty baseURL yields a client
// whose calls all fail with ErrNotConfigured.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Configured reports whether a bridge URL is set.
func (c *Client) Configured() bool {
	return c != nil && c.baseURL != ""
}

// CanForward reports whether both URL and API key are set, which is
// required for authenticated calls such as Prompt.
func (c *Client) CanForward() bool {
	return c.Configured() && c.apiKey != ""
}

// BaseURL returns the configured bridge URL.
func (c *Client) BaseURL() string {
	if c == nil {
		return ""
	}
	return c.baseURL
}

// Events fetches the bridge's event feed. Entries are returned verbatim.
func (c *Client) Events(ctx context.Context, since int64, limit int) ([]json.RawMessage, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}

	q := url.Values{}
	q.Set("since", strconv.FormatInt(since, 10))
	q.Set("limit", strconv.Itoa(limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-store")

	body, err := c.do(req, "events")
	if err != nil {
		return nil, err
	}

	var resp struct {
		Events []json.RawMessage `json:"events"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		metrics.BridgeRequests.WithLabelValues("events", "bad_body").Inc()
		return nil, fmt.Errorf("decode bridge events: %w", err)
	}
	if resp.Events == nil {
		resp.Events = []json.RawMessage{}
	}
	return resp.Events, nil
}

// Prompt forwards a prompt payload to the bridge with the bridge API key.
func (c *Client) Prompt(ctx context.Context, payload interface{}) error {
	if !c.CanForward() {
		return ErrNotConfigured
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/prompt", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	_, err = c.do(req, "prompt")
	return err
}

func (c *Client) do(req *http.Request, op string) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.BridgeRequests.WithLabelValues(op, "unreachable").Inc()
		return nil, fmt.Errorf("bridge unreachable: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		metrics.BridgeRequests.WithLabelValues(op, "unreachable").Inc()
		return nil, fmt.Errorf("read bridge response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.BridgeRequests.WithLabelValues(op, "upstream_error").Inc()
		return nil, &StatusError{Code: resp.StatusCode}
	}

	metrics.BridgeRequests.WithLabelValues(op, "ok").Inc()
	return body, nil
}
