// Package observatory provides a client for the observatory room event relay.
package observatory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"
)

// DefaultURL is used when neither the caller nor OBSERVATORY_URL names a server.
const DefaultURL = "http://localhost:8080"

// Client is an observatory API client.
type Client struct {
	BaseURL    string
	Token      string // room key, bridge key or master key, depending on the call
	HTTPClient *http.Client
}

// NewClient creates a new client. An empty baseURL falls back to
// OBSERVATORY_URL and then DefaultURL.
func NewClient(baseURL, token string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("OBSERVATORY_URL")
	}
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		BaseURL:    baseURL,
		Token:      token,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("observatory error %d: %s", e.Status, e.Message)
}

// doRequest performs an HTTP request and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, body []byte, authed bool) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed && c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(respBody, &errResp)
		return nil, &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	return respBody, nil
}

func (c *Client) getJSON(ctx context.Context, path string, authed bool, out interface{}) error {
	respBody, err := c.doRequest(ctx, http.MethodGet, path, nil, authed)
	if err != nil {
		return err
	}
	return json.Unmarshal(respBody, out)
}

func (c *Client) postJSON(ctx context.Context, path string, in, out interface{}) error {
	reqBody, err := json.Marshal(in)
	if err != nil {
		return err
	}
	respBody, err := c.doRequest(ctx, http.MethodPost, path, reqBody, true)
	if err != nil {
		return err
	}
	return json.Unmarshal(respBody, out)
}

// Event is one event as returned by the server. ID and TS are decoded from
// the envelope; Raw holds the full object.
type Event struct {
	ID  string
	TS  int64
	Raw json.RawMessage
}

// UnmarshalJSON keeps the raw object and decodes the envelope leniently.
func (e *Event) UnmarshalJSON(data []byte) error {
	var envelope struct {
		ID interface{} `json:"id"`
		TS interface{} `json:"ts"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return err
	}
	e.Raw = append(json.RawMessage(nil), data...)
	switch id := envelope.ID.(type) {
	case string:
		e.ID = id
	case float64:
		e.ID = strconv.FormatFloat(id, 'f', -1, 64)
	}
	if ts, ok := envelope.TS.(float64); ok {
		e.TS = int64(ts)
	}
	return nil
}

// MarshalJSON writes the raw object back out.
func (e Event) MarshalJSON() ([]byte, error) {
	if len(e.Raw) == 0 {
		return []byte("null"), nil
	}
	return e.Raw, nil
}

// IngestResult is the response from an ingest call. OK is true for soft
// failures too; Reason and Store say what happened.
type IngestResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Store  string `json:"store,omitempty"`
}

// EventsPage is the response from an events read.
type EventsPage struct {
	Events []Event `json:"events"`
	Error  string  `json:"error,omitempty"`
}

func ingestPath(roomID string) string {
	if roomID == "" {
		return "/api/ingest"
	}
	return "/rooms/" + url.PathEscape(roomID) + "/ingest"
}

func eventsPath(roomID string) string {
	if roomID == "" {
		return "/api/events"
	}
	return "/rooms/" + url.PathEscape(roomID) + "/events"
}

// Ingest posts one event to a room. An empty roomID targets the default
// room through the legacy endpoint, which needs the bridge key as Token.
func (c *Client) Ingest(ctx context.Context, roomID string, event interface{}) (*IngestResult, error) {
	var resp IngestResult
	if err := c.postJSON(ctx, ingestPath(roomID), event, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Events reads up to limit events with ts >= since. An empty roomID reads
// the default room.
func (c *Client) Events(ctx context.Context, roomID string, since int64, limit int) (*EventsPage, error) {
	path := fmt.Sprintf("%s?since=%d", eventsPath(roomID), since)
	if limit > 0 {
		path += fmt.Sprintf("&limit=%d", limit)
	}

	var resp EventsPage
	if err := c.getJSON(ctx, path, false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Agent describes one agent in a room's roster.
type Agent struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Avatar       string   `json:"avatar"`
	Color        string   `json:"color"`
	Role         string   `json:"role,omitempty"`
	Desc         string   `json:"desc,omitempty"`
	Soul         string   `json:"soul,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// CreateRoomRequest is the request body for admin room creation.
type CreateRoomRequest struct {
	RoomID    string  `json:"roomId"`
	Name      string  `json:"name,omitempty"`
	Agents    []Agent `json:"agents,omitempty"`
	MaxEvents int     `json:"maxEvents,omitempty"`
}

// CreateRoomResponse carries the room key. The server never returns it again.
type CreateRoomResponse struct {
	OK     bool   `json:"ok"`
	RoomID string `json:"roomId"`
	APIKey string `json:"apiKey"`
}

// CreateRoom creates a room. Token must be the master key.
func (c *Client) CreateRoom(ctx context.Context, req CreateRoomRequest) (*CreateRoomResponse, error) {
	var resp CreateRoomResponse
	if err := c.postJSON(ctx, "/rooms", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RoomConfig is the public configuration of a room.
type RoomConfig struct {
	RoomID    string  `json:"roomId"`
	Name      string  `json:"name"`
	Agents    []Agent `json:"agents"`
	Created   int64   `json:"created"`
	MaxEvents int     `json:"maxEvents,omitempty"`
}

// RoomConfig fetches a room's public configuration.
func (c *Client) RoomConfig(ctx context.Context, roomID string) (*RoomConfig, error) {
	var resp RoomConfig
	if err := c.getJSON(ctx, "/rooms/"+url.PathEscape(roomID)+"/config", false, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health returns the server health document.
func (c *Client) Health(ctx context.Context) (map[string]interface{}, error) {
	respBody, err := c.doRequest(ctx, http.MethodGet, "/health", nil, false)
	if err != nil {
		// degraded servers answer 503 with a body worth showing
		if apiErr, ok := err.(*APIError); !ok || apiErr.Status != http.StatusServiceUnavailable {
			return nil, err
		}
		return map[string]interface{}{"status": "degraded"}, nil
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}
