// Package feed implements room event ingestion and retrieval in its two
// operating modes: persisted (KV store) and proxy (local bridge).
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/eldtechnologies/observatory/internal/crypto"
	"github.com/eldtechnologies/observatory/internal/models"
)

// Mode identifies how a feed stores events.
type Mode string

const (
	ModePersisted Mode = "persisted"
	ModeProxy     Mode = "proxy-mode"
)

const (
	// DefaultLimit is the page size used when the caller gives none.
	DefaultLimit = 200
	// MaxLimit is the hard page ceiling regardless of the requested limit.
	MaxLimit = 500
	// DedupTTL bounds how long an event id is remembered.
	DedupTTL = time.Hour

	ReasonDuplicate = "duplicate"
)

// ErrInvalidEvent is returned for payloads that are not JSON objects.
var ErrInvalidEvent = errors.New("invalid event")

// IngestResult is the producer-facing outcome of an ingest call.
type IngestResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
	Store  string `json:"store,omitempty"`
}

// Page is a slice of a room's log. Events are relayed as stored.
type Page struct {
	Events []json.RawMessage `json:"events"`
	Error  string            `json:"error,omitempty"`
}

// Feed is implemented by Store and Proxy.
type Feed interface {
	Mode() Mode
	Ingest(ctx context.Context, roomID string, ev *models.Event) (IngestResult, error)
	Events(ctx context.Context, roomID string, since int64, limit int) (Page, error)
}

// ProxyResult is returned for ingests that were accepted without storage.
func ProxyResult() IngestResult {
	return IngestResult{OK: true, Store: string(ModeProxy)}
}

// Decode parses a producer payload and fills in missing envelope fields.
// A negative ts is rejected: reads clamp since to 0, so such an event could
// never be read back.
func Decode(body []byte, now time.Time) (*models.Event, error) {
	var ev models.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if ev.HasTimestamp() && ev.TS < 0 {
		return nil, fmt.Errorf("%w: negative ts", ErrInvalidEvent)
	}
	Normalize(&ev, now)
	return &ev, nil
}

// Normalize assigns the server time when ts is missing and synthesizes
// "<ts>-<hex>" when id is missing.
func Normalize(ev *models.Event, now time.Time) {
	if !ev.HasTimestamp() {
		ev.SetTimestamp(now.UnixMilli())
	}
	if ev.ID == "" {
		ev.ID = strconv.FormatInt(ev.TS, 10) + "-" + crypto.RandomHex(6)
	}
}

// ClampLimit applies the default and the hard ceiling to a requested limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	if limit > MaxLimit {
		return MaxLimit
	}
	return limit
}

func emptyPage() Page {
	return Page{Events: []json.RawMessage{}}
}
