package feed

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/observatory/internal/bridge"
	"github.com/eldtechnologies/observatory/internal/metrics"
	"github.com/eldtechnologies/observatory/internal/models"
)

// Proxy is the feed used when no KV store is configured. Ingest discards
// events; reads of the default room are forwarded to the bridge.
type Proxy struct {
	bridge      *bridge.Client
	defaultRoom string
	logger      zerolog.Logger
}

// NewProxy creates a proxy-mode feed.
func NewProxy(b *bridge.Client, defaultRoom string, logger zerolog.Logger) *Proxy {
	return &Proxy{bridge: b, defaultRoom: defaultRoom, logger: logger}
}

// Mode returns ModeProxy.
func (p *Proxy) Mode() Mode {
	return ModeProxy
}

// Ingest accepts and drops the event.
func (p *Proxy) Ingest(ctx context.Context, roomID string, ev *models.Event) (IngestResult, error) {
	metrics.EventsIngested.WithLabelValues(string(ModeProxy)).Inc()
	return ProxyResult(), nil
}

// Events relays the bridge feed for the default room. Bridge failures are
// reported in the page's Error field, never as an error.
func (p *Proxy) Events(ctx context.Context, roomID string, since int64, limit int) (Page, error) {
	if roomID != p.defaultRoom || !p.bridge.Configured() {
		return emptyPage(), nil
	}
	if since < 0 {
		since = 0
	}

	events, err := p.bridge.Events(ctx, since, ClampLimit(limit))
	if err != nil {
		p.logger.Warn().Err(err).Str("bridge", p.bridge.BaseURL()).Msg("bridge read failed")
		page := emptyPage()
		page.Error = describeBridgeError(err)
		return page, nil
	}
	return Page{Events: events}, nil
}

func describeBridgeError(err error) string {
	var serr *bridge.StatusError
	if errors.As(err, &serr) {
		return serr.Error()
	}
	return "bridge unreachable"
}
