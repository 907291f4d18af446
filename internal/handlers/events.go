package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/observatory/internal/api/middleware"
	"github.com/eldtechnologies/observatory/internal/feed"
	"github.com/eldtechnologies/observatory/internal/metrics"
	"github.com/eldtechnologies/observatory/internal/rooms"
)

// Ingest accepts one event for a room. The bearer token must be the
// room's API key.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")

	token := middleware.BearerToken(r)
	if token == "" {
		h.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	ok, err := h.gate.ValidateRoomAPIKey(r.Context(), roomID, token)
	if err != nil {
		// The key cannot be checked, so nothing is written.
		if !errors.Is(err, rooms.ErrNoRegistry) {
			h.logger.Warn().Err(err).Str("room", roomID).Msg("registry unavailable during ingest")
			metrics.IngestDegraded.Inc()
		}
		h.JSON(w, http.StatusOK, feed.ProxyResult())
		return
	}
	if !ok {
		h.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	h.ingest(w, r, roomID)
}

// LegacyIngest accepts events for the default room from the bridge.
func (h *Handler) LegacyIngest(w http.ResponseWriter, r *http.Request) {
	if !h.gate.IsBridgeKey(middleware.BearerToken(r)) {
		h.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.ingest(w, r, h.defaultRoom)
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, roomID string) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ev, err := feed.Decode(body, h.now())
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	res, err := h.feed.Ingest(r.Context(), roomID, ev)
	if errors.Is(err, feed.ErrInvalidEvent) {
		h.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err != nil {
		// Store failures degrade to a soft success.
		h.logger.Warn().Err(err).Str("room", roomID).Str("event", ev.ID).Msg("ingest degraded to proxy-mode")
		metrics.IngestDegraded.Inc()
		h.JSON(w, http.StatusOK, feed.ProxyResult())
		return
	}

	h.JSON(w, http.StatusOK, res)
}

// Events returns a page of a room's log.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")

	// The default room streams even without a stored config.
	if roomID != h.defaultRoom && h.registry != nil {
		room, err := h.registry.GetRoomConfig(r.Context(), roomID)
		if err != nil {
			h.logger.Warn().Err(err).Str("room", roomID).Msg("registry unavailable during read")
			h.writePage(w, feed.Page{Error: "store unavailable"})
			return
		}
		if room == nil {
			h.Error(w, http.StatusNotFound, "room not found")
			return
		}
	}

	h.events(w, r, roomID)
}

// LegacyEvents returns a page of the default room's log.
func (h *Handler) LegacyEvents(w http.ResponseWriter, r *http.Request) {
	h.events(w, r, h.defaultRoom)
}

func (h *Handler) events(w http.ResponseWriter, r *http.Request, roomID string) {
	since := queryInt(r, "since", 0)
	if since < 0 {
		since = 0
	}
	limit := feed.ClampLimit(int(queryInt(r, "limit", feed.DefaultLimit)))

	page, err := h.feed.Events(r.Context(), roomID, since, limit)
	if err != nil {
		h.logger.Warn().Err(err).Str("room", roomID).Msg("event read failed")
		h.writePage(w, feed.Page{Error: "store unavailable"})
		return
	}

	h.writePage(w, page)
}

func (h *Handler) writePage(w http.ResponseWriter, page feed.Page) {
	if page.Events == nil {
		page.Events = []json.RawMessage{}
	}
	w.Header().Set("Cache-Control", "no-store")
	h.JSON(w, http.StatusOK, page)
}
