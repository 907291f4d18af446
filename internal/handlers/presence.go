package handlers

import (
	"net/http"

	"github.com/eldtechnologies/observatory/internal/presence"
)

// countryHeaders carry the caller's country as set by the edge, in order
// of preference.
var countryHeaders = []string{"Fly-Client-Country", "CF-IPCountry", "X-Vercel-IP-Country"}

// PresenceResponse is the live audience of the observatory.
type PresenceResponse struct {
	OK bool `json:"ok,omitempty"`
	presence.Snapshot
}

func requestCountry(r *http.Request) string {
	for _, h := range countryHeaders {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}

// Heartbeat records a visitor heartbeat and returns the audience. Store
// failures fall back to the single-visitor answer.
func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	country := requestCountry(r)

	snap, err := h.presence.Heartbeat(r.Context(), ip, country)
	if err != nil {
		h.logger.Warn().Err(err).Msg("presence heartbeat failed")
		snap, _ = (*presence.Tracker)(nil).Heartbeat(r.Context(), ip, country)
	}

	w.Header().Set("Cache-Control", "no-store")
	h.JSON(w, http.StatusOK, PresenceResponse{OK: true, Snapshot: snap})
}

// Presence returns the current audience.
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	snap, err := h.presence.Snapshot(r.Context())
	if err != nil {
		h.logger.Warn().Err(err).Msg("presence read failed")
		snap, _ = (*presence.Tracker)(nil).Snapshot(r.Context())
	}

	w.Header().Set("Cache-Control", "no-store")
	h.JSON(w, http.StatusOK, PresenceResponse{Snapshot: snap})
}
