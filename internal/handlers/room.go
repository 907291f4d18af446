package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/eldtechnologies/observatory/internal/metrics"
	"github.com/eldtechnologies/observatory/internal/models"
	"github.com/eldtechnologies/observatory/internal/ratelimit"
	"github.com/eldtechnologies/observatory/internal/rooms"
)

// CreateRoomRequest is the admin room creation request.
type CreateRoomRequest struct {
	RoomID    string               `json:"roomId"`
	Name      string               `json:"name"`
	Agents    []models.AgentConfig `json:"agents"`
	MaxEvents int                  `json:"maxEvents"`
}

// CreateRoomResponse is returned once, on creation; it is the only
// response that carries the API key.
type CreateRoomResponse struct {
	OK     bool   `json:"ok"`
	RoomID string `json:"roomId"`
	APIKey string `json:"apiKey"`
}

// SetupRequest is the self-serve room creation request.
type SetupRequest struct {
	RoomName string             `json:"roomName"`
	Agents   []rooms.AgentInput `json:"agents"`
}

// SetupResponse is the self-serve room creation response.
type SetupResponse struct {
	OK       bool   `json:"ok"`
	RoomID   string `json:"roomId,omitempty"`
	APIKey   string `json:"apiKey,omitempty"`
	RoomURL  string `json:"roomUrl,omitempty"`
	EmbedURL string `json:"embedUrl,omitempty"`
	Error    string `json:"error,omitempty"`
}

// CreateRoom handles room creation (master key).
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		h.Error(w, http.StatusServiceUnavailable, "registry not configured")
		return
	}

	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	roomID := rooms.NormalizeRoomID(req.RoomID)
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = roomID
	}

	room, err := h.registry.CreateRoom(r.Context(), rooms.CreateParams{
		RoomID:    roomID,
		Name:      name,
		Agents:    req.Agents,
		MaxEvents: req.MaxEvents,
	})
	var verr *rooms.ValidationError
	switch {
	case errors.As(err, &verr):
		h.Error(w, http.StatusBadRequest, verr.Error())
		return
	case errors.Is(err, rooms.ErrRoomExists):
		h.Error(w, http.StatusConflict, "room already exists")
		return
	case err != nil:
		h.logger.Error().Err(err).Str("room", roomID).Msg("create room failed")
		h.Error(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}

	metrics.RoomsCreated.WithLabelValues("admin").Inc()
	h.logger.Info().Str("room", room.RoomID).Str("source", "admin").Msg("room created")

	h.JSON(w, http.StatusCreated, CreateRoomResponse{
		OK:     true,
		RoomID: room.RoomID,
		APIKey: room.APIKey,
	})
}

// Setup handles self-serve room creation. No key is required; each IP may
// create one room per hour. Without a cooldown store the endpoint is closed.
func (h *Handler) Setup(w http.ResponseWriter, r *http.Request) {
	fail := func(status int, msg string) {
		h.JSON(w, status, SetupResponse{OK: false, Error: msg})
	}

	if h.registry == nil || h.cooldown == nil {
		fail(http.StatusServiceUnavailable, "service unavailable")
		return
	}

	ip := clientIP(r)
	wait, err := h.cooldown.Check(r.Context(), ratelimit.ScopeSetup, ip, ratelimit.SetupWindow)
	if err != nil {
		h.logger.Warn().Err(err).Msg("setup cooldown check failed")
	}
	if wait > 0 {
		h.tooManyRequests(w, wait, SetupResponse{OK: false, Error: "rate limited, one room per hour"})
		return
	}

	var req SetupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		fail(http.StatusBadRequest, "invalid JSON")
		return
	}

	roomName := strings.TrimSpace(req.RoomName)
	if n := utf8.RuneCountInString(roomName); n < 2 || n > 64 {
		fail(http.StatusBadRequest, "room name must be 2-64 characters")
		return
	}

	roomID := rooms.Slugify(roomName)
	if len(roomID) < 2 {
		fail(http.StatusBadRequest, "room name must contain at least 2 alphanumeric characters")
		return
	}

	agents, err := rooms.CleanAgents(req.Agents)
	if err != nil {
		fail(http.StatusBadRequest, err.Error())
		return
	}

	room, err := h.registry.CreateRoom(r.Context(), rooms.CreateParams{
		RoomID: roomID,
		Name:   roomName,
		Agents: agents,
	})
	var verr *rooms.ValidationError
	switch {
	case errors.As(err, &verr):
		fail(http.StatusBadRequest, verr.Error())
		return
	case errors.Is(err, rooms.ErrRoomExists):
		fail(http.StatusConflict, fmt.Sprintf("room %q already exists, try a different name", roomID))
		return
	case err != nil:
		h.logger.Error().Err(err).Str("room", roomID).Msg("setup failed")
		fail(http.StatusServiceUnavailable, "service unavailable")
		return
	}

	if err := h.cooldown.Mark(r.Context(), ratelimit.ScopeSetup, ip, ratelimit.SetupWindow); err != nil {
		h.logger.Warn().Err(err).Msg("setup cooldown mark failed")
	}

	metrics.RoomsCreated.WithLabelValues("setup").Inc()
	h.logger.Info().Str("room", room.RoomID).Str("source", "setup").Str("ip", ip).Msg("room created")

	h.JSON(w, http.StatusOK, SetupResponse{
		OK:       true,
		RoomID:   room.RoomID,
		APIKey:   room.APIKey,
		RoomURL:  h.publicBaseURL + "/room/" + room.RoomID,
		EmbedURL: h.publicBaseURL + "/embed/" + room.RoomID,
	})
}

// GetConfig returns a room's public configuration.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		h.Error(w, http.StatusServiceUnavailable, "registry not configured")
		return
	}

	roomID := chi.URLParam(r, "roomId")
	room, err := h.registry.PublicConfig(r.Context(), roomID)
	if err != nil {
		h.logger.Warn().Err(err).Str("room", roomID).Msg("config lookup failed")
		h.Error(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}
	if room == nil {
		h.Error(w, http.StatusNotFound, "room not found")
		return
	}

	h.JSON(w, http.StatusOK, room)
}
