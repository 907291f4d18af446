package handlers

import (
	"net/http"
	"strconv"

	"github.com/eldtechnologies/observatory/internal/rooms"
)

// RoomListResponse represents the admin room listing.
type RoomListResponse struct {
	Rooms []rooms.Summary `json:"rooms"`
	Total int             `json:"total"`
}

// ListRooms handles listing rooms (master key).
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	if h.registry == nil {
		h.Error(w, http.StatusServiceUnavailable, "registry not configured")
		return
	}

	limitStr := r.URL.Query().Get("limit")
	offsetStr := r.URL.Query().Get("offset")

	limit := 20
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		}
	}
	if limit > 100 {
		limit = 100
	}

	offset := 0
	if offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	list, total, err := h.registry.ListRooms(r.Context(), limit, offset)
	if err != nil {
		h.logger.Warn().Err(err).Msg("list rooms failed")
		h.Error(w, http.StatusServiceUnavailable, "registry unavailable")
		return
	}

	h.JSON(w, http.StatusOK, RoomListResponse{
		Rooms: list,
		Total: total,
	})
}
