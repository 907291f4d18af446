package handlers

import (
	"encoding/json"
	"net/http"
	"unicode/utf8"

	"github.com/eldtechnologies/observatory/internal/ratelimit"
)

const maxPromptLen = 500

// PromptRequest is a viewer prompt for the live office.
type PromptRequest struct {
	Text string `json:"text"`
}

type bridgePrompt struct {
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// Prompt forwards a viewer prompt to the bridge. Each IP may prompt once
// per cooldown window; the window is only consumed by valid prompts.
func (h *Handler) Prompt(w http.ResponseWriter, r *http.Request) {
	ip := clientIP(r)
	wait, err := h.cooldown.Check(r.Context(), ratelimit.ScopePrompt, ip, ratelimit.PromptWindow)
	if err != nil {
		h.logger.Warn().Err(err).Msg("prompt cooldown check failed")
	}
	if wait > 0 {
		h.tooManyRequests(w, wait, map[string]string{"error": "rate limited"})
		return
	}

	var req PromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid json")
		return
	}

	text := sanitizeText(req.Text)
	if text == "" || utf8.RuneCountInString(text) > maxPromptLen {
		h.Error(w, http.StatusBadRequest, "invalid text")
		return
	}

	if !h.bridge.CanForward() {
		h.Error(w, http.StatusInternalServerError, "misconfigured")
		return
	}

	if err := h.cooldown.Mark(r.Context(), ratelimit.ScopePrompt, ip, ratelimit.PromptWindow); err != nil {
		h.logger.Warn().Err(err).Msg("prompt cooldown mark failed")
	}

	if err := h.bridge.Prompt(r.Context(), bridgePrompt{Text: text, TS: h.now().UnixMilli()}); err != nil {
		h.logger.Warn().Err(err).Str("ip", ip).Msg("prompt forward failed")
		h.Error(w, http.StatusBadGateway, "upstream error")
		return
	}

	h.JSON(w, http.StatusOK, map[string]bool{"ok": true})
}
