package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/observatory/internal/api/middleware"
	"github.com/eldtechnologies/observatory/internal/bridge"
	"github.com/eldtechnologies/observatory/internal/feed"
	"github.com/eldtechnologies/observatory/internal/presence"
	"github.com/eldtechnologies/observatory/internal/ratelimit"
	"github.com/eldtechnologies/observatory/internal/rooms"
	"github.com/eldtechnologies/observatory/internal/store"
)

// Deps are the collaborators shared by all HTTP handlers. Registry, KV,
// Cooldown and Presence are nil when no backend is configured for them.
type Deps struct {
	Registry *rooms.Registry
	Gate     *rooms.Gate
	Feed     feed.Feed
	Cooldown *ratelimit.Cooldown
	Presence *presence.Tracker
	Bridge   *bridge.Client
	KV       store.KV
	Logger   zerolog.Logger

	DefaultRoom   string
	PublicBaseURL string
	MasterKeySet  bool
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	registry *rooms.Registry
	gate     *rooms.Gate
	feed     feed.Feed
	cooldown *ratelimit.Cooldown
	presence *presence.Tracker
	bridge   *bridge.Client
	kv       store.KV
	logger   zerolog.Logger

	defaultRoom   string
	publicBaseURL string
	masterKeySet  bool
	now           func() time.Time
}

// NewHandler creates a new Handler from its dependencies.
func NewHandler(d Deps) *Handler {
	return &Handler{
		registry:      d.Registry,
		gate:          d.Gate,
		feed:          d.Feed,
		cooldown:      d.Cooldown,
		presence:      d.Presence,
		bridge:        d.Bridge,
		kv:            d.KV,
		logger:        d.Logger,
		defaultRoom:   d.DefaultRoom,
		publicBaseURL: d.PublicBaseURL,
		masterKeySet:  d.MasterKeySet,
		now:           time.Now,
	}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}

// tooManyRequests answers 429 with a Retry-After header.
func (h *Handler) tooManyRequests(w http.ResponseWriter, wait time.Duration, body interface{}) {
	w.Header().Set("Retry-After", strconv.Itoa(ratelimit.RetryAfterSeconds(wait)))
	h.JSON(w, http.StatusTooManyRequests, body)
}

// clientIP identifies the caller for cooldowns.
func clientIP(r *http.Request) string {
	if ip := middleware.RealIP(r); ip != "" {
		return ip
	}
	return "unknown"
}

// sanitizeText trims s and removes control characters other than newlines.
func sanitizeText(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' {
			return -1
		}
		return r
	}, s)
}

// queryInt parses an integer query parameter, returning def when absent or
// malformed.
func queryInt(r *http.Request, key string, def int64) int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}
