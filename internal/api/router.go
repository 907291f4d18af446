package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/observatory/internal/api/middleware"
	"github.com/eldtechnologies/observatory/internal/handlers"
)

// maxBodyBytes caps request bodies; events are small JSON objects.
const maxBodyBytes = 64 * 1024

// Options configures the router.
type Options struct {
	Handlers handlers.Deps

	Redis            *redis.Client // nil disables burst limiting
	MasterKey        string
	Whitelist        []string
	AutoBlockEnabled bool
}

// requestLogger tags request logs with the feed mode.
func requestLogger(logger zerolog.Logger, d handlers.Deps) zerolog.Logger {
	if d.Feed == nil {
		return logger
	}
	return logger.With().Str("mode", string(d.Feed.Mode())).Logger()
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(maxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(requestLogger(logger, opts.Handlers)))
	r.Use(chimw.Recoverer)

	limiter := middleware.NewRateLimiter(opts.Redis, logger, middleware.RateLimiterConfig{
		Whitelist:        opts.Whitelist,
		AutoBlockEnabled: opts.AutoBlockEnabled,
		DefaultRoom:      opts.Handlers.DefaultRoom,
	})
	r.Use(limiter.Middleware)

	// CORS - viewers and producers call from anywhere
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h := handlers.NewHandler(opts.Handlers)

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", h.Root)
	r.Get("/health", h.Health)

	// Rooms
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireMasterKey(opts.MasterKey))

		r.Post("/rooms", h.CreateRoom)
		r.Get("/rooms", h.ListRooms)
		r.Get("/api/jobs/{jobId}", h.GetJob)
	})
	r.Post("/setup", h.Setup)
	r.Get("/rooms/{roomId}/config", h.GetConfig)
	r.Post("/rooms/{roomId}/ingest", h.Ingest)
	r.Get("/rooms/{roomId}/events", h.Events)

	// Default room
	r.Post("/api/ingest", h.LegacyIngest)
	r.Get("/api/events", h.LegacyEvents)

	// Bridge forwarders
	r.Post("/api/prompt", h.Prompt)
	r.Post("/api/jobs", h.CreateJob)

	// Live audience
	r.Post("/api/presence", h.Heartbeat)
	r.Get("/api/presence", h.Presence)

	return r
}
