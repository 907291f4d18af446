package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/observatory/internal/api"
	"github.com/eldtechnologies/observatory/internal/bridge"
	"github.com/eldtechnologies/observatory/internal/config"
	"github.com/eldtechnologies/observatory/internal/feed"
	"github.com/eldtechnologies/observatory/internal/handlers"
	"github.com/eldtechnologies/observatory/internal/presence"
	"github.com/eldtechnologies/observatory/internal/ratelimit"
	"github.com/eldtechnologies/observatory/internal/rooms"
	"github.com/eldtechnologies/observatory/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	ctx := context.Background()

	// Initialize Redis store; its presence selects persisted mode
	var redisStore *store.RedisStore
	if cfg.Persisted() {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	// Room registry backend
	var roomStore store.RoomStore
	switch cfg.RegistryBackend() {
	case "postgres":
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		defer pgStore.Close()
		roomStore = pgStore
		logger.Info().Msg("room registry on PostgreSQL")
	case "sqlite":
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer sqliteStore.Close()
		roomStore = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("room registry on SQLite")
	case "redis":
		roomStore = redisStore
		logger.Info().Msg("room registry on Redis")
	default:
		logger.Warn().Msg("no room registry configured; room endpoints disabled")
	}

	var registry *rooms.Registry
	if roomStore != nil {
		registry = rooms.NewRegistry(roomStore, logger)
	}

	bridgeClient := bridge.NewClient(cfg.BridgeURL, cfg.BridgeKey)

	deps := handlers.Deps{
		Registry:      registry,
		Gate:          rooms.NewGate(registry, cfg.DefaultRoom, cfg.BridgeKey),
		Bridge:        bridgeClient,
		Logger:        logger,
		DefaultRoom:   cfg.DefaultRoom,
		PublicBaseURL: cfg.PublicBaseURL,
		MasterKeySet:  cfg.MasterKey != "",
	}

	var redisClient *redis.Client
	if redisStore != nil {
		// RegistryBackend falls back to redis, so registry is set here.
		deps.Feed = feed.NewStore(redisStore, registry, bridgeClient, cfg.DefaultRoom, logger)
		deps.KV = redisStore
		deps.Cooldown = ratelimit.NewCooldown(redisStore)
		deps.Presence = presence.NewTracker(redisStore)
		redisClient = redisStore.Client()
	} else {
		deps.Feed = feed.NewProxy(bridgeClient, cfg.DefaultRoom, logger)
	}

	if !cfg.IsDevelopment() && cfg.BridgeKey == "" {
		logger.Warn().Msg("OBSERVATORY_API_KEY not set; legacy ingest and bridge forwarding disabled")
	}

	// Create router
	router := api.NewRouter(logger, api.Options{
		Handlers:         deps,
		Redis:            redisClient,
		MasterKey:        cfg.MasterKey,
		Whitelist:        cfg.RateLimitWhitelist,
		AutoBlockEnabled: cfg.AutoBlockEnabled,
	})

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("mode", string(deps.Feed.Mode())).
			Str("registry", cfg.RegistryBackend()).
			Str("default_room", cfg.DefaultRoom).
			Str("bridge", bridgeClient.BaseURL()).
			Msg("starting observatory server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
