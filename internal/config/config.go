package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	Env         string
	RedisURL    string
	DatabaseURL string
	SQLitePath  string

	// Keys
	MasterKey string // ROOMS_MASTER_KEY, guards POST /rooms
	BridgeKey string // OBSERVATORY_API_KEY, legacy ingest and bridge forwarding

	BridgeURL     string
	DefaultRoom   string
	PublicBaseURL string

	// Rate limiting
	RateLimitWhitelist []string // IPs or CIDRs exempt from rate limiting
	AutoBlockEnabled   bool     // Enable auto-blocking after repeated violations
}

// Load reads configuration from environment variables.
// In development, it loads from .env file if present.
// In production, it panics on missing required variables.
func Load() *Config {
	// Load .env file if it exists (for development)
	_ = godotenv.Load()

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Env:              getEnv("ENV", "development"),
		RedisURL:         os.Getenv("REDIS_URL"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		SQLitePath:       os.Getenv("SQLITE_PATH"),
		MasterKey:        os.Getenv("ROOMS_MASTER_KEY"),
		BridgeKey:        os.Getenv("OBSERVATORY_API_KEY"),
		BridgeURL:        getEnv("LOCAL_BRIDGE_URL", "http://localhost:3010"),
		DefaultRoom:      getEnv("DEFAULT_ROOM", "marsquad"),
		PublicBaseURL:    strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		AutoBlockEnabled: getEnv("AUTO_BLOCK_ENABLED", "false") == "true",
	}

	cfg.RateLimitWhitelist = splitList(os.Getenv("RATE_LIMIT_WHITELIST"))

	if cfg.Env == "production" && cfg.MasterKey == "" {
		panic("ROOMS_MASTER_KEY is required in production")
	}

	return cfg
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// Persisted reports whether events are stored (REDIS_URL set) rather than
// proxied to the bridge.
func (c *Config) Persisted() bool {
	return c.RedisURL != ""
}

// RegistryBackend names the room registry backend: "postgres", "sqlite",
// "redis", or "" when none is available.
func (c *Config) RegistryBackend() string {
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.SQLitePath != "":
		return "sqlite"
	case c.RedisURL != "":
		return "redis"
	}
	return ""
}

// splitList parses a comma-separated list, dropping empty entries.
func splitList(s string) []string {
	var out []string
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			out = append(out, entry)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
