// SPDX-License-Identifier: MIT

// Package config loads daemon configuration from the environment and an
// optional per-host spoof rules file.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// AppConfig holds the full daemon configuration.
type AppConfig struct {
	// ListenAddr is the address the HTTP server binds to (e.g. ":8080").
	ListenAddr string

	// DataDir is where durable state (watch progress) lives.
	DataDir string

	// RelayPath is the route the media relay is mounted on.
	RelayPath string

	// UserAgent is sent on every upstream relay fetch. Hosts reject
	// requests without a desktop browser UA.
	UserAgent string

	// SpoofRulesPath points to an optional YAML file with per-host
	// Referer/Origin overrides. Empty disables file-based rules.
	SpoofRulesPath string

	// UpstreamTimeout bounds a single relay upstream fetch.
	UpstreamTimeout time.Duration

	// ProgressBackend selects the watch-progress store: file, memory, sqlite.
	ProgressBackend string

	// MetadataBaseURL is the base URL of the metadata collaborator API.
	MetadataBaseURL string

	// MetadataTimeout bounds a single metadata fetch.
	MetadataTimeout time.Duration

	// MetadataCacheTTL controls how long series info is cached.
	MetadataCacheTTL time.Duration

	// CacheBackend selects the metadata cache: memory or redis.
	CacheBackend string
	RedisAddr    string
	RedisDB      int

	// PreferredQuality is picked from an episode's source list when offered.
	PreferredQuality string

	// EngineLoadTimeout bounds a manifest load inside the playback engine.
	EngineLoadTimeout time.Duration

	// EngineLoadRetries is the retry budget before a load is declared a
	// fatal network error.
	EngineLoadRetries int

	// APIRateLimit is requests per minute per client IP on /api routes.
	APIRateLimit int

	// LogLevel is the zerolog level name.
	LogLevel string

	// LogPretty switches log output from JSON to a human-readable
	// console format. Meant for local development.
	LogPretty bool
}

// FromEnv builds an AppConfig from BANIME_* environment variables.
func FromEnv() AppConfig {
	return AppConfig{
		ListenAddr:        ParseString("BANIME_LISTEN", ":8080"),
		DataDir:           ParseString("BANIME_DATA", "./data"),
		RelayPath:         ParseString("BANIME_RELAY_PATH", "/relay"),
		UserAgent:         ParseString("BANIME_USER_AGENT", DefaultUserAgent),
		SpoofRulesPath:    ParseString("BANIME_SPOOF_RULES", ""),
		UpstreamTimeout:   ParseDuration("BANIME_UPSTREAM_TIMEOUT", 30*time.Second),
		ProgressBackend:   ParseString("BANIME_PROGRESS_BACKEND", "file"),
		MetadataBaseURL:   ParseString("BANIME_METADATA_URL", "http://127.0.0.1:3001"),
		MetadataTimeout:   ParseDuration("BANIME_METADATA_TIMEOUT", 10*time.Second),
		MetadataCacheTTL:  ParseDuration("BANIME_METADATA_CACHE_TTL", 10*time.Minute),
		CacheBackend:      ParseString("BANIME_CACHE_BACKEND", "memory"),
		RedisAddr:         ParseString("BANIME_REDIS_ADDR", ""),
		RedisDB:           ParseInt("BANIME_REDIS_DB", 0),
		PreferredQuality:  ParseString("BANIME_PREFERRED_QUALITY", "1080p"),
		EngineLoadTimeout: ParseDuration("BANIME_ENGINE_LOAD_TIMEOUT", 20*time.Second),
		EngineLoadRetries: ParseInt("BANIME_ENGINE_LOAD_RETRIES", 2),
		APIRateLimit:      ParseInt("BANIME_API_RATE_LIMIT", 300),
		LogLevel:          ParseString("BANIME_LOG_LEVEL", "info"),
		LogPretty:         ParseBool("BANIME_LOG_PRETTY", false),
	}
}

// DefaultUserAgent mimics a desktop Chrome browser. Streaming hosts reject
// requests carrying a non-browser UA.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Validate checks the configuration for obvious misconfiguration.
// Either the full config is valid, or the daemon refuses to start.
func Validate(cfg AppConfig) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	if !strings.HasPrefix(cfg.RelayPath, "/") {
		return fmt.Errorf("relay path must start with /: %q", cfg.RelayPath)
	}
	switch cfg.ProgressBackend {
	case "file", "memory", "sqlite":
	default:
		return fmt.Errorf("unknown progress backend: %s (supported: file, memory, sqlite)", cfg.ProgressBackend)
	}
	switch cfg.CacheBackend {
	case "memory":
	case "redis":
		if cfg.RedisAddr == "" {
			return fmt.Errorf("redis cache backend requires BANIME_REDIS_ADDR")
		}
	default:
		return fmt.Errorf("unknown cache backend: %s (supported: memory, redis)", cfg.CacheBackend)
	}
	if cfg.MetadataBaseURL != "" {
		u, err := url.Parse(cfg.MetadataBaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("metadata base URL must be absolute http(s): %q", cfg.MetadataBaseURL)
		}
	}
	if cfg.EngineLoadRetries < 0 {
		return fmt.Errorf("engine load retries must be >= 0")
	}
	if cfg.UpstreamTimeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive")
	}
	return nil
}
