// SPDX-License-Identifier: MIT

// Package daemon assembles the service components and runs the HTTP
// server lifecycle.
package daemon

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/bindothorpe/b-anime/internal/api"
	"github.com/bindothorpe/b-anime/internal/cache"
	"github.com/bindothorpe/b-anime/internal/config"
	"github.com/bindothorpe/b-anime/internal/health"
	xglog "github.com/bindothorpe/b-anime/internal/log"
	"github.com/bindothorpe/b-anime/internal/metadata"
	"github.com/bindothorpe/b-anime/internal/playback"
	"github.com/bindothorpe/b-anime/internal/progress"
	"github.com/bindothorpe/b-anime/internal/relay"
)

const shutdownTimeout = 10 * time.Second

// Daemon owns every long-lived component of the service.
type Daemon struct {
	cfg    config.AppConfig
	logger zerolog.Logger

	spoof   *config.SpoofHolder
	store   progress.Store
	cache   cache.Cache
	manager *playback.Manager
	server  *http.Server
}

// New wires the full component graph from configuration. Nothing is
// started yet; Run does that.
func New(cfg config.AppConfig, version string) (*Daemon, error) {
	logger := xglog.WithComponent("daemon")

	spoof, err := config.NewSpoofHolder(cfg.SpoofRulesPath)
	if err != nil {
		return nil, fmt.Errorf("daemon: load spoof rules: %w", err)
	}

	metaCache, err := newCache(cfg, logger)
	if err != nil {
		return nil, err
	}

	store, err := progress.NewStore(cfg.ProgressBackend, progressPath(cfg), xglog.WithComponent("progress"))
	if err != nil {
		return nil, fmt.Errorf("daemon: open progress store: %w", err)
	}

	metaClient := metadata.NewClient(metadata.Config{
		BaseURL:  cfg.MetadataBaseURL,
		Timeout:  cfg.MetadataTimeout,
		Cache:    metaCache,
		CacheTTL: cfg.MetadataCacheTTL,
	})

	manager := playback.NewManager(playback.ManagerConfig{
		Store:   store,
		Sources: metaClient,
		NewEngine: func() playback.Engine {
			return playback.NewHTTPEngine(playback.EngineConfig{
				Timeout:   cfg.EngineLoadTimeout,
				Retries:   cfg.EngineLoadRetries,
				UserAgent: cfg.UserAgent,
			}, spoof, xglog.WithComponent("engine"))
		},
		RelayPath:        cfg.RelayPath,
		PreferredQuality: cfg.PreferredQuality,
		LoadTimeout:      cfg.EngineLoadTimeout,
		Logger:           xglog.WithComponent("playback"),
	})

	aggregator := progress.NewAggregator(store, metaClient, xglog.WithComponent("continue-watching"))

	healthMgr := health.NewManager(version)
	healthMgr.RegisterChecker(health.NewStoreChecker(store))
	healthMgr.RegisterChecker(health.NewCacheChecker(metaCache))
	healthMgr.RegisterChecker(health.NewUpstreamChecker("metadata_api", cfg.MetadataBaseURL))

	router := api.NewServer(manager, store, aggregator, metaClient).NewRouter(api.RouterConfig{
		Relay:        relay.New(cfg, spoof),
		RelayPath:    cfg.RelayPath,
		Health:       healthMgr,
		APIRateLimit: cfg.APIRateLimit,
	})

	return &Daemon{
		cfg:     cfg,
		logger:  logger,
		spoof:   spoof,
		store:   store,
		cache:   metaCache,
		manager: manager,
		server: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts everything down.
func (d *Daemon) Run(ctx context.Context) error {
	d.logger.Info().
		Str("listen", d.cfg.ListenAddr).
		Str("relay_path", d.cfg.RelayPath).
		Str("progress_backend", d.cfg.ProgressBackend).
		Msg("starting daemon")

	if err := d.spoof.StartWatcher(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("spoof rules watcher unavailable, continuing without hot reload")
	}

	errChan := make(chan error, 1)
	go func() {
		d.logger.Info().Msgf("HTTP server listening on %s", d.cfg.ListenAddr)
		if err := d.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		return d.shutdown()
	}
}

func (d *Daemon) shutdown() error {
	d.logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if err := d.manager.Shutdown(ctx); err != nil {
		d.logger.Error().Err(err).Msg("playback manager shutdown error")
	}
	if err := d.store.Close(); err != nil {
		d.logger.Error().Err(err).Msg("progress store close error")
	}
	if err := d.cache.Close(); err != nil {
		d.logger.Error().Err(err).Msg("cache close error")
	}
	d.spoof.Stop()

	d.logger.Info().Msg("daemon stopped")
	return nil
}

func newCache(cfg config.AppConfig, logger zerolog.Logger) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "redis":
		c, err := cache.NewRedisCache(cache.RedisConfig{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("daemon: connect redis: %w", err)
		}
		return c, nil
	case "memory":
		return cache.NewMemoryCache(time.Minute), nil
	default:
		return nil, fmt.Errorf("daemon: unknown cache backend %q", cfg.CacheBackend)
	}
}

func progressPath(cfg config.AppConfig) string {
	switch cfg.ProgressBackend {
	case "sqlite":
		return filepath.Join(cfg.DataDir, "progress.db")
	default:
		return filepath.Join(cfg.DataDir, "watch.json")
	}
}
