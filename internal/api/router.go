// SPDX-License-Identifier: MIT

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bindothorpe/b-anime/internal/health"
)

// RouterConfig wires the relay and operational endpoints into the API
// router.
type RouterConfig struct {
	Relay        http.Handler
	RelayPath    string
	Health       *health.Manager
	APIRateLimit int
}

// NewRouter builds the full HTTP surface with the canonical middleware
// stack. The relay path is exempt from the API rate limit: a single
// playing stream fetches segments far faster than any API client.
func (s *Server) NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()
	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(AccessLog)

	r.Handle(cfg.RelayPath, cfg.Relay)

	r.Route("/api", func(r chi.Router) {
		if cfg.APIRateLimit > 0 {
			r.Use(httprate.Limit(
				cfg.APIRateLimit,
				time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
			))
		}

		r.Route("/playback", func(r chi.Router) {
			r.Post("/", s.handleStartPlayback)
			r.Get("/{sessionID}", s.handlePlaybackStatus)
			r.Post("/{sessionID}/events", s.handlePlaybackEvent)
			r.Delete("/{sessionID}", s.handleTeardownPlayback)
		})

		r.Route("/progress", func(r chi.Router) {
			r.Post("/{seriesID}/{episodeID}/seconds", s.handleRecordSeconds)
			r.Post("/{seriesID}/{episodeID}/duration", s.handleRecordDuration)
			r.Get("/{seriesID}/{episodeID}/watched", s.handleIsWatched)
			r.Delete("/{seriesID}", s.handleDeleteSeries)
		})

		r.Get("/continue-watching", s.handleContinueWatching)
		r.Get("/series/{seriesID}", s.handleSeriesInfo)
	})

	if cfg.Health != nil {
		r.Get("/healthz", cfg.Health.ServeHealth)
		r.Get("/readyz", cfg.Health.ServeReady)
	}
	r.Handle("/metrics", promhttp.Handler())

	return r
}
