// SPDX-License-Identifier: MIT

package playback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/bindothorpe/b-anime/internal/config"
	"github.com/bindothorpe/b-anime/internal/hls"
)

// LoadResult describes a successfully probed manifest.
type LoadResult struct {
	Duration     float64
	SegmentCount int
	IsVOD        bool
	IsMaster     bool
}

// Engine abstracts the media loader a session drives. StartLoad and
// RecoverMediaError are the two recovery levers; Destroy releases the
// engine and must be safe to call more than once.
type Engine interface {
	Load(ctx context.Context, manifestURL string) (*LoadResult, error)
	StartLoad(ctx context.Context) error
	RecoverMediaError(ctx context.Context) error
	Destroy()
}

// ErrEngineDestroyed is returned by all loader operations after Destroy.
var ErrEngineDestroyed = fmt.Errorf("playback: engine destroyed")

// httpEngine validates streams by fetching and probing their manifests
// with the same spoofed headers the relay sends. Fetch attempts are
// paced by a limiter so recovery loops cannot hammer an upstream.
type httpEngine struct {
	client    *http.Client
	spoof     *config.SpoofHolder
	userAgent string
	limiter   *rate.Limiter
	retries   int
	logger    zerolog.Logger

	mu        sync.Mutex
	lastURL   string
	destroyed atomic.Bool
}

// EngineConfig carries the tunables for NewHTTPEngine.
type EngineConfig struct {
	Timeout   time.Duration
	Retries   int
	UserAgent string
}

func NewHTTPEngine(cfg EngineConfig, spoof *config.SpoofHolder, logger zerolog.Logger) Engine {
	return &httpEngine{
		client:    &http.Client{Timeout: cfg.Timeout},
		spoof:     spoof,
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(rate.Every(time.Second), 2),
		retries:   cfg.Retries,
		logger:    logger,
	}
}

func (e *httpEngine) Load(ctx context.Context, manifestURL string) (*LoadResult, error) {
	if e.destroyed.Load() {
		return nil, ErrEngineDestroyed
	}

	e.mu.Lock()
	e.lastURL = manifestURL
	e.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= e.retries; attempt++ {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		result, err := e.fetchAndProbe(ctx, manifestURL)
		if err == nil {
			if attempt > 0 {
				e.logger.Debug().Int("attempt", attempt+1).Str("url", manifestURL).Msg("manifest loaded after retry")
			}
			return result, nil
		}
		lastErr = err
		e.logger.Warn().Err(err).Int("attempt", attempt+1).Str("url", manifestURL).Msg("manifest load failed")
	}
	return nil, fmt.Errorf("playback: load %s: %w", manifestURL, lastErr)
}

// StartLoad re-fetches the last manifest, the network-fault recovery
// path. A single attempt: the caller decides whether to escalate.
func (e *httpEngine) StartLoad(ctx context.Context) error {
	if e.destroyed.Load() {
		return ErrEngineDestroyed
	}

	e.mu.Lock()
	target := e.lastURL
	e.mu.Unlock()
	if target == "" {
		return fmt.Errorf("playback: start load before initial load")
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := e.fetchAndProbe(ctx, target)
	return err
}

// RecoverMediaError has no buffer to flush on the server side; it only
// verifies the engine is still alive.
func (e *httpEngine) RecoverMediaError(_ context.Context) error {
	if e.destroyed.Load() {
		return ErrEngineDestroyed
	}
	return nil
}

func (e *httpEngine) Destroy() {
	if e.destroyed.CompareAndSwap(false, true) {
		e.client.CloseIdleConnections()
	}
}

func (e *httpEngine) fetchAndProbe(ctx context.Context, manifestURL string) (*LoadResult, error) {
	target, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("parse manifest url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return nil, err
	}
	referer, origin := e.spoof.Rules().Lookup(target)
	req.Header.Set("Referer", referer)
	req.Header.Set("Origin", origin)
	req.Header.Set("User-Agent", e.userAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	info, err := hls.Probe(string(body))
	if err != nil {
		return nil, fmt.Errorf("probe manifest: %w", err)
	}
	return &LoadResult{
		Duration:     info.TotalDuration.Seconds(),
		SegmentCount: info.SegmentCount,
		IsVOD:        info.IsVOD,
		IsMaster:     info.IsMaster,
	}, nil
}
