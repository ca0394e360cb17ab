// SPDX-License-Identifier: MIT

package relay

import (
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bindothorpe/b-anime/internal/config"
	"github.com/bindothorpe/b-anime/internal/hls"
	xglog "github.com/bindothorpe/b-anime/internal/log"
	"github.com/bindothorpe/b-anime/internal/metrics"
	"github.com/rs/zerolog"
)

// Handler relays manifest and segment fetches on behalf of the browser.
// It holds no per-request state and is safe under unlimited concurrency.
type Handler struct {
	client    *http.Client
	spoof     *config.SpoofHolder
	relayPath string
	userAgent string
	logger    zerolog.Logger
}

// New creates a relay handler. The client timeout bounds each upstream fetch.
func New(cfg config.AppConfig, spoof *config.SpoofHolder) *Handler {
	return &Handler{
		client: &http.Client{
			Timeout: cfg.UpstreamTimeout,
		},
		spoof:     spoof,
		relayPath: cfg.RelayPath,
		userAgent: cfg.UserAgent,
		logger:    xglog.WithComponent("relay"),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodOptions:
		// Cross-origin preflight: CORS headers only, no body.
		setCORS(w.Header())
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodGet:
		h.handleGet(w, r)
	default:
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	logger := xglog.WithContext(r.Context(), h.logger)

	rawParam := r.URL.Query().Get("url")
	typeParam := r.URL.Query().Get("type")
	if rawParam == "" {
		metrics.IncRelayRequest(typeParam, "missing_url")
		http.Error(w, "Missing URL parameter", http.StatusBadRequest)
		return
	}

	target, err := Resolve(rawParam, ResolveContext{
		Referer:   r.Header.Get("Referer"),
		RelayPath: h.relayPath,
	})
	if err != nil {
		logger.Warn().
			Err(err).
			Str(xglog.FieldType, typeParam).
			Msg("target resolution failed")
		metrics.IncRelayRequest(typeParam, "invalid_url")
		writeRelayError(w, err, rawParam)
		return
	}

	targetURL, err := url.Parse(target)
	if err != nil {
		metrics.IncRelayRequest(typeParam, "invalid_url")
		writeRelayError(w, err, rawParam)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, target, nil)
	if err != nil {
		metrics.IncRelayRequest(typeParam, "invalid_url")
		writeRelayError(w, err, rawParam)
		return
	}

	// Upstream hosts reject requests without a matching Referer/Origin and
	// a desktop browser UA.
	referer, origin := h.spoof.Rules().Lookup(targetURL)
	req.Header.Set("Referer", referer)
	req.Header.Set("Origin", origin)
	req.Header.Set("User-Agent", h.userAgent)

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		logger.Warn().
			Err(err).
			Str(xglog.FieldUpstream, targetURL.Host).
			Str(xglog.FieldType, typeParam).
			Msg("upstream fetch failed")
		metrics.IncRelayRequest(typeParam, "upstream_error")
		writeRelayError(w, err, target)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	metrics.ObserveRelayUpstream(targetURL.Host, time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger.Warn().
			Int("status", resp.StatusCode).
			Str(xglog.FieldUpstream, targetURL.Host).
			Str(xglog.FieldType, typeParam).
			Msg("upstream returned non-2xx")
		metrics.IncRelayRequest(typeParam, "upstream_status")
		writeRelayError(w, &UpstreamStatusError{Status: resp.StatusCode}, target)
		return
	}

	copyFilteredHeaders(w.Header(), resp.Header, typeParam)
	setCORS(w.Header())

	switch typeParam {
	case "m3u8":
		h.serveManifest(w, resp, targetURL, typeParam, logger)
	case "ts":
		// Segments are content-addressed by URL and never change.
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "video/mp2t")
		}
		h.stream(w, resp, typeParam, logger)
	default:
		h.stream(w, resp, typeParam, logger)
	}
}

// serveManifest buffers the playlist, rewrites every reference through the
// relay and returns the rewritten text. Manifests are never cached: hosts
// rotate CDN nodes underneath stable manifest URLs.
func (h *Handler) serveManifest(w http.ResponseWriter, resp *http.Response, targetURL *url.URL, typeParam string, logger zerolog.Logger) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.IncRelayRequest(typeParam, "upstream_error")
		writeRelayError(w, err, targetURL.String())
		return
	}

	rewritten := hls.Rewrite(string(body), targetURL, h.relayPath)

	w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, rewritten); err != nil {
		logger.Debug().Err(err).Msg("client went away during manifest write")
	}

	metrics.IncRelayRequest(typeParam, "ok")
	logger.Debug().
		Str(xglog.FieldUpstream, targetURL.Host).
		Int("bytes", len(rewritten)).
		Msg("manifest rewritten")
}

// stream copies the upstream body through unmodified.
func (h *Handler) stream(w http.ResponseWriter, resp *http.Response, typeParam string, logger zerolog.Logger) {
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, resp.Body); err != nil {
		// Client aborts mid-segment are routine; the context cancellation
		// already tore down the upstream fetch.
		logger.Debug().Err(err).Msg("segment stream interrupted")
		metrics.IncRelayRequest(typeParam, "interrupted")
		return
	}
	metrics.IncRelayRequest(typeParam, "ok")
}

// copyFilteredHeaders copies upstream response headers, dropping hop-unsafe
// ones. Content-Length survives only for segments, where byte length must be
// preserved for range and seek behavior; for rewritten manifests it would be
// wrong, and content-encoding never survives the relay.
func copyFilteredHeaders(dst, src http.Header, typeParam string) {
	for key, values := range src {
		lower := strings.ToLower(key)
		if lower == "content-encoding" {
			continue
		}
		if lower == "content-length" && typeParam != "ts" {
			continue
		}
		for _, v := range values {
			dst.Add(key, v)
		}
	}
}

// setCORS stamps permissive CORS headers. The relay is the only thing
// standing between an arbitrary upstream and the browser.
func setCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "*")
}
