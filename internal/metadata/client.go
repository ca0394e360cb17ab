// SPDX-License-Identifier: MIT

// Package metadata is the boundary to the external anime metadata API. The
// scraping service itself is an external collaborator; this client only
// fetches, caches and decodes its JSON.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bindothorpe/b-anime/internal/cache"
	xglog "github.com/bindothorpe/b-anime/internal/log"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Client fetches series and source metadata from the collaborator API.
type Client struct {
	baseURL  string
	http     *http.Client
	cache    cache.Cache
	cacheTTL time.Duration
	group    singleflight.Group
	logger   zerolog.Logger
}

// Config holds client construction options.
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Cache    cache.Cache // optional; nil disables caching
	CacheTTL time.Duration
}

// NewClient creates a metadata client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Timeout: timeout},
		cache:    cfg.Cache,
		cacheTTL: cfg.CacheTTL,
		logger:   xglog.WithComponent("metadata"),
	}
}

// SeriesInfo returns series metadata, serving repeated lookups from cache.
// Concurrent lookups for the same series share a single upstream fetch.
func (c *Client) SeriesInfo(ctx context.Context, seriesID string) (*SeriesInfo, error) {
	key := "series:" + seriesID

	if c.cache != nil {
		if raw, ok := c.cache.Get(key); ok {
			var info SeriesInfo
			if err := json.Unmarshal(raw, &info); err == nil {
				return &info, nil
			}
			c.cache.Delete(key)
		}
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		var info SeriesInfo
		if err := c.getJSON(ctx, "/anime/info/"+url.PathEscape(seriesID), &info); err != nil {
			return nil, err
		}
		if c.cache != nil {
			if raw, err := json.Marshal(info); err == nil {
				c.cache.Set(key, raw, c.cacheTTL)
			}
		}
		return &info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*SeriesInfo), nil
}

// EpisodeSources returns the rendition list for an episode. Source URLs
// expire quickly on most hosts, so they are never cached.
func (c *Client) EpisodeSources(ctx context.Context, episodeID string) (*SourceResponse, error) {
	var resp SourceResponse
	if err := c.getJSON(ctx, "/anime/watch/"+url.PathEscape(episodeID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build metadata request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("metadata fetch %s: %w", path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return fmt.Errorf("metadata fetch %s: status %d", path, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode metadata response %s: %w", path, err)
	}

	c.logger.Debug().
		Str("path", path).
		Dur("elapsed", time.Since(start)).
		Msg("metadata fetched")
	return nil
}
