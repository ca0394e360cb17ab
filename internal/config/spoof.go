// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/bindothorpe/b-anime/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// SpoofRule is the Referer/Origin pair sent upstream for a matching host.
type SpoofRule struct {
	Referer string `yaml:"referer"`
	Origin  string `yaml:"origin"`
}

// SpoofRules maps upstream hostnames to their spoof rule. Hosts without a
// rule get a Referer/Origin derived from the target URL itself.
type SpoofRules struct {
	Hosts map[string]SpoofRule `yaml:"hosts"`
}

// Lookup returns the Referer and Origin to send when fetching target.
func (r SpoofRules) Lookup(target *url.URL) (referer, origin string) {
	if rule, ok := r.Hosts[target.Hostname()]; ok {
		referer, origin = rule.Referer, rule.Origin
		if origin == "" {
			origin = referer
		}
		if referer != "" {
			return referer, origin
		}
	}
	derived := target.Scheme + "://" + target.Host
	return derived, derived
}

// LoadSpoofRules parses a YAML rules file. A missing path yields empty rules.
func LoadSpoofRules(path string) (SpoofRules, error) {
	if path == "" {
		return SpoofRules{}, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied path
	if err != nil {
		return SpoofRules{}, fmt.Errorf("read spoof rules: %w", err)
	}
	var rules SpoofRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return SpoofRules{}, fmt.Errorf("parse spoof rules: %w", err)
	}
	return rules, nil
}

// SpoofHolder holds spoof rules with atomic reloading from file.
type SpoofHolder struct {
	mu      sync.RWMutex
	current SpoofRules
	path    string
	watcher *fsnotify.Watcher
	logger  zerolog.Logger
}

// NewSpoofHolder loads the initial rules and returns a holder. An empty
// path yields a holder that always derives Referer/Origin from the target.
func NewSpoofHolder(path string) (*SpoofHolder, error) {
	rules, err := LoadSpoofRules(path)
	if err != nil {
		return nil, err
	}
	return &SpoofHolder{
		current: rules,
		path:    path,
		logger:  log.WithComponent("config"),
	}, nil
}

// Rules returns the current spoof rules (thread-safe read).
func (h *SpoofHolder) Rules() SpoofRules {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload re-reads the rules file. On failure the old rules are kept.
func (h *SpoofHolder) Reload(_ context.Context) error {
	rules, err := LoadSpoofRules(h.path)
	if err != nil {
		h.logger.Error().
			Err(err).
			Str("event", "spoof.reload_failed").
			Msg("failed to reload spoof rules, keeping previous rules")
		return err
	}
	h.mu.Lock()
	h.current = rules
	h.mu.Unlock()
	h.logger.Info().
		Str("event", "spoof.reload_success").
		Int("hosts", len(rules.Hosts)).
		Msg("spoof rules reloaded")
	return nil
}

// StartWatcher watches the rules file for changes. No-op without a path.
func (h *SpoofHolder) StartWatcher(ctx context.Context) error {
	if h.path == "" {
		h.logger.Info().
			Str("event", "spoof.watcher_disabled").
			Msg("spoof rules watcher disabled (no rules file configured)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	h.watcher = watcher

	if err := watcher.Add(h.path); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch spoof rules file: %w", err)
	}

	h.logger.Info().
		Str("event", "spoof.watcher_started").
		Str("path", h.path).
		Msg("watching spoof rules file for changes")

	go h.watchLoop(ctx)
	return nil
}

func (h *SpoofHolder) watchLoop(ctx context.Context) {
	// Debounce to avoid multiple reloads for rapid file changes.
	var debounce *time.Timer
	const debounceDuration = 500 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			_ = h.watcher.Close()
			return

		case event, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			// Write and Create cover vim, nano and plain redirection.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(debounceDuration, func() {
					_ = h.Reload(ctx)
				})
			}

		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str("event", "spoof.watcher_error").
				Msg("spoof rules watcher error")
		}
	}
}

// Stop stops the watcher (if running).
func (h *SpoofHolder) Stop() {
	if h.watcher != nil {
		_ = h.watcher.Close()
	}
}
