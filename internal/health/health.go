// SPDX-License-Identifier: MIT

// Package health serves liveness and readiness probes for Docker
// HEALTHCHECK and Kubernetes deployments.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bindothorpe/b-anime/internal/cache"
	"github.com/bindothorpe/b-anime/internal/log"
	"github.com/bindothorpe/b-anime/internal/progress"
)

// Status represents the overall health/readiness status.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse is the readiness payload.
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker is a single component probe.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager runs registered checkers and serves the probe endpoints.
type Manager struct {
	version  string
	checkers []Checker
}

func NewManager(version string) *Manager {
	return &Manager{version: version}
}

func (m *Manager) RegisterChecker(checker Checker) {
	m.checkers = append(m.checkers, checker)
}

// Health is the liveness view: the process is alive, component detail
// only when verbose is requested.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
	}
	if verbose && len(m.checkers) > 0 {
		resp.Checks, resp.Status, _ = m.runChecks(ctx)
	}
	return resp
}

// Ready reports whether the service should receive traffic. Any
// unhealthy component makes the service not ready; degraded components
// keep it serving.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	resp := ReadinessResponse{
		Ready:     true,
		Status:    StatusHealthy,
		Timestamp: time.Now(),
	}
	if len(m.checkers) == 0 {
		return resp
	}
	var unhealthy bool
	resp.Checks, resp.Status, unhealthy = m.runChecks(ctx)
	resp.Ready = !unhealthy
	return resp
}

func (m *Manager) runChecks(ctx context.Context) (map[string]CheckResult, Status, bool) {
	checks := make(map[string]CheckResult, len(m.checkers))
	status := StatusHealthy
	unhealthy := false

	for _, checker := range m.checkers {
		result := checker.Check(ctx)
		checks[checker.Name()] = result
		switch result.Status {
		case StatusUnhealthy:
			unhealthy = true
			status = StatusUnhealthy
		case StatusDegraded:
			if status == StatusHealthy {
				status = StatusDegraded
			}
		}
	}
	return checks, status, unhealthy
}

// ServeHealth handles liveness requests. Always 200: a responding
// process is alive.
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles readiness requests, 503 when not ready.
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str("event", "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str("event", "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}

// StoreChecker verifies the progress store answers reads.
type StoreChecker struct {
	store progress.Store
}

func NewStoreChecker(store progress.Store) *StoreChecker {
	return &StoreChecker{store: store}
}

func (c *StoreChecker) Name() string { return "progress_store" }

func (c *StoreChecker) Check(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if _, err := c.store.IsWatched(ctx, "healthcheck", "healthcheck"); err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: StatusHealthy, Message: "store responding"}
}

// CacheChecker round-trips a probe key through the metadata cache. A
// broken cache degrades the service but does not stop it.
type CacheChecker struct {
	cache cache.Cache
}

func NewCacheChecker(c cache.Cache) *CacheChecker {
	return &CacheChecker{cache: c}
}

func (c *CacheChecker) Name() string { return "metadata_cache" }

func (c *CacheChecker) Check(_ context.Context) CheckResult {
	c.cache.Set("healthcheck", []byte("ok"), time.Second)
	if _, ok := c.cache.Get("healthcheck"); !ok {
		return CheckResult{Status: StatusDegraded, Message: "cache round-trip failed"}
	}
	return CheckResult{Status: StatusHealthy, Message: "cache responding"}
}

// UpstreamChecker probes the metadata API base URL. Upstream outages
// degrade continue-watching but leave the relay serving, so failures
// report degraded rather than unhealthy.
type UpstreamChecker struct {
	name   string
	url    string
	client *http.Client
}

func NewUpstreamChecker(name, url string) *UpstreamChecker {
	return &UpstreamChecker{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 3 * time.Second},
	}
}

func (c *UpstreamChecker) Name() string { return c.name }

func (c *UpstreamChecker) Check(ctx context.Context) CheckResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return CheckResult{Status: StatusDegraded, Error: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return CheckResult{Status: StatusDegraded, Error: fmt.Sprintf("upstream status %d", resp.StatusCode)}
	}
	return CheckResult{Status: StatusHealthy, Message: "upstream reachable"}
}
