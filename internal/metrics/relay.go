// SPDX-License-Identifier: MIT

// Package metrics exposes Prometheus instrumentation for the relay and the
// playback engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RelayRequestsTotal tracks relay requests by content type and result.
	RelayRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "banime_relay_requests_total",
		Help: "Total relay requests by content type and result",
	}, []string{"type", "result"})

	// RelayUpstreamDuration tracks upstream fetch latency per host.
	RelayUpstreamDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "banime_relay_upstream_duration_seconds",
		Help:    "Upstream fetch latency by host",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
	}, []string{"host"})
)

// IncRelayRequest records a relay request outcome.
func IncRelayRequest(contentType, result string) {
	if contentType == "" {
		contentType = "unspecified"
	}
	RelayRequestsTotal.WithLabelValues(contentType, result).Inc()
}

// ObserveRelayUpstream records the latency of one upstream fetch.
func ObserveRelayUpstream(host string, d time.Duration) {
	RelayUpstreamDuration.WithLabelValues(host).Observe(d.Seconds())
}
