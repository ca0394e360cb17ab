// SPDX-License-Identifier: MIT

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PlaybackTransitionsTotal tracks playback state machine transitions.
	PlaybackTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "banime_playback_transitions_total",
		Help: "Playback controller state transitions",
	}, []string{"from", "to"})

	// PlaybackRecoveriesTotal tracks in-place fault recoveries by fault class.
	PlaybackRecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "banime_playback_recoveries_total",
		Help: "In-place playback fault recoveries by fault class",
	}, []string{"fault"})

	// PlaybackSessionsActive gauges live playback sessions.
	PlaybackSessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "banime_playback_sessions_active",
		Help: "Currently live playback sessions",
	})

	// ProgressWritesTotal tracks watch-progress store writes by outcome.
	ProgressWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "banime_progress_writes_total",
		Help: "Watch-progress store writes by outcome",
	}, []string{"outcome"})
)

// IncPlaybackTransition records one FSM transition.
func IncPlaybackTransition(from, to string) {
	PlaybackTransitionsTotal.WithLabelValues(from, to).Inc()
}

// IncPlaybackRecovery records an in-place recovery attempt.
func IncPlaybackRecovery(fault string) {
	PlaybackRecoveriesTotal.WithLabelValues(fault).Inc()
}

// IncProgressWrite records a store write outcome ("applied", "ignored", "failed").
func IncProgressWrite(outcome string) {
	ProgressWritesTotal.WithLabelValues(outcome).Inc()
}
