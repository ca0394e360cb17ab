// SPDX-License-Identifier: MIT

// Package progress persists per-episode watch positions and answers the
// continue-watching queries built on top of them.
//
// Seconds watched are a running maximum: a write below the stored value
// is acknowledged but ignored, so a seek backwards never loses progress.
package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Entry is the stored watch state for a single episode.
type Entry struct {
	SecondsWatched float64   `json:"secondsWatched"`
	Duration       float64   `json:"duration"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// EpisodeProgress is an Entry annotated with its owning keys, as
// returned by Snapshot.
type EpisodeProgress struct {
	SeriesID  string
	EpisodeID string
	Entry
}

// Store records and reads watch progress. Entries are created lazily on
// first write; reads of unknown keys return a zero Entry, never an error.
type Store interface {
	// RecordProgress applies the running-max rule. applied reports
	// whether the stored value actually advanced.
	RecordProgress(ctx context.Context, seriesID, episodeID string, seconds float64) (applied bool, err error)
	// RecordDuration stores the episode duration. Unlike seconds it is
	// a plain overwrite and does not touch UpdatedAt.
	RecordDuration(ctx context.Context, seriesID, episodeID string, duration float64) error
	Get(ctx context.Context, seriesID, episodeID string) (Entry, bool, error)
	// IsWatched reports whether any progress has been recorded.
	IsWatched(ctx context.Context, seriesID, episodeID string) (bool, error)
	DeleteSeries(ctx context.Context, seriesID string) error
	// Snapshot returns every stored entry. Order is unspecified.
	Snapshot(ctx context.Context) ([]EpisodeProgress, error)
	Close() error
}

// NewStore creates a store for the given backend ("file", "memory" or
// "sqlite"). path is the blob file or database path; it is ignored by
// the memory backend.
func NewStore(backend, path string, logger zerolog.Logger) (Store, error) {
	switch backend {
	case "file":
		return NewFileStore(path, logger)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(path, logger)
	default:
		return nil, fmt.Errorf("progress: unknown backend %q", backend)
	}
}
