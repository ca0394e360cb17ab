// SPDX-License-Identifier: MIT

package progress

import (
	"context"
	"sync"
	"time"

	"github.com/bindothorpe/b-anime/internal/metrics"
)

// MemoryStore is a non-persistent Store for tests and ephemeral runs.
type MemoryStore struct {
	mu   sync.Mutex
	data watchData
	now  func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(watchData),
		now:  time.Now,
	}
}

func (s *MemoryStore) RecordProgress(ctx context.Context, seriesID, episodeID string, seconds float64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.data[seriesID][episodeID]
	if seconds <= entry.SecondsWatched {
		metrics.IncProgressWrite("ignored")
		return false, nil
	}
	entry.SecondsWatched = seconds
	entry.UpdatedAt = s.now()
	s.put(seriesID, episodeID, entry)
	metrics.IncProgressWrite("applied")
	return true, nil
}

func (s *MemoryStore) RecordDuration(ctx context.Context, seriesID, episodeID string, duration float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.data[seriesID][episodeID]
	entry.Duration = duration
	s.put(seriesID, episodeID, entry)
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, seriesID, episodeID string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data[seriesID][episodeID]
	return entry, ok, nil
}

func (s *MemoryStore) IsWatched(ctx context.Context, seriesID, episodeID string) (bool, error) {
	entry, _, err := s.Get(ctx, seriesID, episodeID)
	if err != nil {
		return false, err
	}
	return entry.SecondsWatched > 0, nil
}

func (s *MemoryStore) DeleteSeries(ctx context.Context, seriesID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, seriesID)
	return nil
}

func (s *MemoryStore) Snapshot(ctx context.Context) ([]EpisodeProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []EpisodeProgress
	for seriesID, episodes := range s.data {
		for episodeID, entry := range episodes {
			out = append(out, EpisodeProgress{SeriesID: seriesID, EpisodeID: episodeID, Entry: entry})
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) put(seriesID, episodeID string, entry Entry) {
	if s.data[seriesID] == nil {
		s.data[seriesID] = make(map[string]Entry)
	}
	s.data[seriesID][episodeID] = entry
}
