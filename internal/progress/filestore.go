// SPDX-License-Identifier: MIT

package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/bindothorpe/b-anime/internal/metrics"
)

// watchData is the on-disk shape: seriesID -> episodeID -> entry.
type watchData map[string]map[string]Entry

// FileStore keeps all watch data in one JSON blob, rewritten atomically
// on every applied change. Suited to single-instance deployments where
// the whole dataset is a few kilobytes.
type FileStore struct {
	mu     sync.Mutex
	path   string
	data   watchData
	logger zerolog.Logger
	now    func() time.Time
}

// NewFileStore loads the blob at path. A missing or corrupt file starts
// the store empty rather than failing; corruption is logged and the bad
// file is replaced on the next write.
func NewFileStore(path string, logger zerolog.Logger) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		data:   make(watchData),
		logger: logger,
		now:    time.Now,
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run, nothing to load.
	case err != nil:
		return nil, fmt.Errorf("progress: read %s: %w", path, err)
	default:
		if jsonErr := json.Unmarshal(raw, &s.data); jsonErr != nil {
			logger.Warn().
				Err(jsonErr).
				Str("path", path).
				Msg("watch data corrupt, starting empty")
			s.data = make(watchData)
		}
	}

	return s, nil
}

func (s *FileStore) RecordProgress(ctx context.Context, seriesID, episodeID string, seconds float64) (bool, error) {
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

	if err := s.persistLocked(); err != nil {
		metrics.IncProgressWrite("failed")
		return false, err
	}
	metrics.IncProgressWrite("applied")
	return true, nil
}

func (s *FileStore) RecordDuration(ctx context.Context, seriesID, episodeID string, duration float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.data[seriesID][episodeID]
	if entry.Duration == duration {
		return nil
	}
	entry.Duration = duration
	s.put(seriesID, episodeID, entry)
	return s.persistLocked()
}

func (s *FileStore) Get(ctx context.Context, seriesID, episodeID string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.data[seriesID][episodeID]
	return entry, ok, nil
}

func (s *FileStore) IsWatched(ctx context.Context, seriesID, episodeID string) (bool, error) {
	entry, _, err := s.Get(ctx, seriesID, episodeID)
	if err != nil {
		return false, err
	}
	return entry.SecondsWatched > 0, nil
}

func (s *FileStore) DeleteSeries(ctx context.Context, seriesID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[seriesID]; !ok {
		return nil
	}
	delete(s.data, seriesID)
	return s.persistLocked()
}

func (s *FileStore) Snapshot(ctx context.Context) ([]EpisodeProgress, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []EpisodeProgress
	for seriesID, episodes := range s.data {
		for episodeID, entry := range episodes {
			out = append(out, EpisodeProgress{
				SeriesID:  seriesID,
				EpisodeID: episodeID,
				Entry:     entry,
			})
		}
	}
	return out, nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) put(seriesID, episodeID string, entry Entry) {
	if s.data[seriesID] == nil {
		s.data[seriesID] = make(map[string]Entry)
	}
	s.data[seriesID][episodeID] = entry
}

// persistLocked rewrites the blob. Callers must hold s.mu.
func (s *FileStore) persistLocked() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("progress: marshal watch data: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("progress: create %s: %w", dir, err)
		}
	}
	if err := renameio.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("progress: write %s: %w", s.path, err)
	}
	return nil
}
