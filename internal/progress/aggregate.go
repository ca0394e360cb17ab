// SPDX-License-Identifier: MIT

package progress

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/bindothorpe/b-anime/internal/metadata"
)

// Finished playback sits within this many seconds of the duration;
// barely-started playback sits within this many seconds of zero. Both
// are excluded from the continue-watching list.
const resumeMargin = 5.0

// Item is one row of the continue-watching list: the most recently
// watched resumable episode of a series, joined with its metadata.
type Item struct {
	SeriesID        string    `json:"seriesId"`
	SeriesTitle     string    `json:"seriesTitle"`
	SeriesImage     string    `json:"seriesImage,omitempty"`
	EpisodeID       string    `json:"episodeId"`
	EpisodeNumber   int       `json:"episodeNumber,omitempty"`
	EpisodeTitle    string    `json:"episodeTitle,omitempty"`
	SecondsWatched  float64   `json:"secondsWatched"`
	Duration        float64   `json:"duration"`
	ProgressPercent float64   `json:"progressPercent"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// MetadataSource is the subset of the metadata client the aggregator
// needs, split out so tests can stub the join.
type MetadataSource interface {
	SeriesInfo(ctx context.Context, seriesID string) (*metadata.SeriesInfo, error)
}

// Aggregator derives the continue-watching list from a progress store
// and a metadata source.
type Aggregator struct {
	store    Store
	metadata MetadataSource
	logger   zerolog.Logger
}

func NewAggregator(store Store, meta MetadataSource, logger zerolog.Logger) *Aggregator {
	return &Aggregator{store: store, metadata: meta, logger: logger}
}

// List returns one item per series with resumable progress, most
// recently updated first. A metadata failure drops only the affected
// series; the rest of the list is still served.
func (a *Aggregator) List(ctx context.Context) ([]Item, error) {
	snapshot, err := a.store.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	candidates := selectCandidates(snapshot)
	if len(candidates) == 0 {
		return []Item{}, nil
	}

	var (
		mu    sync.Mutex
		items = make([]Item, 0, len(candidates))
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, c := range candidates {
		g.Go(func() error {
			info, err := a.metadata.SeriesInfo(ctx, c.SeriesID)
			if err != nil {
				a.logger.Warn().
					Err(err).
					Str("series_id", c.SeriesID).
					Msg("metadata lookup failed, dropping series from continue-watching")
				return nil
			}

			item := Item{
				SeriesID:       c.SeriesID,
				SeriesTitle:    info.Title,
				SeriesImage:    info.Image,
				EpisodeID:      c.EpisodeID,
				SecondsWatched: c.SecondsWatched,
				Duration:       c.Duration,
				UpdatedAt:      c.UpdatedAt,
			}
			if c.Duration > 0 {
				item.ProgressPercent = c.SecondsWatched / c.Duration * 100
			}
			for _, ep := range info.Episodes {
				if ep.ID == c.EpisodeID {
					item.EpisodeNumber = ep.Number
					item.EpisodeTitle = ep.Title
					break
				}
			}

			mu.Lock()
			items = append(items, item)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	return items, nil
}

// selectCandidates reduces a snapshot to one candidate per series: the
// most recently updated episode, kept only when that episode itself is
// resumable. A series whose newest episode is finished (or barely
// started) drops out of the list entirely, even when an older episode
// would still qualify.
func selectCandidates(snapshot []EpisodeProgress) []EpisodeProgress {
	newest := make(map[string]EpisodeProgress)
	for _, p := range snapshot {
		if cur, ok := newest[p.SeriesID]; !ok || p.UpdatedAt.After(cur.UpdatedAt) {
			newest[p.SeriesID] = p
		}
	}

	out := make([]EpisodeProgress, 0, len(newest))
	for _, p := range newest {
		if resumable(p.Entry) {
			out = append(out, p)
		}
	}
	return out
}

// resumable reports whether an entry is worth showing: meaningfully
// started and not effectively finished.
func resumable(e Entry) bool {
	if e.SecondsWatched <= resumeMargin {
		return false
	}
	if e.Duration > 0 && e.SecondsWatched >= e.Duration-resumeMargin {
		return false
	}
	return true
}
