// SPDX-License-Identifier: MIT

package progress

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/bindothorpe/b-anime/internal/metrics"
	"github.com/bindothorpe/b-anime/internal/persistence/sqlite"
)

const sqliteSchemaVersion = 1

// SQLiteStore persists watch progress in SQLite. The running-max rule
// is enforced inside the upsert so concurrent writers cannot regress a
// stored position.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
	now    func() time.Time
}

func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db, logger: logger, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("progress: read schema version: %w", err)
	}
	if version >= sqliteSchemaVersion {
		return nil
	}

	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS watch_progress (
			series_id       TEXT NOT NULL,
			episode_id      TEXT NOT NULL,
			seconds_watched REAL NOT NULL DEFAULT 0,
			duration        REAL NOT NULL DEFAULT 0,
			updated_at_ms   INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (series_id, episode_id)
		);
		CREATE INDEX IF NOT EXISTS idx_watch_progress_series ON watch_progress(series_id);
	`)
	if err != nil {
		return fmt.Errorf("progress: create schema: %w", err)
	}
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return fmt.Errorf("progress: set schema version: %w", err)
	}
	s.logger.Debug().Int("version", sqliteSchemaVersion).Msg("progress schema migrated")
	return nil
}

func (s *SQLiteStore) RecordProgress(ctx context.Context, seriesID, episodeID string, seconds float64) (bool, error) {
	if seconds <= 0 {
		metrics.IncProgressWrite("ignored")
		return false, nil
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_progress (series_id, episode_id, seconds_watched, updated_at_ms)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (series_id, episode_id) DO UPDATE SET
			seconds_watched = excluded.seconds_watched,
			updated_at_ms   = excluded.updated_at_ms
		WHERE excluded.seconds_watched > watch_progress.seconds_watched
	`, seriesID, episodeID, seconds, s.now().UnixMilli())
	if err != nil {
		metrics.IncProgressWrite("failed")
		return false, fmt.Errorf("progress: record seconds: %w", err)
	}

	// The insert path never fires for seconds=0 upserts against an
	// existing row, so RowsAffected distinguishes applied from ignored.
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		metrics.IncProgressWrite("ignored")
		return false, nil
	}
	metrics.IncProgressWrite("applied")
	return true, nil
}

func (s *SQLiteStore) RecordDuration(ctx context.Context, seriesID, episodeID string, duration float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO watch_progress (series_id, episode_id, duration)
		VALUES (?, ?, ?)
		ON CONFLICT (series_id, episode_id) DO UPDATE SET
			duration = excluded.duration
	`, seriesID, episodeID, duration)
	if err != nil {
		return fmt.Errorf("progress: record duration: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, seriesID, episodeID string) (Entry, bool, error) {
	var (
		entry Entry
		ms    int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT seconds_watched, duration, updated_at_ms
		FROM watch_progress
		WHERE series_id = ? AND episode_id = ?
	`, seriesID, episodeID).Scan(&entry.SecondsWatched, &entry.Duration, &ms)
	switch {
	case err == sql.ErrNoRows:
		return Entry{}, false, nil
	case err != nil:
		return Entry{}, false, fmt.Errorf("progress: get: %w", err)
	}
	entry.UpdatedAt = time.UnixMilli(ms)
	return entry, true, nil
}

func (s *SQLiteStore) IsWatched(ctx context.Context, seriesID, episodeID string) (bool, error) {
	entry, _, err := s.Get(ctx, seriesID, episodeID)
	if err != nil {
		return false, err
	}
	return entry.SecondsWatched > 0, nil
}

func (s *SQLiteStore) DeleteSeries(ctx context.Context, seriesID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM watch_progress WHERE series_id = ?", seriesID)
	if err != nil {
		return fmt.Errorf("progress: delete series: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Snapshot(ctx context.Context) ([]EpisodeProgress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT series_id, episode_id, seconds_watched, duration, updated_at_ms
		FROM watch_progress
	`)
	if err != nil {
		return nil, fmt.Errorf("progress: snapshot: %w", err)
	}
	defer rows.Close()

	var out []EpisodeProgress
	for rows.Next() {
		var (
			p  EpisodeProgress
			ms int64
		)
		if err := rows.Scan(&p.SeriesID, &p.EpisodeID, &p.SecondsWatched, &p.Duration, &ms); err != nil {
			return nil, fmt.Errorf("progress: scan: %w", err)
		}
		p.UpdatedAt = time.UnixMilli(ms)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
