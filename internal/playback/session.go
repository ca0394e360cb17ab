// SPDX-License-Identifier: MIT

package playback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/bindothorpe/b-anime/internal/hls"
	xglog "github.com/bindothorpe/b-anime/internal/log"
	"github.com/bindothorpe/b-anime/internal/metadata"
	"github.com/bindothorpe/b-anime/internal/metrics"
	"github.com/bindothorpe/b-anime/internal/progress"
)

const (
	// Progress writes are throttled: a write happens only after the
	// position advanced this many seconds past the last saved one. The
	// stream of time updates is much denser than that.
	saveInterval = 10.0

	// A session resumes slightly before the stored position, and only
	// when enough was watched for a resume to be meaningful.
	resumeThreshold = 10.0
	resumeRewind    = 10.0
)

// FaultType classifies a fatal loader error reported by the player.
type FaultType string

const (
	FaultNetwork FaultType = "network"
	FaultMedia   FaultType = "media"
	FaultOther   FaultType = "other"
)

const failureMessage = "Failed to load video. The source may be unavailable."

// SourceResolver yields the stream sources for an episode.
type SourceResolver interface {
	EpisodeSources(ctx context.Context, episodeID string) (*metadata.SourceResponse, error)
}

// Session owns the playback lifecycle for one episode: it resolves
// sources once, drives the engine through faults and persists watch
// progress. All methods are safe for concurrent use.
type Session struct {
	ID        string
	SeriesID  string
	EpisodeID string

	engine           Engine
	store            progress.Store
	sources          SourceResolver
	relayPath        string
	preferredQuality string
	machine          *machine
	logger           zerolog.Logger

	initStarted      atomic.Bool
	durationRecorded atomic.Bool
	resumeArmed      atomic.Bool
	resumeFrom       float64

	mu           sync.Mutex
	streamURL    string
	quality      string
	duration     float64
	position     float64
	savedSeconds float64
	message      string
}

// SessionConfig carries the collaborators a session needs.
type SessionConfig struct {
	ID               string
	SeriesID         string
	EpisodeID        string
	Engine           Engine
	Store            progress.Store
	Sources          SourceResolver
	RelayPath        string
	PreferredQuality string
	Logger           zerolog.Logger
}

func NewSession(cfg SessionConfig) *Session {
	s := &Session{
		ID:               cfg.ID,
		SeriesID:         cfg.SeriesID,
		EpisodeID:        cfg.EpisodeID,
		engine:           cfg.Engine,
		store:            cfg.Store,
		sources:          cfg.Sources,
		relayPath:        cfg.RelayPath,
		preferredQuality: cfg.PreferredQuality,
		logger: cfg.Logger.With().
			Str(xglog.FieldSessionID, cfg.ID).
			Str(xglog.FieldSeriesID, cfg.SeriesID).
			Str(xglog.FieldEpisodeID, cfg.EpisodeID).
			Logger(),
	}
	s.machine = newMachine(func(from, to State, event Event) {
		metrics.IncPlaybackTransition(string(from), string(to))
		s.logger.Debug().
			Str(xglog.FieldOldState, string(from)).
			Str(xglog.FieldNewState, string(to)).
			Str(xglog.FieldEvent, string(event)).
			Msg("playback transition")
	})
	return s
}

// Initialize resolves sources and loads the manifest. Only the first
// call does anything; concurrent duplicates are dropped silently so a
// client retrying the start request cannot double-load the engine.
func (s *Session) Initialize(ctx context.Context) error {
	if !s.initStarted.CompareAndSwap(false, true) {
		s.logger.Debug().Msg("duplicate initialize dropped")
		return nil
	}

	if _, err := s.machine.Fire(EventInitialize); err != nil {
		return err
	}

	resp, err := s.sources.EpisodeSources(ctx, s.EpisodeID)
	if err != nil {
		return s.failInit(fmt.Errorf("resolve sources: %w", err))
	}
	source, err := selectRendition(resp.Sources, s.preferredQuality)
	if err != nil {
		return s.failInit(err)
	}

	result, err := s.engine.Load(ctx, source.URL)
	if err != nil {
		return s.failInit(err)
	}

	s.mu.Lock()
	s.streamURL = hls.RelayURL(s.relayPath, source.URL)
	s.quality = source.Quality
	s.duration = result.Duration
	s.mu.Unlock()

	if result.Duration > 0 && s.durationRecorded.CompareAndSwap(false, true) {
		if err := s.store.RecordDuration(ctx, s.SeriesID, s.EpisodeID, result.Duration); err != nil {
			s.logger.Warn().Err(err).Msg("duration write failed")
		}
	}
	s.armResume(ctx)

	if _, err := s.machine.Fire(EventManifestParsed); err != nil {
		return err
	}
	s.logger.Info().
		Str(xglog.FieldQuality, source.Quality).
		Float64("duration", result.Duration).
		Msg("playback initialized")
	return nil
}

func (s *Session) failInit(cause error) error {
	s.mu.Lock()
	s.message = failureMessage
	s.mu.Unlock()
	if _, err := s.machine.Fire(EventLoadFailed); err != nil {
		return err
	}
	s.engine.Destroy()
	s.logger.Error().Err(cause).Msg("playback initialization failed")
	return fmt.Errorf("playback: initialize: %w", cause)
}

// armResume checks stored progress once, at load time. The resume point
// is handed out by ConsumeResume exactly once.
func (s *Session) armResume(ctx context.Context) {
	entry, ok, err := s.store.Get(ctx, s.SeriesID, s.EpisodeID)
	if err != nil {
		s.logger.Warn().Err(err).Msg("resume lookup failed")
		return
	}
	if !ok || entry.SecondsWatched <= resumeThreshold {
		return
	}
	s.resumeFrom = entry.SecondsWatched - resumeRewind
	s.resumeArmed.Store(true)
}

// ConsumeResume returns the one-time resume point. Subsequent calls
// report no resume, so a mid-playback rebuffer never seeks backwards.
func (s *Session) ConsumeResume() (float64, bool) {
	if !s.resumeArmed.CompareAndSwap(true, false) {
		return 0, false
	}
	return s.resumeFrom, true
}

// RecordTime handles a player time update. The in-memory position is
// always current; a store write happens only once the position moved
// saveInterval seconds past the last saved one. The throttle marker
// starts at zero, so nothing is written until the position reaches the
// first interval. Whole seconds: the sub-second stream of updates
// carries no information worth persisting.
func (s *Session) RecordTime(ctx context.Context, seconds float64) error {
	state := s.machine.State()
	if state != StatePlaying && state != StateRecovering {
		return fmt.Errorf("playback: time update in state %s", state)
	}

	whole := math.Floor(seconds)

	s.mu.Lock()
	s.position = seconds
	due := whole-s.savedSeconds >= saveInterval
	if due {
		s.savedSeconds = whole
	}
	s.mu.Unlock()

	if !due {
		return nil
	}
	_, err := s.store.RecordProgress(ctx, s.SeriesID, s.EpisodeID, whole)
	return err
}

// RecordDuration handles the player's duration report. Only the first
// report is persisted; manifests do not change duration mid-session.
func (s *Session) RecordDuration(ctx context.Context, duration float64) error {
	if duration <= 0 {
		return nil
	}
	if !s.durationRecorded.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	s.duration = duration
	s.mu.Unlock()
	return s.store.RecordDuration(ctx, s.SeriesID, s.EpisodeID, duration)
}

// ReportFault maps a fatal player error to its recovery strategy:
// network faults restart loading, media faults flush the decode
// pipeline, anything else tears the engine down.
func (s *Session) ReportFault(ctx context.Context, fault FaultType) error {
	switch fault {
	case FaultNetwork:
		if _, err := s.machine.Fire(EventFatalNetwork); err != nil {
			return err
		}
		metrics.IncPlaybackRecovery(string(fault))
		return s.recover(ctx, s.engine.StartLoad)
	case FaultMedia:
		if _, err := s.machine.Fire(EventFatalMedia); err != nil {
			return err
		}
		metrics.IncPlaybackRecovery(string(fault))
		return s.recover(ctx, s.engine.RecoverMediaError)
	default:
		if _, err := s.machine.Fire(EventFatalOther); err != nil {
			return err
		}
		s.mu.Lock()
		s.message = failureMessage
		s.mu.Unlock()
		s.engine.Destroy()
		s.logger.Error().Str(xglog.FieldType, string(fault)).Msg("unrecoverable playback fault")
		return nil
	}
}

func (s *Session) recover(ctx context.Context, attempt func(context.Context) error) error {
	if err := attempt(ctx); err != nil {
		s.mu.Lock()
		s.message = failureMessage
		s.mu.Unlock()
		if _, fireErr := s.machine.Fire(EventRecoveryFailed); fireErr != nil {
			return fireErr
		}
		s.engine.Destroy()
		s.logger.Error().Err(err).Msg("playback recovery failed")
		return nil
	}
	_, err := s.machine.Fire(EventRecovered)
	return err
}

// Teardown destroys the engine and ends the session. Idempotent.
func (s *Session) Teardown() {
	if s.machine.State() == StateTornDown {
		return
	}
	if _, err := s.machine.Fire(EventTeardown); err != nil {
		return
	}
	s.engine.Destroy()
	s.logger.Info().Msg("playback torn down")
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return s.machine.State()
}

// Status is the client-facing session snapshot.
type Status struct {
	ID        string  `json:"id"`
	SeriesID  string  `json:"seriesId"`
	EpisodeID string  `json:"episodeId"`
	State     State   `json:"state"`
	StreamURL string  `json:"streamUrl,omitempty"`
	Quality   string  `json:"quality,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Position  float64 `json:"position,omitempty"`
	Message   string  `json:"message,omitempty"`
}

func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:        s.ID,
		SeriesID:  s.SeriesID,
		EpisodeID: s.EpisodeID,
		State:     s.machine.State(),
		StreamURL: s.streamURL,
		Quality:   s.quality,
		Duration:  s.duration,
		Position:  s.position,
		Message:   s.message,
	}
}

// selectRendition picks the preferred quality when present, then the
// source marked "default", then the first HLS source.
func selectRendition(sources []metadata.EpisodeSource, preferred string) (metadata.EpisodeSource, error) {
	if len(sources) == 0 {
		return metadata.EpisodeSource{}, fmt.Errorf("playback: no sources available")
	}
	for _, src := range sources {
		if preferred != "" && src.Quality == preferred {
			return src, nil
		}
	}
	for _, src := range sources {
		if src.Quality == "default" {
			return src, nil
		}
	}
	for _, src := range sources {
		if src.IsM3U8 {
			return src, nil
		}
	}
	return sources[0], nil
}
