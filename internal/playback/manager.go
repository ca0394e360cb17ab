// SPDX-License-Identifier: MIT

package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bindothorpe/b-anime/internal/metrics"
	"github.com/bindothorpe/b-anime/internal/progress"
)

// ErrSessionNotFound is returned for lookups of unknown session IDs.
var ErrSessionNotFound = fmt.Errorf("playback: session not found")

// EngineFactory builds a fresh engine per session.
type EngineFactory func() Engine

// ManagerConfig carries the shared collaborators sessions are built from.
type ManagerConfig struct {
	Store            progress.Store
	Sources          SourceResolver
	NewEngine        EngineFactory
	RelayPath        string
	PreferredQuality string
	LoadTimeout      time.Duration
	Logger           zerolog.Logger
}

// Manager tracks live playback sessions by ID. Initialization runs in
// the background: Start returns immediately and clients poll the
// session status until it leaves the initializing state.
type Manager struct {
	cfg ManagerConfig

	mu       sync.Mutex
	sessions map[string]*Session
	wg       sync.WaitGroup
	closed   bool
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
	}
}

// Start creates a session for the episode and kicks off its load.
func (m *Manager) Start(seriesID, episodeID string) (*Session, error) {
	session := NewSession(SessionConfig{
		ID:               uuid.NewString(),
		SeriesID:         seriesID,
		EpisodeID:        episodeID,
		Engine:           m.cfg.NewEngine(),
		Store:            m.cfg.Store,
		Sources:          m.cfg.Sources,
		RelayPath:        m.cfg.RelayPath,
		PreferredQuality: m.cfg.PreferredQuality,
		Logger:           m.cfg.Logger,
	})

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, fmt.Errorf("playback: manager shut down")
	}
	m.sessions[session.ID] = session
	m.wg.Add(1)
	m.mu.Unlock()
	metrics.PlaybackSessionsActive.Inc()

	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.LoadTimeout)
		defer cancel()
		// Errors surface through the session state and status message.
		_ = session.Initialize(ctx)
	}()

	return session, nil
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// Teardown ends a session and removes it from the registry.
func (m *Manager) Teardown(id string) error {
	m.mu.Lock()
	session, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	session.Teardown()
	metrics.PlaybackSessionsActive.Dec()
	return nil
}

// Shutdown tears down every live session and waits for in-flight
// initializations to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	remaining := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		remaining = append(remaining, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range remaining {
		s.Teardown()
		metrics.PlaybackSessionsActive.Dec()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
