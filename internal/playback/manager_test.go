// SPDX-License-Identifier: MIT

package playback

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/bindothorpe/b-anime/internal/progress"
)

func newTestManager(t *testing.T, engine *fakeEngine) *Manager {
	t.Helper()
	if engine.loadResult == (LoadResult{}) {
		engine.loadResult = LoadResult{Duration: 1440, SegmentCount: 240, IsVOD: true}
	}
	return NewManager(ManagerConfig{
		Store:            progress.NewMemoryStore(),
		Sources:          &fakeResolver{sources: defaultSources()},
		NewEngine:        func() Engine { return engine },
		RelayPath:        "/relay",
		PreferredQuality: "1080p",
		LoadTimeout:      5 * time.Second,
		Logger:           zerolog.Nop(),
	})
}

func TestManagerSessionLifecycle(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := &fakeEngine{}
	m := newTestManager(t, engine)

	session, err := m.Start("naruto", "naruto-ep-1")
	require.NoError(t, err)
	require.NotEmpty(t, session.ID)

	require.Eventually(t, func() bool {
		return session.State() == StatePlaying
	}, 2*time.Second, 10*time.Millisecond)

	got, err := m.Get(session.ID)
	require.NoError(t, err)
	assert.Same(t, session, got)

	require.NoError(t, m.Teardown(session.ID))
	assert.Equal(t, StateTornDown, session.State())

	_, err = m.Get(session.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, m.Shutdown(t.Context()))
}

func TestManagerShutdownTearsDownLiveSessions(t *testing.T) {
	defer goleak.VerifyNone(t)

	engine := &fakeEngine{}
	m := newTestManager(t, engine)

	first, err := m.Start("naruto", "naruto-ep-1")
	require.NoError(t, err)
	second, err := m.Start("bleach", "bleach-ep-1")
	require.NoError(t, err)

	require.NoError(t, m.Shutdown(t.Context()))
	assert.Equal(t, StateTornDown, first.State())
	assert.Equal(t, StateTornDown, second.State())

	_, err = m.Start("one-piece", "one-piece-ep-1")
	require.Error(t, err)
}

func TestManagerTeardownUnknownSession(t *testing.T) {
	m := newTestManager(t, &fakeEngine{})
	t.Cleanup(func() { _ = m.Shutdown(t.Context()) })

	assert.ErrorIs(t, m.Teardown("nope"), ErrSessionNotFound)
}
