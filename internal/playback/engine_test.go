// SPDX-License-Identifier: MIT

package playback

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bindothorpe/b-anime/internal/config"
)

const testManifest = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:6
#EXTINF:6.0,
seg0.ts
#EXTINF:6.0,
seg1.ts
#EXT-X-ENDLIST
`

func newTestHTTPEngine(t *testing.T) Engine {
	t.Helper()
	holder, err := config.NewSpoofHolder("")
	require.NoError(t, err)
	return NewHTTPEngine(EngineConfig{
		Timeout:   2 * time.Second,
		Retries:   2,
		UserAgent: config.DefaultUserAgent,
	}, holder, zerolog.Nop())
}

func TestHTTPEngineLoadProbesManifest(t *testing.T) {
	var gotReferer atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer.Store(r.Header.Get("Referer"))
		_, _ = w.Write([]byte(testManifest))
	}))
	t.Cleanup(upstream.Close)

	engine := newTestHTTPEngine(t)
	t.Cleanup(engine.Destroy)

	result, err := engine.Load(t.Context(), upstream.URL+"/ep1.m3u8")
	require.NoError(t, err)
	assert.Equal(t, 12.0, result.Duration)
	assert.Equal(t, 2, result.SegmentCount)
	assert.True(t, result.IsVOD)

	// Without a configured rule the spoofed Referer derives from the target.
	assert.Equal(t, upstream.URL, gotReferer.Load())
}

func TestHTTPEngineLoadRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(testManifest))
	}))
	t.Cleanup(upstream.Close)

	engine := newTestHTTPEngine(t)
	t.Cleanup(engine.Destroy)

	_, err := engine.Load(t.Context(), upstream.URL+"/ep1.m3u8")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPEngineLoadExhaustsRetryBudget(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(upstream.Close)

	engine := newTestHTTPEngine(t)
	t.Cleanup(engine.Destroy)

	_, err := engine.Load(t.Context(), upstream.URL+"/ep1.m3u8")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream status 403")
}

func TestHTTPEngineStartLoadRefetchesLastManifest(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(testManifest))
	}))
	t.Cleanup(upstream.Close)

	engine := newTestHTTPEngine(t)
	t.Cleanup(engine.Destroy)

	_, err := engine.Load(t.Context(), upstream.URL+"/ep1.m3u8")
	require.NoError(t, err)
	require.NoError(t, engine.StartLoad(t.Context()))
	assert.Equal(t, int32(2), hits.Load())
}

func TestHTTPEngineStartLoadBeforeLoad(t *testing.T) {
	engine := newTestHTTPEngine(t)
	t.Cleanup(engine.Destroy)

	require.Error(t, engine.StartLoad(t.Context()))
}

func TestHTTPEngineDestroyedRejectsOperations(t *testing.T) {
	engine := newTestHTTPEngine(t)
	engine.Destroy()
	engine.Destroy() // safe to repeat

	_, err := engine.Load(t.Context(), "https://cdn.example.com/ep1.m3u8")
	assert.ErrorIs(t, err, ErrEngineDestroyed)
	assert.ErrorIs(t, engine.StartLoad(t.Context()), ErrEngineDestroyed)
	assert.ErrorIs(t, engine.RecoverMediaError(t.Context()), ErrEngineDestroyed)
}
