// SPDX-License-Identifier: MIT

package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bindothorpe/b-anime/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, rulesYAML string) *Handler {
	t.Helper()
	path := ""
	if rulesYAML != "" {
		path = filepath.Join(t.TempDir(), "spoof.yaml")
		require.NoError(t, os.WriteFile(path, []byte(rulesYAML), 0o600))
	}
	spoof, err := config.NewSpoofHolder(path)
	require.NoError(t, err)
	return New(config.AppConfig{
		RelayPath:       "/relay",
		UserAgent:       config.DefaultUserAgent,
		UpstreamTimeout: 5 * time.Second,
	}, spoof)
}

func relayGet(h *Handler, target, typeParam, referer string) *httptest.ResponseRecorder {
	q := url.Values{}
	if target != "" {
		q.Set("url", target)
	}
	if typeParam != "" {
		q.Set("type", typeParam)
	}
	req := httptest.NewRequest(http.MethodGet, "/relay?"+q.Encode(), nil)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRelayMissingURL(t *testing.T) {
	h := newTestHandler(t, "")
	rec := relayGet(h, "", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Missing URL parameter")
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestRelayOptionsPreflight(t *testing.T) {
	h := newTestHandler(t, "")
	req := httptest.NewRequest(http.MethodOptions, "/relay", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Empty(t, rec.Body.Bytes())
}

func TestRelayMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, "")
	req := httptest.NewRequest(http.MethodPost, "/relay", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRelayInvalidTarget(t *testing.T) {
	h := newTestHandler(t, "")
	rec := relayGet(h, "ftp://host/file", "", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body struct {
		Error string `json:"error"`
		URL   string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body.Error)
	assert.Equal(t, "ftp://host/file", body.URL)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRelayManifestRewriting(t *testing.T) {
	var gotReferer, gotOrigin, gotUA string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		gotOrigin = r.Header.Get("Origin")
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.Header().Set("X-Upstream", "yes")
		fmt.Fprint(w, "#EXTM3U\n#EXTINF:10.000,\nep.1.ts\n#EXT-X-ENDLIST\n")
	}))
	defer upstream.Close()

	h := newTestHandler(t, "")
	manifestURL := upstream.URL + "/hls/manifest.m3u8"
	rec := relayGet(h, manifestURL, "m3u8", "")

	require.Equal(t, http.StatusOK, rec.Code)

	// Spoofed headers derived from the target's own scheme+host+port.
	assert.Equal(t, upstream.URL, gotReferer)
	assert.Equal(t, upstream.URL, gotOrigin)
	assert.Contains(t, gotUA, "Chrome")

	// The segment line routes back through the relay.
	body := rec.Body.String()
	assert.Contains(t, body, "/relay?url="+url.QueryEscape(upstream.URL+"/hls/ep.1.ts")+"&type=ts")
	assert.Contains(t, body, "#EXT-X-ENDLIST")

	assert.Equal(t, "application/vnd.apple.mpegurl", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache, no-store, must-revalidate", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "yes", rec.Header().Get("X-Upstream"))
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRelaySpoofRuleForConfiguredHost(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The rule key is the upstream's hostname (127.0.0.1 in httptest).
		if r.Header.Get("Referer") != "https://s3embtaku.pro" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, "segmentdata")
	}))
	defer upstream.Close()

	host := strings.TrimPrefix(upstream.URL, "http://")
	hostname, _, _ := strings.Cut(host, ":")
	rules := fmt.Sprintf("hosts:\n  %q:\n    referer: https://s3embtaku.pro\n    origin: https://s3embtaku.pro\n", hostname)

	h := newTestHandler(t, rules)
	rec := relayGet(h, upstream.URL+"/seg.ts", "ts", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "segmentdata", rec.Body.String())
}

func TestRelaySegmentPassthrough(t *testing.T) {
	payload := strings.Repeat("x", 1024)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		fmt.Fprint(w, payload)
	}))
	defer upstream.Close()

	h := newTestHandler(t, "")
	rec := relayGet(h, upstream.URL+"/ep.1.ts", "ts", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.String())
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
	assert.Equal(t, "public, max-age=31536000, immutable", rec.Header().Get("Cache-Control"))
	// Byte length must be preserved for segments.
	assert.Equal(t, "1024", rec.Header().Get("Content-Length"))
}

func TestRelaySegmentDefaultContentType(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header()["Content-Type"] = nil // suppress sniffing
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte{0x47})
	}))
	defer upstream.Close()

	h := newTestHandler(t, "")
	rec := relayGet(h, upstream.URL+"/ep.1.ts", "ts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "video/mp2t", rec.Header().Get("Content-Type"))
}

func TestRelayManifestDropsContentLength(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\nep.1.ts\n")
	}))
	defer upstream.Close()

	h := newTestHandler(t, "")
	rec := relayGet(h, upstream.URL+"/m.m3u8", "m3u8", "")
	require.Equal(t, http.StatusOK, rec.Code)
	// The rewritten body has a different length than upstream reported, so
	// the upstream Content-Length must not survive.
	assert.Empty(t, rec.Header().Get("Content-Length"))
}

func TestRelayUpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer upstream.Close()

	h := newTestHandler(t, "")
	target := upstream.URL + "/gone.m3u8"
	rec := relayGet(h, target, "m3u8", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body struct {
		Error string `json:"error"`
		URL   string `json:"url"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body.Error, "404")
	assert.Equal(t, target, body.URL)
}

func TestRelayRelativeSegmentViaReferer(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/a/b/ep.5.ts" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		fmt.Fprint(w, "seg5")
	}))
	defer upstream.Close()

	h := newTestHandler(t, "")
	rec := relayGet(h, "ep.5.ts", "ts", upstream.URL+"/a/b/manifest.m3u8")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "seg5", rec.Body.String())
}

// An already-relayed manifest link must unwrap and fetch the inner target,
// not recurse into the relay itself.
func TestRelayUnwrapsSelfReferentialTarget(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n")
	}))
	defer upstream.Close()

	h := newTestHandler(t, "")
	wrapped := "/relay?url=" + url.QueryEscape(upstream.URL+"/x.m3u8") + "&type=m3u8"
	rec := relayGet(h, wrapped, "m3u8", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}
