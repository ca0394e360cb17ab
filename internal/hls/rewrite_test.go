// SPDX-License-Identifier: MIT

package hls

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestClassify(t *testing.T) {
	tests := []struct {
		ref  string
		want ContentType
	}{
		{"index.m3u8", TypeManifest},
		{"https://host/a/b/720p.m3u8?token=x", TypeManifest},
		{"ep.1.ts", TypeSegment},
		{"https://host/seg-001.ts", TypeSegment},
		{"chunk.m4s", TypeSegment},
		{"video", TypeSegment},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.ref), tt.ref)
	}
}

func TestRewriteMediaPlaylist(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-VERSION:3",
		"#EXT-X-TARGETDURATION:10",
		"#EXTINF:10.000,",
		"ep.1.ts",
		"#EXTINF:9.500,",
		"https://cdn.other.com/abs/ep.2.ts",
		"#EXT-X-ENDLIST",
		"",
	}, "\n")

	base := mustParse(t, "https://host/a/b/manifest.m3u8")
	out := Rewrite(playlist, base, "/relay")

	lines := strings.Split(out, "\n")
	assert.Equal(t, "/relay?url="+url.QueryEscape("https://host/a/b/ep.1.ts")+"&type=ts", lines[4])
	assert.Equal(t, "/relay?url="+url.QueryEscape("https://cdn.other.com/abs/ep.2.ts")+"&type=ts", lines[6])
}

func TestRewriteMasterPlaylist(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-STREAM-INF:BANDWIDTH=2000000,RESOLUTION=1920x1080",
		"1080p/index.m3u8",
		"#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=1280x720",
		"720p/index.m3u8",
	}, "\n")

	base := mustParse(t, "https://host/hls/master.m3u8")
	out := Rewrite(playlist, base, "/relay")

	lines := strings.Split(out, "\n")
	assert.Equal(t, "/relay?url="+url.QueryEscape("https://host/hls/1080p/index.m3u8")+"&type=m3u8", lines[2])
	assert.Equal(t, "/relay?url="+url.QueryEscape("https://host/hls/720p/index.m3u8")+"&type=m3u8", lines[4])
}

// Directive lines must survive the rewrite byte-for-byte: durations and byte
// ranges feed directly into player timing.
func TestRewriteDirectivesUntouched(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-TARGETDURATION:10",
		"#EXT-X-BYTERANGE:75232@0",
		"#EXTINF:10.000,  title with spaces ",
		"ep.1.ts",
		"#EXT-X-ENDLIST",
		"",
	}, "\n")

	base := mustParse(t, "https://host/x/manifest.m3u8")
	out := Rewrite(playlist, base, "/relay")

	var gotDirectives, wantDirectives []string
	for _, l := range strings.Split(playlist, "\n") {
		if strings.HasPrefix(l, "#") {
			wantDirectives = append(wantDirectives, l)
		}
	}
	for _, l := range strings.Split(out, "\n") {
		if strings.HasPrefix(l, "#") {
			gotDirectives = append(gotDirectives, l)
		}
	}
	if diff := cmp.Diff(wantDirectives, gotDirectives); diff != "" {
		t.Errorf("directive lines changed (-want +got):\n%s", diff)
	}
}

func TestRewritePreservesTrailingNewline(t *testing.T) {
	base := mustParse(t, "https://host/m.m3u8")
	assert.True(t, strings.HasSuffix(Rewrite("#EXTM3U\nep.ts\n", base, "/relay"), "\n"))
	assert.False(t, strings.HasSuffix(Rewrite("#EXTM3U\nep.ts", base, "/relay"), "\n"))
}

func TestProbeMediaPlaylist(t *testing.T) {
	playlist := strings.Join([]string{
		"#EXTM3U",
		"#EXT-X-PLAYLIST-TYPE:VOD",
		"#EXTINF:10.000,",
		"ep.1.ts",
		"#EXTINF:9.500,",
		"ep.2.ts",
		"#EXTINF:4.500,",
		"ep.3.ts",
		"#EXT-X-ENDLIST",
	}, "\n")

	info, err := Probe(playlist)
	require.NoError(t, err)
	assert.Equal(t, 3, info.SegmentCount)
	assert.Equal(t, 24*time.Second, info.TotalDuration)
	assert.True(t, info.IsVOD)
	assert.False(t, info.IsMaster)
}

func TestProbeMasterPlaylist(t *testing.T) {
	playlist := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\nlow.m3u8\n"
	info, err := Probe(playlist)
	require.NoError(t, err)
	assert.True(t, info.IsMaster)
	assert.Zero(t, info.TotalDuration)
}

func TestProbeRejectsCorruptDuration(t *testing.T) {
	_, err := Probe("#EXTM3U\n#EXTINF:abc,\nep.ts\n")
	assert.Error(t, err)
}
