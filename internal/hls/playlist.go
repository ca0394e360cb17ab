// SPDX-License-Identifier: MIT

// Package hls parses and rewrites HLS playlists.
package hls

import (
	"bufio"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ContentType classifies a playlist reference.
type ContentType string

const (
	// TypeManifest marks a sub-playlist (master variant or media playlist).
	TypeManifest ContentType = "m3u8"
	// TypeSegment marks a media segment. Unrecognized suffixes are treated
	// as segments: hosts serve segments under arbitrary extensions.
	TypeSegment ContentType = "ts"
)

// Classify determines whether a reference line points at a sub-manifest or
// a media segment. Query strings and fragments do not affect the result.
func Classify(ref string) ContentType {
	path := ref
	if i := strings.IndexAny(path, "?#"); i != -1 {
		path = path[:i]
	}
	if strings.HasSuffix(path, ".m3u8") {
		return TypeManifest
	}
	return TypeSegment
}

// PlaylistInfo carries timeline metadata derived from a media playlist.
type PlaylistInfo struct {
	SegmentCount  int
	TotalDuration time.Duration
	IsVOD         bool // #EXT-X-PLAYLIST-TYPE:VOD or #EXT-X-ENDLIST
	IsMaster      bool // contains #EXT-X-STREAM-INF variant entries
}

// Probe scans a playlist and sums segment durations. The total feeds the
// duration-discovered playback event; a master playlist has no timeline of
// its own and reports zero.
func Probe(playlist string) (*PlaylistInfo, error) {
	scanner := bufio.NewScanner(strings.NewReader(playlist))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	info := &PlaylistInfo{}

	var nextDuration time.Duration

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			info.IsMaster = true
			continue
		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:VOD"):
			info.IsVOD = true
			continue
		case line == "#EXT-X-ENDLIST":
			info.IsVOD = true
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			// Format: #EXTINF:10.000,
			durPart := strings.TrimPrefix(line, "#EXTINF:")
			if idx := strings.Index(durPart, ","); idx != -1 {
				durPart = durPart[:idx]
			}
			secs, err := strconv.ParseFloat(durPart, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid EXTINF duration: %s", durPart)
			}
			nextDuration = time.Duration(secs * float64(time.Second))
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}

		// URI line: a segment (or a variant entry in a master playlist).
		info.SegmentCount++
		info.TotalDuration += nextDuration
		nextDuration = 0
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return info, nil
}

// resolveAgainst resolves ref against the directory of base. A ref that is
// already absolute is returned unchanged.
func resolveAgainst(base *url.URL, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(parsed).String()
}
