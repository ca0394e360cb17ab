// SPDX-License-Identifier: MIT

package hls

import (
	"bufio"
	"net/url"
	"strings"
)

// Rewrite replaces every segment and sub-manifest reference in playlist with
// a relay-addressed URL. Directive lines (#EXTINF, #EXT-X-*) pass through
// byte-for-byte: players depend on their exact values.
//
// Relative references are resolved against the directory of manifestURL
// before being wrapped, so the relay never has to guess a base path when the
// rewritten reference comes back. Re-rewriting an already rewritten playlist
// is harmless: the relay's URL codec unwraps nested relay links on decode.
func Rewrite(playlist string, manifestURL *url.URL, relayPath string) string {
	var b strings.Builder
	b.Grow(len(playlist) + len(playlist)/2)

	scanner := bufio.NewScanner(strings.NewReader(playlist))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if !first {
			b.WriteByte('\n')
		}
		first = false

		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			b.WriteString(line)
			continue
		}

		b.WriteString(RelayURL(relayPath, resolveAgainst(manifestURL, trimmed)))
	}

	// bufio.Scanner drops the trailing newline of the final line; restore it
	// so segment URIs keep their line termination in every player.
	if strings.HasSuffix(playlist, "\n") {
		b.WriteByte('\n')
	}

	return b.String()
}

// RelayURL builds the relay reference for an absolute target URL.
func RelayURL(relayPath, target string) string {
	return relayPath + "?url=" + url.QueryEscape(target) + "&type=" + string(Classify(target))
}
