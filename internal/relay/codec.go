// SPDX-License-Identifier: MIT

// Package relay implements the stateless media relay: it fetches manifest
// and segment files on behalf of the browser, spoofs Referer/Origin to pass
// hotlink protection, and rewrites playlists so every reference routes back
// through the relay.
package relay

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrInvalidURL marks a target parameter that does not decode to an
// absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid target URL")

// maxUnwrapDepth bounds how many nested relay layers Resolve strips. Anything
// deeper than this is a rewrite loop, not a legitimate client.
const maxUnwrapDepth = 4

// ResolveContext carries the request-scoped inputs for resolving a target.
type ResolveContext struct {
	// Referer is the requesting client's Referer header; used as the base
	// for relative segment references. May be empty.
	Referer string

	// RelayPath is the route the relay is mounted on (e.g. "/relay"),
	// used to detect self-referential targets.
	RelayPath string
}

// Resolve decodes and validates a raw target URL parameter.
//
// The raw value is percent-decoded once. A decoded value that points back at
// the relay itself is unwrapped to its inner url parameter instead of being
// relayed again, which would otherwise recurse and double-encode on every
// pass. A scheme-less value is resolved against the directory of the
// request's Referer. The result must be an absolute http(s) URL.
//
// Resolve is a pure function of its inputs.
func Resolve(raw string, rctx ResolveContext) (string, error) {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, raw, err)
	}

	for depth := 0; strings.HasPrefix(decoded, rctx.RelayPath); depth++ {
		if depth == maxUnwrapDepth {
			return "", fmt.Errorf("%w: relay unwrap depth exceeded: %q", ErrInvalidURL, raw)
		}
		inner, err := unwrap(decoded)
		if err != nil {
			return "", err
		}
		decoded = inner
	}

	if !strings.HasPrefix(decoded, "http") {
		resolved, err := resolveRelative(decoded, rctx.Referer)
		if err != nil {
			return "", err
		}
		decoded = resolved
	}

	if !strings.HasPrefix(decoded, "http://") && !strings.HasPrefix(decoded, "https://") {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, decoded)
	}
	if _, err := url.Parse(decoded); err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, decoded, err)
	}
	return decoded, nil
}

// unwrap extracts the url parameter from an already-relayed link.
func unwrap(relayed string) (string, error) {
	u, err := url.Parse(relayed)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, relayed, err)
	}
	inner := u.Query().Get("url")
	if inner == "" {
		return "", fmt.Errorf("%w: relayed link without url parameter: %q", ErrInvalidURL, relayed)
	}
	return inner, nil
}

// resolveRelative resolves a bare filename or relative fragment against the
// directory of the referer URL.
func resolveRelative(ref, referer string) (string, error) {
	if referer == "" {
		return "", fmt.Errorf("%w: relative reference %q without referer", ErrInvalidURL, ref)
	}
	base, err := url.Parse(referer)
	if err != nil || !base.IsAbs() {
		return "", fmt.Errorf("%w: unusable referer %q", ErrInvalidURL, referer)
	}
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidURL, ref, err)
	}
	return base.ResolveReference(parsed).String(), nil
}
