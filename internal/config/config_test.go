// SPDX-License-Identifier: MIT

package config

import (
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, "/relay", cfg.RelayPath)
	assert.Equal(t, "file", cfg.ProgressBackend)
	assert.Equal(t, "1080p", cfg.PreferredQuality)
	assert.False(t, cfg.LogPretty)
	require.NoError(t, Validate(cfg))
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("BANIME_LISTEN", ":9090")
	t.Setenv("BANIME_PROGRESS_BACKEND", "sqlite")
	t.Setenv("BANIME_UPSTREAM_TIMEOUT", "5s")
	t.Setenv("BANIME_ENGINE_LOAD_RETRIES", "4")
	t.Setenv("BANIME_LOG_PRETTY", "true")

	cfg := FromEnv()
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, "sqlite", cfg.ProgressBackend)
	assert.Equal(t, 5*time.Second, cfg.UpstreamTimeout)
	assert.Equal(t, 4, cfg.EngineLoadRetries)
	assert.True(t, cfg.LogPretty)
}

func TestFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("BANIME_ENGINE_LOAD_RETRIES", "lots")
	t.Setenv("BANIME_UPSTREAM_TIMEOUT", "soon")
	t.Setenv("BANIME_LOG_PRETTY", "maybe")

	cfg := FromEnv()
	assert.Equal(t, 2, cfg.EngineLoadRetries)
	assert.Equal(t, 30*time.Second, cfg.UpstreamTimeout)
	assert.False(t, cfg.LogPretty)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*AppConfig)
	}{
		{"empty listen", func(c *AppConfig) { c.ListenAddr = "" }},
		{"relative relay path", func(c *AppConfig) { c.RelayPath = "relay" }},
		{"unknown progress backend", func(c *AppConfig) { c.ProgressBackend = "bolt" }},
		{"redis without addr", func(c *AppConfig) { c.CacheBackend = "redis"; c.RedisAddr = "" }},
		{"bad metadata url", func(c *AppConfig) { c.MetadataBaseURL = "not a url" }},
		{"negative retries", func(c *AppConfig) { c.EngineLoadRetries = -1 }},
		{"zero upstream timeout", func(c *AppConfig) { c.UpstreamTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := FromEnv()
			tt.mutate(&cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestSpoofRulesLookup(t *testing.T) {
	rules := SpoofRules{Hosts: map[string]SpoofRule{
		"cdn.example.com": {Referer: "https://embed.example.com", Origin: "https://embed.example.com"},
		"no-origin.test":  {Referer: "https://ref.test"},
	}}

	target, _ := url.Parse("https://cdn.example.com/hls/ep1.m3u8")
	referer, origin := rules.Lookup(target)
	assert.Equal(t, "https://embed.example.com", referer)
	assert.Equal(t, "https://embed.example.com", origin)

	// Origin falls back to the configured referer.
	target, _ = url.Parse("https://no-origin.test/x.ts")
	referer, origin = rules.Lookup(target)
	assert.Equal(t, "https://ref.test", referer)
	assert.Equal(t, "https://ref.test", origin)

	// Unknown hosts derive from the target, keeping a custom port.
	target, _ = url.Parse("http://other.host:8081/seg.ts")
	referer, origin = rules.Lookup(target)
	assert.Equal(t, "http://other.host:8081", referer)
	assert.Equal(t, "http://other.host:8081", origin)
}

func TestLoadSpoofRulesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spoof.yaml")
	content := "hosts:\n  \"s3embtaku.pro\":\n    referer: https://s3embtaku.pro\n    origin: https://s3embtaku.pro\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	rules, err := LoadSpoofRules(path)
	require.NoError(t, err)
	require.Len(t, rules.Hosts, 1)
	assert.Equal(t, "https://s3embtaku.pro", rules.Hosts["s3embtaku.pro"].Referer)
}

func TestLoadSpoofRulesEmptyPath(t *testing.T) {
	rules, err := LoadSpoofRules("")
	require.NoError(t, err)
	assert.Empty(t, rules.Hosts)
}

func TestLoadSpoofRulesInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hosts: [not a map"), 0o600))

	_, err := LoadSpoofRules(path)
	assert.Error(t, err)
}

func TestSpoofHolderReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "spoof.yaml")
	require.NoError(t, os.WriteFile(path, []byte("hosts: {}\n"), 0o600))

	holder, err := NewSpoofHolder(path)
	require.NoError(t, err)
	assert.Empty(t, holder.Rules().Hosts)

	content := "hosts:\n  \"a.test\":\n    referer: https://a.test\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	require.NoError(t, holder.Reload(t.Context()))
	assert.Len(t, holder.Rules().Hosts, 1)

	// A broken file keeps the previous rules.
	require.NoError(t, os.WriteFile(path, []byte("hosts: ["), 0o600))
	assert.Error(t, holder.Reload(t.Context()))
	assert.Len(t, holder.Rules().Hosts, 1)
}
