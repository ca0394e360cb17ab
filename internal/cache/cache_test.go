// SPDX-License-Identifier: MIT

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewMemoryCache(0)
	defer func() { _ = c.Close() }()

	c.Set("key1", []byte("value1"), 5*time.Minute)

	val, ok := c.Get("key1")
	require.True(t, ok, "expected to find key1")
	assert.Equal(t, []byte("value1"), val)

	_, ok = c.Get("nonexistent")
	assert.False(t, ok, "expected not to find nonexistent key")
}

func TestMemoryCacheExpiration(t *testing.T) {
	c := NewMemoryCache(0)
	defer func() { _ = c.Close() }()

	c.Set("shortlived", []byte("value"), 50*time.Millisecond)

	_, ok := c.Get("shortlived")
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	_, ok = c.Get("shortlived")
	assert.False(t, ok, "expected key to be expired")
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache(0)
	defer func() { _ = c.Close() }()

	c.Set("key1", []byte("value1"), 5*time.Minute)
	c.Delete("key1")

	_, ok := c.Get("key1")
	assert.False(t, ok)
}

func TestMemoryCacheJanitor(t *testing.T) {
	c := NewMemoryCache(20 * time.Millisecond)
	defer func() { _ = c.Close() }()

	c.Set("a", []byte("1"), 10*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	mc := c.(*memoryCache)
	mc.mu.RLock()
	_, present := mc.entries["a"]
	mc.mu.RUnlock()
	assert.False(t, present, "janitor should have evicted the expired entry")
}
