// SPDX-License-Identifier: MIT

// Package cache provides a small TTL cache with memory and Redis backends.
package cache

import (
	"sync"
	"time"
)

// Cache provides thread-safe caching of serialized values with expiration.
type Cache interface {
	// Get retrieves a value. Returns false if not found or expired.
	Get(key string) ([]byte, bool)
	// Set stores a value with the specified TTL.
	Set(key string, value []byte, ttl time.Duration)
	// Delete removes a value.
	Delete(key string)
	// Close releases backend resources.
	Close() error
}

type entry struct {
	value      []byte
	expiration time.Time
}

func (e *entry) isExpired() bool {
	return time.Now().After(e.expiration)
}

// memoryCache is an in-memory implementation of Cache.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	done    chan struct{}
	once    sync.Once
}

// NewMemoryCache creates an in-memory cache with automatic cleanup.
// cleanupInterval <= 0 disables the background janitor.
func NewMemoryCache(cleanupInterval time.Duration) Cache {
	c := &memoryCache{
		entries: make(map[string]*entry),
		done:    make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.janitor(cleanupInterval)
	}
	return c
}

func (c *memoryCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || e.isExpired() {
		return nil, false
	}
	return e.value, true
}

func (c *memoryCache) Set(key string, value []byte, ttl time.Duration) {
	c.mu.Lock()
	c.entries[key] = &entry{value: value, expiration: time.Now().Add(ttl)}
	c.mu.Unlock()
}

func (c *memoryCache) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

func (c *memoryCache) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *memoryCache) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			for key, e := range c.entries {
				if e.isExpired() {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
