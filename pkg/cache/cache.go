// Package cache holds recently resolved links so repeated resolutions of the
// same URL skip the network entirely.
package cache

import (
	"fmt"
	"sync"
	"time"

	"github.com/mozilla-rally/web-science-sub001/pkg/config"
	"github.com/mozilla-rally/web-science-sub001/pkg/logging"
)

// Cache is a thread-safe resolved-link cache with LRU eviction and TTL expiry.
type Cache struct {
	cfg         *config.CacheConfig
	logger      *logging.Logger
	entries     map[string]*cacheEntry
	stopCleanup chan struct{}
	cleanupDone chan struct{}
	stats       cacheStats
	maxEntries  int
	mu          sync.RWMutex
}

// cacheEntry holds one resolved link with metadata
type cacheEntry struct {
	finalURL string

	expiresAt time.Time

	// When this entry was last accessed (for LRU eviction)
	lastAccess time.Time
}

// cacheStats tracks cache performance counters
type cacheStats struct {
	hits      uint64
	misses    uint64
	entries   int
	evictions uint64
	sets      uint64
}

// Stats is a copy of the current cache statistics
type Stats struct {
	Hits      uint64
	Misses    uint64
	Entries   int
	Evictions uint64
	Sets      uint64
	HitRate   float64 // hits / (hits + misses)
}

// New creates a resolved-link cache with the given configuration
func New(cfg *config.CacheConfig, logger *logging.Logger) (*Cache, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cache config cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if cfg.MaxEntries <= 0 {
		return nil, fmt.Errorf("max_entries must be positive, got %d", cfg.MaxEntries)
	}
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("ttl must be positive, got %s", cfg.TTL)
	}

	c := &Cache{
		cfg:         cfg,
		logger:      logger,
		entries:     make(map[string]*cacheEntry, cfg.MaxEntries),
		maxEntries:  cfg.MaxEntries,
		stopCleanup: make(chan struct{}),
		cleanupDone: make(chan struct{}),
	}

	go c.cleanupLoop()

	logger.Info("Resolved-link cache initialized",
		"max_entries", cfg.MaxEntries,
		"ttl", cfg.TTL)

	return c, nil
}

// Get returns the cached final URL for a source URL under a request mode.
// The second return is false when nothing usable is cached.
func (c *Cache) Get(sourceURL, mode string) (string, bool) {
	if !c.cfg.Enabled {
		return "", false
	}

	key := makeKey(sourceURL, mode)

	c.mu.RLock()
	entry, found := c.entries[key]
	c.mu.RUnlock()

	if !found {
		c.recordMiss()
		return "", false
	}

	now := time.Now()
	if now.After(entry.expiresAt) {
		c.recordMiss()
		c.mu.Lock()
		delete(c.entries, key)
		c.stats.entries = len(c.entries)
		c.mu.Unlock()
		return "", false
	}

	c.mu.Lock()
	entry.lastAccess = now
	c.stats.hits++
	c.mu.Unlock()

	return entry.finalURL, true
}

// Set stores a resolved link. Only successful resolutions are cached;
// failures are transient and retried on the next request.
func (c *Cache) Set(sourceURL, mode, finalURL string) {
	if !c.cfg.Enabled {
		return
	}

	now := time.Now()
	entry := &cacheEntry{
		finalURL:   finalURL,
		expiresAt:  now.Add(c.cfg.TTL),
		lastAccess: now,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictLRU()
	}

	c.entries[makeKey(sourceURL, mode)] = entry
	c.stats.entries = len(c.entries)
	c.stats.sets++
}

// makeKey builds a cache key from a source URL and request mode. The mode is
// part of the key because it changes where a resolution stops.
func makeKey(sourceURL, mode string) string {
	return mode + "\x00" + sourceURL
}

// evictLRU removes the least recently used entry.
// Must be called with the write lock held.
func (c *Cache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.entries {
		if oldestKey == "" || entry.lastAccess.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccess
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
		c.stats.evictions++
		c.logger.Debug("Evicted LRU cache entry", "key", oldestKey)
	}
}

// cleanupLoop runs in the background to remove expired entries
func (c *Cache) cleanupLoop() {
	defer close(c.cleanupDone)

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

// cleanup removes all expired entries
func (c *Cache) cleanup() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		c.stats.evictions += uint64(removed)
		c.stats.entries = len(c.entries)
		c.logger.Debug("Cleaned up expired cache entries", "removed", removed, "remaining", c.stats.entries)
	}
}

// Stats returns current cache statistics
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.stats.hits + c.stats.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.stats.hits) / float64(total)
	}

	return Stats{
		Hits:      c.stats.hits,
		Misses:    c.stats.misses,
		Entries:   c.stats.entries,
		Evictions: c.stats.evictions,
		Sets:      c.stats.sets,
		HitRate:   hitRate,
	}
}

// Clear removes all entries from the cache
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry, c.maxEntries)
	c.stats.entries = 0
	c.logger.Info("Cache cleared")
}

// Close stops the cleanup goroutine
func (c *Cache) Close() error {
	close(c.stopCleanup)
	<-c.cleanupDone

	c.logger.Info("Cache closed",
		"final_hits", c.stats.hits,
		"final_misses", c.stats.misses,
		"final_entries", c.stats.entries)

	return nil
}

// recordMiss increments the miss counter
func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.stats.misses++
	c.mu.Unlock()
}
