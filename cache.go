package packvfs

import (
	"os"
	"strings"
	"time"
)

// Cache remembers which search path a physical lookup resolved to.
// Like the rest of FileSystem it is not safe for concurrent use.
type Cache struct {
	statCache     map[string]*statCacheEntry
	negativeCache map[string]*negativeCacheEntry
	statTTL       time.Duration
	negativeTTL   time.Duration
	maxEntries    int
	enabled       bool
	hits          int
	misses        int
}

// statCacheEntry stores a resolved physical path
type statCacheEntry struct {
	fullPath string
	info     os.FileInfo
	expires  time.Time
}

// negativeCacheEntry stores information about names no search path has
type negativeCacheEntry struct {
	expires time.Time
}

// newCache creates a new cache with the specified configuration
func newCache(enabled bool, statTTL, negativeTTL time.Duration, maxEntries int) *Cache {
	if !enabled {
		return &Cache{enabled: false}
	}
	if maxEntries <= 0 {
		maxEntries = 1000
	}

	return &Cache{
		statCache:     make(map[string]*statCacheEntry),
		negativeCache: make(map[string]*negativeCacheEntry),
		statTTL:       statTTL,
		negativeTTL:   negativeTTL,
		maxEntries:    maxEntries,
		enabled:       true,
	}
}

// getStat retrieves a cached resolution if available and not expired
func (c *Cache) getStat(key string) (string, os.FileInfo, bool) {
	if !c.enabled {
		return "", nil, false
	}

	entry, ok := c.statCache[key]
	if !ok || time.Now().After(entry.expires) {
		c.misses++
		return "", nil, false
	}

	c.hits++
	return entry.fullPath, entry.info, true
}

// putStat stores a resolution in the cache
func (c *Cache) putStat(key, fullPath string, info os.FileInfo) {
	if !c.enabled {
		return
	}

	if len(c.statCache) >= c.maxEntries {
		evictOldest(c.statCache, func(e *statCacheEntry) time.Time { return e.expires })
	}

	c.statCache[key] = &statCacheEntry{
		fullPath: fullPath,
		info:     info,
		expires:  time.Now().Add(c.statTTL),
	}
}

// isNegative checks if a name is known not to resolve
func (c *Cache) isNegative(key string) bool {
	if !c.enabled {
		return false
	}

	entry, ok := c.negativeCache[key]
	if !ok {
		return false
	}
	return !time.Now().After(entry.expires)
}

// putNegative marks a name as unresolvable
func (c *Cache) putNegative(key string) {
	if !c.enabled {
		return
	}

	if len(c.negativeCache) >= c.maxEntries {
		evictOldest(c.negativeCache, func(e *negativeCacheEntry) time.Time { return e.expires })
	}

	c.negativeCache[key] = &negativeCacheEntry{
		expires: time.Now().Add(c.negativeTTL),
	}
}

// invalidateTree removes every entry for name or anything beneath it.
// Negative entries are dropped wholesale since a new file can satisfy
// lookups cached under a different key.
func (c *Cache) invalidateTree(name string) {
	if !c.enabled {
		return
	}

	for key := range c.statCache {
		if key == name || strings.HasPrefix(key, name+string(os.PathSeparator)) {
			delete(c.statCache, key)
		}
	}
	c.negativeCache = make(map[string]*negativeCacheEntry)
}

// invalidateFile removes every resolution that points at fullPath. Used
// when a file changes behind a cached snapshot of its info.
func (c *Cache) invalidateFile(fullPath string) {
	if !c.enabled {
		return
	}

	for key, entry := range c.statCache {
		if entry.fullPath == fullPath {
			delete(c.statCache, key)
		}
	}
}

// clear removes all cache entries
func (c *Cache) clear() {
	if !c.enabled {
		return
	}

	c.statCache = make(map[string]*statCacheEntry)
	c.negativeCache = make(map[string]*negativeCacheEntry)
}

// evictOldest removes the entry of m that expires first.
func evictOldest[E any](m map[string]E, expires func(E) time.Time) {
	var oldestKey string
	var oldest time.Time
	for key, entry := range m {
		if t := expires(entry); oldestKey == "" || t.Before(oldest) {
			oldestKey, oldest = key, t
		}
	}
	delete(m, oldestKey)
}

// Stats returns cache statistics
func (c *Cache) Stats() CacheStats {
	if !c.enabled {
		return CacheStats{Enabled: false}
	}

	return CacheStats{
		Enabled:           true,
		StatCacheSize:     len(c.statCache),
		NegativeCacheSize: len(c.negativeCache),
		MaxEntries:        c.maxEntries,
		StatTTL:           c.statTTL,
		NegativeTTL:       c.negativeTTL,
		Hits:              c.hits,
		Misses:            c.misses,
	}
}

// CacheStats contains cache statistics
type CacheStats struct {
	Enabled           bool
	StatCacheSize     int
	NegativeCacheSize int
	MaxEntries        int
	StatTTL           time.Duration
	NegativeTTL       time.Duration
	Hits              int
	Misses            int
}

// ClearCache removes all cache entries
func (fsys *FileSystem) ClearCache() {
	fsys.cache.clear()
}

// CacheStats returns cache statistics
func (fsys *FileSystem) CacheStats() CacheStats {
	return fsys.cache.Stats()
}
