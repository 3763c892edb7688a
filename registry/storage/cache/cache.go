// Package cache provides the optional in-memory LRU front for manifest
// reads (spec.md §5 "Shared resources"), keyed by (repo, reference) and
// invalidated synchronously on PUT and DELETE: a PUT or a tag DELETE drops
// the affected keys, a digest DELETE drops every entry of the repository,
// and a garbage collection run that deletes anything purges the cache.
package cache

import (
	lru "github.com/hashicorp/golang-lru"
)

// ManifestCache fronts manifest GETs with a bounded LRU. A nil
// *ManifestCache is valid and caches nothing, so callers don't branch on
// whether caching is configured.
type ManifestCache struct {
	entries *lru.Cache
}

// NewManifestCache returns a cache bounded to size entries, or nil when
// size is not positive (caching disabled).
func NewManifestCache(size int) *ManifestCache {
	if size <= 0 {
		return nil
	}
	entries, err := lru.New(size)
	if err != nil {
		return nil
	}
	return &ManifestCache{entries: entries}
}

func key(repo, reference string) string {
	return repo + "@" + reference
}

// Get returns the cached value for (repo, reference), if present.
func (c *ManifestCache) Get(repo, reference string) (any, bool) {
	if c == nil {
		return nil, false
	}
	return c.entries.Get(key(repo, reference))
}

// Put stores value under (repo, reference).
func (c *ManifestCache) Put(repo, reference string, value any) {
	if c == nil {
		return
	}
	c.entries.Add(key(repo, reference), value)
}

// Invalidate drops (repo, reference). Called on every manifest PUT and
// tag DELETE before the response is written, so a subsequent GET through
// the cache never observes stale bytes.
func (c *ManifestCache) Invalidate(repo, reference string) {
	if c == nil {
		return
	}
	c.entries.Remove(key(repo, reference))
}

// Purge drops every cached entry, used after a garbage collection run
// so swept manifests stop being served from cache.
func (c *ManifestCache) Purge() {
	if c == nil {
		return
	}
	c.entries.Purge()
}

// InvalidateRepo drops every cached entry for repo, used by repository
// deletion and by manifest DELETE by digest. The underlying LRU has no prefix scan, so this walks keys.
func (c *ManifestCache) InvalidateRepo(repo string) {
	if c == nil {
		return
	}
	prefix := repo + "@"
	for _, k := range c.entries.Keys() {
		if s, ok := k.(string); ok && len(s) >= len(prefix) && s[:len(prefix)] == prefix {
			c.entries.Remove(k)
		}
	}
}
