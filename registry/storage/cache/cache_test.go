package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestManifestCacheRoundTrip(t *testing.T) {
	c := NewManifestCache(8)

	_, ok := c.Get("lib/app", "v1")
	assert.False(t, ok)

	c.Put("lib/app", "v1", "payload")
	got, ok := c.Get("lib/app", "v1")
	assert.True(t, ok)
	assert.Equal(t, "payload", got)

	c.Invalidate("lib/app", "v1")
	_, ok = c.Get("lib/app", "v1")
	assert.False(t, ok)
}

func TestManifestCacheEviction(t *testing.T) {
	c := NewManifestCache(2)
	c.Put("r", "a", 1)
	c.Put("r", "b", 2)
	c.Put("r", "c", 3)

	_, okA := c.Get("r", "a")
	_, okC := c.Get("r", "c")
	assert.False(t, okA)
	assert.True(t, okC)
}

func TestManifestCacheInvalidateRepo(t *testing.T) {
	c := NewManifestCache(8)
	c.Put("doomed", "v1", 1)
	c.Put("doomed", "v2", 2)
	c.Put("survivor", "v1", 3)

	c.InvalidateRepo("doomed")

	_, ok := c.Get("doomed", "v1")
	assert.False(t, ok)
	_, ok = c.Get("doomed", "v2")
	assert.False(t, ok)
	_, ok = c.Get("survivor", "v1")
	assert.True(t, ok)
}

func TestManifestCachePurge(t *testing.T) {
	c := NewManifestCache(8)
	c.Put("a", "v1", 1)
	c.Put("b", "v1", 2)

	c.Purge()

	_, ok := c.Get("a", "v1")
	assert.False(t, ok)
	_, ok = c.Get("b", "v1")
	assert.False(t, ok)
}

func TestNilCacheIsInert(t *testing.T) {
	var c *ManifestCache
	c.Put("r", "v1", 1)
	_, ok := c.Get("r", "v1")
	assert.False(t, ok)
	c.Invalidate("r", "v1")
	c.InvalidateRepo("r")
	c.Purge()

	assert.Nil(t, NewManifestCache(0))
}
