// SPDX-License-Identifier: MIT

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_GetSet(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("key1", "value1", 5*time.Minute)

	val, ok := c.Get("key1")
	require.True(t, ok, "expected to find key1")
	assert.Equal(t, "value1", val)

	_, ok = c.Get("nonexistent")
	assert.False(t, ok, "expected not to find nonexistent key")
}

func TestMemoryCache_Expiration(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("shortlived", "value", 50*time.Millisecond)

	val, ok := c.Get("shortlived")
	require.True(t, ok)
	assert.Equal(t, "value", val)

	time.Sleep(100 * time.Millisecond)

	_, ok = c.Get("shortlived")
	assert.False(t, ok, "expected key to be expired")
}

func TestMemoryCache_Delete(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("key1", "value1", 5*time.Minute)

	_, ok := c.Get("key1")
	require.True(t, ok)

	c.Delete("key1")

	_, ok = c.Get("key1")
	assert.False(t, ok, "expected key to be gone after delete")
}

func TestMemoryCache_LRUEviction(t *testing.T) {
	c := NewMemoryCache(0, WithMaxEntries(2))

	c.Set("a", 1, time.Minute)
	c.Set("b", 2, time.Minute)

	// touch "a" so "b" becomes least-recently-used
	_, _ = c.Get("a")

	c.Set("c", 3, time.Minute)

	_, ok := c.Get("b")
	assert.False(t, ok, "expected least-recently-used entry to be evicted")

	_, ok = c.Get("a")
	assert.True(t, ok, "expected recently-used entry to survive")

	_, ok = c.Get("c")
	assert.True(t, ok, "expected newly inserted entry to survive")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 2, stats.CurrentSize)
}

func TestMemoryCache_Stats(t *testing.T) {
	c := NewMemoryCache(0)

	c.Set("key1", "value1", time.Minute)
	_, _ = c.Get("key1")
	_, _ = c.Get("missing")

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, 1, stats.CurrentSize)
}
