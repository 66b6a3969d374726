package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRU_BasicGetPut(t *testing.T) {
	c := NewLRU[string, bool](10, 5*time.Minute)

	c.Put("a", true)
	c.Put("b", false)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.True(t, v)

	v, ok = c.Get("b")
	require.True(t, ok)
	assert.False(t, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestLRU_Eviction(t *testing.T) {
	var evicted []string
	c := NewLRU[string, int](3, 5*time.Minute, WithEvictCallback(func(k string, _ int) {
		evicted = append(evicted, k)
	}))

	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	c.Get("a")

	// "b" is now the least recently used entry.
	c.Put("d", 4)

	_, ok := c.Get("b")
	assert.False(t, ok, "b should have been evicted")
	assert.Equal(t, []string{"b"}, evicted)

	v, ok := c.Get("a")
	assert.True(t, ok, "a should still exist")
	assert.Equal(t, 1, v)

	assert.Equal(t, 3, c.Len())
}

func TestLRU_TTLExpiration(t *testing.T) {
	c := NewLRU[string, bool](10, 5*time.Minute)

	now := time.Now()
	c.nowFn = func() time.Time { return now }

	c.Put("a", true)

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.True(t, v)

	c.nowFn = func() time.Time { return now.Add(6 * time.Minute) }

	_, ok = c.Get("a")
	assert.False(t, ok, "entry should have expired")
	assert.Equal(t, 0, c.Len())
}

func TestLRU_PurgeExpired(t *testing.T) {
	var evicted []string
	c := NewLRU[string, int](10, 5*time.Minute, WithEvictCallback(func(k string, _ int) {
		evicted = append(evicted, k)
	}))

	now := time.Now()
	c.nowFn = func() time.Time { return now }
	c.Put("old", 1)
	c.nowFn = func() time.Time { return now.Add(3 * time.Minute) }
	c.Put("new", 2)

	c.nowFn = func() time.Time { return now.Add(6 * time.Minute) }
	assert.Equal(t, 1, c.PurgeExpired())
	assert.Equal(t, []string{"old"}, evicted)
	assert.Equal(t, 1, c.Len())

	c.nowFn = func() time.Time { return now.Add(9 * time.Minute) }
	assert.Equal(t, 1, c.PurgeExpired())
	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 0, c.PurgeExpired())
}

func TestLRU_SlidingTTL(t *testing.T) {
	c := NewLRU[string, int](10, 5*time.Minute, WithSlidingTTL[string, int]())

	now := time.Now()
	c.nowFn = func() time.Time { return now }
	c.Put("s", 1)

	now = now.Add(4 * time.Minute)
	_, ok := c.Get("s")
	require.True(t, ok)

	now = now.Add(4 * time.Minute)
	_, ok = c.Get("s")
	assert.True(t, ok, "read renewed the TTL")

	now = now.Add(6 * time.Minute)
	_, ok = c.Get("s")
	assert.False(t, ok)
}

func TestLRU_UpdateExisting(t *testing.T) {
	c := NewLRU[string, int](10, 5*time.Minute)

	c.Put("a", 1)
	c.Put("a", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}

func TestLRU_DeleteAndGetMany(t *testing.T) {
	c := NewLRU[string, int](10, time.Minute)
	c.Put("a", 1)
	c.Put("b", 2)

	assert.True(t, c.Delete("a"))
	assert.False(t, c.Delete("a"))

	found, missing := c.GetMany([]string{"a", "b", "c"})
	assert.Equal(t, map[string]int{"b": 2}, found)
	assert.Equal(t, []string{"a", "c"}, missing)
}

func TestLRU_Stats(t *testing.T) {
	c := NewLRU[string, bool](10, 5*time.Minute)

	c.Put("a", true)

	c.Get("a")    // hit
	c.Get("a")    // hit
	c.Get("miss") // miss

	hits, misses := c.Stats()
	assert.Equal(t, int64(2), hits)
	assert.Equal(t, int64(1), misses)
}
