package cache_test

import (
	"testing"

	"github.com/nebuladb/nebula-core/cache"
	"github.com/stretchr/testify/require"
)

func TestLRUEvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := cache.New[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)

	_, ok := c.Get("a") // touch a, making b the LRU entry
	require.True(t, ok)

	c.Put("c", 3)
	require.True(t, c.NeedsCleanup())

	evicted, ok := c.CleanupOne()
	require.True(t, ok)
	require.Equal(t, "b", evicted)
	require.False(t, c.NeedsCleanup())

	_, ok = c.Get("b")
	require.False(t, ok)
}

func TestAddToRemoveOnDDL(t *testing.T) {
	t.Parallel()

	c := cache.New[string, int](10)
	c.Put("a", 1)
	c.Put("b", 2)
	c.AddToRemoveOnDDL("a")

	c.EvictDDLPending()

	_, ok := c.Get("a")
	require.False(t, ok)

	_, ok = c.Get("b")
	require.True(t, ok)
}

func TestClear(t *testing.T) {
	t.Parallel()

	c := cache.New[string, int](10)
	c.Put("a", 1)
	c.Clear()

	require.Equal(t, 0, c.Len())
	_, ok := c.Get("a")
	require.False(t, ok)
}
