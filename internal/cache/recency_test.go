package cache

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecencyAddGet(t *testing.T) {
	c := NewAddedOrder[string, int](2, 4, nil)

	c.Add("a", 1)
	c.Add("b", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())
}

func TestRecencyCompactsToLowWatermark(t *testing.T) {
	c := NewAddedOrder[string, int](2, 4, nil)

	for i := 0; i < 5; i++ {
		c.Add(fmt.Sprintf("k%d", i), i)
		assert.LessOrEqual(t, c.Len(), 4)
	}

	// Crossing the high watermark compacts to exactly the low one,
	// keeping the most recently added entries.
	require.Equal(t, 2, c.Len())
	_, ok := c.Get("k3")
	assert.True(t, ok)
	_, ok = c.Get("k4")
	assert.True(t, ok)
	_, ok = c.Get("k0")
	assert.False(t, ok)
}

func TestRecencyAddedOrderIgnoresGet(t *testing.T) {
	c := NewAddedOrder[string, int](2, 4, nil)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)
	c.Add("d", 4)
	c.Get("a")
	c.Add("e", 5)

	// Get did not refresh "a", so insertion order decides survival.
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)
	_, ok = c.Get("e")
	assert.True(t, ok)
}

func TestRecencyUsedOrderRefreshesOnGet(t *testing.T) {
	c := NewUsedOrder[string, int](2, 4, nil)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)
	c.Add("d", 4)
	c.Get("a")
	c.Add("e", 5)

	// The Get promoted "a" past b, c and d.
	_, ok := c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("e")
	assert.True(t, ok)
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("c")
	assert.False(t, ok)
}

func TestRecencyPeekDoesNotRefresh(t *testing.T) {
	c := NewUsedOrder[string, int](1, 3, nil)

	c.Add("a", 1)
	c.Add("b", 2)
	c.Add("c", 3)
	c.Peek("a")
	c.Add("d", 4)

	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.Get("d")
	assert.True(t, ok)
}

func TestRecencyTryToAdd(t *testing.T) {
	c := NewAddedOrder[string, int](2, 4, nil)

	assert.True(t, c.TryToAdd("a", 1))
	assert.False(t, c.TryToAdd("a", 2))

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestRecencyRemovalHook(t *testing.T) {
	removed := make(map[string]int)
	c := NewAddedOrder(2, 4, func(key string, value int) {
		removed[key] = value
	})

	for i := 0; i < 5; i++ {
		c.Add(fmt.Sprintf("k%d", i), i)
	}
	c.Remove("k4")

	// Three evictions from compaction plus the explicit removal.
	assert.Len(t, removed, 4)
	assert.Equal(t, 0, removed["k0"])
	assert.Equal(t, 4, removed["k4"])

	c.Remove("k4")
	assert.Len(t, removed, 4, "removing an absent key must not fire the hook")
}

func TestRecencyAddReplacesValue(t *testing.T) {
	c := NewAddedOrder[string, int](2, 4, nil)

	c.Add("a", 1)
	c.Add("a", 2)

	v, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2, v)
	assert.Equal(t, 1, c.Len())
}
