package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUCache_Creation(t *testing.T) {
	testCases := []struct {
		name       string
		capacity   int
		defaultTTL time.Duration
		expectCap  int
	}{
		{"default values", 0, 0, 1000},
		{"custom capacity", 500, 0, 500},
		{"both custom", 200, 15 * time.Minute, 200},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewLRUCache[string, string](tc.capacity, tc.defaultTTL)
			assert.Equal(t, tc.expectCap, c.Capacity())
			assert.Equal(t, 0, c.Size())
		})
	}
}

func TestLRUCache_BasicSetGet(t *testing.T) {
	c := NewLRUCache[string, string](100, time.Minute)

	t.Run("Set and Get returns value", func(t *testing.T) {
		c.Set("k", "v", 0)
		got, ok := c.Get("k")
		require.True(t, ok)
		assert.Equal(t, "v", got)
	})

	t.Run("Get non-existent key returns false", func(t *testing.T) {
		_, ok := c.Get("missing")
		assert.False(t, ok)
	})

	t.Run("Update existing key", func(t *testing.T) {
		c.Set("k2", "v1", 0)
		c.Set("k2", "v2", 0)
		got, ok := c.Get("k2")
		require.True(t, ok)
		assert.Equal(t, "v2", got)
	})
}

func TestLRUCache_TTLExpiration(t *testing.T) {
	c := NewLRUCache[string, string](100, 50*time.Millisecond)

	c.Set("expiring", "v", 50*time.Millisecond)
	_, ok := c.Get("expiring")
	assert.True(t, ok, "key should exist immediately after Set")

	time.Sleep(60 * time.Millisecond)
	_, ok = c.Get("expiring")
	assert.False(t, ok, "key should be expired after TTL")
}

func TestLRUCache_Eviction(t *testing.T) {
	c := NewLRUCache[string, string](3, time.Minute)

	c.Set("a", "1", 0)
	c.Set("b", "2", 0)
	c.Set("c", "3", 0)

	// Touch "a" so "b" becomes the oldest.
	_, _ = c.Get("a")
	c.Set("d", "4", 0)

	_, ok := c.Get("b")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 3, c.Size())
}

func TestLRUCache_CleanupExpired(t *testing.T) {
	c := NewLRUCache[string, string](100, time.Minute)

	c.Set("short", "v", 10*time.Millisecond)
	c.Set("long", "v", time.Minute)

	time.Sleep(20 * time.Millisecond)
	removed := c.CleanupExpired()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, c.Size())
}

func TestLRUCache_ConcurrentAccess(t *testing.T) {
	c := NewLRUCache[string, int](1000, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("key-%d-%d", n, j)
				c.Set(key, j, 0)
				_, _ = c.Get(key)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1000, c.Size())
}
