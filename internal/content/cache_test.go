package content

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vellum-cms/vellum/internal/logging"
	"github.com/vellum-cms/vellum/internal/notify"
	"github.com/vellum-cms/vellum/internal/types"
)

func newTestCache(t *testing.T, maxSize int64, ttl time.Duration, notifier *notify.Notifier) *Cache {
	t.Helper()
	c := NewCache(maxSize, ttl, notifier, logging.NewNopLogger())
	t.Cleanup(c.Close)
	return c
}

func node(id string, payload int) *types.ContentNode {
	return &types.ContentNode{
		ID:          id,
		ContentType: "page",
		Fields:      map[string]string{"body": strings.Repeat("x", payload)},
		Public:      true,
	}
}

func key(itemID string, assemblyContext int) types.ContentCacheKey {
	return types.ContentCacheKey{ItemID: itemID, Context: assemblyContext}
}

func TestCache_PutGet(t *testing.T) {
	c := newTestCache(t, 1<<20, time.Minute, nil)

	n := node("a", 10)
	c.Put(key("a", 0), n)

	got, ok := c.Get(key("a", 0))
	require.True(t, ok)
	assert.Same(t, n, got)
	assert.Equal(t, int64(1), c.Hits())

	_, ok = c.Get(key("a", 301))
	assert.False(t, ok, "context is part of the key")
	_, ok = c.Get(types.ContentCacheKey{ItemID: "a", AA: true})
	assert.False(t, ok, "AA flag is part of the key")
	assert.Equal(t, int64(2), c.Misses())
}

func TestCache_LRUEviction(t *testing.T) {
	// Each node is ~104 bytes (id 1 + type 4 + field key 4 + 95 payload);
	// a 300-byte budget holds two.
	c := newTestCache(t, 300, time.Minute, nil)

	c.Put(key("a", 0), node("a", 95))
	c.Put(key("b", 0), node("b", 95))

	// Touch "a" so "b" is the least recently used.
	_, ok := c.Get(key("a", 0))
	require.True(t, ok)

	c.Put(key("c", 0), node("c", 95))

	_, ok = c.Get(key("a", 0))
	assert.True(t, ok)
	_, ok = c.Get(key("b", 0))
	assert.False(t, ok, "LRU entry evicted")
	_, ok = c.Get(key("c", 0))
	assert.True(t, ok)
	assert.Equal(t, c.Evictions(), int64(1))
}

func TestCache_TTLExpiry(t *testing.T) {
	c := newTestCache(t, 1<<20, 10*time.Millisecond, nil)

	c.Put(key("a", 0), node("a", 10))
	_, ok := c.Get(key("a", 0))
	require.True(t, ok)

	time.Sleep(25 * time.Millisecond)

	_, ok = c.Get(key("a", 0))
	assert.False(t, ok)
	count, size, _ := c.Stats()
	assert.Equal(t, 0, count)
	assert.Equal(t, int64(0), size)
}

func TestCache_EvictItemOnlyTouchesThatItem(t *testing.T) {
	c := newTestCache(t, 1<<20, time.Minute, nil)

	// Multiple renditions of "a" under different contexts, plus "b".
	c.Put(key("a", 0), node("a", 10))
	c.Put(key("a", 301), node("a", 10))
	c.Put(types.ContentCacheKey{ItemID: "a", FilterID: "public"}, node("a", 10))
	c.Put(key("b", 0), node("b", 10))

	removed := c.EvictItem("a")
	assert.Equal(t, 3, removed)

	_, ok := c.Get(key("b", 0))
	assert.True(t, ok)
	_, ok = c.Get(key("a", 0))
	assert.False(t, ok)

	assert.Equal(t, 0, c.EvictItem("a"), "second eviction is a no-op")
}

func TestCache_ContentChangedEventEvicts(t *testing.T) {
	notifier := notify.NewNotifier()
	c := newTestCache(t, 1<<20, time.Minute, notifier)

	c.Put(key("a", 0), node("a", 10))
	c.Put(key("b", 0), node("b", 10))

	notifier.ContentChanged("a")

	_, ok := c.Get(key("a", 0))
	assert.False(t, ok)
	_, ok = c.Get(key("b", 0))
	assert.True(t, ok)
}

func TestCache_DesignObjectInvalidationClears(t *testing.T) {
	tests := []struct {
		guidType notify.GUIDType
		clears   bool
	}{
		{notify.GUIDTemplate, true},
		{notify.GUIDSlot, true},
		{notify.GUIDItemFilter, true},
		{notify.GUIDLocationScheme, true},
		{notify.GUIDLocationProperty, true},
		{notify.GUIDNodeDefinition, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.guidType), func(t *testing.T) {
			notifier := notify.NewNotifier()
			c := newTestCache(t, 1<<20, time.Minute, notifier)
			c.Put(key("a", 0), node("a", 10))

			notifier.ObjectInvalidated(tt.guidType, "g1")

			count, _, _ := c.Stats()
			if tt.clears {
				assert.Equal(t, 0, count)
			} else {
				assert.Equal(t, 1, count)
			}
		})
	}
}

func TestCache_PutReplacesExisting(t *testing.T) {
	c := newTestCache(t, 1<<20, time.Minute, nil)

	c.Put(key("a", 0), node("a", 10))
	bigger := node("a", 100)
	c.Put(key("a", 0), bigger)

	got, ok := c.Get(key("a", 0))
	require.True(t, ok)
	assert.Same(t, bigger, got)

	count, size, _ := c.Stats()
	assert.Equal(t, 1, count)
	assert.Equal(t, bigger.Size(), size)
}

func TestCache_OversizedNodeAdmitted(t *testing.T) {
	// Retention is a hint: a node larger than the whole budget is still
	// served to the current assembly.
	c := newTestCache(t, 50, time.Minute, nil)

	c.Put(key("a", 0), node("a", 500))
	_, ok := c.Get(key("a", 0))
	assert.True(t, ok)
}
