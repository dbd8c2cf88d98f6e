package relgraph_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relgraph/relgraph"
)

func TestMemoryCache_SetThenGetHits(t *testing.T) {
	c := relgraph.NewCache()
	obj := relgraph.Object{Type: "doc", ID: "readme"}

	c.Set("acme", "alice", "viewer", obj, true, nil)

	allowed, err, ok := c.Get("acme", "alice", "viewer", obj)
	require.True(t, ok)
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestMemoryCache_GetMissReturnsFalse(t *testing.T) {
	c := relgraph.NewCache()
	_, _, ok := c.Get("acme", "alice", "viewer", relgraph.Object{Type: "doc", ID: "readme"})
	assert.False(t, ok)
}

func TestMemoryCache_CachesErrorsToo(t *testing.T) {
	c := relgraph.NewCache()
	obj := relgraph.Object{Type: "doc", ID: "readme"}
	boom := errors.New("boom")

	c.Set("acme", "alice", "viewer", obj, false, boom)

	allowed, err, ok := c.Get("acme", "alice", "viewer", obj)
	require.True(t, ok)
	assert.False(t, allowed)
	assert.Equal(t, boom, err)
}

func TestMemoryCache_DistinctKeysDoNotCollide(t *testing.T) {
	c := relgraph.NewCache()
	obj := relgraph.Object{Type: "doc", ID: "readme"}

	c.Set("acme", "alice", "viewer", obj, true, nil)
	c.Set("acme", "bob", "viewer", obj, false, nil)
	c.Set("acme", "alice", "editor", obj, false, nil)
	c.Set("globex", "alice", "viewer", obj, false, nil)

	allowed, _, ok := c.Get("acme", "alice", "viewer", obj)
	require.True(t, ok)
	assert.True(t, allowed)

	allowed, _, ok = c.Get("acme", "bob", "viewer", obj)
	require.True(t, ok)
	assert.False(t, allowed)

	allowed, _, ok = c.Get("acme", "alice", "editor", obj)
	require.True(t, ok)
	assert.False(t, allowed)

	allowed, _, ok = c.Get("globex", "alice", "viewer", obj)
	require.True(t, ok)
	assert.False(t, allowed)

	assert.Equal(t, 4, c.Size())
}

func TestMemoryCache_InvalidateNamespaceOnlyDropsThatNamespace(t *testing.T) {
	c := relgraph.NewCache()
	obj := relgraph.Object{Type: "doc", ID: "readme"}

	c.Set("acme", "alice", "viewer", obj, true, nil)
	c.Set("globex", "alice", "viewer", obj, true, nil)

	c.InvalidateNamespace("acme")

	_, _, ok := c.Get("acme", "alice", "viewer", obj)
	assert.False(t, ok)

	_, _, ok = c.Get("globex", "alice", "viewer", obj)
	assert.True(t, ok)
}

func TestMemoryCache_TTLExpiresEntries(t *testing.T) {
	c := relgraph.NewCache(relgraph.WithTTL(time.Millisecond))
	obj := relgraph.Object{Type: "doc", ID: "readme"}

	c.Set("acme", "alice", "viewer", obj, true, nil)
	time.Sleep(5 * time.Millisecond)

	_, _, ok := c.Get("acme", "alice", "viewer", obj)
	assert.False(t, ok, "entry should have expired under the configured TTL")
	assert.Equal(t, 0, c.Size(), "Get should evict the expired entry")
}

func TestMemoryCache_ClearRemovesEverything(t *testing.T) {
	c := relgraph.NewCache()
	obj := relgraph.Object{Type: "doc", ID: "readme"}
	c.Set("acme", "alice", "viewer", obj, true, nil)
	c.Set("globex", "bob", "viewer", obj, true, nil)

	c.Clear()

	assert.Equal(t, 0, c.Size())
}
