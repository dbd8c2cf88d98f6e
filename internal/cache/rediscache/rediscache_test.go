package rediscache_test

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/relgraph/relgraph/internal/cache/rediscache"
	"github.com/relgraph/relgraph/internal/model"
)

func newTestCache(t *testing.T) (*rediscache.Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rediscache.New(rdb, rediscache.WithTTL(time.Minute)), mr
}

func TestCache_GetMissThenSet(t *testing.T) {
	c, _ := newTestCache(t)
	obj := model.Object{Type: "repo", ID: "api"}

	_, _, ok := c.Get("acme", "alice", "read", obj)
	require.False(t, ok)

	c.Set("acme", "alice", "read", obj, true, nil)
	allowed, err, ok := c.Get("acme", "alice", "read", obj)
	require.True(t, ok)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestCache_InvalidateNamespace(t *testing.T) {
	c, _ := newTestCache(t)
	obj := model.Object{Type: "repo", ID: "api"}

	c.Set("acme", "alice", "read", obj, true, nil)
	_, _, ok := c.Get("acme", "alice", "read", obj)
	require.True(t, ok)

	c.InvalidateNamespace("acme")

	_, _, ok = c.Get("acme", "alice", "read", obj)
	require.False(t, ok, "entries written under the prior generation must become unreachable")
}

func TestCache_NamespacesAreIndependent(t *testing.T) {
	c, _ := newTestCache(t)
	obj := model.Object{Type: "repo", ID: "api"}

	c.Set("acme", "alice", "read", obj, true, nil)
	c.Set("globex", "alice", "read", obj, true, nil)

	c.InvalidateNamespace("acme")

	_, _, ok := c.Get("acme", "alice", "read", obj)
	require.False(t, ok)
	_, _, ok = c.Get("globex", "alice", "read", obj)
	require.True(t, ok)
}

func TestCache_TTLExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	obj := model.Object{Type: "repo", ID: "api"}

	c.Set("acme", "alice", "read", obj, true, nil)
	mr.FastForward(2 * time.Minute)

	_, _, ok := c.Get("acme", "alice", "read", obj)
	require.False(t, ok)
}
