package graph_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relgraph/relgraph/internal/graph"
)

func chainGraph(edges map[string][]string) graph.CursorFunc[string] {
	return func(n string) ([]string, error) {
		return edges[n], nil
	}
}

func TestBFS_VisitsReachableNodesOnce(t *testing.T) {
	edges := map[string][]string{
		"a": {"b", "c"},
		"b": {"d"},
		"c": {"d"},
		"d": {},
	}
	visited, err := graph.BFS[string](chainGraph(edges), "a", 10)
	require.NoError(t, err)
	assert.True(t, visited["d"])
	assert.Len(t, visited, 4)
}

func TestBFS_DepthExceeded(t *testing.T) {
	edges := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {"d"},
		"d": {},
	}
	_, err := graph.BFS[string](chainGraph(edges), "a", 2)
	require.Error(t, err)
	var depthErr *graph.ErrDepthExceeded
	require.True(t, errors.As(err, &depthErr))
	assert.Equal(t, 2, depthErr.MaxDepth)
}

func TestBFS_WithinDepthSucceeds(t *testing.T) {
	edges := map[string][]string{
		"a": {"b"},
		"b": {"c"},
		"c": {},
	}
	visited, err := graph.BFS[string](chainGraph(edges), "a", 3)
	require.NoError(t, err)
	assert.Len(t, visited, 3)
}

func TestBFS_PropagatesNeighborError(t *testing.T) {
	boom := errors.New("boom")
	cursor := graph.CursorFunc[string](func(n string) ([]string, error) {
		if n == "a" {
			return []string{"b"}, nil
		}
		return nil, boom
	})
	_, err := graph.BFS[string](cursor, "a", 10)
	require.ErrorIs(t, err, boom)
}

func TestReaches_FindsTarget(t *testing.T) {
	edges := map[string][]string{
		"alice":     {"group:eng"},
		"group:eng": {"group:org"},
		"group:org": {},
	}
	ok, err := graph.Reaches[string](chainGraph(edges), "alice", "group:org", 10)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReaches_TargetUnreachable(t *testing.T) {
	edges := map[string][]string{
		"alice":       {"group:eng"},
		"group:eng":   {},
		"group:other": {},
	}
	ok, err := graph.Reaches[string](chainGraph(edges), "alice", "group:other", 10)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReaches_StartIsTarget(t *testing.T) {
	ok, err := graph.Reaches[string](chainGraph(nil), "alice", "alice", 10)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFixedPoint_ConvergesOverIterations(t *testing.T) {
	implications := map[string][]string{
		"viewer": {"reader"},
		"reader": {"base"},
		"base":   {},
	}
	step := func(current map[string]bool) ([]string, error) {
		var additions []string
		for n := range current {
			for _, m := range implications[n] {
				if !current[m] {
					additions = append(additions, m)
				}
			}
		}
		return additions, nil
	}
	result, err := graph.FixedPoint[string](map[string]bool{"viewer": true}, 100, step)
	require.NoError(t, err)
	assert.True(t, result["viewer"])
	assert.True(t, result["reader"])
	assert.True(t, result["base"])
	assert.Len(t, result, 3)
}

func TestFixedPoint_NoGrowthReturnsImmediately(t *testing.T) {
	calls := 0
	step := func(current map[string]bool) ([]string, error) {
		calls++
		return nil, nil
	}
	result, err := graph.FixedPoint[string](map[string]bool{"a": true}, 100, step)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Len(t, result, 1)
}

func TestFixedPoint_IterationCapExceeded(t *testing.T) {
	chain := map[string][]string{
		"a": {"b"}, "b": {"c"}, "c": {"d"}, "d": {"e"}, "e": {},
	}
	step := func(current map[string]bool) ([]string, error) {
		var additions []string
		for n := range current {
			for _, m := range chain[n] {
				if !current[m] {
					additions = append(additions, m)
				}
			}
		}
		return additions, nil
	}
	_, err := graph.FixedPoint[string](map[string]bool{"a": true}, 2, step)
	require.Error(t, err)
	var depthErr *graph.ErrDepthExceeded
	require.True(t, errors.As(err, &depthErr))
	assert.Equal(t, 2, depthErr.MaxDepth)
}

func TestFixedPoint_PropagatesStepError(t *testing.T) {
	boom := errors.New("boom")
	step := func(current map[string]bool) ([]string, error) {
		return nil, boom
	}
	_, err := graph.FixedPoint[string](map[string]bool{"a": true}, 10, step)
	require.ErrorIs(t, err, boom)
}
