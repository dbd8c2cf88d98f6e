// Package graph implements the explicit, iterative frontier/visited-set
// traversal the specification calls for in place of recursive-CTE-style
// expansion: group-membership expansion, resource-ancestor expansion, and
// hierarchy fixed-point expansion all walk a small Cursor interface with a
// hard depth bound, never recursing.
package graph

import "fmt"

// Node is any comparable graph vertex; callers key it however suits the
// traversal (a model.Object, a model.Relation, a composite string).
type Node comparable

// Cursor yields the neighbors of a node one step along a single edge
// direction. Implementations wrap a tuple or hierarchy-rule lookup; they
// must skip expired edges themselves, since expiry is a storage-layer
// concern the graph package knows nothing about.
type Cursor[N Node] interface {
	Neighbors(n N) ([]N, error)
}

// CursorFunc adapts a plain function to a Cursor.
type CursorFunc[N Node] func(n N) ([]N, error)

func (f CursorFunc[N]) Neighbors(n N) ([]N, error) { return f(n) }

// ErrDepthExceeded is returned by BFS when the traversal would need to go
// deeper than maxDepth to exhaust the frontier. Reaching it means the
// request is treated as "access not present" for evaluator traversals, or
// as a fatal integrity error for the bounded fixed-point expansion — callers
// decide which by how they handle the error.
type ErrDepthExceeded struct {
	MaxDepth int
}

func (e *ErrDepthExceeded) Error() string {
	return fmt.Sprintf("graph: traversal exceeded max depth %d", e.MaxDepth)
}

// BFS explores outward from start along cursor's edges, visiting each node
// at most once, and returns every node reached within maxDepth steps
// (start itself is depth 0 and is always included). It never returns
// ErrDepthExceeded for a result that's merely large — only when the
// frontier is still non-empty after maxDepth expansions, meaning some
// reachable node was never explored.
func BFS[N Node](cursor Cursor[N], start N, maxDepth int) (map[N]bool, error) {
	visited := map[N]bool{start: true}
	frontier := []N{start}

	for depth := 0; len(frontier) > 0; depth++ {
		if depth > maxDepth {
			return visited, &ErrDepthExceeded{MaxDepth: maxDepth}
		}
		var next []N
		for _, n := range frontier {
			neighbors, err := cursor.Neighbors(n)
			if err != nil {
				return visited, err
			}
			for _, m := range neighbors {
				if !visited[m] {
					visited[m] = true
					next = append(next, m)
				}
			}
		}
		frontier = next
	}
	return visited, nil
}

// Reaches runs a bounded BFS from start and reports whether target is
// reachable within maxDepth steps. Used by the cycle detector: "does
// walking from the proposed edge's far endpoint reach back to the near
// endpoint" is exactly a reachability query.
func Reaches[N Node](cursor Cursor[N], start, target N, maxDepth int) (bool, error) {
	if start == target {
		return true, nil
	}
	visited := map[N]bool{start: true}
	frontier := []N{start}

	for depth := 0; len(frontier) > 0 && depth <= maxDepth; depth++ {
		var next []N
		for _, n := range frontier {
			neighbors, err := cursor.Neighbors(n)
			if err != nil {
				return false, err
			}
			for _, m := range neighbors {
				if m == target {
					return true, nil
				}
				if !visited[m] {
					visited[m] = true
					next = append(next, m)
				}
			}
		}
		frontier = next
	}
	return false, nil
}

// FixedPoint iterates step over a growing set until it stops growing,
// bounded by maxIterations. step receives the current set and returns the
// additional elements implied by it (callers typically filter out elements
// already present before returning). Returns ErrDepthExceeded, treated by
// callers as a fatal integrity error, if the set is still growing at the
// bound — it means the DAG invariant the caller depends on for termination
// was violated.
func FixedPoint[N Node](start map[N]bool, maxIterations int, step func(current map[N]bool) ([]N, error)) (map[N]bool, error) {
	current := make(map[N]bool, len(start))
	for k := range start {
		current[k] = true
	}

	for i := 0; i < maxIterations; i++ {
		additions, err := step(current)
		if err != nil {
			return current, err
		}
		grew := false
		for _, n := range additions {
			if !current[n] {
				current[n] = true
				grew = true
			}
		}
		if !grew {
			return current, nil
		}
	}
	return current, &ErrDepthExceeded{MaxDepth: maxIterations}
}
