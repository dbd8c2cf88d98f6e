// Package cycledetect implements the two DAG invariants the write path must
// maintain: the group-membership graph and the resource-parent graph must
// stay acyclic, and so must the per-(namespace, resource_type) hierarchy
// implication graph. Each check runs a bounded BFS from the edge's far
// endpoint back toward its near endpoint; reaching the near endpoint means
// the proposed edge would close a cycle.
package cycledetect

import (
	"context"
	"errors"
	"time"

	"github.com/relgraph/relgraph/internal/graph"
	"github.com/relgraph/relgraph/internal/model"
	"github.com/relgraph/relgraph/internal/store"
)

// ErrWouldCreateCycle is returned when committing the proposed edge would
// close a cycle in the group, resource-parent, or hierarchy graph.
var ErrWouldCreateCycle = errors.New("relgraph: would create a circular membership or hierarchy")

// MaxDepth is the traversal bound shared by cycle detection and the
// evaluator, per the specification's resource limits.
const MaxDepth = 50

// CheckGroupEdge rejects an edge (parentGroup, member, childGroup) that
// would create a cycle. Direction of the reachability walk is "who
// contains parentGroup, transitively" — if that set includes childGroup,
// childGroup already contains parentGroup and the new edge closes a loop.
func CheckGroupEdge(ctx context.Context, tuples store.TupleStore, namespace string, parentGroup, childGroup model.Object, now time.Time) error {
	if parentGroup == childGroup {
		return ErrWouldCreateCycle
	}
	cursor := graph.CursorFunc[model.Object](func(n model.Object) ([]model.Object, error) {
		// Who contains n? i.e. tuples (outerGroup, member, n).
		rows, err := tuples.List(ctx, namespace, store.TupleFilter{
			Relation:    model.RelationMember,
			SubjectType: n.Type,
			SubjectID:   n.ID,
		}, now)
		if err != nil {
			return nil, err
		}
		out := make([]model.Object, 0, len(rows))
		for _, t := range rows {
			out = append(out, t.Resource())
		}
		return out, nil
	})

	reached, err := graph.Reaches(cursor, parentGroup, childGroup, MaxDepth)
	if err != nil {
		return err
	}
	if reached {
		return ErrWouldCreateCycle
	}
	return nil
}

// CheckResourceEdge rejects an edge (child, parent, proposedParent) that
// would create a cycle: walks upward from proposedParent's ancestors and
// rejects if child is reached.
func CheckResourceEdge(ctx context.Context, tuples store.TupleStore, namespace string, child, proposedParent model.Object, now time.Time) error {
	if child == proposedParent {
		return ErrWouldCreateCycle
	}
	cursor := graph.CursorFunc[model.Object](func(n model.Object) ([]model.Object, error) {
		rows, err := tuples.List(ctx, namespace, store.TupleFilter{
			ResourceType: n.Type,
			ResourceID:   n.ID,
			Relation:     model.RelationParent,
		}, now)
		if err != nil {
			return nil, err
		}
		out := make([]model.Object, 0, len(rows))
		for _, t := range rows {
			out = append(out, t.Subject())
		}
		return out, nil
	})

	reached, err := graph.Reaches(cursor, proposedParent, child, MaxDepth)
	if err != nil {
		return err
	}
	if reached {
		return ErrWouldCreateCycle
	}
	return nil
}

// CheckHierarchyEdge rejects a rule (permission -> implies) that would
// create a cycle in the (namespace, resourceType) implication graph: walks
// from implies and rejects if permission is reached.
func CheckHierarchyEdge(ctx context.Context, hierarchy store.HierarchyStore, namespace string, resourceType model.ObjectType, permission, implies model.Relation) error {
	if permission == implies {
		return ErrWouldCreateCycle
	}
	rules, err := hierarchy.ListRules(ctx, namespace, resourceType)
	if err != nil {
		return err
	}
	adjacency := make(map[model.Relation][]model.Relation)
	for _, r := range rules {
		adjacency[r.Permission] = append(adjacency[r.Permission], r.Implies)
	}
	cursor := graph.CursorFunc[model.Relation](func(n model.Relation) ([]model.Relation, error) {
		return adjacency[n], nil
	})

	reached, err := graph.Reaches(cursor, implies, permission, MaxDepth)
	if err != nil {
		return err
	}
	if reached {
		return ErrWouldCreateCycle
	}
	return nil
}

// Cycle describes one detected cycle for the diagnostic verify_integrity
// scan: the repeated node and the path that reached it.
type Cycle struct {
	Kind string // "group_cycles" or "resource_cycles"
	Path []string
}

// ScanGroupCycles enumerates group-membership cycles by walking from every
// group node up to MaxDepth and reporting paths whose last node repeats an
// earlier one.
func ScanGroupCycles(ctx context.Context, tuples store.TupleStore, namespace string, now time.Time) ([]Cycle, error) {
	rows, err := tuples.List(ctx, namespace, store.TupleFilter{Relation: model.RelationMember}, now)
	if err != nil {
		return nil, err
	}
	adjacency := make(map[model.Object][]model.Object)
	nodes := make(map[model.Object]bool)
	for _, t := range rows {
		adjacency[t.Resource()] = append(adjacency[t.Resource()], t.Subject())
		nodes[t.Resource()] = true
		nodes[t.Subject()] = true
	}
	return scanCycles("group_cycles", adjacency, nodes)
}

// ScanResourceCycles is the analogous diagnostic scan for the
// resource-parent graph.
func ScanResourceCycles(ctx context.Context, tuples store.TupleStore, namespace string, now time.Time) ([]Cycle, error) {
	rows, err := tuples.List(ctx, namespace, store.TupleFilter{Relation: model.RelationParent}, now)
	if err != nil {
		return nil, err
	}
	adjacency := make(map[model.Object][]model.Object)
	nodes := make(map[model.Object]bool)
	for _, t := range rows {
		adjacency[t.Resource()] = append(adjacency[t.Resource()], t.Subject())
		nodes[t.Resource()] = true
		nodes[t.Subject()] = true
	}
	return scanCycles("resource_cycles", adjacency, nodes)
}

func scanCycles(kind string, adjacency map[model.Object][]model.Object, nodes map[model.Object]bool) ([]Cycle, error) {
	var cycles []Cycle
	for start := range nodes {
		path := []model.Object{start}
		onPath := map[model.Object]bool{start: true}
		var walk func(n model.Object, depth int) bool
		walk = func(n model.Object, depth int) bool {
			if depth > MaxDepth {
				return false
			}
			for _, next := range adjacency[n] {
				if onPath[next] {
					path = append(path, next)
					return true
				}
				path = append(path, next)
				onPath[next] = true
				if walk(next, depth+1) {
					return true
				}
				path = path[:len(path)-1]
				delete(onPath, next)
			}
			return false
		}
		if walk(start, 0) {
			strs := make([]string, len(path))
			for i, n := range path {
				strs[i] = n.String()
			}
			cycles = append(cycles, Cycle{Kind: kind, Path: strs})
		}
	}
	return cycles, nil
}
