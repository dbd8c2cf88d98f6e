// Package eval implements the Go-native permission evaluator: user-
// membership expansion, resource-ancestor expansion, grant collection, and
// hierarchy fixed-point expansion, each as an explicit bounded loop over a
// frontier/visited set rather than a pushed-down recursive query.
package eval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/relgraph/relgraph/internal/graph"
	"github.com/relgraph/relgraph/internal/model"
	"github.com/relgraph/relgraph/internal/store"
)

// ErrHierarchyDepthExceeded is raised when fixed-point permission expansion
// fails to converge within the iteration cap. Per the specification this
// signals prior data corruption (the hierarchy DAG invariant was violated)
// and is treated as a fatal integrity error, not a denial.
var ErrHierarchyDepthExceeded = errors.New("relgraph: hierarchy fixed-point expansion exceeded iteration cap")

const (
	DefaultMaxGroupDepth         = 50
	DefaultMaxResourceDepth      = 50
	DefaultHierarchyIterationCap = 100
	DefaultPageLimit             = 100
	MaxPageLimit                 = 1000
	FilterAuthorizedCeiling      = 1000
)

// Evaluator answers check/list/explain queries over a TupleStore and
// HierarchyStore. It owns no persistent state of its own.
type Evaluator struct {
	tuples    store.TupleStore
	hierarchy store.HierarchyStore

	maxGroupDepth         int
	maxResourceDepth      int
	hierarchyIterationCap int
}

// Option configures an Evaluator.
type Option func(*Evaluator)

func WithMaxGroupDepth(d int) Option    { return func(e *Evaluator) { e.maxGroupDepth = d } }
func WithMaxResourceDepth(d int) Option { return func(e *Evaluator) { e.maxResourceDepth = d } }
func WithHierarchyIterationCap(n int) Option {
	return func(e *Evaluator) { e.hierarchyIterationCap = n }
}

// New constructs an Evaluator over the given stores with spec-default
// bounds, overridable via Option.
func New(tuples store.TupleStore, hierarchy store.HierarchyStore, opts ...Option) *Evaluator {
	e := &Evaluator{
		tuples:                tuples,
		hierarchy:             hierarchy,
		maxGroupDepth:         DefaultMaxGroupDepth,
		maxResourceDepth:      DefaultMaxResourceDepth,
		hierarchyIterationCap: DefaultHierarchyIterationCap,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// membership is one entry of the set M from spec §4.7 step 1: a group the
// subject belongs to (directly or transitively), tagged with the relation
// by which membership was established.
type membership struct {
	group    model.Object
	relation model.Relation
}

// expandMemberships performs step 1: climb outward from the subject's
// direct relations along (outer_group, member, group) edges.
func (e *Evaluator) expandMemberships(ctx context.Context, namespace string, subject model.Object, now time.Time) (map[model.Object]model.Relation, map[model.Object]model.Object, error) {
	result := make(map[model.Object]model.Relation)
	parent := make(map[model.Object]model.Object)

	direct, err := e.tuples.List(ctx, namespace, store.TupleFilter{
		SubjectType: subject.Type,
		SubjectID:   subject.ID,
	}, now)
	if err != nil {
		return nil, nil, err
	}

	var frontier []model.Object
	for _, t := range direct {
		g := t.Resource()
		if g.Type == subject.Type && g == subject {
			continue
		}
		if _, seen := result[g]; !seen {
			result[g] = t.Relation
			frontier = append(frontier, g)
		}
	}

	for depth := 0; len(frontier) > 0; depth++ {
		var next []model.Object
		for _, g := range frontier {
			outer, err := e.tuples.List(ctx, namespace, store.TupleFilter{
				Relation:    model.RelationMember,
				SubjectType: g.Type,
				SubjectID:   g.ID,
			}, now)
			if err != nil {
				return result, parent, err
			}
			for _, t := range outer {
				og := t.Resource()
				if _, seen := result[og]; !seen {
					if depth >= e.maxGroupDepth {
						return result, parent, &graph.ErrDepthExceeded{MaxDepth: e.maxGroupDepth}
					}
					result[og] = model.RelationMember
					parent[og] = g
					next = append(next, og)
				}
			}
		}
		frontier = next
	}

	return result, parent, nil
}

// expandAncestors performs step 2: climb from the resource via (self,
// parent, parent_resource) edges, returning discovery order (resource
// first) and a parent pointer for chain reconstruction.
func (e *Evaluator) expandAncestors(ctx context.Context, namespace string, resource model.Object, now time.Time) ([]model.Object, map[model.Object]model.Object, error) {
	order := []model.Object{resource}
	visited := map[model.Object]bool{resource: true}
	parent := make(map[model.Object]model.Object)
	frontier := []model.Object{resource}

	for depth := 0; len(frontier) > 0; depth++ {
		if depth > e.maxResourceDepth {
			return order, parent, &graph.ErrDepthExceeded{MaxDepth: e.maxResourceDepth}
		}
		var next []model.Object
		for _, r := range frontier {
			parents, err := e.tuples.List(ctx, namespace, store.TupleFilter{
				ResourceType: r.Type,
				ResourceID:   r.ID,
				Relation:     model.RelationParent,
			}, now)
			if err != nil {
				return order, parent, err
			}
			for _, t := range parents {
				p := t.Subject()
				if !visited[p] {
					visited[p] = true
					parent[p] = r
					order = append(order, p)
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return order, parent, nil
}

// collectGrants performs step 3: gather the permissions the subject holds
// directly on any ancestor, directly or via a group membership whose
// subject_relation matches (userset semantics: "" matches any).
func (e *Evaluator) collectGrants(ctx context.Context, namespace string, subject model.Object, ancestors []model.Object, memberships map[model.Object]model.Relation, now time.Time) (map[model.Relation]bool, error) {
	grants := make(map[model.Relation]bool)

	for _, a := range ancestors {
		rows, err := e.tuples.List(ctx, namespace, store.TupleFilter{
			ResourceType: a.Type,
			ResourceID:   a.ID,
		}, now)
		if err != nil {
			return nil, err
		}
		for _, t := range rows {
			if t.Relation == model.RelationParent {
				continue // parent edges aren't permissions
			}
			if t.SubjectType == subject.Type && t.SubjectID == subject.ID {
				grants[t.Relation] = true
				continue
			}
			groupObj := t.Subject()
			membershipRel, inGroup := memberships[groupObj]
			if !inGroup {
				continue
			}
			if t.SubjectRelation == "" || t.SubjectRelation == membershipRel {
				grants[t.Relation] = true
			}
		}
	}
	return grants, nil
}

// expandHierarchy performs step 4: the fixed-point closure of permissions
// implied by the grant set, bounded by hierarchyIterationCap.
func (e *Evaluator) expandHierarchy(ctx context.Context, namespace string, resourceType model.ObjectType, grants map[model.Relation]bool) (map[model.Relation]bool, error) {
	rules, err := e.hierarchy.ListRules(ctx, namespace, resourceType)
	if err != nil {
		return nil, err
	}
	adjacency := make(map[model.Relation][]model.Relation)
	for _, r := range rules {
		adjacency[r.Permission] = append(adjacency[r.Permission], r.Implies)
	}

	closure, err := graph.FixedPoint(grants, e.hierarchyIterationCap, func(current map[model.Relation]bool) ([]model.Relation, error) {
		var additions []model.Relation
		for p := range current {
			for _, implied := range adjacency[p] {
				if !current[implied] {
					additions = append(additions, implied)
				}
			}
		}
		return additions, nil
	})
	if err != nil {
		var depthErr *graph.ErrDepthExceeded
		if errors.As(err, &depthErr) {
			return closure, fmt.Errorf("%w: %v", ErrHierarchyDepthExceeded, err)
		}
		return closure, err
	}
	return closure, nil
}

// permissionsFor runs the full algorithm (steps 1-4) and returns the
// subject's effective permission set on the given resource.
func (e *Evaluator) permissionsFor(ctx context.Context, namespace string, subjectID string, resourceType model.ObjectType, resourceID string, now time.Time) (map[model.Relation]bool, error) {
	subject := model.Object{Type: "user", ID: subjectID}
	resource := model.Object{Type: resourceType, ID: resourceID}

	memberships, _, err := e.expandMemberships(ctx, namespace, subject, now)
	if err != nil {
		var depthErr *graph.ErrDepthExceeded
		if !errors.As(err, &depthErr) {
			return nil, err
		}
		// Depth exceeded during expansion: treat as "access not present"
		// for the portion beyond the bound, per the boundary behavior
		// "depth 51 returns false", not a fatal error.
	}

	ancestors, _, err := e.expandAncestors(ctx, namespace, resource, now)
	if err != nil {
		var depthErr *graph.ErrDepthExceeded
		if !errors.As(err, &depthErr) {
			return nil, err
		}
	}

	grants, err := e.collectGrants(ctx, namespace, subject, ancestors, memberships, now)
	if err != nil {
		return nil, err
	}

	return e.expandHierarchy(ctx, namespace, resourceType, grants)
}

// Check answers whether subjectID holds permission on the resource.
func (e *Evaluator) Check(ctx context.Context, namespace, subjectID string, permission model.Relation, resourceType model.ObjectType, resourceID string, now time.Time) (bool, error) {
	perms, err := e.permissionsFor(ctx, namespace, subjectID, resourceType, resourceID, now)
	if err != nil {
		return false, err
	}
	return perms[permission], nil
}

// CheckAny returns whether the subject holds at least one of permissions.
func (e *Evaluator) CheckAny(ctx context.Context, namespace, subjectID string, permissions []model.Relation, resourceType model.ObjectType, resourceID string, now time.Time) (bool, error) {
	perms, err := e.permissionsFor(ctx, namespace, subjectID, resourceType, resourceID, now)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if perms[p] {
			return true, nil
		}
	}
	return false, nil
}

// CheckAll returns whether the subject holds every permission requested.
// An empty request set is vacuously true.
func (e *Evaluator) CheckAll(ctx context.Context, namespace, subjectID string, permissions []model.Relation, resourceType model.ObjectType, resourceID string, now time.Time) (bool, error) {
	if len(permissions) == 0 {
		return true, nil
	}
	perms, err := e.permissionsFor(ctx, namespace, subjectID, resourceType, resourceID, now)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if !perms[p] {
			return false, nil
		}
	}
	return true, nil
}

// Page is a cursor-paginated result set of resource or subject ids.
type Page struct {
	IDs        []string
	NextCursor string
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// ListResources returns the resources of resourceType on which subjectID
// holds permission (directly, via group, or via hierarchy implication),
// ordered lexicographically by id and paginated by cursor.
func (e *Evaluator) ListResources(ctx context.Context, namespace, subjectID string, resourceType model.ObjectType, permission model.Relation, limit int, cursor string, now time.Time) (Page, error) {
	limit = clampLimit(limit)
	subject := model.Object{Type: "user", ID: subjectID}

	memberships, _, err := e.expandMemberships(ctx, namespace, subject, now)
	if err != nil {
		var depthErr *graph.ErrDepthExceeded
		if !errors.As(err, &depthErr) {
			return Page{}, err
		}
	}

	reachSet, err := e.reachingPermissions(ctx, namespace, resourceType, permission)
	if err != nil {
		return Page{}, err
	}

	granted := make(map[model.Object]bool)
	for cand := range reachSet {
		rows, err := e.tuples.List(ctx, namespace, store.TupleFilter{Relation: cand}, now)
		if err != nil {
			return Page{}, err
		}
		for _, t := range rows {
			if t.SubjectType == subject.Type && t.SubjectID == subject.ID {
				granted[t.Resource()] = true
				continue
			}
			membershipRel, inGroup := memberships[t.Subject()]
			if inGroup && (t.SubjectRelation == "" || t.SubjectRelation == membershipRel) {
				granted[t.Resource()] = true
			}
		}
	}

	// Include descendant resources of granted resources whose type matches.
	final := make(map[string]bool)
	for obj := range granted {
		if obj.Type == resourceType {
			final[obj.ID] = true
		}
	}
	for obj := range granted {
		descendants, err := e.descendantsOfType(ctx, namespace, obj, resourceType, now)
		if err != nil {
			return Page{}, err
		}
		for _, id := range descendants {
			final[id] = true
		}
	}

	ids := make([]string, 0, len(final))
	for id := range final {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return paginate(ids, cursor, limit), nil
}

// descendantsOfType finds resources of the target type reachable by
// walking the resource-parent graph backward (children of obj).
func (e *Evaluator) descendantsOfType(ctx context.Context, namespace string, obj model.Object, targetType model.ObjectType, now time.Time) ([]string, error) {
	var out []string
	frontier := []model.Object{obj}
	visited := map[model.Object]bool{obj: true}

	for depth := 0; len(frontier) > 0 && depth <= e.maxResourceDepth; depth++ {
		var next []model.Object
		for _, n := range frontier {
			children, err := e.tuples.List(ctx, namespace, store.TupleFilter{
				Relation:    model.RelationParent,
				SubjectType: n.Type,
				SubjectID:   n.ID,
			}, now)
			if err != nil {
				return nil, err
			}
			for _, t := range children {
				c := t.Resource()
				if visited[c] {
					continue
				}
				visited[c] = true
				if c.Type == targetType {
					out = append(out, c.ID)
				}
				next = append(next, c)
			}
		}
		frontier = next
	}
	return out, nil
}

// reachingPermissions returns the set of permissions that transitively
// imply target (including target itself): the reverse-direction closure
// of the hierarchy graph.
func (e *Evaluator) reachingPermissions(ctx context.Context, namespace string, resourceType model.ObjectType, target model.Relation) (map[model.Relation]bool, error) {
	rules, err := e.hierarchy.ListRules(ctx, namespace, resourceType)
	if err != nil {
		return nil, err
	}
	reverse := make(map[model.Relation][]model.Relation)
	for _, r := range rules {
		reverse[r.Implies] = append(reverse[r.Implies], r.Permission)
	}
	cursor := graph.CursorFunc[model.Relation](func(n model.Relation) ([]model.Relation, error) {
		return reverse[n], nil
	})
	return graph.BFS(cursor, target, e.hierarchyIterationCap)
}

// ListUsers returns subjects holding permission on the resource, expanding
// resource ancestors and group subjects downward to users.
func (e *Evaluator) ListUsers(ctx context.Context, namespace string, resourceType model.ObjectType, resourceID string, permission model.Relation, limit int, cursor string, now time.Time) (Page, error) {
	limit = clampLimit(limit)
	resource := model.Object{Type: resourceType, ID: resourceID}

	ancestors, _, err := e.expandAncestors(ctx, namespace, resource, now)
	if err != nil {
		var depthErr *graph.ErrDepthExceeded
		if !errors.As(err, &depthErr) {
			return Page{}, err
		}
	}

	reachSet, err := e.reachingPermissions(ctx, namespace, resourceType, permission)
	if err != nil {
		return Page{}, err
	}

	users := make(map[string]bool)
	for _, a := range ancestors {
		rows, err := e.tuples.List(ctx, namespace, store.TupleFilter{ResourceType: a.Type, ResourceID: a.ID}, now)
		if err != nil {
			return Page{}, err
		}
		for _, t := range rows {
			if !reachSet[t.Relation] {
				continue
			}
			if t.SubjectType == "user" {
				users[t.SubjectID] = true
				continue
			}
			descendantUsers, err := e.expandGroupToUsers(ctx, namespace, t.Subject(), t.SubjectRelation, now)
			if err != nil {
				return Page{}, err
			}
			for _, u := range descendantUsers {
				users[u] = true
			}
		}
	}

	ids := make([]string, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return paginate(ids, cursor, limit), nil
}

// expandGroupToUsers recursively descends member edges from a group down
// to concrete users, respecting the userset relation filter on the way in.
func (e *Evaluator) expandGroupToUsers(ctx context.Context, namespace string, group model.Object, requiredRelation model.Relation, now time.Time) ([]string, error) {
	var users []string
	frontier := []model.Object{group}
	visited := map[model.Object]bool{group: true}

	for depth := 0; len(frontier) > 0 && depth <= e.maxGroupDepth; depth++ {
		var next []model.Object
		for _, g := range frontier {
			members, err := e.tuples.List(ctx, namespace, store.TupleFilter{
				ResourceType: g.Type,
				ResourceID:   g.ID,
				Relation:     model.RelationMember,
			}, now)
			if err != nil {
				return nil, err
			}
			for _, t := range members {
				if requiredRelation != "" && t.SubjectRelation != "" && t.SubjectRelation != requiredRelation {
					continue
				}
				if t.SubjectType == "user" {
					users = append(users, t.SubjectID)
					continue
				}
				sub := t.Subject()
				if !visited[sub] {
					visited[sub] = true
					next = append(next, sub)
				}
			}
		}
		frontier = next
	}
	return users, nil
}

func paginate(ids []string, cursor string, limit int) Page {
	start := 0
	if cursor != "" {
		for i, id := range ids {
			if id > cursor {
				start = i
				break
			}
			start = i + 1
		}
	}
	if start >= len(ids) {
		return Page{}
	}
	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}
	page := Page{IDs: ids[start:end]}
	if end < len(ids) {
		page.NextCursor = ids[end-1]
	}
	return page
}

// FilterAuthorized returns the subset of ids for which Check would return
// true. The complexity ceiling noted by the specification (~1000
// candidates) is not enforced here, only documented: callers that exceed it
// should page their own candidate set.
func (e *Evaluator) FilterAuthorized(ctx context.Context, namespace, subjectID string, resourceType model.ObjectType, permission model.Relation, ids []string, now time.Time) ([]string, error) {
	var out []string
	for _, id := range ids {
		ok, err := e.Check(ctx, namespace, subjectID, permission, resourceType, id, now)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, id)
		}
	}
	return out, nil
}
