package eval

import (
	"context"
	"fmt"
	"time"

	"github.com/relgraph/relgraph/internal/model"
	"github.com/relgraph/relgraph/internal/store"
)

// PathKind tags how an explain path justifies access.
type PathKind string

const (
	PathDirect    PathKind = "direct"
	PathGroup     PathKind = "group"
	PathHierarchy PathKind = "hierarchy"
	PathResource  PathKind = "resource"
)

// ExplainPath is one justification for a check returning true.
type ExplainPath struct {
	Kind            PathKind
	ViaRelation     model.Relation
	ViaSubjectType  model.ObjectType
	ViaSubjectID    string
	ViaMembership   model.Relation
	PathChain       []string
}

// groupChain reconstructs the membership path from the subject's direct
// group up to target, using the parent pointers recorded by
// expandMemberships.
func groupChain(target model.Object, parent map[model.Object]model.Object) []string {
	var chain []model.Object
	for n := target; ; {
		chain = append([]model.Object{n}, chain...)
		p, ok := parent[n]
		if !ok {
			break
		}
		n = p
	}
	out := make([]string, len(chain))
	for i, o := range chain {
		out[i] = o.String()
	}
	return out
}

// resourceChain reconstructs the ancestor path from resource down to
// target, using the parent pointers recorded by expandAncestors.
func resourceChain(target model.Object, parent map[model.Object]model.Object) []string {
	var chain []model.Object
	for n := target; ; {
		chain = append([]model.Object{n}, chain...)
		p, ok := parent[n]
		if !ok {
			break
		}
		n = p
	}
	out := make([]string, len(chain))
	for i, o := range chain {
		out[i] = o.String()
	}
	return out
}

// hierarchyChain reconstructs the implication chain from heldPermission down
// to requested, via the reverse-adjacency BFS parent map.
func hierarchyChain(held, requested model.Relation, parent map[model.Relation]model.Relation) []string {
	var chain []model.Relation
	for n := held; ; {
		chain = append(chain, n)
		p, ok := parent[n]
		if !ok || n == requested {
			break
		}
		n = p
	}
	out := make([]string, len(chain))
	for i, r := range chain {
		out[i] = string(r)
	}
	return out
}

// Explain returns the paths that justify subjectID holding permission on
// the resource, or an empty slice if access is not present.
func (e *Evaluator) Explain(ctx context.Context, namespace, subjectID string, permission model.Relation, resourceType model.ObjectType, resourceID string, now time.Time) ([]ExplainPath, error) {
	subject := model.Object{Type: "user", ID: subjectID}
	resource := model.Object{Type: resourceType, ID: resourceID}

	memberships, groupParent, err := e.expandMemberships(ctx, namespace, subject, now)
	if err != nil {
		memberships = map[model.Object]model.Relation{}
	}
	ancestors, resourceParent, err := e.expandAncestors(ctx, namespace, resource, now)
	if err != nil && len(ancestors) == 0 {
		return nil, err
	}

	reachSet, hierarchyParent, err := e.reachingPermissionsWithParent(ctx, namespace, resourceType, permission)
	if err != nil {
		return nil, err
	}

	var paths []ExplainPath
	seen := make(map[string]bool)

	addPath := func(p ExplainPath) {
		key := fmt.Sprintf("%s|%v", p.Kind, p.PathChain)
		if !seen[key] {
			seen[key] = true
			paths = append(paths, p)
		}
	}

	for _, a := range ancestors {
		rows, err := e.tuples.List(ctx, namespace, store.TupleFilter{ResourceType: a.Type, ResourceID: a.ID}, now)
		if err != nil {
			return nil, err
		}
		for _, t := range rows {
			if t.Relation == model.RelationParent || !reachSet[t.Relation] {
				continue
			}

			isDirect := t.SubjectType == subject.Type && t.SubjectID == subject.ID
			membershipRel, inGroup := memberships[t.Subject()]
			isGroup := !isDirect && inGroup && (t.SubjectRelation == "" || t.SubjectRelation == membershipRel)
			if !isDirect && !isGroup {
				continue
			}

			switch {
			case a == resource && t.Relation == permission && isDirect:
				addPath(ExplainPath{Kind: PathDirect, ViaRelation: t.Relation})
			case a == resource && t.Relation != permission && isDirect:
				addPath(ExplainPath{
					Kind:        PathHierarchy,
					ViaRelation: t.Relation,
					PathChain:   hierarchyChain(t.Relation, permission, hierarchyParent),
				})
			case a != resource && isDirect:
				addPath(ExplainPath{
					Kind:        PathResource,
					ViaRelation: t.Relation,
					PathChain:   resourceChain(a, resourceParent),
				})
			case isGroup:
				addPath(ExplainPath{
					Kind:           PathGroup,
					ViaRelation:    t.Relation,
					ViaSubjectType: t.SubjectType,
					ViaSubjectID:   t.SubjectID,
					ViaMembership:  membershipRel,
					PathChain:      groupChain(t.Subject(), groupParent),
				})
			}
		}
	}

	return paths, nil
}

// reachingPermissionsWithParent is reachingPermissions plus a parent
// pointer map for chain reconstruction in Explain.
func (e *Evaluator) reachingPermissionsWithParent(ctx context.Context, namespace string, resourceType model.ObjectType, target model.Relation) (map[model.Relation]bool, map[model.Relation]model.Relation, error) {
	rules, err := e.hierarchy.ListRules(ctx, namespace, resourceType)
	if err != nil {
		return nil, nil, err
	}
	reverse := make(map[model.Relation][]model.Relation)
	for _, r := range rules {
		reverse[r.Implies] = append(reverse[r.Implies], r.Permission)
	}

	visited := map[model.Relation]bool{target: true}
	parent := make(map[model.Relation]model.Relation)
	frontier := []model.Relation{target}

	for depth := 0; len(frontier) > 0 && depth <= e.hierarchyIterationCap; depth++ {
		var next []model.Relation
		for _, n := range frontier {
			for _, p := range reverse[n] {
				if !visited[p] {
					visited[p] = true
					parent[p] = n
					next = append(next, p)
				}
			}
		}
		frontier = next
	}
	return visited, parent, nil
}

// ExplainText renders paths as human-readable lines, for CLI/debugging use.
func (e *Evaluator) ExplainText(ctx context.Context, namespace, subjectID string, permission model.Relation, resourceType model.ObjectType, resourceID string, now time.Time) ([]string, error) {
	paths, err := e.Explain(ctx, namespace, subjectID, permission, resourceType, resourceID, now)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return []string{fmt.Sprintf("no access: %s has no path to %s on %s:%s", subjectID, permission, resourceType, resourceID)}, nil
	}
	lines := make([]string, 0, len(paths))
	for _, p := range paths {
		switch p.Kind {
		case PathDirect:
			lines = append(lines, fmt.Sprintf("direct: granted %s directly", p.ViaRelation))
		case PathHierarchy:
			lines = append(lines, fmt.Sprintf("hierarchy: %s implies %s via %v", p.ViaRelation, permission, p.PathChain))
		case PathResource:
			lines = append(lines, fmt.Sprintf("resource: granted %s via ancestor chain %v", p.ViaRelation, p.PathChain))
		case PathGroup:
			lines = append(lines, fmt.Sprintf("group: granted %s via membership chain %v (membership relation %s)", p.ViaRelation, p.PathChain, p.ViaMembership))
		}
	}
	return lines, nil
}
