// Package store defines the persistence contracts for tuples, hierarchy
// rules, and audit events. The evaluator and write path depend only on
// these interfaces; internal/store/postgres and internal/store/memstore
// provide the two implementations (a real Postgres-backed one, and an
// in-memory one used by unit tests and as a lightweight embeddable option).
package store

import (
	"context"
	"time"

	"github.com/relgraph/relgraph/internal/model"
)

// TupleFilter narrows a tuple listing. Zero-value fields are unconstrained.
type TupleFilter struct {
	ResourceType    model.ObjectType
	ResourceID      string
	Relation        model.Relation
	SubjectType     model.ObjectType
	SubjectID       string
	SubjectRelation *model.Relation // nil = unconstrained, non-nil = exact match incl. ""
	IncludeExpired  bool
}

// TupleKey identifies a tuple uniquely within a namespace.
type TupleKey struct {
	ResourceType    model.ObjectType
	ResourceID      string
	Relation        model.Relation
	SubjectType     model.ObjectType
	SubjectID       string
	SubjectRelation model.Relation
}

// TupleStore persists the relationship tuple set. All methods are
// namespace-scoped: every call takes the namespace explicitly so the
// implementation can enforce tenant isolation at the query level rather
// than relying on ambient session state.
type TupleStore interface {
	// WriteTuple upserts on the uniqueness key, replacing expiresAt on
	// conflict. Returns the tuple id and whether a new row was inserted
	// (false means an existing row's expiresAt was updated).
	WriteTuple(ctx context.Context, namespace string, key TupleKey, expiresAt *time.Time, now time.Time) (id string, created bool, err error)

	// BulkWriteTuples inserts many tuples sharing resource/relation/subject
	// type with one validation pass. Callers must reject reserved relations
	// before calling this, per the bulk-path restriction. Returns the subject
	// IDs that were newly inserted, in the order given; subjects already
	// granted are skipped and excluded from the result so a caller can
	// distinguish "created" from "already present" without a second query.
	BulkWriteTuples(ctx context.Context, namespace string, resourceType model.ObjectType, resourceID string, relation model.Relation, subjectType model.ObjectType, subjectIDs []string, now time.Time) (created []string, err error)

	// DeleteTuple removes the exact keyed tuple. Returns false if absent.
	DeleteTuple(ctx context.Context, namespace string, key TupleKey) (deleted *model.Tuple, found bool, err error)

	// Get returns the tuple, if present, regardless of expiration.
	Get(ctx context.Context, namespace string, key TupleKey) (*model.Tuple, error)

	// List returns tuples matching filter. Expired tuples are excluded
	// unless filter.IncludeExpired is set.
	List(ctx context.Context, namespace string, filter TupleFilter, now time.Time) ([]model.Tuple, error)

	// SetExpiration updates expires_at on the keyed tuple.
	SetExpiration(ctx context.Context, namespace string, key TupleKey, expiresAt *time.Time) (found bool, err error)

	// ListExpiring returns non-expired tuples whose expiresAt falls within
	// [now, now+within], soonest first.
	ListExpiring(ctx context.Context, namespace string, now time.Time, within time.Duration) ([]model.Tuple, error)

	// DeleteExpired physically removes tuples with expires_at < now.
	DeleteExpired(ctx context.Context, namespace string, now time.Time) (int, error)

	// Stats reports cardinalities for the maintenance API.
	Stats(ctx context.Context, namespace string, now time.Time) (tupleCount, distinctSubjects, distinctResources int, err error)
}

// HierarchyStore persists the permission-implication rules.
type HierarchyStore interface {
	AddHierarchy(ctx context.Context, namespace string, resourceType model.ObjectType, permission, implies model.Relation) (id string, err error)
	RemoveHierarchy(ctx context.Context, namespace string, resourceType model.ObjectType, permission, implies model.Relation) (bool, error)
	ClearHierarchy(ctx context.Context, namespace string, resourceType model.ObjectType) (int, error)
	// ListRules returns the rules for a resource type, or all rules in the
	// namespace if resourceType is empty.
	ListRules(ctx context.Context, namespace string, resourceType model.ObjectType) ([]model.HierarchyRule, error)
	Count(ctx context.Context, namespace string) (int, error)
}

// AuditStore persists audit events and manages monthly partitions.
type AuditStore interface {
	Append(ctx context.Context, event model.AuditEvent) error
	EnsurePartitions(ctx context.Context, monthsAhead int, now time.Time) ([]string, error)
	DropPartitions(ctx context.Context, olderThanMonths int, now time.Time) ([]string, error)
	CreatePartition(ctx context.Context, year int, month time.Month) (string, error)
}
