// Package relgraph implements a relationship-based access control (ReBAC)
// engine: a permission graph of relationship tuples, enriched by
// permission-hierarchy implication rules, group nesting, and resource
// containment, with time-bound grants and multi-tenant isolation.
//
// # Core Concepts
//
// Objects are typed resource or subject identifiers. In Zanzibar/OpenFGA
// terms both "users" and "resources" are objects — there is no distinct
// Subject type.
//
//	alice := relgraph.Object{Type: "user", ID: "alice"}
//	repo := relgraph.Object{Type: "repo", ID: "api"}
//
// # Basic Usage
//
// NewEngine takes a TupleStore and a HierarchyStore — internal/store/memstore
// for an embeddable, process-local deployment, or internal/store/postgres for
// a real Postgres-backed one:
//
//	tuples, hierarchy := memstore.New(), memstore.New()
//	engine := relgraph.NewEngine(tuples, hierarchy)
//	scope, _ := relgraph.NewScope("acme")
//	ok, err := engine.Check(ctx, scope, "alice", "read", "repo", "api")
//
// # Transaction Support
//
// internal/store/postgres's Store is constructed over an Execer (*sql.DB,
// *sql.Tx, or *sql.Conn all satisfy it), so permission checks can see
// uncommitted changes within the caller's transaction:
//
//	tx, _ := db.BeginTx(ctx, nil)
//	tuples := postgres.NewStore(tx)
//	engine := relgraph.NewEngine(tuples, tuples, relgraph.WithLocker(postgres.NewLocker(tx)))
//	ok, _ := engine.Check(ctx, scope, "alice", "write", "repo", "api")
//
// # Caching
//
// Use WithCache for repeated checks:
//
//	cache := relgraph.NewCache(relgraph.WithTTL(time.Minute))
//	engine := relgraph.NewEngine(tuples, hierarchy, relgraph.WithCache(cache))
//
// # Decision Overrides
//
// Use WithDecision for admin tools or testing:
//
//	engine := relgraph.NewEngine(tuples, hierarchy, relgraph.WithDecision(relgraph.DecisionAllow))
package relgraph

import (
	"context"
	"database/sql"

	"github.com/relgraph/relgraph/internal/model"
)

// ObjectType names a kind of resource or subject ("user", "team", "repo").
type ObjectType = model.ObjectType

// Relation names an edge label: a permission ("read") or a reserved
// relation ("member", "parent").
type Relation = model.Relation

// Reserved relation names carrying graph semantics.
const (
	RelationMember = model.RelationMember
	RelationParent = model.RelationParent
)

// Object is a typed resource or subject identifier.
type Object = model.Object

// ObjectLike defines an interface for types that can be converted to
// Objects, so domain models can implement authorization-aware methods
// without this package depending on the caller's domain layer.
//
//	type Repository struct{ ID int64 }
//	func (r Repository) RelObject() relgraph.Object {
//	    return relgraph.Object{Type: "repo", ID: fmt.Sprint(r.ID)}
//	}
type ObjectLike interface {
	RelObject() Object
}

// SubjectLike defines an interface for types usable as the subject of a
// check: the "who" in "who has what relation on what object".
type SubjectLike interface {
	RelSubject() Object
}

// RelationLike defines an interface for types convertible to a Relation,
// so generated constants can carry custom types while still satisfying
// engine calls that accept any RelationLike.
type RelationLike interface {
	RelRelation() Relation
}

// ContextualTuple is a tuple supplied at request time rather than
// persisted; it only affects the single check/list/explain call it's
// passed to.
type ContextualTuple struct {
	Subject         Object
	Relation        Relation
	Object          Object
	SubjectRelation Relation
}

// Querier executes queries against the backing store. Implemented by
// *sql.DB, *sql.Tx, and *sql.Conn. No function in this package takes a
// Querier; Engine takes stores, and internal/store/postgres has its own
// Execer for running inside a caller's transaction.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Execer extends Querier with ExecContext. It has the same method set as
// internal/store/postgres's Execer, which postgres.NewStore and
// postgres.Migrate take. Kept separate from Querier so read-only callers
// can depend on the smaller interface.
type Execer interface {
	Querier
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
