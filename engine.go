package relgraph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relgraph/relgraph/internal/cycledetect"
	"github.com/relgraph/relgraph/internal/eval"
	"github.com/relgraph/relgraph/internal/locks"
	"github.com/relgraph/relgraph/internal/metrics"
	"github.com/relgraph/relgraph/internal/model"
	"github.com/relgraph/relgraph/internal/store"
	"github.com/relgraph/relgraph/internal/validate"
)

// Engine is the entry point for permission checks, tuple and hierarchy
// writes, and maintenance. Engines are lightweight: they hold store
// handles, an optional cache, and a decision override, and are safe to
// create per-request or to share across a process.
type Engine struct {
	tuples    store.TupleStore
	hierarchy store.HierarchyStore
	audit     store.AuditStore
	evaluator *eval.Evaluator
	locker    locks.Locker
	evalOpts  []eval.Option

	cache              Cache
	decision           Decision
	useContextDecision bool
	metrics            *metrics.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables caching for permission check results. The cache is
// invalidated per-namespace on every write to that namespace.
func WithCache(c Cache) Option { return func(e *Engine) { e.cache = c } }

// WithDecision sets a decision override that bypasses store checks. Use
// DecisionAllow for admin tools or testing authorized paths, DecisionDeny
// for testing unauthorized paths.
func WithDecision(d Decision) Option { return func(e *Engine) { e.decision = d } }

// WithContextDecision enables context-based decision overrides: Check
// consults GetDecisionContext(ctx) before evaluating. Off by default so a
// bypass value left on a context by unrelated middleware can't silently
// change authorization outcomes.
func WithContextDecision() Option { return func(e *Engine) { e.useContextDecision = true } }

// WithAuditSink replaces the default no-op audit sink.
func WithAuditSink(a store.AuditStore) Option { return func(e *Engine) { e.audit = a } }

// WithLocker replaces the default in-memory locker, e.g. with a
// Postgres-transaction-scoped one built over the same handle the stores
// use.
func WithLocker(l locks.Locker) Option { return func(e *Engine) { e.locker = l } }

// WithEvalOptions forwards traversal-bound overrides to the evaluator.
func WithEvalOptions(opts ...eval.Option) Option {
	return func(e *Engine) { e.evalOpts = append(e.evalOpts, opts...) }
}

// NewEngine constructs an Engine over the given tuple and hierarchy stores.
// Options configure caching, decision overrides, the audit sink, the
// locker, and traversal bounds.
func NewEngine(tuples store.TupleStore, hierarchy store.HierarchyStore, opts ...Option) *Engine {
	e := &Engine{
		tuples:    tuples,
		hierarchy: hierarchy,
		audit:     noopAuditStore{},
		locker:    locks.NewMemoryLocker(),
		decision:  DecisionUnset,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.evaluator = eval.New(tuples, hierarchy, e.evalOpts...)
	return e
}

// requireScope fails closed when the tenant context is absent, per the
// fail-closed contract of set_tenant/clear_tenant.
func requireScope(scope Scope) error {
	if scope.Empty() {
		return ErrTenantAbsent
	}
	return nil
}

// --- Check path -------------------------------------------------------

// Check returns whether subjectID holds permission on the given resource.
// Denials are never errors; a denied check returns (false, nil).
func (e *Engine) Check(ctx context.Context, scope Scope, subjectID string, permission Relation, resourceType ObjectType, resourceID string) (bool, error) {
	if e.useContextDecision {
		if d := GetDecisionContext(ctx); d != DecisionUnset {
			return d == DecisionAllow, nil
		}
	}
	if e.decision != DecisionUnset {
		return e.decision == DecisionAllow, nil
	}
	if scope.Empty() {
		return false, nil // reads fail closed to empty results, not errors
	}
	if err := validate.FreeFormID("subject_id", subjectID); err != nil {
		return false, toValidationError(err)
	}
	if err := validate.Identifier("permission", string(permission)); err != nil {
		return false, toValidationError(err)
	}

	object := Object{Type: resourceType, ID: resourceID}
	if e.cache != nil {
		if allowed, cachedErr, found := e.cache.Get(scope.Namespace, subjectID, permission, object); found {
			return allowed, cachedErr
		}
	}

	start := time.Now()
	allowed, err := e.evaluator.Check(ctx, scope.Namespace, subjectID, permission, resourceType, resourceID, start)
	e.metrics.ObserveCheck("check", allowed, time.Since(start))
	if e.cache != nil && err == nil {
		e.cache.Set(scope.Namespace, subjectID, permission, object, allowed, nil)
	}
	return allowed, err
}

// CheckAny returns whether the subject holds at least one of permissions.
func (e *Engine) CheckAny(ctx context.Context, scope Scope, subjectID string, permissions []Relation, resourceType ObjectType, resourceID string) (bool, error) {
	if scope.Empty() {
		return false, nil
	}
	if e.decision != DecisionUnset {
		return e.decision == DecisionAllow, nil
	}
	return e.evaluator.CheckAny(ctx, scope.Namespace, subjectID, permissions, resourceType, resourceID, time.Now())
}

// CheckAll returns whether the subject holds every permission in the
// request set. An empty request set is vacuously true.
func (e *Engine) CheckAll(ctx context.Context, scope Scope, subjectID string, permissions []Relation, resourceType ObjectType, resourceID string) (bool, error) {
	if len(permissions) == 0 {
		return true, nil
	}
	if scope.Empty() {
		return false, nil
	}
	if e.decision != DecisionUnset {
		return e.decision == DecisionAllow, nil
	}
	return e.evaluator.CheckAll(ctx, scope.Namespace, subjectID, permissions, resourceType, resourceID, time.Now())
}

// CheckWithContextualTuples evaluates as Check, but overlays tuples
// supplied at request time over the stored graph for this call only. A
// contextual tuple store is built by shadowing the persisted one; nothing
// is written.
func (e *Engine) CheckWithContextualTuples(ctx context.Context, scope Scope, subjectID string, permission Relation, resourceType ObjectType, resourceID string, tuples []ContextualTuple) (bool, error) {
	if len(tuples) == 0 {
		return e.Check(ctx, scope, subjectID, permission, resourceType, resourceID)
	}
	if scope.Empty() {
		return false, nil
	}
	overlay := newOverlayTupleStore(e.tuples, scope.Namespace, tuples)
	ev := eval.New(overlay, e.hierarchy, e.evalOpts...)
	return ev.Check(ctx, scope.Namespace, subjectID, permission, resourceType, resourceID, time.Now())
}

// ExplainWithContextualTuples is Explain, but overlaid with request-scoped
// tuples for this call only, exactly as CheckWithContextualTuples overlays
// Check.
func (e *Engine) ExplainWithContextualTuples(ctx context.Context, scope Scope, subjectID string, permission Relation, resourceType ObjectType, resourceID string, tuples []ContextualTuple) ([]eval.ExplainPath, error) {
	if len(tuples) == 0 {
		return e.Explain(ctx, scope, subjectID, permission, resourceType, resourceID)
	}
	if scope.Empty() {
		return nil, nil
	}
	overlay := newOverlayTupleStore(e.tuples, scope.Namespace, tuples)
	ev := eval.New(overlay, e.hierarchy, e.evalOpts...)
	return ev.Explain(ctx, scope.Namespace, subjectID, permission, resourceType, resourceID, time.Now())
}

// Must panics if err is non-nil, otherwise returns ok. For admin tools and
// tests where a failed check should abort rather than be handled.
func Must(ok bool, err error) bool {
	if err != nil {
		panic(err)
	}
	return ok
}

// Must checks subjectID's permission and panics if the check errors or is
// denied. Prefer Check for user-facing authorization that should return a
// denial to the caller; use Must for internal invariants where the lack of
// access indicates a bug upstream, not an end-user error.
func (e *Engine) Must(ctx context.Context, scope Scope, subjectID string, permission Relation, resourceType ObjectType, resourceID string) {
	ok, err := e.Check(ctx, scope, subjectID, permission, resourceType, resourceID)
	if err != nil {
		panic(fmt.Sprintf("relgraph.Must: %v", err))
	}
	if !ok {
		panic(fmt.Sprintf("relgraph.Must: subject %s lacks %s on %s:%s", subjectID, permission, resourceType, resourceID))
	}
}

// --- Listing and explain ------------------------------------------------

// ListResources returns resources of resourceType on which subjectID holds
// permission, paginated.
func (e *Engine) ListResources(ctx context.Context, scope Scope, subjectID string, resourceType ObjectType, permission Relation, limit int, cursor string) (eval.Page, error) {
	if scope.Empty() {
		return eval.Page{}, nil
	}
	return e.evaluator.ListResources(ctx, scope.Namespace, subjectID, resourceType, permission, limit, cursor, time.Now())
}

// ListUsers returns subjects holding permission on the given resource,
// paginated.
func (e *Engine) ListUsers(ctx context.Context, scope Scope, resourceType ObjectType, resourceID string, permission Relation, limit int, cursor string) (eval.Page, error) {
	if scope.Empty() {
		return eval.Page{}, nil
	}
	return e.evaluator.ListUsers(ctx, scope.Namespace, resourceType, resourceID, permission, limit, cursor, time.Now())
}

// FilterAuthorized returns the subset of ids for which Check would return
// true.
func (e *Engine) FilterAuthorized(ctx context.Context, scope Scope, subjectID string, resourceType ObjectType, permission Relation, ids []string) ([]string, error) {
	if scope.Empty() {
		return nil, nil
	}
	return e.evaluator.FilterAuthorized(ctx, scope.Namespace, subjectID, resourceType, permission, ids, time.Now())
}

// Explain returns the justification paths for subjectID holding permission
// on the resource.
func (e *Engine) Explain(ctx context.Context, scope Scope, subjectID string, permission Relation, resourceType ObjectType, resourceID string) ([]eval.ExplainPath, error) {
	if scope.Empty() {
		return nil, nil
	}
	return e.evaluator.Explain(ctx, scope.Namespace, subjectID, permission, resourceType, resourceID, time.Now())
}

// ExplainText renders Explain's result as human-readable lines.
func (e *Engine) ExplainText(ctx context.Context, scope Scope, subjectID string, permission Relation, resourceType ObjectType, resourceID string) ([]string, error) {
	if scope.Empty() {
		return nil, nil
	}
	return e.evaluator.ExplainText(ctx, scope.Namespace, subjectID, permission, resourceType, resourceID, time.Now())
}

// --- Write path ----------------------------------------------------------

// WriteTuple creates or updates a tuple's expiration, per §4.6: validate,
// acquire the namespace lock, cycle-check reserved relations, upsert, then
// emit an audit event in the same logical transaction.
func (e *Engine) WriteTuple(ctx context.Context, scope Scope, resourceType ObjectType, resourceID string, relation Relation, subjectType ObjectType, subjectID string, subjectRelation Relation, expiresAt *time.Time) (string, error) {
	if err := requireScope(scope); err != nil {
		return "", err
	}
	now := time.Now()
	if err := e.validateTupleWrite(resourceType, resourceID, relation, subjectType, subjectID, subjectRelation, expiresAt, now); err != nil {
		return "", err
	}

	release, err := e.locker.Namespace(ctx, scope.Namespace)
	if err != nil {
		return "", err
	}
	defer release()

	resource := model.Object{Type: resourceType, ID: resourceID}
	subject := model.Object{Type: subjectType, ID: subjectID}

	if relation == model.RelationMember && subjectType != "user" {
		if err := e.checkEdge(ctx, scope.Namespace, relation, resource, subject); err != nil {
			return "", err
		}
	}
	if relation == model.RelationParent {
		if err := e.checkEdge(ctx, scope.Namespace, relation, resource, subject); err != nil {
			return "", err
		}
	}

	key := store.TupleKey{
		ResourceType: resourceType, ResourceID: resourceID, Relation: relation,
		SubjectType: subjectType, SubjectID: subjectID, SubjectRelation: subjectRelation,
	}
	var prevExpiresAt *time.Time
	if prev, err := e.tuples.Get(ctx, scope.Namespace, key); err == nil && prev != nil {
		prevExpiresAt = prev.ExpiresAt
	}
	id, created, err := e.tuples.WriteTuple(ctx, scope.Namespace, key, expiresAt, now)
	if err != nil {
		return "", err
	}

	eventType := model.EventTupleCreated
	if !created {
		eventType = model.EventTupleUpdated
	}
	if err := e.emit(ctx, scope, model.AuditEvent{
		EventType: eventType, ResourceType: resourceType, ResourceID: resourceID, Relation: relation,
		SubjectType: subjectType, SubjectID: subjectID, SubjectRelation: subjectRelation,
		TupleID: id, ExpiresAt: expiresAt,
	}); err != nil {
		if created {
			_, _, _ = e.tuples.DeleteTuple(ctx, scope.Namespace, key)
		} else {
			_, _, _ = e.tuples.WriteTuple(ctx, scope.Namespace, key, prevExpiresAt, now)
		}
		return "", fmt.Errorf("engine: audit append failed, write rolled back: %w", err)
	}
	e.metrics.IncWrite("tuple_write")
	if e.cache != nil {
		e.cache.InvalidateNamespace(scope.Namespace)
	}
	return id, nil
}

// checkEdge runs the dual-endpoint-locked cycle check for a reserved-
// relation edge before the write proceeds.
func (e *Engine) checkEdge(ctx context.Context, namespace string, relation Relation, resource, subject model.Object) error {
	u, v := subject.String(), resource.String()
	if u == v && subject == resource {
		return ErrWouldCreateCycle
	}
	release, err := e.locker.Endpoints(ctx, u, v)
	if err != nil {
		return err
	}
	defer release()

	var checkErr error
	switch relation {
	case model.RelationMember:
		checkErr = cycledetect.CheckGroupEdge(ctx, e.tuples, namespace, resource, subject, time.Now())
	case model.RelationParent:
		checkErr = cycledetect.CheckResourceEdge(ctx, e.tuples, namespace, resource, subject, time.Now())
	}
	if checkErr != nil {
		if errors.Is(checkErr, cycledetect.ErrWouldCreateCycle) {
			e.metrics.IncCycleRejection(string(relation))
			return ErrWouldCreateCycle
		}
		return checkErr
	}
	return nil
}

// BulkWriteTuples inserts many tuples sharing resource/relation/subject
// type in one validation + lock pass. Reserved relations are rejected
// since per-edge cycle analysis can't be amortized across a batch.
func (e *Engine) BulkWriteTuples(ctx context.Context, scope Scope, resourceType ObjectType, resourceID string, relation Relation, subjectType ObjectType, subjectIDs []string) (int, error) {
	if err := requireScope(scope); err != nil {
		return 0, err
	}
	if relation == model.RelationMember && subjectType != "user" || relation == model.RelationParent {
		return 0, ErrReservedRelationBulk
	}
	if err := validate.Identifier("resource_type", string(resourceType)); err != nil {
		return 0, toValidationError(err)
	}
	if err := validate.FreeFormID("resource_id", resourceID); err != nil {
		return 0, toValidationError(err)
	}
	if err := validate.Identifier("relation", string(relation)); err != nil {
		return 0, toValidationError(err)
	}
	if err := validate.IDArray("subject_ids", subjectIDs); err != nil {
		return 0, toValidationError(err)
	}

	release, err := e.locker.Namespace(ctx, scope.Namespace)
	if err != nil {
		return 0, err
	}
	defer release()

	created, err := e.tuples.BulkWriteTuples(ctx, scope.Namespace, resourceType, resourceID, relation, subjectType, subjectIDs, time.Now())
	if err != nil {
		return 0, err
	}

	succeeded := 0
	var firstErr error
	for _, sid := range created {
		err := e.emit(ctx, scope, model.AuditEvent{
			EventType: model.EventTupleCreated, ResourceType: resourceType, ResourceID: resourceID,
			Relation: relation, SubjectType: subjectType, SubjectID: sid,
		})
		if err != nil {
			key := store.TupleKey{
				ResourceType: resourceType, ResourceID: resourceID, Relation: relation,
				SubjectType: subjectType, SubjectID: sid,
			}
			_, _, _ = e.tuples.DeleteTuple(ctx, scope.Namespace, key)
			if firstErr == nil {
				firstErr = fmt.Errorf("engine: audit append failed for subject %q, write rolled back: %w", sid, err)
			}
			continue
		}
		succeeded++
	}
	if succeeded > 0 && e.cache != nil {
		e.cache.InvalidateNamespace(scope.Namespace)
	}
	return succeeded, firstErr
}

// DeleteTuple removes the exact keyed tuple and emits tuple_deleted with
// the removed row's fields. Returns false if no such tuple existed.
func (e *Engine) DeleteTuple(ctx context.Context, scope Scope, resourceType ObjectType, resourceID string, relation Relation, subjectType ObjectType, subjectID string, subjectRelation Relation) (bool, error) {
	if err := requireScope(scope); err != nil {
		return false, err
	}
	release, err := e.locker.Namespace(ctx, scope.Namespace)
	if err != nil {
		return false, err
	}
	defer release()

	key := store.TupleKey{
		ResourceType: resourceType, ResourceID: resourceID, Relation: relation,
		SubjectType: subjectType, SubjectID: subjectID, SubjectRelation: subjectRelation,
	}
	deleted, found, err := e.tuples.DeleteTuple(ctx, scope.Namespace, key)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := e.emit(ctx, scope, model.AuditEvent{
		EventType: model.EventTupleDeleted, ResourceType: resourceType, ResourceID: resourceID,
		Relation: relation, SubjectType: subjectType, SubjectID: subjectID, SubjectRelation: subjectRelation,
		TupleID: deleted.ID, ExpiresAt: deleted.ExpiresAt,
	}); err != nil {
		_, _, _ = e.tuples.WriteTuple(ctx, scope.Namespace, key, deleted.ExpiresAt, time.Now())
		return false, fmt.Errorf("engine: audit append failed, delete rolled back: %w", err)
	}
	if e.cache != nil {
		e.cache.InvalidateNamespace(scope.Namespace)
	}
	return true, nil
}

func (e *Engine) validateTupleWrite(resourceType ObjectType, resourceID string, relation Relation, subjectType ObjectType, subjectID string, subjectRelation Relation, expiresAt *time.Time, now time.Time) error {
	if err := validate.Identifier("resource_type", string(resourceType)); err != nil {
		return toValidationError(err)
	}
	if err := validate.FreeFormID("resource_id", resourceID); err != nil {
		return toValidationError(err)
	}
	if err := validate.Identifier("relation", string(relation)); err != nil {
		return toValidationError(err)
	}
	if err := validate.Identifier("subject_type", string(subjectType)); err != nil {
		return toValidationError(err)
	}
	if err := validate.FreeFormID("subject_id", subjectID); err != nil {
		return toValidationError(err)
	}
	if subjectRelation != "" {
		if err := validate.Identifier("subject_relation", string(subjectRelation)); err != nil {
			return toValidationError(err)
		}
	}
	if expiresAt != nil && !expiresAt.After(now) {
		return ErrExpirationInPast
	}
	return nil
}

// --- Hierarchy path --------------------------------------------------

// AddHierarchy creates a permission-implication rule, rejecting self-
// implication and cycles. Idempotent: adding the same rule twice returns
// the same rule id.
func (e *Engine) AddHierarchy(ctx context.Context, scope Scope, resourceType ObjectType, permission, implies Relation) (string, error) {
	if err := requireScope(scope); err != nil {
		return "", err
	}
	if permission == implies {
		return "", newValidationError(ErrorCodeCheckViolation, "hierarchy: permission cannot imply itself")
	}
	if err := validate.Identifier("resource_type", string(resourceType)); err != nil {
		return "", toValidationError(err)
	}
	if err := validate.Identifier("permission", string(permission)); err != nil {
		return "", toValidationError(err)
	}
	if err := validate.Identifier("implies", string(implies)); err != nil {
		return "", toValidationError(err)
	}

	release, err := e.locker.Namespace(ctx, scope.Namespace)
	if err != nil {
		return "", err
	}
	defer release()

	if err := cycledetect.CheckHierarchyEdge(ctx, e.hierarchy, scope.Namespace, resourceType, permission, implies); err != nil {
		if errors.Is(err, cycledetect.ErrWouldCreateCycle) {
			e.metrics.IncCycleRejection("hierarchy")
			return "", ErrWouldCreateCycle
		}
		return "", err
	}

	id, err := e.hierarchy.AddHierarchy(ctx, scope.Namespace, resourceType, permission, implies)
	if err != nil {
		return "", err
	}
	if err := e.emit(ctx, scope, model.AuditEvent{
		EventType: model.EventHierarchyCreated, ResourceType: resourceType, Relation: permission,
		SubjectRelation: implies,
	}); err != nil {
		_, _ = e.hierarchy.RemoveHierarchy(ctx, scope.Namespace, resourceType, permission, implies)
		return "", fmt.Errorf("engine: audit append failed, hierarchy rule rolled back: %w", err)
	}
	e.metrics.IncWrite("hierarchy_write")
	if e.cache != nil {
		e.cache.InvalidateNamespace(scope.Namespace)
	}
	return id, nil
}

// RemoveHierarchy deletes a single implication rule.
func (e *Engine) RemoveHierarchy(ctx context.Context, scope Scope, resourceType ObjectType, permission, implies Relation) (bool, error) {
	if err := requireScope(scope); err != nil {
		return false, err
	}
	release, err := e.locker.Namespace(ctx, scope.Namespace)
	if err != nil {
		return false, err
	}
	defer release()

	found, err := e.hierarchy.RemoveHierarchy(ctx, scope.Namespace, resourceType, permission, implies)
	if err != nil {
		return false, err
	}
	if found {
		if err := e.emit(ctx, scope, model.AuditEvent{
			EventType: model.EventHierarchyDeleted, ResourceType: resourceType, Relation: permission,
			SubjectRelation: implies,
		}); err != nil {
			_, _ = e.hierarchy.AddHierarchy(ctx, scope.Namespace, resourceType, permission, implies)
			return false, fmt.Errorf("engine: audit append failed, hierarchy removal rolled back: %w", err)
		}
		if e.cache != nil {
			e.cache.InvalidateNamespace(scope.Namespace)
		}
	}
	return found, nil
}

// ClearHierarchy deletes every implication rule for a resource type,
// returning the count removed.
func (e *Engine) ClearHierarchy(ctx context.Context, scope Scope, resourceType ObjectType) (int, error) {
	if err := requireScope(scope); err != nil {
		return 0, err
	}
	release, err := e.locker.Namespace(ctx, scope.Namespace)
	if err != nil {
		return 0, err
	}
	defer release()

	prior, err := e.hierarchy.ListRules(ctx, scope.Namespace, resourceType)
	if err != nil {
		return 0, err
	}
	n, err := e.hierarchy.ClearHierarchy(ctx, scope.Namespace, resourceType)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		if err := e.emit(ctx, scope, model.AuditEvent{EventType: model.EventHierarchyDeleted, ResourceType: resourceType}); err != nil {
			for _, rule := range prior {
				_, _ = e.hierarchy.AddHierarchy(ctx, scope.Namespace, resourceType, rule.Permission, rule.Implies)
			}
			return 0, fmt.Errorf("engine: audit append failed, hierarchy clear rolled back: %w", err)
		}
		if e.cache != nil {
			e.cache.InvalidateNamespace(scope.Namespace)
		}
	}
	return n, nil
}

// --- Expiration manager ------------------------------------------------

// SetExpiration updates a tuple's expires_at, or clears it when expiresAt
// is nil. Fails if the tuple doesn't exist, or expiresAt is non-nil and not
// strictly in the future.
func (e *Engine) SetExpiration(ctx context.Context, scope Scope, key store.TupleKey, expiresAt *time.Time) (bool, error) {
	if err := requireScope(scope); err != nil {
		return false, err
	}
	if expiresAt != nil && !expiresAt.After(time.Now()) {
		return false, ErrExpirationInPast
	}
	var prevExpiresAt *time.Time
	if prev, err := e.tuples.Get(ctx, scope.Namespace, key); err == nil && prev != nil {
		prevExpiresAt = prev.ExpiresAt
	}
	found, err := e.tuples.SetExpiration(ctx, scope.Namespace, key, expiresAt)
	if err != nil {
		return false, err
	}
	if found {
		if err := e.emit(ctx, scope, model.AuditEvent{
			EventType: model.EventTupleUpdated, ResourceType: key.ResourceType, ResourceID: key.ResourceID, Relation: key.Relation,
			SubjectType: key.SubjectType, SubjectID: key.SubjectID, SubjectRelation: key.SubjectRelation, ExpiresAt: expiresAt,
		}); err != nil {
			_, _ = e.tuples.SetExpiration(ctx, scope.Namespace, key, prevExpiresAt)
			return false, fmt.Errorf("engine: audit append failed, expiration update rolled back: %w", err)
		}
	}
	if found && e.cache != nil {
		e.cache.InvalidateNamespace(scope.Namespace)
	}
	return found, nil
}

// ClearExpiration is sugar for SetExpiration(key, nil).
func (e *Engine) ClearExpiration(ctx context.Context, scope Scope, key store.TupleKey) (bool, error) {
	return e.SetExpiration(ctx, scope, key, nil)
}

// ExtendExpiration reads the current expiration and extends it by
// interval: from now if already expired or absent-and-errored, otherwise
// from the current value. Errors if the tuple has no expiration to extend,
// or doesn't exist.
func (e *Engine) ExtendExpiration(ctx context.Context, scope Scope, key store.TupleKey, interval time.Duration) (time.Time, error) {
	if err := requireScope(scope); err != nil {
		return time.Time{}, err
	}
	if interval <= 0 {
		return time.Time{}, newValidationError(ErrorCodeInvalidParameterValue, "extension_interval: must be strictly positive")
	}
	current, err := e.tuples.Get(ctx, scope.Namespace, key)
	if err != nil {
		return time.Time{}, err
	}
	if current == nil {
		return time.Time{}, ErrTupleNotFound
	}
	if current.ExpiresAt == nil {
		return time.Time{}, ErrNoExpirationToExtend
	}

	now := time.Now()
	base := *current.ExpiresAt
	if base.Before(now) {
		base = now
	}
	newExpiry := base.Add(interval)

	if _, err := e.tuples.SetExpiration(ctx, scope.Namespace, key, &newExpiry); err != nil {
		return time.Time{}, err
	}
	if err := e.emit(ctx, scope, model.AuditEvent{
		EventType: model.EventTupleUpdated, ResourceType: key.ResourceType, ResourceID: key.ResourceID, Relation: key.Relation,
		SubjectType: key.SubjectType, SubjectID: key.SubjectID, SubjectRelation: key.SubjectRelation,
		TupleID: current.ID, ExpiresAt: &newExpiry,
	}); err != nil {
		_, _ = e.tuples.SetExpiration(ctx, scope.Namespace, key, current.ExpiresAt)
		return time.Time{}, fmt.Errorf("engine: audit append failed, expiration extension rolled back: %w", err)
	}
	if e.cache != nil {
		e.cache.InvalidateNamespace(scope.Namespace)
	}
	return newExpiry, nil
}

// ListExpiring returns non-expired tuples whose expiration falls within
// [now, now+within], soonest first.
func (e *Engine) ListExpiring(ctx context.Context, scope Scope, within time.Duration) ([]model.Tuple, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	return e.tuples.ListExpiring(ctx, scope.Namespace, time.Now(), within)
}

// CleanupExpired physically deletes tuples with expires_at < now, returning
// the count removed. It emits no audit event for the rows it deletes.
func (e *Engine) CleanupExpired(ctx context.Context, scope Scope) (int, error) {
	if err := requireScope(scope); err != nil {
		return 0, err
	}
	n, err := e.tuples.DeleteExpired(ctx, scope.Namespace, time.Now())
	if err != nil {
		return 0, err
	}
	e.metrics.AddExpiredCleaned(n)
	if n > 0 && e.cache != nil {
		e.cache.InvalidateNamespace(scope.Namespace)
	}
	return n, nil
}

// --- Maintenance ----------------------------------------------------

// Stats reports cardinalities for a namespace.
type Stats struct {
	TupleCount        int
	HierarchyCount    int
	DistinctSubjects  int
	DistinctResources int
}

// GetStats returns cardinality counts for the namespace.
func (e *Engine) GetStats(ctx context.Context, scope Scope) (Stats, error) {
	if err := requireScope(scope); err != nil {
		return Stats{}, err
	}
	now := time.Now()
	tupleCount, distinctSubjects, distinctResources, err := e.tuples.Stats(ctx, scope.Namespace, now)
	if err != nil {
		return Stats{}, err
	}
	hierarchyCount, err := e.hierarchy.Count(ctx, scope.Namespace)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		TupleCount: tupleCount, HierarchyCount: hierarchyCount,
		DistinctSubjects: distinctSubjects, DistinctResources: distinctResources,
	}, nil
}

// IntegrityWarning is one finding from VerifyIntegrity.
type IntegrityWarning struct {
	Kind    string // "group_cycles" or "resource_cycles"
	Details []string
}

// VerifyIntegrity scans for cycles in the group-membership and
// resource-parent graphs. Returns empty in a healthy deployment; any
// result indicates the write-path's cycle detector was bypassed (e.g. by
// a direct store mutation).
func (e *Engine) VerifyIntegrity(ctx context.Context, scope Scope) ([]IntegrityWarning, error) {
	if err := requireScope(scope); err != nil {
		return nil, err
	}
	now := time.Now()
	var warnings []IntegrityWarning

	groupCycles, err := cycledetect.ScanGroupCycles(ctx, e.tuples, scope.Namespace, now)
	if err != nil {
		return nil, err
	}
	for _, c := range groupCycles {
		warnings = append(warnings, IntegrityWarning{Kind: c.Kind, Details: c.Path})
	}

	resourceCycles, err := cycledetect.ScanResourceCycles(ctx, e.tuples, scope.Namespace, now)
	if err != nil {
		return nil, err
	}
	for _, c := range resourceCycles {
		warnings = append(warnings, IntegrityWarning{Kind: c.Kind, Details: c.Path})
	}

	return warnings, nil
}

// EnsurePartitions creates audit-log partitions for the current month
// through monthsAhead months out, returning the names of any it created.
func (e *Engine) EnsurePartitions(ctx context.Context, monthsAhead int) ([]string, error) {
	created, err := e.audit.EnsurePartitions(ctx, monthsAhead, time.Now())
	e.metrics.AddPartitionsCreated(len(created))
	return created, err
}

// DropPartitions drops audit-log partitions older than olderThanMonths,
// returning the names of any it dropped.
func (e *Engine) DropPartitions(ctx context.Context, olderThanMonths int) ([]string, error) {
	dropped, err := e.audit.DropPartitions(ctx, olderThanMonths, time.Now())
	e.metrics.AddPartitionsDropped(len(dropped))
	return dropped, err
}

// --- Audit ------------------------------------------------------------

// emit appends an audit event for a mutation that has already been applied
// to the store. It surfaces Append's error so the caller can roll the
// mutation back, keeping "rollback leaves zero events, every committed
// mutation leaves exactly one" true for the operations that call it, even
// without a shared transaction. CleanupExpired does not call it.
// A caller that wires a transaction-scoped AuditStore (see
// internal/store/postgres, whose Store shares one Execer across
// TupleStore/HierarchyStore/AuditStore) gets real same-commit atomicity
// instead of this compensating rollback.
func (e *Engine) emit(ctx context.Context, scope Scope, ev model.AuditEvent) error {
	ev.Namespace = scope.Namespace
	ev.ActorID = scope.ActorID
	ev.RequestID = scope.RequestID
	ev.Reason = scope.Reason
	ev.IPAddress = scope.IP
	ev.UserAgent = scope.UserAgent
	return e.audit.Append(ctx, ev)
}

// noopAuditStore discards every event; the default when no sink is wired.
type noopAuditStore struct{}

func (noopAuditStore) Append(ctx context.Context, event model.AuditEvent) error { return nil }
func (noopAuditStore) EnsurePartitions(ctx context.Context, monthsAhead int, now time.Time) ([]string, error) {
	return nil, nil
}
func (noopAuditStore) DropPartitions(ctx context.Context, olderThanMonths int, now time.Time) ([]string, error) {
	return nil, nil
}
func (noopAuditStore) CreatePartition(ctx context.Context, year int, month time.Month) (string, error) {
	return "", nil
}

var _ store.AuditStore = noopAuditStore{}

// --- Contextual-tuple overlay -------------------------------------------

// overlayTupleStore layers request-scoped ContextualTuples over a
// persisted TupleStore for the duration of a single call. Writes are not
// supported; only List is overlaid, and Get reads the persisted store only.
type overlayTupleStore struct {
	store.TupleStore
	namespace string
	extra     []model.Tuple
}

func newOverlayTupleStore(base store.TupleStore, namespace string, tuples []ContextualTuple) *overlayTupleStore {
	extra := make([]model.Tuple, 0, len(tuples))
	for _, t := range tuples {
		extra = append(extra, model.Tuple{
			Namespace: namespace, ResourceType: t.Object.Type, ResourceID: t.Object.ID,
			Relation: t.Relation, SubjectType: t.Subject.Type, SubjectID: t.Subject.ID,
			SubjectRelation: t.SubjectRelation,
		})
	}
	return &overlayTupleStore{TupleStore: base, namespace: namespace, extra: extra}
}

func (o *overlayTupleStore) List(ctx context.Context, namespace string, filter store.TupleFilter, now time.Time) ([]model.Tuple, error) {
	base, err := o.TupleStore.List(ctx, namespace, filter, now)
	if err != nil {
		return nil, err
	}
	if namespace != o.namespace {
		return base, nil
	}
	for _, t := range o.extra {
		if matchesFilter(t, filter) {
			base = append(base, t)
		}
	}
	return base, nil
}

func matchesFilter(t model.Tuple, f store.TupleFilter) bool {
	if f.ResourceType != "" && t.ResourceType != f.ResourceType {
		return false
	}
	if f.ResourceID != "" && t.ResourceID != f.ResourceID {
		return false
	}
	if f.Relation != "" && t.Relation != f.Relation {
		return false
	}
	if f.SubjectType != "" && t.SubjectType != f.SubjectType {
		return false
	}
	if f.SubjectID != "" && t.SubjectID != f.SubjectID {
		return false
	}
	if f.SubjectRelation != nil && t.SubjectRelation != *f.SubjectRelation {
		return false
	}
	return true
}
