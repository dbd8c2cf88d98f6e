// Package memstore is an in-memory implementation of store.TupleStore,
// store.HierarchyStore, and store.AuditStore. It backs unit tests that
// exercise the evaluator and write path without a database, and doubles as
// a lightweight embeddable backend for single-process deployments that
// don't need cross-process durability.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relgraph/relgraph/internal/model"
	"github.com/relgraph/relgraph/internal/store"
)

type tupleRow struct {
	model.Tuple
}

func keyOf(namespace string, k store.TupleKey) string {
	return fmt.Sprintf("%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s\x1f%s",
		namespace, k.ResourceType, k.ResourceID, k.Relation, k.SubjectType, k.SubjectID, k.SubjectRelation)
}

// Store is a namespace-partitioned, mutex-guarded map of tuples, hierarchy
// rules, and audit events.
type Store struct {
	mu         sync.RWMutex
	tuples     map[string]tupleRow // keyOf -> row
	hierarchy  map[string][]model.HierarchyRule
	auditLog   []model.AuditEvent
	partitions map[string]bool
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		tuples:     make(map[string]tupleRow),
		hierarchy:  make(map[string][]model.HierarchyRule),
		partitions: make(map[string]bool),
	}
}

func (s *Store) WriteTuple(ctx context.Context, namespace string, key store.TupleKey, expiresAt *time.Time, now time.Time) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(namespace, key)
	if existing, ok := s.tuples[k]; ok {
		existing.ExpiresAt = expiresAt
		s.tuples[k] = existing
		return existing.ID, false, nil
	}

	id := uuid.NewString()
	s.tuples[k] = tupleRow{model.Tuple{
		ID:              id,
		Namespace:       namespace,
		ResourceType:    key.ResourceType,
		ResourceID:      key.ResourceID,
		Relation:        key.Relation,
		SubjectType:     key.SubjectType,
		SubjectID:       key.SubjectID,
		SubjectRelation: key.SubjectRelation,
		ExpiresAt:       expiresAt,
		CreatedAt:       now,
	}}
	return id, true, nil
}

func (s *Store) BulkWriteTuples(ctx context.Context, namespace string, resourceType model.ObjectType, resourceID string, relation model.Relation, subjectType model.ObjectType, subjectIDs []string, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var created []string
	for _, sid := range subjectIDs {
		key := store.TupleKey{
			ResourceType: resourceType,
			ResourceID:   resourceID,
			Relation:     relation,
			SubjectType:  subjectType,
			SubjectID:    sid,
		}
		k := keyOf(namespace, key)
		if _, ok := s.tuples[k]; ok {
			continue
		}
		s.tuples[k] = tupleRow{model.Tuple{
			ID:           uuid.NewString(),
			Namespace:    namespace,
			ResourceType: resourceType,
			ResourceID:   resourceID,
			Relation:     relation,
			SubjectType:  subjectType,
			SubjectID:    sid,
			CreatedAt:    now,
		}}
		created = append(created, sid)
	}
	return created, nil
}

func (s *Store) DeleteTuple(ctx context.Context, namespace string, key store.TupleKey) (*model.Tuple, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(namespace, key)
	row, ok := s.tuples[k]
	if !ok {
		return nil, false, nil
	}
	delete(s.tuples, k)
	t := row.Tuple
	return &t, true, nil
}

func (s *Store) Get(ctx context.Context, namespace string, key store.TupleKey) (*model.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row, ok := s.tuples[keyOf(namespace, key)]
	if !ok {
		return nil, nil
	}
	t := row.Tuple
	return &t, nil
}

func (s *Store) List(ctx context.Context, namespace string, filter store.TupleFilter, now time.Time) ([]model.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Tuple
	for _, row := range s.tuples {
		t := row.Tuple
		if t.Namespace != namespace {
			continue
		}
		if filter.ResourceType != "" && t.ResourceType != filter.ResourceType {
			continue
		}
		if filter.ResourceID != "" && t.ResourceID != filter.ResourceID {
			continue
		}
		if filter.Relation != "" && t.Relation != filter.Relation {
			continue
		}
		if filter.SubjectType != "" && t.SubjectType != filter.SubjectType {
			continue
		}
		if filter.SubjectID != "" && t.SubjectID != filter.SubjectID {
			continue
		}
		if filter.SubjectRelation != nil && t.SubjectRelation != *filter.SubjectRelation {
			continue
		}
		if !filter.IncludeExpired && t.Expired(now) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ResourceID < out[j].ResourceID })
	return out, nil
}

func (s *Store) SetExpiration(ctx context.Context, namespace string, key store.TupleKey, expiresAt *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := keyOf(namespace, key)
	row, ok := s.tuples[k]
	if !ok {
		return false, nil
	}
	row.ExpiresAt = expiresAt
	s.tuples[k] = row
	return true, nil
}

func (s *Store) ListExpiring(ctx context.Context, namespace string, now time.Time, within time.Duration) ([]model.Tuple, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := now.Add(within)
	var out []model.Tuple
	for _, row := range s.tuples {
		t := row.Tuple
		if t.Namespace != namespace || t.ExpiresAt == nil {
			continue
		}
		if t.ExpiresAt.After(now) && !t.ExpiresAt.After(cutoff) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	return out, nil
}

func (s *Store) DeleteExpired(ctx context.Context, namespace string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for k, row := range s.tuples {
		if row.Namespace == namespace && row.ExpiresAt != nil && row.ExpiresAt.Before(now) {
			delete(s.tuples, k)
			count++
		}
	}
	return count, nil
}

func (s *Store) Stats(ctx context.Context, namespace string, now time.Time) (int, int, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	subjects := make(map[string]bool)
	resources := make(map[string]bool)
	count := 0
	for _, row := range s.tuples {
		if row.Namespace != namespace || row.Expired(now) {
			continue
		}
		count++
		if row.SubjectType == "user" {
			subjects[row.SubjectID] = true
		}
		resources[string(row.ResourceType)+":"+row.ResourceID] = true
	}
	return count, len(subjects), len(resources), nil
}

func hierarchyKey(namespace string, rt model.ObjectType) string {
	return namespace + "\x1f" + string(rt)
}

func (s *Store) AddHierarchy(ctx context.Context, namespace string, resourceType model.ObjectType, permission, implies model.Relation) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := hierarchyKey(namespace, resourceType)
	for _, r := range s.hierarchy[k] {
		if r.Permission == permission && r.Implies == implies {
			return r.ID, nil
		}
	}
	rule := model.HierarchyRule{
		ID:           uuid.NewString(),
		Namespace:    namespace,
		ResourceType: resourceType,
		Permission:   permission,
		Implies:      implies,
	}
	s.hierarchy[k] = append(s.hierarchy[k], rule)
	return rule.ID, nil
}

func (s *Store) RemoveHierarchy(ctx context.Context, namespace string, resourceType model.ObjectType, permission, implies model.Relation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := hierarchyKey(namespace, resourceType)
	rules := s.hierarchy[k]
	for i, r := range rules {
		if r.Permission == permission && r.Implies == implies {
			s.hierarchy[k] = append(rules[:i], rules[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ClearHierarchy(ctx context.Context, namespace string, resourceType model.ObjectType) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := hierarchyKey(namespace, resourceType)
	n := len(s.hierarchy[k])
	delete(s.hierarchy, k)
	return n, nil
}

func (s *Store) ListRules(ctx context.Context, namespace string, resourceType model.ObjectType) ([]model.HierarchyRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if resourceType != "" {
		out := make([]model.HierarchyRule, len(s.hierarchy[hierarchyKey(namespace, resourceType)]))
		copy(out, s.hierarchy[hierarchyKey(namespace, resourceType)])
		return out, nil
	}

	var out []model.HierarchyRule
	prefix := namespace + "\x1f"
	for k, rules := range s.hierarchy {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			out = append(out, rules...)
		}
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context, namespace string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	prefix := namespace + "\x1f"
	for k, rules := range s.hierarchy {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			count += len(rules)
		}
	}
	return count, nil
}

func (s *Store) Append(ctx context.Context, event model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	s.auditLog = append(s.auditLog, event)
	return nil
}

// Events returns a copy of the recorded audit log, for test assertions.
func (s *Store) Events(namespace string) []model.AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.AuditEvent
	for _, e := range s.auditLog {
		if e.Namespace == namespace {
			out = append(out, e)
		}
	}
	return out
}

func partitionName(year int, month time.Month) string {
	return fmt.Sprintf("audit_events_y%04dm%02d", year, int(month))
}

func (s *Store) EnsurePartitions(ctx context.Context, monthsAhead int, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var created []string
	y, m, _ := now.Date()
	cursor := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i <= monthsAhead; i++ {
		name := partitionName(cursor.Year(), cursor.Month())
		if !s.partitions[name] {
			s.partitions[name] = true
			created = append(created, name)
		}
		cursor = cursor.AddDate(0, 1, 0)
	}
	return created, nil
}

func (s *Store) DropPartitions(ctx context.Context, olderThanMonths int, now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	y, m, _ := now.Date()
	cutoff := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, -olderThanMonths, 0)

	var dropped []string
	for name := range s.partitions {
		var py, pm int
		if _, err := fmt.Sscanf(name, "audit_events_y%04dm%02d", &py, &pm); err != nil {
			continue
		}
		end := time.Date(py, time.Month(pm), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
		if !end.After(cutoff) {
			delete(s.partitions, name)
			dropped = append(dropped, name)
		}
	}
	sort.Strings(dropped)
	return dropped, nil
}

func (s *Store) CreatePartition(ctx context.Context, year int, month time.Month) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := partitionName(year, month)
	if s.partitions[name] {
		return "", nil
	}
	s.partitions[name] = true
	return name, nil
}

var (
	_ store.TupleStore     = (*Store)(nil)
	_ store.HierarchyStore = (*Store)(nil)
	_ store.AuditStore     = (*Store)(nil)
)
