package memstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relgraph/relgraph/internal/model"
	"github.com/relgraph/relgraph/internal/store"
	"github.com/relgraph/relgraph/internal/store/memstore"
)

func TestWriteTuple_CreatesThenUpdatesExpiration(t *testing.T) {
	s := memstore.New()
	key := store.TupleKey{ResourceType: "doc", ResourceID: "readme", Relation: "viewer", SubjectType: "user", SubjectID: "alice"}

	id, created, err := s.WriteTuple(context.Background(), "acme", key, nil, time.Now())
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, id)

	future := time.Now().Add(time.Hour)
	id2, created2, err := s.WriteTuple(context.Background(), "acme", key, &future, time.Now())
	require.NoError(t, err)
	assert.False(t, created2)
	assert.Equal(t, id, id2)

	got, err := s.Get(context.Background(), "acme", key)
	require.NoError(t, err)
	require.NotNil(t, got.ExpiresAt)
	assert.WithinDuration(t, future, *got.ExpiresAt, time.Second)
}

func TestBulkWriteTuples_SkipsExistingMembers(t *testing.T) {
	s := memstore.New()
	now := time.Now()
	_, _, err := s.WriteTuple(context.Background(), "acme", store.TupleKey{
		ResourceType: "doc", ResourceID: "readme", Relation: "viewer", SubjectType: "user", SubjectID: "alice",
	}, nil, now)
	require.NoError(t, err)

	created, err := s.BulkWriteTuples(context.Background(), "acme", "doc", "readme", "viewer", "user", []string{"alice", "bob", "carol"}, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"bob", "carol"}, created, "alice was already granted, only bob and carol should be newly inserted")
}

func TestDeleteTuple_ReportsNotFound(t *testing.T) {
	s := memstore.New()
	key := store.TupleKey{ResourceType: "doc", ResourceID: "readme", Relation: "viewer", SubjectType: "user", SubjectID: "alice"}

	deleted, found, err := s.DeleteTuple(context.Background(), "acme", key)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, deleted)

	_, _, err = s.WriteTuple(context.Background(), "acme", key, nil, time.Now())
	require.NoError(t, err)

	deleted, found, err = s.DeleteTuple(context.Background(), "acme", key)
	require.NoError(t, err)
	assert.True(t, found)
	require.NotNil(t, deleted)
	assert.Equal(t, "alice", deleted.SubjectID)
}

func TestList_FiltersByNamespaceAndExpiration(t *testing.T) {
	s := memstore.New()
	now := time.Now()
	past := now.Add(-time.Hour)

	_, _, err := s.WriteTuple(context.Background(), "acme", store.TupleKey{
		ResourceType: "doc", ResourceID: "a", Relation: "viewer", SubjectType: "user", SubjectID: "alice",
	}, nil, now)
	require.NoError(t, err)
	_, _, err = s.WriteTuple(context.Background(), "acme", store.TupleKey{
		ResourceType: "doc", ResourceID: "b", Relation: "viewer", SubjectType: "user", SubjectID: "alice",
	}, &past, now)
	require.NoError(t, err)
	_, _, err = s.WriteTuple(context.Background(), "globex", store.TupleKey{
		ResourceType: "doc", ResourceID: "c", Relation: "viewer", SubjectType: "user", SubjectID: "alice",
	}, nil, now)
	require.NoError(t, err)

	rows, err := s.List(context.Background(), "acme", store.TupleFilter{}, now)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a", rows[0].ResourceID)

	rows, err = s.List(context.Background(), "acme", store.TupleFilter{IncludeExpired: true}, now)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestSetExpiration(t *testing.T) {
	s := memstore.New()
	key := store.TupleKey{ResourceType: "doc", ResourceID: "readme", Relation: "viewer", SubjectType: "user", SubjectID: "alice"}
	_, _, err := s.WriteTuple(context.Background(), "acme", key, nil, time.Now())
	require.NoError(t, err)

	future := time.Now().Add(time.Hour)
	found, err := s.SetExpiration(context.Background(), "acme", key, &future)
	require.NoError(t, err)
	assert.True(t, found)

	missing := store.TupleKey{ResourceType: "doc", ResourceID: "other", Relation: "viewer", SubjectType: "user", SubjectID: "alice"}
	found, err = s.SetExpiration(context.Background(), "acme", missing, &future)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListExpiring_OrdersBySoonestFirst(t *testing.T) {
	s := memstore.New()
	now := time.Now()
	soon := now.Add(10 * time.Minute)
	later := now.Add(time.Hour)

	_, _, err := s.WriteTuple(context.Background(), "acme", store.TupleKey{
		ResourceType: "doc", ResourceID: "a", Relation: "viewer", SubjectType: "user", SubjectID: "alice",
	}, &later, now)
	require.NoError(t, err)
	_, _, err = s.WriteTuple(context.Background(), "acme", store.TupleKey{
		ResourceType: "doc", ResourceID: "b", Relation: "viewer", SubjectType: "user", SubjectID: "alice",
	}, &soon, now)
	require.NoError(t, err)

	rows, err := s.ListExpiring(context.Background(), "acme", now, 2*time.Hour)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "b", rows[0].ResourceID)
	assert.Equal(t, "a", rows[1].ResourceID)
}

func TestDeleteExpired(t *testing.T) {
	s := memstore.New()
	now := time.Now()
	past := now.Add(-time.Hour)

	_, _, err := s.WriteTuple(context.Background(), "acme", store.TupleKey{
		ResourceType: "doc", ResourceID: "a", Relation: "viewer", SubjectType: "user", SubjectID: "alice",
	}, &past, now)
	require.NoError(t, err)
	_, _, err = s.WriteTuple(context.Background(), "acme", store.TupleKey{
		ResourceType: "doc", ResourceID: "b", Relation: "viewer", SubjectType: "user", SubjectID: "alice",
	}, nil, now)
	require.NoError(t, err)

	count, err := s.DeleteExpired(context.Background(), "acme", now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	rows, err := s.List(context.Background(), "acme", store.TupleFilter{IncludeExpired: true}, now)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestStats_CountsDistinctSubjectsAndResources(t *testing.T) {
	s := memstore.New()
	now := time.Now()
	for _, id := range []string{"a", "b"} {
		_, _, err := s.WriteTuple(context.Background(), "acme", store.TupleKey{
			ResourceType: "doc", ResourceID: id, Relation: "viewer", SubjectType: "user", SubjectID: "alice",
		}, nil, now)
		require.NoError(t, err)
	}
	_, _, err := s.WriteTuple(context.Background(), "acme", store.TupleKey{
		ResourceType: "doc", ResourceID: "a", Relation: "editor", SubjectType: "user", SubjectID: "bob",
	}, nil, now)
	require.NoError(t, err)

	count, subjects, resources, err := s.Stats(context.Background(), "acme", now)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.Equal(t, 2, subjects)
	assert.Equal(t, 2, resources)
}

func TestHierarchy_AddRemoveClear(t *testing.T) {
	s := memstore.New()
	id, err := s.AddHierarchy(context.Background(), "acme", "doc", "owner", "viewer")
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	// Adding the same rule again returns the existing id, not a duplicate.
	id2, err := s.AddHierarchy(context.Background(), "acme", "doc", "owner", "viewer")
	require.NoError(t, err)
	assert.Equal(t, id, id2)

	rules, err := s.ListRules(context.Background(), "acme", "doc")
	require.NoError(t, err)
	assert.Len(t, rules, 1)

	count, err := s.Count(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	removed, err := s.RemoveHierarchy(context.Background(), "acme", "doc", "owner", "viewer")
	require.NoError(t, err)
	assert.True(t, removed)

	rules, err = s.ListRules(context.Background(), "acme", "doc")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestHierarchy_ClearReturnsRemovedCount(t *testing.T) {
	s := memstore.New()
	_, err := s.AddHierarchy(context.Background(), "acme", "doc", "owner", "viewer")
	require.NoError(t, err)
	_, err = s.AddHierarchy(context.Background(), "acme", "doc", "editor", "viewer")
	require.NoError(t, err)

	n, err := s.ClearHierarchy(context.Background(), "acme", "doc")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestAppendAndEvents_FiltersByNamespace(t *testing.T) {
	s := memstore.New()
	err := s.Append(context.Background(), model.AuditEvent{Namespace: "acme", EventType: model.EventTupleCreated})
	require.NoError(t, err)
	err = s.Append(context.Background(), model.AuditEvent{Namespace: "globex", EventType: model.EventTupleCreated})
	require.NoError(t, err)

	events := s.Events("acme")
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].EventID, "Append should assign an id when the caller leaves it blank")
}

func TestEnsurePartitions_IsIdempotent(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	created, err := s.EnsurePartitions(context.Background(), 2, now)
	require.NoError(t, err)
	assert.Len(t, created, 3)

	created, err = s.EnsurePartitions(context.Background(), 2, now)
	require.NoError(t, err)
	assert.Empty(t, created, "re-running EnsurePartitions for the same window should create nothing new")
}

func TestDropPartitions_RemovesOnlyOlderThanRetention(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)

	_, err := s.CreatePartition(context.Background(), 2025, time.January)
	require.NoError(t, err)
	_, err = s.CreatePartition(context.Background(), 2026, time.June)
	require.NoError(t, err)

	dropped, err := s.DropPartitions(context.Background(), 3, now)
	require.NoError(t, err)
	assert.Equal(t, []string{"audit_events_y2025m01"}, dropped)
}

func TestCreatePartition_SecondCallIsNoop(t *testing.T) {
	s := memstore.New()
	name, err := s.CreatePartition(context.Background(), 2026, time.July)
	require.NoError(t, err)
	assert.Equal(t, "audit_events_y2026m07", name)

	name2, err := s.CreatePartition(context.Background(), 2026, time.July)
	require.NoError(t, err)
	assert.Empty(t, name2)
}
