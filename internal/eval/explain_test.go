package eval_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relgraph/relgraph/internal/eval"
	"github.com/relgraph/relgraph/internal/model"
	"github.com/relgraph/relgraph/internal/store/memstore"
)

func TestExplain_DirectGrant(t *testing.T) {
	s := memstore.New()
	writeTuple(t, s, "doc", "readme", "viewer", "user", "alice", "", nil)
	e := eval.New(s, s)

	paths, err := e.Explain(context.Background(), ns, "alice", "viewer", "doc", "readme", time.Now())
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, eval.PathDirect, paths[0].Kind)
	assert.Equal(t, model.Relation("viewer"), paths[0].ViaRelation)
}

func TestExplain_NoAccessReturnsEmpty(t *testing.T) {
	s := memstore.New()
	e := eval.New(s, s)

	paths, err := e.Explain(context.Background(), ns, "alice", "viewer", "doc", "readme", time.Now())
	require.NoError(t, err)
	assert.Empty(t, paths)
}

func TestExplain_GroupMembership(t *testing.T) {
	s := memstore.New()
	writeTuple(t, s, "group", "eng", model.RelationMember, "user", "alice", "", nil)
	writeTuple(t, s, "doc", "readme", "viewer", "group", "eng", "", nil)
	e := eval.New(s, s)

	paths, err := e.Explain(context.Background(), ns, "alice", "viewer", "doc", "readme", time.Now())
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, eval.PathGroup, paths[0].Kind)
	assert.Equal(t, "eng", paths[0].ViaSubjectID)
	assert.Equal(t, model.ObjectType("group"), paths[0].ViaSubjectType)
}

func TestExplain_HierarchyImplication(t *testing.T) {
	s := memstore.New()
	writeTuple(t, s, "doc", "readme", "owner", "user", "alice", "", nil)
	_, err := s.AddHierarchy(context.Background(), ns, "doc", "owner", "viewer")
	require.NoError(t, err)
	e := eval.New(s, s)

	paths, err := e.Explain(context.Background(), ns, "alice", "viewer", "doc", "readme", time.Now())
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, eval.PathHierarchy, paths[0].Kind)
	assert.Equal(t, model.Relation("owner"), paths[0].ViaRelation)
}

func TestExplain_ResourceParentChain(t *testing.T) {
	s := memstore.New()
	writeTuple(t, s, "folder", "root", "viewer", "user", "alice", "", nil)
	writeTuple(t, s, "doc", "readme", model.RelationParent, "folder", "root", "", nil)
	e := eval.New(s, s)

	paths, err := e.Explain(context.Background(), ns, "alice", "viewer", "doc", "readme", time.Now())
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, eval.PathResource, paths[0].Kind)
	assert.Equal(t, []string{"doc:readme", "folder:root"}, paths[0].PathChain)
}

func TestExplainText_NoAccessMessage(t *testing.T) {
	s := memstore.New()
	e := eval.New(s, s)

	lines, err := e.ExplainText(context.Background(), ns, "alice", "viewer", "doc", "readme", time.Now())
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "no access")
}

func TestExplainText_DirectGrantMessage(t *testing.T) {
	s := memstore.New()
	writeTuple(t, s, "doc", "readme", "viewer", "user", "alice", "", nil)
	e := eval.New(s, s)

	lines, err := e.ExplainText(context.Background(), ns, "alice", "viewer", "doc", "readme", time.Now())
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "direct:")
}
