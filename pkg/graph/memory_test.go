package graph

import (
	"context"
	"testing"

	"github.com/code-100-precent/MedIntake/pkg/clinical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_GraphShape(t *testing.T) {
	store := NewMemoryStore()
	_, err := (&Executor{}).Apply(context.Background(), store, compileExample(t))
	require.NoError(t, err)

	c, ok := store.Node("Case", "3f2b8c1e-0000-4000-8000-000000000001")
	require.True(t, ok)
	assert.Equal(t, "Nausea", c.Props["chief_complaint"])

	_, ok = store.Node("Symptom", "Nausea")
	assert.True(t, ok)
	_, ok = store.Node("Condition", "Pregnancy")
	assert.True(t, ok)

	_, rels := store.Snapshot()
	var types []string
	for _, r := range rels {
		types = append(types, r.Type)
	}
	assert.ElementsMatch(t, []string{"HAS_ENTITY", "HAS_ENTITY", "SUGGESTS"}, types)
}

func TestMemoryStore_SameNameAcrossCases(t *testing.T) {
	store := NewMemoryStore()
	exec := &Executor{}

	first := exampleRecord()
	second := exampleRecord()
	second.Metadata.CaseID = "3f2b8c1e-0000-4000-8000-000000000002"

	for _, rec := range []*clinical.CaseRecord{first, second} {
		stmts, err := NewCompiler(SkipInvalid).Compile(rec)
		require.NoError(t, err)
		_, err = exec.Apply(context.Background(), store, stmts)
		require.NoError(t, err)
	}

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	// 两个 Case 共享同名实体节点
	assert.Equal(t, int64(4), stats.TotalNodes)
	assert.Equal(t, int64(5), stats.TotalRelationships)
	assert.Equal(t, []LabelCount{
		{Name: "Case", Count: 2},
		{Name: "Condition", Count: 1},
		{Name: "Symptom", Count: 1},
	}, stats.NodeLabels)
	assert.Equal(t, []LabelCount{
		{Name: "HAS_ENTITY", Count: 4},
		{Name: "SUGGESTS", Count: 1},
	}, stats.RelationshipTypes)
}

func TestMemoryStore_Clear(t *testing.T) {
	store := NewMemoryStore()
	_, err := (&Executor{}).Apply(context.Background(), store, compileExample(t))
	require.NoError(t, err)

	assert.ErrorIs(t, store.Clear(context.Background(), false), ErrClearNotConfirmed)
	stats, _ := store.Stats(context.Background())
	assert.Equal(t, int64(3), stats.TotalNodes)

	require.NoError(t, store.Clear(context.Background(), true))
	stats, _ = store.Stats(context.Background())
	assert.Equal(t, int64(0), stats.TotalNodes)
	assert.Equal(t, int64(0), stats.TotalRelationships)
}

func TestMemoryConn_Closed(t *testing.T) {
	conn, err := NewMemoryStore().Open(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Close(context.Background()))

	_, err = conn.Execute(context.Background(), compileExample(t)[0])
	assert.Error(t, err)
}
