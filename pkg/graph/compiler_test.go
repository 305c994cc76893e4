package graph

import (
	"strings"
	"testing"
	"time"

	"github.com/code-100-precent/MedIntake/pkg/clinical"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stampedRecord(entities []clinical.ClinicalEntity, rels []clinical.ClinicalRelationship) *clinical.CaseRecord {
	return &clinical.CaseRecord{
		Demographics:      clinical.NewProperties("age", 28, "Gender", "female"),
		ChiefComplaint:    "Nausea",
		Entities:          entities,
		Relationships:     rels,
		ClinicalReasoning: "Likely early pregnancy",
		Recommendations:   []string{"hCG test"},
		Metadata: &clinical.Metadata{
			CaseID:            "3f2b8c1e-0000-4000-8000-000000000001",
			CreatedAt:         time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC),
			EntityCount:       len(entities),
			RelationshipCount: len(rels),
		},
	}
}

func exampleRecord() *clinical.CaseRecord {
	return stampedRecord(
		[]clinical.ClinicalEntity{
			{Name: "Nausea", Type: "symptom"},
			{Name: "Pregnancy", Type: "condition"},
		},
		[]clinical.ClinicalRelationship{
			{From: "Nausea", To: "Pregnancy", Type: "suggests"},
		},
	)
}

func TestCompile_Example(t *testing.T) {
	stmts, err := NewCompiler(SkipInvalid).Compile(exampleRecord())
	require.NoError(t, err)
	require.Len(t, stmts, 4)

	assert.Equal(t, KindCase, stmts[0].Kind)
	assert.Equal(t, KindNode, stmts[1].Kind)
	assert.Equal(t, KindNode, stmts[2].Kind)
	assert.Equal(t, KindRelationship, stmts[3].Kind)

	assert.Equal(t, "MERGE (c:Case {id: $id})\nSET c += $props", stmts[0].Text)
	caseProps := stmts[0].Params["props"].(map[string]any)
	assert.Equal(t, "Nausea", caseProps["chief_complaint"])
	assert.Equal(t, "2025-05-01T08:30:00Z", caseProps["created_at"])
	assert.Equal(t, int64(28), caseProps["demographics_age"])
	assert.Equal(t, "female", caseProps["demographics_gender"])
	assert.Equal(t, []string{"hCG test"}, caseProps["recommendations"])

	assert.Equal(t, "Symptom", stmts[1].Label)
	assert.True(t, strings.HasPrefix(stmts[1].Text, "MERGE (n:`Symptom` {name: $name})"))
	assert.Contains(t, stmts[1].Text, "MERGE (c)-[:HAS_ENTITY]->(n)")
	assert.Equal(t, "Nausea", stmts[1].Params["name"])
	assert.Equal(t, "3f2b8c1e-0000-4000-8000-000000000001", stmts[1].Params["case_id"])

	assert.Equal(t, "SUGGESTS", stmts[3].RelType)
	assert.Contains(t, stmts[3].Text, "MERGE (a)-[r:`SUGGESTS`]->(b)")
	assert.Equal(t, "Nausea", stmts[3].Params["from"])
	assert.Equal(t, "Pregnancy", stmts[3].Params["to"])
}

func TestCompile_Deterministic(t *testing.T) {
	c := NewCompiler(SkipInvalid)
	first, err := c.Compile(exampleRecord())
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := c.Compile(exampleRecord())
		require.NoError(t, err)
		assert.Equal(t, first, again)
		for j := range first {
			assert.Equal(t, first[j].String(), again[j].String())
		}
	}
}

func TestCompile_InjectionImmunity(t *testing.T) {
	hostile := []string{
		`Nausea'}) DETACH DELETE n //`,
		"x` {name: 'y'}) MATCH (m) DETACH DELETE m //",
		`"; MATCH (n) DETACH DELETE n; "`,
		`\'); DROP`,
	}

	for _, name := range hostile {
		t.Run(name, func(t *testing.T) {
			rec := stampedRecord(
				[]clinical.ClinicalEntity{{Name: name, Type: "symptom", Properties: clinical.NewProperties("note", name)}},
				[]clinical.ClinicalRelationship{{From: name, To: name, Type: "suggests", Properties: clinical.NewProperties("why", name)}},
			)
			rec.ChiefComplaint = name

			stmts, err := NewCompiler(SkipInvalid).Compile(rec)
			require.NoError(t, err)
			require.Len(t, stmts, 3)

			baseline, err := NewCompiler(SkipInvalid).Compile(exampleRecord())
			require.NoError(t, err)

			// 文本结构与值无关
			assert.Equal(t, baseline[0].Text, stmts[0].Text)
			assert.Equal(t, baseline[1].Text, stmts[1].Text)
			assert.Equal(t, baseline[3].Text, stmts[2].Text)
			for _, s := range stmts {
				assert.NotContains(t, s.Text, name)
			}
			assert.Equal(t, name, stmts[1].Params["name"])
		})
	}
}

func TestCompile_InvalidIdentifiers(t *testing.T) {
	rec := stampedRecord(
		[]clinical.ClinicalEntity{
			{Name: "A", Type: "symptom`) DETACH DELETE n //"},
			{Name: "B", Type: "condition"},
		},
		[]clinical.ClinicalRelationship{
			{From: "A", To: "B", Type: "SUGGESTS]->(b) DELETE b //"},
			{From: "A", To: "B", Type: "confirms/supports"},
			{From: "A", To: "B", Type: "2nd_line"},
		},
	)

	stmts, err := NewCompiler(SkipInvalid).Compile(rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidIdentifier)
	require.Len(t, stmts, 2, "case + valid node only")
	assert.Equal(t, "Condition", stmts[1].Label)
}

func TestCompile_MissingField(t *testing.T) {
	rec := stampedRecord(
		[]clinical.ClinicalEntity{
			{Name: "Fever", Type: "symptom"},
			{Name: "", Type: "symptom"},
			{Name: "Cough", Type: ""},
			{Name: "Flu", Type: "condition"},
		},
		[]clinical.ClinicalRelationship{
			{From: "Fever", To: "Flu", Type: "suggests"},
			{From: "Fever", To: "", Type: "suggests"},
		},
	)

	t.Run("skip invalid", func(t *testing.T) {
		stmts, err := NewCompiler(SkipInvalid).Compile(rec)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMissingField)
		assert.Contains(t, err.Error(), "node[1].name")
		assert.Contains(t, err.Error(), "node[2].type")
		assert.Contains(t, err.Error(), "relationship[1].to_entity")

		require.Len(t, stmts, 4)
		var names []any
		for _, s := range stmts[1:3] {
			names = append(names, s.Params["name"])
		}
		assert.Equal(t, []any{"Fever", "Flu"}, names)
		assert.Equal(t, KindRelationship, stmts[3].Kind)
	})

	t.Run("abort on invalid", func(t *testing.T) {
		stmts, err := NewCompiler(AbortOnInvalid).Compile(rec)
		assert.Nil(t, stmts)

		var ce *CompileError
		require.ErrorAs(t, err, &ce)
		assert.Equal(t, MissingField, ce.Kind)
		assert.Equal(t, KindNode, ce.Item)
		assert.Equal(t, 1, ce.Index)
		assert.Equal(t, "name", ce.Field)
	})
}

func TestCompile_Unstamped(t *testing.T) {
	rec := exampleRecord()
	rec.Metadata = nil

	stmts, err := NewCompiler(SkipInvalid).Compile(rec)
	assert.ErrorIs(t, err, ErrMissingField)
	require.Len(t, stmts, 3)
	assert.NotContains(t, stmts[0].Text, "HAS_ENTITY")
	assert.NotContains(t, stmts[0].Params, "case_id")
}

func TestCompile_Properties(t *testing.T) {
	rec := stampedRecord(
		[]clinical.ClinicalEntity{{
			Name:       "Pregnancy",
			Type:       "condition",
			Properties: clinical.NewProperties("trimester", 1, "name", "override", "notes", nil, "confirmed", false, "weeks", 8.5),
			ICDCode:    "Z33.1",
			Confidence: clinical.ConfidenceHigh,
		}},
		[]clinical.ClinicalRelationship{{
			From: "Nausea", To: "Pregnancy", Type: "suggests",
			Confidence: clinical.ConfidenceModerate,
		}},
	)

	stmts, err := NewCompiler(SkipInvalid).Compile(rec)
	require.NoError(t, err)

	props := stmts[1].Params["props"].(map[string]any)
	assert.Equal(t, map[string]any{
		"trimester":  int64(1),
		"confirmed":  false,
		"weeks":      8.5,
		"icd_code":   "Z33.1",
		"confidence": "high",
	}, props, "name is the merge key and nulls are omitted")

	relProps := stmts[2].Params["props"].(map[string]any)
	assert.Equal(t, map[string]any{"confidence": "moderate"}, relProps)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "Risk_Factor", NormalizeLabel(" Risk factor "))
	assert.Equal(t, "Risk_Factor", NormalizeLabel("risk_factor"))
	assert.Equal(t, "Risk_Factor", NormalizeLabel("RISK-FACTOR"))
	assert.Equal(t, "Symptom", NormalizeLabel("symptom"))

	assert.Equal(t, "INDICATES_NEED_FOR", NormalizeRelType("indicates need-for"))
	assert.Equal(t, "TREATED_BY", NormalizeRelType("treated_by"))
}

func TestParsePolicy(t *testing.T) {
	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, SkipInvalid, p)

	p, err = ParsePolicy("ABORT")
	require.NoError(t, err)
	assert.Equal(t, AbortOnInvalid, p)

	_, err = ParsePolicy("retry")
	assert.Error(t, err)
}

func TestStatement_Preview(t *testing.T) {
	s := Statement{Text: strings.Repeat("a", 150)}
	assert.Equal(t, strings.Repeat("a", 100)+"...", s.Preview(100))

	short := Statement{Text: "MERGE (c:Case {id: $id})", Params: map[string]any{"id": "x"}}
	assert.Equal(t, `MERGE (c:Case {id: $id}) {"id":"x"}`, short.Preview(100))
}
