package task

import (
	"context"
	"errors"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/code-100-precent/MedIntake/internal/models"
	"github.com/code-100-precent/MedIntake/pkg/clinical"
	"github.com/code-100-precent/MedIntake/pkg/dialogue"
	"github.com/code-100-precent/MedIntake/pkg/extraction"
	"github.com/code-100-precent/MedIntake/pkg/graph"
	"github.com/code-100-precent/MedIntake/pkg/llm"
	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/code-100-precent/MedIntake/pkg/metrics"
	stores "github.com/code-100-precent/MedIntake/pkg/storage"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"
)

func init() {
	_ = logger.Init(&logger.LogConfig{Level: "info"}, "test")
}

const caseJSON = `{
  "patient_demographics": {"age": 28, "gender": "female"},
  "chief_complaint": "Morning nausea for two weeks",
  "entities": [
    {"name": "Nausea", "type": "symptom", "properties": {"severity": "moderate"}, "confidence": "high"},
    {"name": "Pregnancy", "type": "condition", "confidence": "moderate"}
  ],
  "relationships": [
    {"from_entity": "Nausea", "to_entity": "Pregnancy", "relationship_type": "suggests"}
  ],
  "clinical_reasoning": "Nausea in the first trimester is common.",
  "recommendations": ["Serum hCG"]
}`

const enhancedJSON = `{
  "patient_demographics": {"age": 28, "gender": "female"},
  "chief_complaint": "Morning nausea for two weeks",
  "entities": [
    {"name": "Nausea", "type": "symptom"},
    {"name": "Pregnancy", "type": "condition", "icd_code": "Z33.1"},
    {"name": "Hyperemesis gravidarum", "type": "condition", "icd_code": "O21.0"}
  ],
  "relationships": [
    {"from_entity": "Nausea", "to_entity": "Hyperemesis gravidarum", "relationship_type": "may_progress_to"}
  ],
  "clinical_reasoning": "Enhanced",
  "recommendations": []
}`

type downStore struct{}

func (downStore) Open(ctx context.Context) (graph.Conn, error) {
	return nil, errors.New("connection refused")
}
func (downStore) Close(ctx context.Context) error { return nil }

func setupDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: glog.New(log.New(io.Discard, "", 0), glog.Config{LogLevel: glog.Silent}),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&models.ClinicalCase{}, &models.IntakeSession{}))
	return db
}

func newPipeline(t *testing.T, replies ...llm.Reply) (*Pipeline, *graph.MemoryStore) {
	mem := graph.NewMemoryStore()
	return &Pipeline{
		Extractor: extraction.NewEngine(llm.NewScripted(replies...), extraction.Options{}),
		Assembler: &clinical.Assembler{
			Now:   func() time.Time { return time.Date(2025, 5, 1, 8, 30, 0, 0, time.UTC) },
			NewID: func() string { return "3f2b8c1e-0000-4000-8000-000000000001" },
		},
		Compiler:  graph.NewCompiler(graph.SkipInvalid),
		Executor:  &graph.Executor{BatchSize: 10},
		Graph:     mem,
		Artifacts: stores.NewLocalStore(t.TempDir()),
		DB:        setupDB(t),
	}, mem
}

func TestProcess_Success(t *testing.T) {
	p, mem := newPipeline(t, llm.Reply{Text: caseJSON})

	res := p.Process(context.Background(), "28 year old woman with morning nausea", false)
	require.Equal(t, StatusSuccess, res.Status, res.Summary())
	assert.NoError(t, res.Err)
	assert.NoError(t, res.ExecErr)
	assert.NoError(t, res.PersistErr)

	require.NotNil(t, res.Case.Metadata)
	assert.Equal(t, 2, res.Case.Metadata.EntityCount)
	assert.False(t, res.Case.Metadata.Enhanced)
	assert.Len(t, res.Statements, 4)

	require.NotNil(t, res.Batch)
	assert.Equal(t, 4, res.Batch.SuccessCount)
	assert.Equal(t, 0, res.Batch.ErrorCount)
	_, ok := mem.Node("Symptom", "Nausea")
	assert.True(t, ok)

	require.NotNil(t, res.Artifact)
	assert.Equal(t, "medical_case_3f2b8c1e.json", res.Artifact.CaseKey)
	loaded, err := stores.LoadCase(p.Artifacts, res.Artifact.CaseKey)
	require.NoError(t, err)
	assert.Equal(t, res.Case.Metadata.CaseID, loaded.Metadata.CaseID)

	row, err := models.GetClinicalCase(p.DB, res.Case.Metadata.CaseID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, row.Status)
	assert.True(t, row.Executed)
	assert.Equal(t, 4, row.SuccessCount)
	assert.Equal(t, "medical_case_3f2b8c1e.cypher.json", row.StatementsKey)
	assert.Contains(t, row.Record, "Morning nausea")

	summary := res.Summary()
	assert.Contains(t, summary, "case 3f2b8c1e")
	assert.Contains(t, summary, "executed 4/4")
}

func TestProcess_Enhanced(t *testing.T) {
	p, _ := newPipeline(t, llm.Reply{Text: caseJSON}, llm.Reply{Text: enhancedJSON})

	res := p.Process(context.Background(), "report", true)
	require.Equal(t, StatusSuccess, res.Status, res.Summary())
	assert.True(t, res.Case.Metadata.Enhanced)
	assert.Equal(t, 3, res.Case.Metadata.EntityCount)
	assert.Equal(t, 2, res.Case.Metadata.RelationshipCount)
	assert.Contains(t, res.Summary(), "(enhanced)")
}

func TestProcess_EnhanceFailureKeepsOriginal(t *testing.T) {
	p, _ := newPipeline(t, llm.Reply{Text: caseJSON}, llm.Reply{Err: errors.New("model offline")})

	res := p.Process(context.Background(), "report", true)
	require.Equal(t, StatusSuccess, res.Status)
	assert.False(t, res.Case.Metadata.Enhanced)
	assert.Equal(t, 2, res.Case.Metadata.EntityCount)
}

func TestProcess_ExtractionFailure(t *testing.T) {
	m := metrics.NewMetrics()
	p, _ := newPipeline(t, llm.Reply{Text: "not json at all"})
	p.Metrics = m
	before := testutil.ToFloat64(m.CasesTotal.WithLabelValues(StatusFailed))

	res := p.Process(context.Background(), "report", false)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Error(t, res.Err)
	assert.Nil(t, res.Case)
	assert.Nil(t, res.Batch)
	assert.True(t, strings.HasPrefix(res.Summary(), "failed:"))
	assert.Equal(t, before+1, testutil.ToFloat64(m.CasesTotal.WithLabelValues(StatusFailed)))

	var n int64
	p.DB.Model(&models.ClinicalCase{}).Count(&n)
	assert.Equal(t, int64(0), n)
}

func TestProcess_EmptyInput(t *testing.T) {
	p, _ := newPipeline(t)
	res := p.Process(context.Background(), "   ", false)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Error(t, res.Err)
}

func TestProcess_GraphUnavailable(t *testing.T) {
	p, _ := newPipeline(t, llm.Reply{Text: caseJSON})
	p.Graph = downStore{}

	res := p.Process(context.Background(), "report", false)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.NoError(t, res.Err)

	var connErr *graph.ConnectionError
	require.ErrorAs(t, res.ExecErr, &connErr)
	assert.Nil(t, res.Batch)
	assert.NotNil(t, res.Artifact, "statements stay on disk for replay")
	assert.Contains(t, res.Summary(), "not executed")

	row, err := models.GetClinicalCase(p.DB, res.Case.Metadata.CaseID)
	require.NoError(t, err)
	assert.False(t, row.Executed)
	assert.Contains(t, row.Error, "connection refused")
}

func TestProcess_AbortOnInvalid(t *testing.T) {
	bad := strings.Replace(caseJSON, `"relationship_type": "suggests"`, `"relationship_type": "!!!"`, 1)

	t.Run("skip", func(t *testing.T) {
		p, _ := newPipeline(t, llm.Reply{Text: bad})
		res := p.Process(context.Background(), "report", false)
		assert.Equal(t, StatusSuccess, res.Status)
		assert.Error(t, res.CompileErr)
		assert.Len(t, res.Statements, 3)
	})

	t.Run("abort", func(t *testing.T) {
		p, _ := newPipeline(t, llm.Reply{Text: bad})
		p.Compiler = graph.NewCompiler(graph.AbortOnInvalid)
		res := p.Process(context.Background(), "report", false)
		assert.Equal(t, StatusFailed, res.Status)
		var ce *graph.CompileError
		assert.ErrorAs(t, res.Err, &ce)
	})
}

func TestProcess_DryRun(t *testing.T) {
	p, mem := newPipeline(t, llm.Reply{Text: caseJSON})
	p.Graph, p.Artifacts, p.DB = nil, nil, nil

	res := p.Process(context.Background(), "report", false)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Len(t, res.Statements, 4)
	assert.Nil(t, res.Batch)
	assert.Nil(t, res.Artifact)
	nodes, _ := mem.Snapshot()
	assert.Empty(t, nodes)
}

func TestProcess_PanicIsRecovered(t *testing.T) {
	p, _ := newPipeline(t, llm.Reply{Text: caseJSON})
	p.Extractor = nil

	var res *Result
	assert.NotPanics(t, func() { res = p.Process(context.Background(), "report", false) })
	assert.Equal(t, StatusFailed, res.Status)
	assert.ErrorContains(t, res.Err, "pipeline panic")
}

func TestDiagnosisHook(t *testing.T) {
	p, _ := newPipeline(t, llm.Reply{Text: caseJSON}, llm.Reply{Text: "garbage"})

	var got []*Result
	var hook dialogue.DiagnosisHook = p.DiagnosisHook(false, func(r *Result) { got = append(got, r) })

	require.NoError(t, hook(context.Background(), "Likely hyperemesis"))
	assert.Error(t, hook(context.Background(), "Likely hyperemesis"))
	require.Len(t, got, 2)
	assert.Equal(t, StatusSuccess, got[0].Status)
	assert.Equal(t, StatusFailed, got[1].Status)
}

func TestReplay(t *testing.T) {
	p, _ := newPipeline(t, llm.Reply{Text: caseJSON})
	p.Graph = downStore{}

	res := p.Process(context.Background(), "report", false)
	require.Equal(t, StatusSuccess, res.Status)
	require.Error(t, res.ExecErr)

	mem := graph.NewMemoryStore()
	p.Graph = mem
	batch, err := p.Replay(context.Background(), res.Artifact.CaseKey)
	require.NoError(t, err)
	assert.Equal(t, 4, batch.SuccessCount)
	_, ok := mem.Node("Condition", "Pregnancy")
	assert.True(t, ok)

	row, err := models.GetClinicalCase(p.DB, res.Case.Metadata.CaseID)
	require.NoError(t, err)
	assert.True(t, row.Executed)
	assert.Equal(t, 4, row.SuccessCount)
	assert.Empty(t, row.Error)

	_, err = p.Replay(context.Background(), "medical_case_missing.cypher.json")
	assert.Error(t, err)

	p.Artifacts = nil
	_, err = p.Replay(context.Background(), res.Artifact.StatementsKey)
	assert.Error(t, err)
}
