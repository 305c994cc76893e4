package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/code-100-precent/MedIntake/internal/models"
	"github.com/code-100-precent/MedIntake/pkg/clinical"
	"github.com/code-100-precent/MedIntake/pkg/dialogue"
	"github.com/code-100-precent/MedIntake/pkg/extraction"
	"github.com/code-100-precent/MedIntake/pkg/graph"
	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/code-100-precent/MedIntake/pkg/metrics"
	stores "github.com/code-100-precent/MedIntake/pkg/storage"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	StatusSuccess = models.CaseStatusSuccess
	StatusFailed  = models.CaseStatusFailed
)

// Pipeline 从自由文本到图谱的完整流程：抽取 -> 增强 -> 盖章 -> 编译 -> 落盘 -> 执行 -> 记录
type Pipeline struct {
	Extractor *extraction.Engine
	Assembler *clinical.Assembler
	Compiler  *graph.Compiler
	Executor  *graph.Executor

	Graph     graph.Store  // 为空时只生成语句，不执行
	Artifacts stores.Store // 为空时不写产物文件
	DB        *gorm.DB     // 为空时不记录病例
	Metrics   *metrics.Metrics
}

// Result 单次处理结果
type Result struct {
	Case       *clinical.CaseRecord
	Statements []graph.Statement
	Status     string
	Err        error // 导致 failed 的原因

	CompileErr error // SkipInvalid 下被跳过的条目
	ExecErr    error // 图数据库不可达或执行被取消，不影响 Status
	PersistErr error // 产物或数据库记录写入失败，不影响 Status

	Batch    *graph.BatchResult
	Artifact *stores.Artifact
	Elapsed  time.Duration
}

// Process never panics; any failure is reported through Result.
func (p *Pipeline) Process(ctx context.Context, rawText string, enhance bool) (res *Result) {
	start := time.Now()
	res = &Result{Status: StatusFailed}
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Pipeline panicked", zap.Any("panic", r))
			res.Status = StatusFailed
			res.Err = fmt.Errorf("pipeline panic: %v", r)
		}
		res.Elapsed = time.Since(start)
		p.Metrics.RecordCase(res.Status)
		logger.Info("Case processed", zap.String("summary", res.Summary()))
	}()

	record, err := p.Extractor.Extract(ctx, rawText)
	if err != nil {
		res.Err = err
		return res
	}

	enhanced := false
	if enhance {
		merged := p.Extractor.Enhance(ctx, record)
		enhanced = merged != record
		record = merged
	}

	assembler := p.Assembler
	if assembler == nil {
		assembler = clinical.NewAssembler()
	}
	stamped, err := assembler.Stamp(record, enhanced)
	if err != nil {
		res.Err = err
		return res
	}
	res.Case = stamped

	stmts, err := p.Compiler.Compile(stamped)
	if err != nil {
		if stmts == nil {
			res.Err = err
			return res
		}
		res.CompileErr = err
		logger.Warn("Skipped invalid items while compiling", zap.Error(err))
	}
	res.Statements = stmts
	res.Status = StatusSuccess

	if p.Artifacts != nil {
		art, err := stores.SaveCase(p.Artifacts, stamped, stmts)
		if err != nil {
			logger.Error("Failed to save case artifacts", zap.Error(err))
			res.PersistErr = err
		} else {
			res.Artifact = &art
		}
	}

	if p.Graph != nil {
		batch, err := p.Executor.Apply(ctx, p.Graph, stmts)
		res.Batch = batch
		if err != nil {
			var connErr *graph.ConnectionError
			if errors.As(err, &connErr) {
				logger.Error("Graph store unavailable, statements kept for replay", zap.Error(err))
			} else {
				logger.Warn("Graph execution ended early", zap.Error(err))
			}
			res.ExecErr = err
		}
	}

	if p.DB != nil {
		if err := models.SaveClinicalCase(p.DB, res.toModel()); err != nil {
			logger.Error("Failed to record clinical case", zap.Error(err))
			res.PersistErr = errors.Join(res.PersistErr, err)
		}
	}
	return res
}

// DiagnosisHook adapts the pipeline to the dialogue controller. done, when
// set, receives every result.
func (p *Pipeline) DiagnosisHook(enhance bool, done func(*Result)) dialogue.DiagnosisHook {
	return func(ctx context.Context, thesis string) error {
		res := p.Process(ctx, thesis, enhance)
		if done != nil {
			done(res)
		}
		return res.Err
	}
}

// Replay executes the statements saved for a case. key may name either the
// case file or its statements file.
func (p *Pipeline) Replay(ctx context.Context, key string) (*graph.BatchResult, error) {
	if p.Artifacts == nil {
		return nil, errors.New("replay requires an artifact store")
	}
	base := strings.TrimSuffix(strings.TrimSuffix(key, ".cypher.json"), ".json")
	stmts, err := stores.LoadStatements(p.Artifacts, base+".cypher.json")
	if err != nil {
		return nil, err
	}
	logger.Info("Replaying saved statements", zap.String("key", base), zap.Int("statements", len(stmts)))

	batch, err := p.Executor.Apply(ctx, p.Graph, stmts)
	if batch != nil && p.DB != nil {
		p.recordReplay(base+".json", batch)
	}
	return batch, err
}

func (p *Pipeline) recordReplay(caseKey string, batch *graph.BatchResult) {
	record, err := stores.LoadCase(p.Artifacts, caseKey)
	if err != nil || record.Metadata == nil {
		logger.Warn("Replayed case file not readable, database not updated", zap.String("key", caseKey), zap.Error(err))
		return
	}
	row, err := models.GetClinicalCase(p.DB, record.Metadata.CaseID)
	if err != nil {
		logger.Warn("Replayed case not recorded", zap.String("caseID", record.Metadata.CaseID), zap.Error(err))
		return
	}
	row.Executed = true
	row.Error = ""
	row.SuccessCount = batch.SuccessCount
	row.ErrorCount = batch.ErrorCount
	row.ZeroEffect = batch.ZeroEffect
	row.ElapsedMs = batch.Elapsed.Milliseconds()
	if err := p.DB.Save(row).Error; err != nil {
		logger.Error("Failed to update replayed case", zap.Error(err))
	}
}

func (r *Result) toModel() *models.ClinicalCase {
	md := r.Case.Metadata
	c := &models.ClinicalCase{
		CaseID:            md.CaseID,
		ChiefComplaint:    r.Case.ChiefComplaint,
		Status:            r.Status,
		Enhanced:          md.Enhanced,
		EntityCount:       md.EntityCount,
		RelationshipCount: md.RelationshipCount,
		StatementCount:    len(r.Statements),
	}
	if r.ExecErr != nil {
		c.Error = r.ExecErr.Error()
	}
	if r.Batch != nil {
		c.Executed = true
		c.SuccessCount = r.Batch.SuccessCount
		c.ErrorCount = r.Batch.ErrorCount
		c.ZeroEffect = r.Batch.ZeroEffect
		c.ElapsedMs = r.Batch.Elapsed.Milliseconds()
	}
	if r.Artifact != nil {
		c.ArtifactKey = r.Artifact.CaseKey
		c.StatementsKey = r.Artifact.StatementsKey
	}
	if raw, err := json.Marshal(r.Case); err == nil {
		c.Record = string(raw)
	}
	return c
}

// Summary 一行文字的处理报告
func (r *Result) Summary() string {
	if r == nil {
		return "no result"
	}
	if r.Status == StatusFailed {
		return fmt.Sprintf("failed: %v", r.Err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "case %s: %d entities, %d relationships, %d statements",
		r.Case.Metadata.ShortID(), len(r.Case.Entities), len(r.Case.Relationships), len(r.Statements))
	if r.Case.Metadata.Enhanced {
		sb.WriteString(" (enhanced)")
	}
	switch {
	case r.Batch != nil:
		fmt.Fprintf(&sb, "; executed %d/%d in %s", r.Batch.SuccessCount, r.Batch.Total, r.Batch.Elapsed.Round(time.Millisecond))
		if r.Batch.ErrorCount > 0 {
			fmt.Fprintf(&sb, ", %d failed", r.Batch.ErrorCount)
		}
		if r.Batch.ZeroEffect > 0 {
			fmt.Fprintf(&sb, ", %d matched nothing", r.Batch.ZeroEffect)
		}
	case r.ExecErr != nil:
		fmt.Fprintf(&sb, "; not executed: %v", r.ExecErr)
	default:
		sb.WriteString("; not executed")
	}
	if r.Artifact != nil {
		fmt.Fprintf(&sb, "; saved %s", r.Artifact.CaseKey)
	}
	return sb.String()
}
