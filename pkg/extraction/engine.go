package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/code-100-precent/MedIntake/pkg/clinical"
	"github.com/code-100-precent/MedIntake/pkg/llm"
	"github.com/code-100-precent/MedIntake/pkg/logger"
	"github.com/code-100-precent/MedIntake/pkg/metrics"
	"go.uber.org/zap"
)

const defaultTimeout = 2 * time.Minute

// Options 抽取引擎配置
type Options struct {
	Timeout time.Duration // 单次推理请求超时
	Metrics *metrics.Metrics
}

// Engine turns free clinical text into validated case records.
type Engine struct {
	gen     llm.Generator
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewEngine(gen llm.Generator, opts Options) *Engine {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	return &Engine{gen: gen, timeout: opts.Timeout, metrics: opts.Metrics}
}

// Extract runs the extraction contract against rawText.
func (e *Engine) Extract(ctx context.Context, rawText string) (*clinical.CaseRecord, error) {
	if strings.TrimSpace(rawText) == "" {
		return nil, &Error{Kind: KindInput, Detail: "raw text is empty"}
	}

	start := time.Now()
	logger.Info("Analyzing medical report", zap.Int("length", len(rawText)))

	response, err := e.generate(ctx, extractionPrompt(rawText))
	if err != nil {
		e.metrics.RecordExtraction(false, time.Since(start))
		return nil, &Error{Kind: KindInference, Detail: "generate case record", Err: err}
	}

	record, err := parseCase(response)
	if err != nil {
		e.metrics.RecordExtraction(false, time.Since(start))
		logger.Warn("Extraction output rejected", zap.Error(err))
		return nil, err
	}

	e.metrics.RecordExtraction(true, time.Since(start))
	logger.Info("Extracted case record",
		zap.Int("entities", len(record.Entities)),
		zap.Int("relationships", len(record.Relationships)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return record, nil
}

// Enhance asks the model for knowledge based additions. Missing ICD codes
// are filled, new relationships (and the entities they introduce) are
// appended with knowledge_based=true. On any failure the original record is
// returned as is.
func (e *Engine) Enhance(ctx context.Context, record *clinical.CaseRecord) *clinical.CaseRecord {
	if record == nil {
		return nil
	}

	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		logger.Warn("Error enhancing data, using original data", zap.Error(err))
		e.metrics.RecordEnhance(false)
		return record
	}

	response, err := e.generate(ctx, enhancePrompt(payload))
	if err != nil {
		logger.Warn("Error enhancing data, using original data", zap.Error(err))
		e.metrics.RecordEnhance(false)
		return record
	}

	enhanced, err := parseCase(response)
	if err != nil {
		logger.Warn("Enhancement output rejected, using original data", zap.Error(err))
		e.metrics.RecordEnhance(false)
		return record
	}

	merged, added := merge(record, enhanced)
	e.metrics.RecordEnhance(true)
	logger.Info("Enhanced clinical data with medical knowledge",
		zap.Int("added_entities", added.entities),
		zap.Int("added_relationships", added.relationships),
		zap.Int("filled_icd_codes", added.icdCodes),
	)
	return merged
}

// generate calls the model under the engine timeout. Panics in the
// collaborator are reported as errors.
func (e *Engine) generate(ctx context.Context, prompt llm.Prompt) (text string, err error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()
	return e.gen.Generate(ctx, prompt, caseRecordHint)
}

type additions struct {
	entities      int
	relationships int
	icdCodes      int
}

func relKey(r clinical.ClinicalRelationship) string {
	return nameKey(r.From) + "\x00" + nameKey(r.To) + "\x00" + strings.ToUpper(clinical.FoldKey(r.Type))
}

func merge(original, enhanced *clinical.CaseRecord) (*clinical.CaseRecord, additions) {
	out := original.Clone()
	var added additions

	known := make(map[string]int, len(out.Entities))
	for i, ent := range out.Entities {
		known[nameKey(ent.Name)] = i
	}
	candidates := make(map[string]clinical.ClinicalEntity, len(enhanced.Entities))
	for _, ent := range enhanced.Entities {
		key := nameKey(ent.Name)
		if i, ok := known[key]; ok {
			if out.Entities[i].ICDCode == "" && ent.ICDCode != "" {
				out.Entities[i].ICDCode = ent.ICDCode
				added.icdCodes++
			}
			continue
		}
		candidates[key] = ent
	}

	present := make(map[string]bool, len(out.Relationships))
	for _, rel := range out.Relationships {
		present[relKey(rel)] = true
	}

	for _, rel := range enhanced.Relationships {
		key := relKey(rel)
		if present[key] {
			continue
		}
		// 两端必须是已有实体或模型新给出的实体
		for _, end := range []string{rel.From, rel.To} {
			k := nameKey(end)
			if _, ok := known[k]; ok {
				continue
			}
			ent, ok := candidates[k]
			if !ok {
				continue
			}
			ent.Properties = ent.Properties.Clone()
			ent.Properties.Set(clinical.PropKnowledgeBased, clinical.Bool(true))
			known[k] = len(out.Entities)
			out.Entities = append(out.Entities, ent)
			added.entities++
		}
		rel.Properties = rel.Properties.Clone()
		rel.Properties.Set(clinical.PropKnowledgeBased, clinical.Bool(true))
		out.Relationships = append(out.Relationships, rel)
		present[key] = true
		added.relationships++
	}

	return out, added
}
