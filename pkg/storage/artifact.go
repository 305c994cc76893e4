package stores

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/code-100-precent/MedIntake/pkg/clinical"
	"github.com/code-100-precent/MedIntake/pkg/graph"
	"github.com/code-100-precent/MedIntake/pkg/logger"
	"go.uber.org/zap"
)

const casePrefix = "medical_case_"

// ErrUnstamped 未盖章的病例没有 id，无法命名产物
var ErrUnstamped = errors.New("case record has no metadata")

// Artifact names the files written for one case.
type Artifact struct {
	CaseKey       string `json:"case_key"`
	StatementsKey string `json:"statements_key"`
	ScriptKey     string `json:"script_key"`
}

// StoredStatement is one entry of the statements file.
type StoredStatement struct {
	Index   int            `json:"index"`
	Kind    graph.Kind     `json:"kind"`
	Text    string         `json:"text"`
	Params  map[string]any `json:"params"`
	Label   string         `json:"label,omitempty"`
	RelType string         `json:"rel_type,omitempty"`
	// Floats 记录浮点参数的路径，整数值的浮点数重放时不会变成整数
	Floats [][]string `json:"floats,omitempty"`
}

// ArtifactFor returns the file names used for record.
func ArtifactFor(record *clinical.CaseRecord) (Artifact, error) {
	if record == nil || record.Metadata == nil || record.Metadata.CaseID == "" {
		return Artifact{}, ErrUnstamped
	}
	base := casePrefix + record.Metadata.ShortID()
	return Artifact{
		CaseKey:       base + ".json",
		StatementsKey: base + ".cypher.json",
		ScriptKey:     base + ".cypher",
	}, nil
}

// SaveCase writes the record, its statements for replay and a readable
// script of the same statements.
func SaveCase(store Store, record *clinical.CaseRecord, stmts []graph.Statement) (Artifact, error) {
	art, err := ArtifactFor(record)
	if err != nil {
		return Artifact{}, err
	}

	caseJSON, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("encode case record: %w", err)
	}
	if err := store.Write(art.CaseKey, bytes.NewReader(caseJSON)); err != nil {
		return Artifact{}, fmt.Errorf("write %s: %w", art.CaseKey, err)
	}

	stored := make([]StoredStatement, len(stmts))
	var script strings.Builder
	for i, s := range stmts {
		stored[i] = StoredStatement{Index: i, Kind: s.Kind, Text: s.Text, Params: s.Params, Label: s.Label, RelType: s.RelType}
		collectFloats(s.Params, nil, &stored[i].Floats)
		fmt.Fprintf(&script, "// %d %s\n%s;\n\n", i, s.Kind, s.String())
	}
	stmtJSON, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("encode statements: %w", err)
	}
	if err := store.Write(art.StatementsKey, bytes.NewReader(stmtJSON)); err != nil {
		return Artifact{}, fmt.Errorf("write %s: %w", art.StatementsKey, err)
	}
	if err := store.Write(art.ScriptKey, strings.NewReader(script.String())); err != nil {
		return Artifact{}, fmt.Errorf("write %s: %w", art.ScriptKey, err)
	}

	logger.Info("Case artifacts saved",
		zap.String("case", art.CaseKey),
		zap.String("statements", art.StatementsKey),
		zap.Int("count", len(stmts)),
	)
	return art, nil
}

// LoadCase reads a record written by SaveCase.
func LoadCase(store Store, key string) (*clinical.CaseRecord, error) {
	data, err := readAll(store, key)
	if err != nil {
		return nil, err
	}
	var record clinical.CaseRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &record, nil
}

// LoadStatements reads a statements file back in its original order.
// Numbers saved as floats come back as float64, the rest as int64.
func LoadStatements(store Store, key string) ([]graph.Statement, error) {
	data, err := readAll(store, key)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var stored []StoredStatement
	if err := dec.Decode(&stored); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}

	stmts := make([]graph.Statement, len(stored))
	for i, s := range stored {
		if s.Index != i {
			return nil, fmt.Errorf("decode %s: statement %d has index %d", key, i, s.Index)
		}
		floats := make(map[string]bool, len(s.Floats))
		for _, path := range s.Floats {
			floats[pathKey(path)] = true
		}
		params, _ := normalizeNumbers(s.Params, nil, floats).(map[string]any)
		stmts[i] = graph.Statement{Kind: s.Kind, Text: s.Text, Params: params, Label: s.Label, RelType: s.RelType}
	}
	return stmts, nil
}

func readAll(store Store, key string) ([]byte, error) {
	rc, _, err := store.Read(key)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	defer rc.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func pathKey(path []string) string {
	return strings.Join(path, "\x00")
}

func collectFloats(v any, path []string, out *[][]string) {
	switch t := v.(type) {
	case float32, float64:
		*out = append(*out, append([]string(nil), path...))
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectFloats(t[k], append(path, k), out)
		}
	case []any:
		for i, x := range t {
			collectFloats(x, append(path, strconv.Itoa(i)), out)
		}
	}
}

func normalizeNumbers(v any, path []string, floats map[string]bool) any {
	switch t := v.(type) {
	case json.Number:
		if !floats[pathKey(path)] {
			if i, err := t.Int64(); err == nil {
				return i
			}
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, x := range t {
			t[k] = normalizeNumbers(x, append(path, k), floats)
		}
		return t
	case []any:
		for i, x := range t {
			t[i] = normalizeNumbers(x, append(path, strconv.Itoa(i)), floats)
		}
		return t
	default:
		return v
	}
}
