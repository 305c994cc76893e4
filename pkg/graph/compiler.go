package graph

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/code-100-precent/MedIntake/pkg/clinical"
)

// Policy decides what Compile does with an invalid entity or relationship.
type Policy string

const (
	// SkipInvalid 跳过无效条目，继续生成其余语句，并返回汇总错误
	SkipInvalid Policy = "skip"
	// AbortOnInvalid 遇到第一个无效条目即返回，不产出任何语句
	AbortOnInvalid Policy = "abort"
)

// ParsePolicy 解析 KG_COMPILE_POLICY
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", SkipInvalid:
		return SkipInvalid, nil
	case AbortOnInvalid:
		return AbortOnInvalid, nil
	}
	return "", fmt.Errorf("unknown compile policy %q", s)
}

// ErrorKind classifies compile errors.
type ErrorKind string

const (
	MissingField      ErrorKind = "MissingField"
	InvalidIdentifier ErrorKind = "InvalidIdentifier"
)

var (
	ErrMissingField      = errors.New("graph: missing field")
	ErrInvalidIdentifier = errors.New("graph: invalid identifier")
)

// CompileError 单个条目编译失败
type CompileError struct {
	Kind  ErrorKind
	Item  Kind
	Index int
	Field string
	Value string
}

func (e *CompileError) Error() string {
	if e.Kind == InvalidIdentifier {
		return fmt.Sprintf("%s: %s[%d].%s %q", e.Kind, e.Item, e.Index, e.Field, e.Value)
	}
	return fmt.Sprintf("%s: %s[%d].%s", e.Kind, e.Item, e.Index, e.Field)
}

func (e *CompileError) Is(target error) bool {
	switch target {
	case ErrMissingField:
		return e.Kind == MissingField
	case ErrInvalidIdentifier:
		return e.Kind == InvalidIdentifier
	}
	return false
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// NormalizeLabel folds case and whitespace: " Risk factor " -> "Risk_Factor".
func NormalizeLabel(s string) string {
	parts := strings.Split(clinical.FoldKey(s), "_")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + p[1:]
	}
	return strings.Join(parts, "_")
}

// NormalizeRelType upper-cases and joins words: "indicates need-for" -> "INDICATES_NEED_FOR".
func NormalizeRelType(s string) string {
	return strings.ToUpper(clinical.FoldKey(s))
}

// Compiler renders case records as parameterized Cypher.
type Compiler struct {
	Policy Policy
}

func NewCompiler(policy Policy) *Compiler {
	return &Compiler{Policy: policy}
}

// Compile emits one case statement, then one statement per entity and one
// per relationship in input order. Relationship endpoints are not checked;
// an unknown endpoint makes that statement match nothing.
func (c *Compiler) Compile(record *clinical.CaseRecord) ([]Statement, error) {
	if record == nil {
		return nil, errors.New("graph: nil case record")
	}
	policy := SkipInvalid
	if c != nil && c.Policy != "" {
		policy = c.Policy
	}

	stmts := make([]Statement, 0, 1+len(record.Entities)+len(record.Relationships))
	var errs []error
	fail := func(err *CompileError) bool {
		errs = append(errs, err)
		return policy == AbortOnInvalid
	}

	caseID := ""
	if record.Metadata != nil {
		caseID = record.Metadata.CaseID
	}
	if caseID == "" {
		if fail(&CompileError{Kind: MissingField, Item: KindCase, Field: "metadata.case_id"}) {
			return nil, errs[0]
		}
	} else {
		stmts = append(stmts, caseStatement(record))
	}

	for i, ent := range record.Entities {
		stmt, err := nodeStatement(i, ent, caseID)
		if err != nil {
			if fail(err) {
				return nil, err
			}
			continue
		}
		stmts = append(stmts, stmt)
	}

	for i, rel := range record.Relationships {
		stmt, err := relationshipStatement(i, rel)
		if err != nil {
			if fail(err) {
				return nil, err
			}
			continue
		}
		stmts = append(stmts, stmt)
	}

	return stmts, errors.Join(errs...)
}

const caseText = "MERGE (c:Case {id: $id})\nSET c += $props"

func caseStatement(record *clinical.CaseRecord) Statement {
	md := record.Metadata
	props := map[string]any{
		"chief_complaint":    record.ChiefComplaint,
		"clinical_reasoning": record.ClinicalReasoning,
		"created_at":         md.CreatedAt.UTC().Format(time.RFC3339),
		"entity_count":       int64(md.EntityCount),
		"relationship_count": int64(md.RelationshipCount),
		"enhanced":           md.Enhanced,
	}
	if len(record.Recommendations) > 0 {
		props["recommendations"] = append([]string(nil), record.Recommendations...)
	}
	for k, v := range record.Demographics.Params() {
		props["demographics_"+clinical.FoldKey(k)] = v
	}

	return Statement{
		Kind:   KindCase,
		Text:   caseText,
		Params: map[string]any{"id": md.CaseID, "props": props},
		Label:  "Case",
	}
}

func nodeStatement(i int, ent clinical.ClinicalEntity, caseID string) (Statement, *CompileError) {
	name := strings.TrimSpace(ent.Name)
	if name == "" {
		return Statement{}, &CompileError{Kind: MissingField, Item: KindNode, Index: i, Field: "name"}
	}
	if strings.TrimSpace(string(ent.Type)) == "" {
		return Statement{}, &CompileError{Kind: MissingField, Item: KindNode, Index: i, Field: "type"}
	}
	label := NormalizeLabel(string(ent.Type))
	if !identifierPattern.MatchString(label) {
		return Statement{}, &CompileError{Kind: InvalidIdentifier, Item: KindNode, Index: i, Field: "type", Value: string(ent.Type)}
	}

	props := ent.Properties.Params()
	delete(props, "name") // merge key
	if ent.ICDCode != "" {
		props["icd_code"] = ent.ICDCode
	}
	if ent.Confidence != "" {
		props["confidence"] = string(ent.Confidence)
	}

	params := map[string]any{"name": name, "props": props}
	text := fmt.Sprintf("MERGE (n:`%s` {name: $name})\nSET n += $props", label)
	if caseID != "" {
		params["case_id"] = caseID
		text += "\nWITH n\nMATCH (c:Case {id: $case_id})\nMERGE (c)-[:HAS_ENTITY]->(n)"
	}

	return Statement{Kind: KindNode, Text: text, Params: params, Label: label}, nil
}

func relationshipStatement(i int, rel clinical.ClinicalRelationship) (Statement, *CompileError) {
	from, to := strings.TrimSpace(rel.From), strings.TrimSpace(rel.To)
	switch {
	case from == "":
		return Statement{}, &CompileError{Kind: MissingField, Item: KindRelationship, Index: i, Field: "from_entity"}
	case to == "":
		return Statement{}, &CompileError{Kind: MissingField, Item: KindRelationship, Index: i, Field: "to_entity"}
	case strings.TrimSpace(rel.Type) == "":
		return Statement{}, &CompileError{Kind: MissingField, Item: KindRelationship, Index: i, Field: "relationship_type"}
	}
	relType := NormalizeRelType(rel.Type)
	if !identifierPattern.MatchString(relType) {
		return Statement{}, &CompileError{Kind: InvalidIdentifier, Item: KindRelationship, Index: i, Field: "relationship_type", Value: rel.Type}
	}

	props := rel.Properties.Params()
	if rel.Confidence != "" {
		props["confidence"] = string(rel.Confidence)
	}

	text := fmt.Sprintf("MATCH (a {name: $from})\nMATCH (b {name: $to})\nMERGE (a)-[r:`%s`]->(b)\nSET r += $props\nRETURN count(r) AS matched", relType)
	return Statement{
		Kind:    KindRelationship,
		Text:    text,
		Params:  map[string]any{"from": from, "to": to, "props": props},
		RelType: relType,
	}, nil
}
