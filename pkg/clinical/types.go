package clinical

import (
	"fmt"
	"strings"
	"time"
)

// EntityType 临床实体类型
type EntityType string

const (
	EntitySymptom    EntityType = "symptom"
	EntityCondition  EntityType = "condition"
	EntityTest       EntityType = "test"
	EntityTreatment  EntityType = "treatment"
	EntityMedication EntityType = "medication"
	EntityRiskFactor EntityType = "risk_factor"
)

// EntityTypes lists the accepted entity types in prompt order.
var EntityTypes = []EntityType{
	EntitySymptom, EntityCondition, EntityTest, EntityTreatment, EntityMedication, EntityRiskFactor,
}

var entityTypeAliases = map[string]EntityType{
	"diagnosis":        EntityCondition,
	"disease":          EntityCondition,
	"diagnostic_test":  EntityTest,
	"lab":              EntityTest,
	"lab_test":         EntityTest,
	"finding":          EntityTest,
	"clinical_finding": EntityTest,
	"drug":             EntityMedication,
	"medicine":         EntityMedication,
	"therapy":          EntityTreatment,
	"procedure":        EntityTreatment,
	"riskfactor":       EntityRiskFactor,
	"risk":             EntityRiskFactor,
}

// FoldKey lower-cases s, trims it and joins whitespace/hyphen separated words
// with underscores: " Risk-factor " -> "risk_factor".
func FoldKey(s string) string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '-' || r == '_'
	})
	return strings.Join(fields, "_")
}

// ParseEntityType resolves a free-form type string to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	key := FoldKey(s)
	for _, t := range EntityTypes {
		if string(t) == key {
			return t, nil
		}
	}
	if t, ok := entityTypeAliases[key]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown entity type %q", s)
}

// Confidence 置信度
type Confidence string

const (
	ConfidenceHigh     Confidence = "high"
	ConfidenceModerate Confidence = "moderate"
	ConfidenceLow      Confidence = "low"
)

// ParseConfidence accepts high/moderate/low (and "medium"). Empty input means
// the confidence is absent.
func ParseConfidence(s string) (Confidence, error) {
	switch FoldKey(s) {
	case "":
		return "", nil
	case "high":
		return ConfidenceHigh, nil
	case "moderate", "medium":
		return ConfidenceModerate, nil
	case "low":
		return ConfidenceLow, nil
	}
	return "", fmt.Errorf("unknown confidence %q", s)
}

// ClinicalEntity 临床实体：症状、疾病、检查、治疗、药物、风险因素
type ClinicalEntity struct {
	Name       string     `json:"name"`
	Type       EntityType `json:"type"`
	Properties Properties `json:"properties"`
	ICDCode    string     `json:"icd_code,omitempty"`
	Confidence Confidence `json:"confidence,omitempty"`
}

// ClinicalRelationship 临床关系，端点按名称引用
type ClinicalRelationship struct {
	From       string     `json:"from_entity"`
	To         string     `json:"to_entity"`
	Type       string     `json:"relationship_type"`
	Properties Properties `json:"properties"`
	Confidence Confidence `json:"confidence,omitempty"`
}

// KnowledgeBased reports whether the relationship was added by the
// enhancement pass.
func (r ClinicalRelationship) KnowledgeBased() bool {
	v, ok := r.Properties.Get(PropKnowledgeBased)
	return ok && v.Kind() == KindBool && v.BoolVal()
}

// PropKnowledgeBased marks entities and relationships added by Enhance.
const PropKnowledgeBased = "knowledge_based"

// Metadata 病例元数据，每次流水线运行只写入一次
type Metadata struct {
	CaseID            string    `json:"case_id"`
	CreatedAt         time.Time `json:"created_at"`
	EntityCount       int       `json:"entity_count"`
	RelationshipCount int       `json:"relationship_count"`
	Enhanced          bool      `json:"enhanced"`
}

// CaseRecord 一次对话或报告的结构化抽取结果
type CaseRecord struct {
	Demographics      Properties             `json:"patient_demographics"`
	ChiefComplaint    string                 `json:"chief_complaint"`
	Entities          []ClinicalEntity       `json:"entities"`
	Relationships     []ClinicalRelationship `json:"relationships"`
	ClinicalReasoning string                 `json:"clinical_reasoning"`
	Recommendations   []string               `json:"recommendations"`
	Metadata          *Metadata              `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the record.
func (c *CaseRecord) Clone() *CaseRecord {
	if c == nil {
		return nil
	}
	out := &CaseRecord{
		Demographics:      c.Demographics.Clone(),
		ChiefComplaint:    c.ChiefComplaint,
		ClinicalReasoning: c.ClinicalReasoning,
	}
	if c.Recommendations != nil {
		out.Recommendations = make([]string, len(c.Recommendations))
		copy(out.Recommendations, c.Recommendations)
	}
	if c.Entities != nil {
		out.Entities = make([]ClinicalEntity, len(c.Entities))
		for i, e := range c.Entities {
			e.Properties = e.Properties.Clone()
			out.Entities[i] = e
		}
	}
	if c.Relationships != nil {
		out.Relationships = make([]ClinicalRelationship, len(c.Relationships))
		for i, r := range c.Relationships {
			r.Properties = r.Properties.Clone()
			out.Relationships[i] = r
		}
	}
	if c.Metadata != nil {
		md := *c.Metadata
		out.Metadata = &md
	}
	return out
}

// Entity looks up an entity by name, ignoring case and surrounding space.
func (c *CaseRecord) Entity(name string) (ClinicalEntity, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	for _, e := range c.Entities {
		if strings.ToLower(strings.TrimSpace(e.Name)) == key {
			return e, true
		}
	}
	return ClinicalEntity{}, false
}

// ShortID is the first eight characters of the case id, used in file names.
func (m *Metadata) ShortID() string {
	if m == nil {
		return ""
	}
	if len(m.CaseID) > 8 {
		return m.CaseID[:8]
	}
	return m.CaseID
}
