package extraction

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/code-100-precent/MedIntake/pkg/clinical"
	"github.com/code-100-precent/MedIntake/pkg/logger"
	"go.uber.org/zap"
)

type rawEntity struct {
	Name       *string         `json:"name"`
	Type       *string         `json:"type"`
	Properties json.RawMessage `json:"properties"`
	ICDCode    *string         `json:"icd_code"`
	Confidence *string         `json:"confidence"`
}

type rawRelationship struct {
	From       *string         `json:"from_entity"`
	To         *string         `json:"to_entity"`
	Type       *string         `json:"relationship_type"`
	Properties json.RawMessage `json:"properties"`
	Confidence *string         `json:"confidence"`
}

type rawCase struct {
	Demographics      json.RawMessage    `json:"patient_demographics"`
	ChiefComplaint    *string            `json:"chief_complaint"`
	Entities          *[]rawEntity       `json:"entities"`
	Relationships     *[]rawRelationship `json:"relationships"`
	ClinicalReasoning *string            `json:"clinical_reasoning"`
	Recommendations   *[]string          `json:"recommendations"`
}

// stripFences 去掉模型可能返回的 markdown 代码块
func stripFences(response string) string {
	response = strings.TrimSpace(response)
	if strings.HasPrefix(response, "```") {
		response = strings.TrimPrefix(response, "```json")
		response = strings.TrimPrefix(response, "```JSON")
		response = strings.TrimPrefix(response, "```")
		response = strings.TrimSuffix(response, "```")
		response = strings.TrimSpace(response)
	}
	return response
}

// decodeRaw parses the model output, falling back to the outermost {...}
// span when the text carries prose around the JSON.
func decodeRaw(response string) (*rawCase, error) {
	response = stripFences(response)

	var raw rawCase
	err := json.Unmarshal([]byte(response), &raw)
	if err == nil {
		return &raw, nil
	}

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start < 0 || end <= start {
		return nil, &Error{Kind: KindSchemaViolation, Detail: "no JSON object in response", Err: err}
	}
	raw = rawCase{}
	if err := json.Unmarshal([]byte(response[start:end+1]), &raw); err != nil {
		return nil, &Error{Kind: KindSchemaViolation, Detail: "malformed JSON", Err: err}
	}
	return &raw, nil
}

// decodeProps accepts an object, null or an empty array.
func decodeProps(raw json.RawMessage) (clinical.Properties, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return clinical.Properties{}, true
	}
	if trimmed[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(trimmed, &arr); err == nil && len(arr) == 0 {
			return clinical.Properties{}, true
		}
		return clinical.Properties{}, false
	}
	var p clinical.Properties
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return clinical.Properties{}, false
	}
	return p, true
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// parseCase decodes and validates one case record. Any violation rejects
// the whole record.
func parseCase(response string) (*clinical.CaseRecord, error) {
	raw, err := decodeRaw(response)
	if err != nil {
		return nil, err
	}

	switch {
	case raw.ChiefComplaint == nil:
		return nil, violation("chief_complaint: missing")
	case raw.ClinicalReasoning == nil:
		return nil, violation("clinical_reasoning: missing")
	case raw.Entities == nil:
		return nil, violation("entities: missing")
	case raw.Relationships == nil:
		return nil, violation("relationships: missing")
	case raw.Recommendations == nil:
		return nil, violation("recommendations: missing")
	}

	demographics, ok := decodeProps(raw.Demographics)
	if !ok {
		return nil, violation("patient_demographics: not an object")
	}

	record := &clinical.CaseRecord{
		Demographics:      demographics,
		ChiefComplaint:    strings.TrimSpace(*raw.ChiefComplaint),
		ClinicalReasoning: strings.TrimSpace(*raw.ClinicalReasoning),
		Entities:          make([]clinical.ClinicalEntity, 0, len(*raw.Entities)),
		Relationships:     make([]clinical.ClinicalRelationship, 0, len(*raw.Relationships)),
		Recommendations:   append([]string{}, *raw.Recommendations...),
	}

	seen := make(map[string]bool, len(*raw.Entities))
	for i, re := range *raw.Entities {
		entity, err := toEntity(i, re)
		if err != nil {
			return nil, err
		}
		key := nameKey(entity.Name)
		if seen[key] {
			logger.Warn("Dropping duplicate entity", zap.Int("index", i), zap.String("name", entity.Name))
			continue
		}
		seen[key] = true
		record.Entities = append(record.Entities, entity)
	}

	for i, rr := range *raw.Relationships {
		rel, err := toRelationship(i, rr)
		if err != nil {
			return nil, err
		}
		record.Relationships = append(record.Relationships, rel)
	}

	return record, nil
}

func toEntity(i int, re rawEntity) (clinical.ClinicalEntity, error) {
	name := str(re.Name)
	if name == "" {
		return clinical.ClinicalEntity{}, violation("entities[%d].name: missing", i)
	}
	if str(re.Type) == "" {
		return clinical.ClinicalEntity{}, violation("entities[%d].type: missing", i)
	}
	typ, err := clinical.ParseEntityType(*re.Type)
	if err != nil {
		return clinical.ClinicalEntity{}, violation("entities[%d].type: %v", i, err)
	}
	props, ok := decodeProps(re.Properties)
	if !ok {
		return clinical.ClinicalEntity{}, violation("entities[%d].properties: not an object", i)
	}
	conf, err := clinical.ParseConfidence(str(re.Confidence))
	if err != nil {
		return clinical.ClinicalEntity{}, violation("entities[%d].confidence: %v", i, err)
	}
	return clinical.ClinicalEntity{
		Name:       name,
		Type:       typ,
		Properties: props,
		ICDCode:    str(re.ICDCode),
		Confidence: conf,
	}, nil
}

func toRelationship(i int, rr rawRelationship) (clinical.ClinicalRelationship, error) {
	from, to, typ := str(rr.From), str(rr.To), str(rr.Type)
	switch {
	case from == "":
		return clinical.ClinicalRelationship{}, violation("relationships[%d].from_entity: missing", i)
	case to == "":
		return clinical.ClinicalRelationship{}, violation("relationships[%d].to_entity: missing", i)
	case typ == "":
		return clinical.ClinicalRelationship{}, violation("relationships[%d].relationship_type: missing", i)
	}
	props, ok := decodeProps(rr.Properties)
	if !ok {
		return clinical.ClinicalRelationship{}, violation("relationships[%d].properties: not an object", i)
	}
	conf, err := clinical.ParseConfidence(str(rr.Confidence))
	if err != nil {
		return clinical.ClinicalRelationship{}, violation("relationships[%d].confidence: %v", i, err)
	}
	return clinical.ClinicalRelationship{
		From:       from,
		To:         to,
		Type:       typ,
		Properties: props,
		Confidence: conf,
	}, nil
}
