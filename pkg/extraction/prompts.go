package extraction

import (
	"encoding/json"

	"github.com/code-100-precent/MedIntake/pkg/llm"
)

const formatInstructions = `Return a single JSON object and nothing else, with exactly these fields:
{
  "patient_demographics": {"age": 28, "gender": "female", "history": "..."},
  "chief_complaint": "primary reason for the visit",
  "entities": [
    {
      "name": "entity name",
      "type": "symptom | condition | test | treatment | medication | risk_factor",
      "properties": {"severity": "...", "duration": "...", "location": "..."},
      "icd_code": "ICD-10 code or null",
      "confidence": "high | moderate | low | null"
    }
  ],
  "relationships": [
    {
      "from_entity": "source entity name",
      "to_entity": "target entity name",
      "relationship_type": "suggests | indicates_need_for | treated_by | increases_risk_of | supports | ...",
      "properties": {},
      "confidence": "high | moderate | low | null"
    }
  ],
  "clinical_reasoning": "summary of the clinical reasoning",
  "recommendations": ["next step", "..."]
}
Property values must be strings, numbers or booleans. Entity names must be unique.`

// extractionSystemPrompt 抽取临床实体与关系
const extractionSystemPrompt = `You are a medical AI expert specializing in clinical data extraction and knowledge graph construction.

Analyze the medical report and extract structured clinical information:

1. Clinical entities, each classified as one of: symptom, condition, test, treatment, medication, risk_factor.
   - Symptoms with severity, location, duration and onset
   - Conditions and diagnoses with ICD-10 codes when known and a confidence level
   - Diagnostic tests with urgency, type and timing; clinical findings such as lab values or imaging results are typed as test
   - Treatments and medications with dosage, frequency and route when mentioned
   - Risk factors, modifiable or not

2. Relationships between entities, for example:
   - symptom suggests condition
   - symptom indicates_need_for test
   - condition treated_by treatment or medication
   - risk_factor increases_risk_of condition
   - test supports or confirms condition

3. Clinical context: patient demographics, timeline, severity indicators and the clinical reasoning.

Guidelines:
- Use standard medical terminology.
- Give confidence levels (high, moderate, low) for diagnoses.
- Keep differential diagnoses and rule-outs.
- Include quantitative data when available.
- Consider every entity mentioned and connect the related ones. Do not leave entities out.

` + formatInstructions

// enhanceSystemPrompt 基于医学知识补充 ICD 编码和关系
const enhanceSystemPrompt = `You are a medical knowledge expert. Given extracted clinical entities and relationships, enhance them with:

1. Missing ICD-10 codes for conditions
2. Additional clinical relationships that are established medical knowledge
3. Contraindications and interactions
4. Typical diagnostic workups for the identified conditions
5. Evidence-based treatment protocols

Only add relationships that are clinically established. Mark every added relationship and every added entity with "knowledge_based": true in its properties.
Keep all existing entities and relationships.

` + formatInstructions

func extractionPrompt(report string) llm.Prompt {
	return llm.UserPrompt(extractionSystemPrompt,
		"Please analyze this medical report and extract structured clinical information:\n\n"+report)
}

func enhancePrompt(record []byte) llm.Prompt {
	return llm.UserPrompt(enhanceSystemPrompt, "Enhance this clinical data:\n\n"+string(record))
}

// caseRecordSchema 传给支持 json_schema 的接口
var caseRecordSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "patient_demographics": {"type": "object"},
    "chief_complaint": {"type": "string"},
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "type": {"type": "string", "enum": ["symptom", "condition", "test", "treatment", "medication", "risk_factor"]},
          "properties": {"type": "object"},
          "icd_code": {"type": ["string", "null"]},
          "confidence": {"type": ["string", "null"], "enum": ["high", "moderate", "low", null]}
        },
        "required": ["name", "type"]
      }
    },
    "relationships": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "from_entity": {"type": "string"},
          "to_entity": {"type": "string"},
          "relationship_type": {"type": "string"},
          "properties": {"type": "object"},
          "confidence": {"type": ["string", "null"], "enum": ["high", "moderate", "low", null]}
        },
        "required": ["from_entity", "to_entity", "relationship_type"]
      }
    },
    "clinical_reasoning": {"type": "string"},
    "recommendations": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["chief_complaint", "entities", "relationships", "clinical_reasoning", "recommendations"]
}`)

var caseRecordHint = &llm.SchemaHint{
	Name:        "patient_case",
	Description: "Structured clinical extraction of one medical report",
	Schema:      caseRecordSchema,
}
