package extract

import "encoding/json"

// Prompt versions key the cache. Bump one whenever its prompt or schema
// changes so stale responses stop matching.
const (
	DocumentPromptVersion      = "canon-extract-doc-v3"
	ChunkPromptVersion         = "canon-extract-chunk-v3"
	ContradictionPromptVersion = "canon-contradiction-v2"
)

// extractionSchemaName is the json_schema name sent with extraction calls.
const extractionSchemaName = "canon_extraction"

const extractionSystemPrompt = `You extract canon from fiction. Read the passage and return every entity, fact and relationship it establishes about the story world.

RULES:
1. Extract ONLY what the passage states or makes unambiguous. Never invent.
2. Every fact and relationship needs an "evidence" string copied VERBATIM from the passage. Do not paraphrase, trim words from the middle, or fix typos.
3. Entity type must be one of: character, location, item, concept, event.
4. Use confidence 0.0-1.0: 1.0 for stated outright, lower for implied.
5. Put time qualifiers ("before the war", "in chapter three") in temporalBound.
6. Return ONLY the JSON object.

JSON SCHEMA:
{
  "entities": [{"name": "Aldric", "type": "character", "description": "knight commander", "aliases": ["the Commander"]}],
  "facts": [{"entityName": "Aldric", "subject": "Aldric", "predicate": "wields", "object": "a silver sword", "confidence": 0.95, "evidence": "Aldric drew his silver sword", "temporalBound": ""}],
  "relationships": [{"sourceEntity": "Aldric", "targetEntity": "Mira", "relationshipType": "sibling of", "evidence": "his sister Mira"}]
}`

// extractionSchema is the strict response format for extraction calls.
var extractionSchema = json.RawMessage(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["entities", "facts", "relationships"],
  "properties": {
    "entities": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["name", "type", "description", "aliases"],
        "properties": {
          "name": {"type": "string"},
          "type": {"type": "string", "enum": ["character", "location", "item", "concept", "event"]},
          "description": {"type": "string"},
          "aliases": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "facts": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["entityName", "subject", "predicate", "object", "confidence", "evidence", "temporalBound"],
        "properties": {
          "entityName": {"type": "string"},
          "subject": {"type": "string"},
          "predicate": {"type": "string"},
          "object": {"type": "string"},
          "confidence": {"type": "number"},
          "evidence": {"type": "string"},
          "temporalBound": {"type": "string"}
        }
      }
    },
    "relationships": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["sourceEntity", "targetEntity", "relationshipType", "evidence"],
        "properties": {
          "sourceEntity": {"type": "string"},
          "targetEntity": {"type": "string"},
          "relationshipType": {"type": "string"},
          "evidence": {"type": "string"}
        }
      }
    }
  }
}`)

const contradictionSchemaName = "canon_contradictions"

const contradictionSystemPrompt = `You check new writing against established canon for a fictional world.

You receive ESTABLISHED CANON (confirmed facts) and a NEW DOCUMENT. List every claim in the new document that conflicts with the canon.

RULES:
1. Only report real conflicts, not new information the canon is silent on.
2. "evidence" must be copied VERBATIM from the new document.
3. severity is "low" (cosmetic, e.g. eye colour), "medium" (plot detail) or "high" (breaks a core premise).
4. If nothing conflicts, return {"contradictions": []}.
5. Return ONLY the JSON object.

JSON SCHEMA:
{"contradictions": [{"existingFact": "...", "newClaim": "...", "explanation": "...", "severity": "medium", "evidence": "..."}]}`

var contradictionSchema = json.RawMessage(`{
  "type": "object",
  "additionalProperties": false,
  "required": ["contradictions"],
  "properties": {
    "contradictions": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["existingFact", "newClaim", "explanation", "severity", "evidence"],
        "properties": {
          "existingFact": {"type": "string"},
          "newClaim": {"type": "string"},
          "explanation": {"type": "string"},
          "severity": {"type": "string", "enum": ["low", "medium", "high"]},
          "evidence": {"type": "string"}
        }
      }
    }
  }
}`)

// buildContradictionPrompt lays out the user message for a contradiction check.
func buildContradictionPrompt(canonContext, content string) string {
	return "ESTABLISHED CANON:\n" + canonContext + "\n\nNEW DOCUMENT:\n" + content
}
