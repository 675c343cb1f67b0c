// Package extract turns narrative documents into canon facts.
//
// The pipeline splits oversized documents into overlapping windows, asks an
// LLM to extract entities, facts and relationships from each window, repairs
// whatever shape the LLM actually returned, maps every evidence quote back to
// absolute byte offsets in the original document, and merges the per-window
// results into one ExtractionResult.
//
// Offsets are byte offsets into the UTF-8 document: for any Position p,
// content[p.Start:p.End] is the located evidence.
package extract

// EntityType is the closed vocabulary of canon entity kinds.
type EntityType string

const (
	EntityCharacter EntityType = "character"
	EntityLocation  EntityType = "location"
	EntityItem      EntityType = "item"
	EntityConcept   EntityType = "concept"
	EntityEvent     EntityType = "event"
)

// Position is a document-absolute [Start, End) byte span.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Entity is a named thing in the fictional world.
type Entity struct {
	Name        string     `json:"name"`
	Type        EntityType `json:"type"`
	Description string     `json:"description,omitempty"`
	Aliases     []string   `json:"aliases,omitempty"`
}

// Fact is a single subject/predicate/object claim about an entity.
type Fact struct {
	EntityName       string    `json:"entityName"`
	Subject          string    `json:"subject"`
	Predicate        string    `json:"predicate"`
	Object           string    `json:"object"`
	Confidence       float64   `json:"confidence"`
	Evidence         string    `json:"evidence,omitempty"`
	TemporalBound    string    `json:"temporalBound,omitempty"`
	EvidencePosition *Position `json:"evidencePosition,omitempty"`
}

// Relationship links two entities.
type Relationship struct {
	SourceEntity     string    `json:"sourceEntity"`
	TargetEntity     string    `json:"targetEntity"`
	RelationshipType string    `json:"relationshipType"`
	Evidence         string    `json:"evidence,omitempty"`
	EvidencePosition *Position `json:"evidencePosition,omitempty"`
}

// ExtractionResult is the strict, normalized output of an extraction.
// Code outside this package only ever sees this shape, never the raw LLM JSON.
type ExtractionResult struct {
	Entities      []Entity       `json:"entities"`
	Facts         []Fact         `json:"facts"`
	Relationships []Relationship `json:"relationships"`
}

// Empty reports whether the result carries nothing at all.
func (r ExtractionResult) Empty() bool {
	return len(r.Entities) == 0 && len(r.Facts) == 0 && len(r.Relationships) == 0
}

// DefaultConfidence is assigned to facts the LLM returned without one.
const DefaultConfidence = 0.8
