package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// entityTypeAliases remaps the types LLMs tend to invent onto the closed set.
var entityTypeAliases = map[string]EntityType{
	"group":        EntityConcept,
	"organization": EntityConcept,
	"organisation": EntityConcept,
	"faction":      EntityConcept,
	"idea":         EntityConcept,
	"theme":        EntityConcept,
	"creature":     EntityCharacter,
	"animal":       EntityCharacter,
	"person":       EntityCharacter,
	"place":        EntityLocation,
	"area":         EntityLocation,
	"region":       EntityLocation,
	"object":       EntityItem,
	"artifact":     EntityItem,
	"weapon":       EntityItem,
	"tool":         EntityItem,
	"occurrence":   EntityEvent,
	"incident":     EntityEvent,
}

// NormalizeEntityType maps any string onto the closed entity vocabulary.
// Unknown values become concept.
func NormalizeEntityType(raw string) EntityType {
	t := strings.ToLower(strings.TrimSpace(raw))
	switch EntityType(t) {
	case EntityCharacter, EntityLocation, EntityItem, EntityConcept, EntityEvent:
		return EntityType(t)
	}
	if mapped, ok := entityTypeAliases[t]; ok {
		return mapped
	}
	return EntityConcept
}

// ParseLLMContent strips markdown code fences from an LLM reply and decodes
// the JSON inside into an untrusted value for NormalizeExtractionResult.
// Object key order is preserved so map-shaped sections keep the LLM's order.
func ParseLLMContent(content string) (any, error) {
	cleaned := stripCodeFences(content)
	if cleaned == "" {
		return nil, ValidationError("parse llm content", fmt.Errorf("empty response content"))
	}
	v, err := decodeOrdered([]byte(cleaned))
	if err != nil {
		return nil, ValidationError("parse llm content",
			fmt.Errorf("invalid JSON from LLM: %w (raw: %s)", err, truncateForError(content, 300)))
	}
	return v, nil
}

// stripCodeFences removes a surrounding ```lang ... ``` block if present.
func stripCodeFences(raw string) string {
	cleaned := strings.TrimSpace(raw)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	lines := strings.Split(cleaned, "\n")
	start, end := 0, len(lines)
	for i, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if start == 0 {
				start = i + 1
			} else {
				end = i
				break
			}
		}
	}
	if start > 0 && end > start {
		cleaned = strings.Join(lines[start:end], "\n")
	} else {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.Trim(cleaned, "`")
	}
	return strings.TrimSpace(cleaned)
}

func truncateForError(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// object is a JSON object that remembers its key order.
type object struct {
	keys   []string
	values map[string]any
}

func (o *object) get(names ...string) (any, bool) {
	for _, n := range names {
		if v, ok := o.values[n]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// asObject accepts both ordered objects and plain maps (keys sorted).
func asObject(v any) (*object, bool) {
	switch t := v.(type) {
	case *object:
		return t, true
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return &object{keys: keys, values: t}, true
	}
	return nil, false
}

func decodeOrdered(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	v, err := decodeValue(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func decodeValue(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &object{values: map[string]any{}}
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", kt)
				}
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				if _, seen := obj.values[key]; !seen {
					obj.keys = append(obj.keys, key)
				}
				obj.values[key] = val
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			arr := []any{}
			for dec.More() {
				val, err := decodeValue(dec)
				if err != nil {
					return nil, err
				}
				arr = append(arr, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return arr, nil
		}
		return nil, fmt.Errorf("unexpected delimiter %v", t)
	default:
		return tok, nil
	}
}

// NormalizeExtractionResult reshapes whatever the LLM returned into the strict
// ExtractionResult. It never fails: fields it cannot interpret are defaulted
// or dropped.
//
// Accepted shapes: entities/facts/relationships as arrays or as object maps
// keyed by name; evidence as a string or an array of strings (joined with
// spaces); confidence as a number or numeric string; raw JSON text or bytes.
func NormalizeExtractionResult(raw any) ExtractionResult {
	out := ExtractionResult{
		Entities:      []Entity{},
		Facts:         []Fact{},
		Relationships: []Relationship{},
	}

	switch t := raw.(type) {
	case string:
		v, err := ParseLLMContent(t)
		if err != nil {
			return out
		}
		raw = v
	case []byte:
		v, err := ParseLLMContent(string(t))
		if err != nil {
			return out
		}
		raw = v
	case json.RawMessage:
		v, err := ParseLLMContent(string(t))
		if err != nil {
			return out
		}
		raw = v
	}

	root, ok := asObject(raw)
	if !ok {
		return out
	}

	if v, ok := root.get("entities", "characters"); ok {
		out.Entities = normalizeEntities(v)
	}
	if v, ok := root.get("facts"); ok {
		out.Facts = normalizeFacts(v)
	}
	if v, ok := root.get("relationships", "relations"); ok {
		out.Relationships = normalizeRelationships(v)
	}
	return out
}

// eachItem walks an array or object map. For maps, key is the map key.
func eachItem(v any, fn func(key string, item any)) {
	if arr, ok := v.([]any); ok {
		for _, item := range arr {
			fn("", item)
		}
		return
	}
	if obj, ok := asObject(v); ok {
		for _, k := range obj.keys {
			fn(k, obj.values[k])
		}
	}
}

func normalizeEntities(v any) []Entity {
	out := []Entity{}
	eachItem(v, func(key string, item any) {
		if s, ok := item.(string); ok && key != "" {
			// {"Aldric": "character"}
			out = append(out, Entity{Name: strings.TrimSpace(key), Type: NormalizeEntityType(s)})
			return
		}
		obj, ok := asObject(item)
		if !ok {
			return
		}
		name := stringField(obj, "name")
		if name == "" {
			name = strings.TrimSpace(key)
		}
		if name == "" {
			return
		}
		out = append(out, Entity{
			Name:        name,
			Type:        NormalizeEntityType(stringField(obj, "type", "entityType", "entity_type")),
			Description: stringField(obj, "description"),
			Aliases:     stringList(obj, "aliases", "alias"),
		})
	})
	return out
}

func normalizeFacts(v any) []Fact {
	out := []Fact{}
	var add func(key string, item any)
	add = func(key string, item any) {
		// {"Aldric": [{...}, {...}]}
		if arr, ok := item.([]any); ok && key != "" {
			for _, sub := range arr {
				add(key, sub)
			}
			return
		}
		obj, ok := asObject(item)
		if !ok {
			return
		}
		f := Fact{
			EntityName:       stringField(obj, "entityName", "entity_name", "entity"),
			Subject:          stringField(obj, "subject"),
			Predicate:        stringField(obj, "predicate", "attribute"),
			Object:           stringField(obj, "object", "value"),
			Confidence:       confidenceField(obj),
			Evidence:         evidenceField(obj),
			TemporalBound:    stringField(obj, "temporalBound", "temporal_bound", "temporal"),
			EvidencePosition: positionField(obj),
		}
		key = strings.TrimSpace(key)
		if f.Subject == "" {
			f.Subject = firstNonEmpty(key, f.EntityName)
		}
		if f.EntityName == "" {
			f.EntityName = firstNonEmpty(key, f.Subject)
		}
		if f.Predicate == "" && f.Object == "" {
			return
		}
		out = append(out, f)
	}
	eachItem(v, add)
	return out
}

func normalizeRelationships(v any) []Relationship {
	out := []Relationship{}
	eachItem(v, func(key string, item any) {
		obj, ok := asObject(item)
		if !ok {
			return
		}
		r := Relationship{
			SourceEntity:     stringField(obj, "sourceEntity", "source_entity", "source"),
			TargetEntity:     stringField(obj, "targetEntity", "target_entity", "target"),
			RelationshipType: stringField(obj, "relationshipType", "relationship_type", "type", "relation"),
			Evidence:         evidenceField(obj),
			EvidencePosition: positionField(obj),
		}
		if r.SourceEntity == "" {
			r.SourceEntity = strings.TrimSpace(key)
		}
		if r.SourceEntity == "" || r.TargetEntity == "" {
			return
		}
		out = append(out, r)
	})
	return out
}

// stringField returns the first present field rendered as trimmed text.
func stringField(obj *object, names ...string) string {
	v, ok := obj.get(names...)
	if !ok {
		return ""
	}
	return strings.TrimSpace(scalarString(v))
}

func scalarString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(scalarString(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	}
	return ""
}

func stringList(obj *object, names ...string) []string {
	v, ok := obj.get(names...)
	if !ok {
		return nil
	}
	var out []string
	switch t := v.(type) {
	case []any:
		for _, item := range t {
			if s := strings.TrimSpace(scalarString(item)); s != "" {
				out = append(out, s)
			}
		}
	case string:
		if s := strings.TrimSpace(t); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// evidenceField joins multi-quote arrays with single spaces.
func evidenceField(obj *object) string {
	v, ok := obj.get("evidence", "source_quote", "sourceQuote", "quote")
	if !ok {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				parts = append(parts, strings.TrimSpace(s))
			}
		}
		return strings.Join(parts, " ")
	}
	return ""
}

func confidenceField(obj *object) float64 {
	v, ok := obj.get("confidence")
	if !ok {
		return DefaultConfidence
	}
	c, ok := toFloat(v)
	if !ok || math.IsNaN(c) {
		return DefaultConfidence
	}
	return math.Max(0, math.Min(1, c))
}

func positionField(obj *object) *Position {
	v, ok := obj.get("evidencePosition", "evidence_position")
	if !ok {
		return nil
	}
	p, ok := asObject(v)
	if !ok {
		return nil
	}
	sv, ok1 := p.get("start")
	ev, ok2 := p.get("end")
	if !ok1 || !ok2 {
		return nil
	}
	s, ok1 := toFloat(sv)
	e, ok2 := toFloat(ev)
	if !ok1 || !ok2 || s < 0 || e < s {
		return nil
	}
	return &Position{Start: int(s), End: int(e)}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
