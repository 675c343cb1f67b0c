package extract

import "strings"

// MergeExtractionResults folds per-chunk results into one, in input order.
//
// Entities are keyed by lowercased name: the first occurrence keeps its name,
// type and description, and aliases from every occurrence are unioned.
// Facts and relationships are concatenated without deduplication, since a
// repeated claim from an overlap region may still matter for contradiction
// review.
func MergeExtractionResults(results []ExtractionResult) ExtractionResult {
	merged := ExtractionResult{
		Entities:      []Entity{},
		Facts:         []Fact{},
		Relationships: []Relationship{},
	}

	index := make(map[string]int)
	seenAlias := make(map[string]map[string]struct{})

	for _, r := range results {
		for _, e := range r.Entities {
			key := strings.ToLower(strings.TrimSpace(e.Name))
			if key == "" {
				continue
			}
			i, ok := index[key]
			if !ok {
				i = len(merged.Entities)
				index[key] = i
				seenAlias[key] = make(map[string]struct{})
				first := e
				first.Aliases = nil
				merged.Entities = append(merged.Entities, first)
			}
			for _, a := range e.Aliases {
				if _, dup := seenAlias[key][a]; dup {
					continue
				}
				seenAlias[key][a] = struct{}{}
				merged.Entities[i].Aliases = append(merged.Entities[i].Aliases, a)
			}
		}
		merged.Facts = append(merged.Facts, r.Facts...)
		merged.Relationships = append(merged.Relationships, r.Relationships...)
	}
	return merged
}
