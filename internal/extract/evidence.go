package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/agext/levenshtein"
)

const (
	// anchorWordCount is how many content words form a fuzzy anchor.
	anchorWordCount = 5
	// anchorMinRunes drops connector words ("the", "and", "of") from the anchor.
	anchorMinRunes = 4
)

// EvidenceLocator maps an evidence quote that came from chunk back to a
// document-absolute position. A nil position means the quote could not be
// verified; that is an expected outcome, not an error.
type EvidenceLocator interface {
	Locate(evidence string, chunk Chunk, documentContent string) *Position
}

// RegexLocator is the default locator: exact substring search in the chunk,
// then a case-insensitive anchor regex over the whole document.
type RegexLocator struct{}

// Locate implements EvidenceLocator.
func (RegexLocator) Locate(evidence string, chunk Chunk, documentContent string) *Position {
	return MapEvidenceToDocument(evidence, chunk, documentContent)
}

// MapEvidenceToDocument returns the absolute [start,end) of evidence, or nil.
//
// The exact path searches chunk.Text. The fuzzy fallback takes the first five
// words longer than three characters and searches the entire document for
// them in order, case-insensitively, with anything in between. A repeated
// anchor elsewhere in the document can produce a false positive.
func MapEvidenceToDocument(evidence string, chunk Chunk, documentContent string) *Position {
	if pos := exactInChunk(evidence, chunk); pos != nil {
		return pos
	}
	return anchorSearch(evidence, documentContent)
}

func exactInChunk(evidence string, chunk Chunk) *Position {
	if evidence == "" {
		return nil
	}
	idx := strings.Index(chunk.Text, evidence)
	if idx < 0 {
		return nil
	}
	start := chunk.StartOffset + idx
	return &Position{Start: start, End: start + len(evidence)}
}

// anchorWords returns up to anchorWordCount whitespace-separated words of at
// least anchorMinRunes runes, in order.
func anchorWords(evidence string) []string {
	var words []string
	for _, w := range strings.Fields(evidence) {
		if utf8.RuneCountInString(w) < anchorMinRunes {
			continue
		}
		words = append(words, w)
		if len(words) == anchorWordCount {
			break
		}
	}
	return words
}

// anchorPattern builds (?i)w1.*?w2.*?... or returns nil when no usable word exists.
func anchorPattern(evidence string) *regexp.Regexp {
	words := anchorWords(evidence)
	if len(words) == 0 {
		return nil
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = regexp.QuoteMeta(w)
	}
	re, err := regexp.Compile("(?i)" + strings.Join(quoted, ".*?"))
	if err != nil {
		return nil
	}
	return re
}

func anchorSearch(evidence, documentContent string) *Position {
	re := anchorPattern(evidence)
	if re == nil {
		return nil
	}
	loc := re.FindStringIndex(documentContent)
	if loc == nil {
		return nil
	}
	return &Position{Start: loc[0], End: loc[1]}
}

// EditDistanceLocator keeps the exact fast path, then slides a window of the
// evidence's length over the chunk and accepts the most similar window when
// its normalized Levenshtein similarity reaches MinSimilarity. Anything less
// falls through to the anchor regex.
type EditDistanceLocator struct {
	// MinSimilarity in [0,1]; zero means 0.85.
	MinSimilarity float64
	// MaxEvidenceLen skips the window scan for very long quotes; zero means 400.
	MaxEvidenceLen int
}

// Locate implements EvidenceLocator.
func (l EditDistanceLocator) Locate(evidence string, chunk Chunk, documentContent string) *Position {
	if pos := exactInChunk(evidence, chunk); pos != nil {
		return pos
	}
	if pos := l.windowSearch(evidence, chunk); pos != nil {
		return pos
	}
	return anchorSearch(evidence, documentContent)
}

func (l EditDistanceLocator) windowSearch(evidence string, chunk Chunk) *Position {
	minSim := l.MinSimilarity
	if minSim <= 0 {
		minSim = 0.85
	}
	maxLen := l.MaxEvidenceLen
	if maxLen <= 0 {
		maxLen = 400
	}

	needle := asciiLower(strings.Join(strings.Fields(evidence), " "))
	width := len(needle)
	if width == 0 || width > maxLen || width > len(chunk.Text) {
		return nil
	}
	hay := asciiLower(chunk.Text)
	params := levenshtein.NewParams()

	bestStart, bestSim := -1, 0.0
	step := max(1, width/8)
	for start := 0; start+width <= len(hay); start += step {
		if !utf8.RuneStart(hay[start]) {
			continue
		}
		sim := levenshtein.Similarity(needle, hay[start:start+width], params)
		if sim > bestSim {
			bestStart, bestSim = start, sim
		}
	}
	if bestStart < 0 || bestSim < minSim {
		return nil
	}

	// Refine around the coarse hit one byte at a time.
	lo, hi := max(0, bestStart-step), min(len(hay)-width, bestStart+step)
	for start := lo; start <= hi; start++ {
		if !utf8.RuneStart(hay[start]) {
			continue
		}
		sim := levenshtein.Similarity(needle, hay[start:start+width], params)
		if sim > bestSim {
			bestStart, bestSim = start, sim
		}
	}

	end := bestStart + width
	for end < len(chunk.Text) && !utf8.RuneStart(chunk.Text[end]) {
		end++
	}
	return &Position{Start: chunk.StartOffset + bestStart, End: chunk.StartOffset + end}
}

// asciiLower lowercases ASCII letters only, so byte offsets into the result
// stay valid for the input.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// locateResultEvidence fills EvidencePosition on every fact and relationship
// of r using chunk as context, and reports how many were located and missed.
// Facts keep their place whether or not the evidence was found.
func locateResultEvidence(r *ExtractionResult, chunk Chunk, documentContent string, loc EvidenceLocator) (located, missed int) {
	for i := range r.Facts {
		f := &r.Facts[i]
		f.EvidencePosition = nil
		if f.Evidence == "" {
			continue
		}
		if pos := loc.Locate(f.Evidence, chunk, documentContent); pos != nil {
			f.EvidencePosition = pos
			located++
		} else {
			missed++
		}
	}
	for i := range r.Relationships {
		rel := &r.Relationships[i]
		rel.EvidencePosition = nil
		if rel.Evidence == "" {
			continue
		}
		if pos := loc.Locate(rel.Evidence, chunk, documentContent); pos != nil {
			rel.EvidencePosition = pos
			located++
		} else {
			missed++
		}
	}
	return located, missed
}
