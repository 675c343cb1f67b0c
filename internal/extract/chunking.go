package extract

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	// DefaultMaxChunkChars is the largest window sent to the LLM in one call.
	DefaultMaxChunkChars = 12000
	// DefaultOverlapChars is how far each window reaches back into the previous one.
	DefaultOverlapChars = 800
	// DefaultMinChunkChars keeps boundary snapping from producing tiny windows.
	DefaultMinChunkChars = 1000
	// DefaultBoundaryLookback bounds the backward scan for a paragraph or sentence break.
	DefaultBoundaryLookback = 2000
)

// Chunk is a contiguous, offset-tracked window of a document.
// Text is always content[StartOffset:EndOffset].
type Chunk struct {
	Text        string `json:"text"`
	StartOffset int    `json:"startOffset"`
	EndOffset   int    `json:"endOffset"`
	Index       int    `json:"index"`
}

// ChunkOptions tunes ChunkDocument. Zero values fall back to the defaults;
// a default overlap or minimum that would not fit inside MaxChars drops to a
// quarter or a half of it. A negative OverlapChars disables overlap.
type ChunkOptions struct {
	MaxChars     int `json:"max_chars" validate:"gte=0"`
	OverlapChars int `json:"overlap_chars"`
	MinChars     int `json:"-" validate:"gte=0"`
	Lookback     int `json:"-" validate:"gte=0"`
}

type resolvedChunkOptions struct {
	MaxChars     int `validate:"gt=0"`
	OverlapChars int `validate:"gte=0,ltfield=MaxChars"`
	MinChars     int `validate:"gte=0"`
	Lookback     int `validate:"gt=0"`
}

var validate = validator.New()

// DefaultChunkOptions returns the production chunking parameters.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{
		MaxChars:     DefaultMaxChunkChars,
		OverlapChars: DefaultOverlapChars,
		MinChars:     DefaultMinChunkChars,
		Lookback:     DefaultBoundaryLookback,
	}
}

func (o ChunkOptions) resolve() resolvedChunkOptions {
	r := resolvedChunkOptions{
		MaxChars:     o.MaxChars,
		OverlapChars: o.OverlapChars,
		MinChars:     o.MinChars,
		Lookback:     o.Lookback,
	}
	if r.MaxChars <= 0 {
		r.MaxChars = DefaultMaxChunkChars
	}
	// Defaults only shrink when they would not fit in a smaller window.
	switch {
	case r.OverlapChars == 0:
		r.OverlapChars = DefaultOverlapChars
		if r.OverlapChars >= r.MaxChars {
			r.OverlapChars = r.MaxChars / 4
		}
	case r.OverlapChars < 0:
		r.OverlapChars = 0
	}
	if r.MinChars <= 0 {
		r.MinChars = DefaultMinChunkChars
		if r.MinChars >= r.MaxChars {
			r.MinChars = r.MaxChars / 2
		}
	}
	if r.Lookback <= 0 {
		r.Lookback = DefaultBoundaryLookback
	}
	return r
}

// Validate rejects option sets that cannot produce forward progress,
// such as an overlap at least as large as the window.
func (o ChunkOptions) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("invalid chunk options: %w", err)
	}
	if err := validate.Struct(o.resolve()); err != nil {
		return fmt.Errorf("invalid chunk options: %w", err)
	}
	return nil
}

// NeedsChunking reports whether content is too long for a single LLM window.
func NeedsChunking(content string, maxChars int) bool {
	if maxChars <= 0 {
		maxChars = DefaultMaxChunkChars
	}
	return len(content) > maxChars
}

// ChunkDocument splits content into size-bounded, overlapping windows that
// end on paragraph or sentence boundaries where possible.
//
// The returned chunks are in index order, start at offset 0, end at
// len(content), and leave no gaps. Options that fail Validate are coerced
// rather than rejected so that a bad override never stalls a document.
func ChunkDocument(content string, opts ChunkOptions) []Chunk {
	o := opts.resolve()
	if o.OverlapChars >= o.MaxChars {
		o.OverlapChars = o.MaxChars - 1
	}

	n := len(content)
	if n <= o.MaxChars {
		return []Chunk{{Text: content, StartOffset: 0, EndOffset: n, Index: 0}}
	}

	var chunks []Chunk
	cur := 0
	for {
		end := cur + o.MaxChars
		if end >= n {
			end = n
		} else {
			end = findBreakPoint(content, cur, end, o)
		}

		chunks = append(chunks, Chunk{
			Text:        content[cur:end],
			StartOffset: cur,
			EndOffset:   end,
			Index:       len(chunks),
		})
		if end >= n {
			break
		}

		next := findNextStart(content, max(end-o.OverlapChars, cur+1), end)
		if next <= cur {
			next = end
		}
		cur = next
	}
	return chunks
}

// findBreakPoint moves end backward to the nearest blank line, newline or
// sentence end inside the lookback window, never below cur+MinChars. A
// terminator followed by a space beats a bare terminator anywhere in the
// window.
func findBreakPoint(content string, cur, end int, o resolvedChunkOptions) int {
	lo := max(cur+o.MinChars, end-o.Lookback)
	if lo >= end {
		return runeFloor(content, end, cur)
	}
	window := content[lo:end]

	if i := strings.LastIndex(window, "\n\n"); i >= 0 {
		return lo + i + 2
	}
	if i := strings.LastIndexByte(window, '\n'); i >= 0 {
		return lo + i + 1
	}
	bare := -1
	for i := end - 1; i >= lo; i-- {
		if !isTerminator(content[i]) {
			continue
		}
		if i+1 < len(content) && content[i+1] == ' ' {
			if i+2 <= end {
				return i + 2
			}
			return i + 1
		}
		if bare < 0 {
			bare = i
		}
	}
	// A terminator without a following space, e.g. before a quote mark.
	if bare >= 0 {
		return bare + 1
	}

	// Mid-word split as a last resort.
	return runeFloor(content, end, cur)
}

// findNextStart advances from to the earliest paragraph or sentence start
// before end. If neither exists, from itself is used.
func findNextStart(content string, from, end int) int {
	from = runeCeil(content, from)
	if from > 0 && from < end && content[from-1] == '\n' && content[from] != '\n' {
		return from
	}
	for i := from; i < end; i++ {
		c := content[i]
		if c == '\n' {
			if i+1 < end && content[i+1] != '\n' {
				return i + 1
			}
			continue
		}
		if isTerminator(c) && i+2 < end && content[i+1] == ' ' {
			return i + 2
		}
	}
	return from
}

func isTerminator(c byte) bool {
	return c == '.' || c == '!' || c == '?'
}

// runeFloor moves pos back to the start of the rune containing it, staying above floor.
func runeFloor(s string, pos, floor int) int {
	p := pos
	for p > floor && p < len(s) && !utf8.RuneStart(s[p]) {
		p--
	}
	if p == floor {
		return runeCeil(s, pos)
	}
	return p
}

// runeCeil moves pos forward to the next rune start.
func runeCeil(s string, pos int) int {
	for pos < len(s) && pos > 0 && !utf8.RuneStart(s[pos]) {
		pos++
	}
	return pos
}
