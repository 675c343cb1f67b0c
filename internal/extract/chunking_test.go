package extract

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func checkChunkInvariants(t *testing.T, content string, chunks []Chunk, maxChars int) {
	t.Helper()
	if len(chunks) == 0 {
		t.Fatal("no chunks")
	}
	if chunks[0].StartOffset != 0 {
		t.Errorf("first chunk starts at %d", chunks[0].StartOffset)
	}
	if last := chunks[len(chunks)-1]; last.EndOffset != len(content) {
		t.Errorf("last chunk ends at %d, want %d", last.EndOffset, len(content))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has index %d", i, c.Index)
		}
		if c.EndOffset <= c.StartOffset && len(content) > 0 {
			t.Errorf("chunk %d is empty [%d,%d)", i, c.StartOffset, c.EndOffset)
		}
		if c.Text != content[c.StartOffset:c.EndOffset] {
			t.Errorf("chunk %d text does not match its offsets", i)
		}
		if len(c.Text) > maxChars {
			t.Errorf("chunk %d is %d bytes, max %d", i, len(c.Text), maxChars)
		}
		if !utf8.ValidString(c.Text) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
		if i > 0 {
			prev := chunks[i-1]
			if c.StartOffset <= prev.StartOffset {
				t.Errorf("chunk %d does not advance: %d <= %d", i, c.StartOffset, prev.StartOffset)
			}
			if c.StartOffset > prev.EndOffset {
				t.Errorf("gap between chunk %d and %d", i-1, i)
			}
		}
	}
}

func narrative(paragraphs int) string {
	var b strings.Builder
	for p := 0; p < paragraphs; p++ {
		for s := 0; s < 6; s++ {
			fmt.Fprintf(&b, "In the year %d the council of paragraph %d heard testimony number %d. ", 300+p, p, s)
		}
		b.WriteString("\n\n")
	}
	return b.String()
}

func TestChunkDocumentSingleChunk(t *testing.T) {
	content := strings.Repeat("x", DefaultMaxChunkChars)
	chunks := ChunkDocument(content, ChunkOptions{})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	c := chunks[0]
	if c.StartOffset != 0 || c.EndOffset != len(content) || c.Index != 0 || c.Text != content {
		t.Errorf("unexpected chunk: start=%d end=%d index=%d", c.StartOffset, c.EndOffset, c.Index)
	}
}

func TestChunkDocumentEmpty(t *testing.T) {
	chunks := ChunkDocument("", ChunkOptions{})
	if len(chunks) != 1 || chunks[0].EndOffset != 0 {
		t.Fatalf("expected one empty chunk, got %+v", chunks)
	}
}

func TestChunkDocumentOneOverMax(t *testing.T) {
	content := strings.Repeat("x", DefaultMaxChunkChars+1)
	chunks := ChunkDocument(content, ChunkOptions{})
	if len(chunks) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(chunks))
	}
	if chunks[0].Index != 0 || chunks[1].Index != 1 {
		t.Errorf("indices: %d, %d", chunks[0].Index, chunks[1].Index)
	}
	if chunks[0].EndOffset != DefaultMaxChunkChars {
		t.Errorf("unbroken text should split at max, got %d", chunks[0].EndOffset)
	}
	if overlap := chunks[0].EndOffset - chunks[1].StartOffset; overlap != DefaultOverlapChars {
		t.Errorf("overlap = %d, want %d", overlap, DefaultOverlapChars)
	}
	checkChunkInvariants(t, content, chunks, DefaultMaxChunkChars)
}

func TestChunkDocumentInvariants(t *testing.T) {
	content := narrative(120)
	chunks := ChunkDocument(content, ChunkOptions{})
	if len(chunks) < 3 {
		t.Fatalf("expected several chunks for %d bytes, got %d", len(content), len(chunks))
	}
	checkChunkInvariants(t, content, chunks, DefaultMaxChunkChars)

	for i := 0; i+1 < len(chunks); i++ {
		overlap := chunks[i].EndOffset - chunks[i+1].StartOffset
		if overlap <= 0 || overlap > DefaultOverlapChars {
			t.Errorf("overlap between %d and %d = %d, want (0, %d]", i, i+1, overlap, DefaultOverlapChars)
		}
	}
}

func TestChunkDocumentPrefersParagraphBreak(t *testing.T) {
	content := strings.Repeat("a", 11000) + "\n\n" + strings.Repeat("b", 5000)
	chunks := ChunkDocument(content, ChunkOptions{})
	if chunks[0].EndOffset != 11002 {
		t.Fatalf("first chunk ends at %d, want 11002", chunks[0].EndOffset)
	}
	if !strings.HasSuffix(chunks[0].Text, "\n\n") {
		t.Error("first chunk should end after the blank line")
	}
	checkChunkInvariants(t, content, chunks, DefaultMaxChunkChars)
}

func TestChunkDocumentNewlineBeatsSentence(t *testing.T) {
	content := strings.Repeat("a", 10500) + ". " + strings.Repeat("a", 500) + "\n" + strings.Repeat("b", 5000)
	chunks := ChunkDocument(content, ChunkOptions{})
	if chunks[0].EndOffset != 11003 {
		t.Fatalf("first chunk ends at %d, want 11003 (after the newline)", chunks[0].EndOffset)
	}
}

func TestChunkDocumentSentenceBreak(t *testing.T) {
	content := strings.Repeat("a", 11000) + ". " + strings.Repeat("b", 5000)
	chunks := ChunkDocument(content, ChunkOptions{})
	if chunks[0].EndOffset != 11002 {
		t.Fatalf("first chunk ends at %d, want 11002", chunks[0].EndOffset)
	}
	if !strings.HasSuffix(chunks[0].Text, ". ") {
		t.Error("first chunk should end after the terminator and space")
	}
}

func TestChunkDocumentBareTerminatorBreak(t *testing.T) {
	content := strings.Repeat("a", 11000) + "." + strings.Repeat("b", 5000)
	chunks := ChunkDocument(content, ChunkOptions{})
	if chunks[0].EndOffset != 11001 {
		t.Fatalf("first chunk ends at %d, want 11001 (after the bare terminator)", chunks[0].EndOffset)
	}
	checkChunkInvariants(t, content, chunks, DefaultMaxChunkChars)
}

func TestChunkDocumentSpacedTerminatorBeatsBare(t *testing.T) {
	content := strings.Repeat("a", 10500) + ". " + strings.Repeat("a", 500) + "." + strings.Repeat("b", 5000)
	chunks := ChunkDocument(content, ChunkOptions{})
	if chunks[0].EndOffset != 10502 {
		t.Fatalf("first chunk ends at %d, want 10502", chunks[0].EndOffset)
	}
}

func TestChunkOptionsDefaultOverlapKeptForSmallerWindow(t *testing.T) {
	tests := []struct {
		opts        ChunkOptions
		wantOverlap int
		wantMin     int
	}{
		{ChunkOptions{MaxChars: 2000}, DefaultOverlapChars, DefaultMinChunkChars},
		{ChunkOptions{MaxChars: 3000}, DefaultOverlapChars, DefaultMinChunkChars},
		{ChunkOptions{MaxChars: 800}, 200, 400},
		{ChunkOptions{MaxChars: 100}, 25, 50},
	}
	for _, tt := range tests {
		r := tt.opts.resolve()
		if r.OverlapChars != tt.wantOverlap || r.MinChars != tt.wantMin {
			t.Errorf("MaxChars=%d: overlap=%d min=%d, want overlap=%d min=%d",
				tt.opts.MaxChars, r.OverlapChars, r.MinChars, tt.wantOverlap, tt.wantMin)
		}
	}

	content := strings.Repeat("x", 5000)
	chunks := ChunkDocument(content, ChunkOptions{MaxChars: 2000})
	if overlap := chunks[0].EndOffset - chunks[1].StartOffset; overlap != DefaultOverlapChars {
		t.Errorf("overlap = %d, want %d", overlap, DefaultOverlapChars)
	}
}

func TestChunkDocumentBreakNotBeforeMinChars(t *testing.T) {
	// The only newline is inside the first MinChars bytes, so it must be ignored.
	content := strings.Repeat("a", 500) + "\n" + strings.Repeat("b", 2000)
	chunks := ChunkDocument(content, ChunkOptions{MaxChars: 1500, MinChars: 1000})
	if chunks[0].EndOffset != 1500 {
		t.Fatalf("first chunk ends at %d, want raw max 1500", chunks[0].EndOffset)
	}
}

func TestChunkDocumentNextStartSnapsToSentence(t *testing.T) {
	content := narrative(60)
	chunks := ChunkDocument(content, ChunkOptions{MaxChars: 2000, OverlapChars: 300})
	checkChunkInvariants(t, content, chunks, 2000)
	for _, c := range chunks[1:] {
		prev := content[c.StartOffset-1]
		if prev != ' ' && prev != '\n' {
			t.Errorf("chunk %d starts mid-sentence after %q", c.Index, prev)
		}
	}
}

func TestChunkDocumentMultibyte(t *testing.T) {
	content := strings.Repeat("é日", 400)
	chunks := ChunkDocument(content, ChunkOptions{MaxChars: 100, OverlapChars: 10})
	checkChunkInvariants(t, content, chunks, 100)
}

func TestChunkDocumentNoOverlap(t *testing.T) {
	content := strings.Repeat("x", 250)
	chunks := ChunkDocument(content, ChunkOptions{MaxChars: 100, OverlapChars: -1})
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	for i := 0; i+1 < len(chunks); i++ {
		if chunks[i].EndOffset != chunks[i+1].StartOffset {
			t.Errorf("chunks %d and %d overlap", i, i+1)
		}
	}
}

func TestNeedsChunking(t *testing.T) {
	tests := []struct {
		length int
		max    int
		want   bool
	}{
		{12000, 0, false},
		{12001, 0, true},
		{100, 100, false},
		{101, 100, true},
	}
	for _, tt := range tests {
		if got := NeedsChunking(strings.Repeat("x", tt.length), tt.max); got != tt.want {
			t.Errorf("NeedsChunking(len=%d, max=%d) = %v, want %v", tt.length, tt.max, got, tt.want)
		}
	}
}

func TestChunkOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    ChunkOptions
		wantErr bool
	}{
		{"zero is defaults", ChunkOptions{}, false},
		{"defaults", DefaultChunkOptions(), false},
		{"small window", ChunkOptions{MaxChars: 100}, false},
		{"no overlap", ChunkOptions{MaxChars: 100, OverlapChars: -1}, false},
		{"overlap equals max", ChunkOptions{MaxChars: 100, OverlapChars: 100}, true},
		{"negative max", ChunkOptions{MaxChars: -5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
