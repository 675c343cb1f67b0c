package extract

import (
	"strings"
	"testing"
)

const heroDoc = "The hero walked into the dark forest. Birds sang overhead."

func wholeChunk(content string) Chunk {
	return Chunk{Text: content, StartOffset: 0, EndOffset: len(content)}
}

func TestMapEvidenceExactInFirstChunk(t *testing.T) {
	chunk := Chunk{Text: heroDoc[:37], StartOffset: 0, EndOffset: 37}
	pos := MapEvidenceToDocument("dark forest", chunk, heroDoc)
	if pos == nil {
		t.Fatal("expected a position")
	}
	if pos.Start != 25 || pos.End != 36 {
		t.Errorf("got [%d,%d), want [25,36)", pos.Start, pos.End)
	}
	if heroDoc[pos.Start:pos.End] != "dark forest" {
		t.Errorf("slice = %q", heroDoc[pos.Start:pos.End])
	}
}

func TestMapEvidenceExactUsesChunkOffset(t *testing.T) {
	content := strings.Repeat("Filler sentence here. ", 50) + "Mira crossed the river at dusk. " + strings.Repeat("More filler. ", 20)
	start := strings.Index(content, "Mira")
	chunk := Chunk{Text: content[start-22:], StartOffset: start - 22, EndOffset: len(content), Index: 1}

	evidence := "Mira crossed the river at dusk."
	pos := MapEvidenceToDocument(evidence, chunk, content)
	if pos == nil {
		t.Fatal("expected a position")
	}
	if pos.Start != start || pos.End != start+len(evidence) {
		t.Errorf("got [%d,%d), want [%d,%d)", pos.Start, pos.End, start, start+len(evidence))
	}
}

func TestMapEvidenceRoundTrip(t *testing.T) {
	content := narrative(40)
	chunks := ChunkDocument(content, ChunkOptions{MaxChars: 3000})
	for _, c := range chunks {
		a := c.StartOffset + len(c.Text)/3
		b := a + 40
		evidence := content[a:b]
		pos := MapEvidenceToDocument(evidence, c, content)
		if pos == nil {
			t.Fatalf("chunk %d: evidence not found", c.Index)
		}
		// Repeated phrasing may match earlier in the chunk; the slice must still be identical.
		if content[pos.Start:pos.End] != evidence {
			t.Errorf("chunk %d: slice %q != evidence %q", c.Index, content[pos.Start:pos.End], evidence)
		}
		if pos.Start < c.StartOffset || pos.End > c.EndOffset {
			t.Errorf("chunk %d: exact match escaped the chunk: [%d,%d)", c.Index, pos.Start, pos.End)
		}
	}
}

func TestMapEvidenceFuzzyFallback(t *testing.T) {
	content := "At dawn Aldric the brave drew his silver sword before the gate."
	evidence := "Aldric drew a silver sword"

	pos := MapEvidenceToDocument(evidence, wholeChunk(content), content)
	if pos == nil {
		t.Fatal("expected fuzzy match")
	}
	wantStart := strings.Index(content, "Aldric")
	wantEnd := strings.Index(content, "sword") + len("sword")
	if pos.Start != wantStart || pos.End != wantEnd {
		t.Errorf("got [%d,%d), want [%d,%d)", pos.Start, pos.End, wantStart, wantEnd)
	}
}

func TestMapEvidenceFuzzySearchesWholeDocument(t *testing.T) {
	content := "Chapter one is quiet.\n\nLater, the Ember Crown was hidden beneath the old chapel."
	chunk := Chunk{Text: content[:21], StartOffset: 0, EndOffset: 21}

	pos := MapEvidenceToDocument("ember crown hidden beneath chapel", chunk, content)
	if pos == nil {
		t.Fatal("expected a match outside the chunk")
	}
	got := content[pos.Start:pos.End]
	if !strings.HasPrefix(got, "Ember") || !strings.HasSuffix(got, "chapel") {
		t.Errorf("unexpected span %q", got)
	}
}

func TestMapEvidenceFuzzyEscapesRegexMeta(t *testing.T) {
	content := "The toll was paid (gold) plus interest [sic] to the ferryman."
	pos := MapEvidenceToDocument("toll paid (gold) interest [sic]", wholeChunk(content), content)
	if pos == nil {
		t.Fatal("expected match with literal metacharacters")
	}
	if !strings.HasPrefix(content[pos.Start:], "toll") {
		t.Errorf("span starts at %q", content[pos.Start:pos.End])
	}
}

func TestMapEvidenceMisses(t *testing.T) {
	tests := []struct {
		name     string
		evidence string
	}{
		{"empty", ""},
		{"only short words", "he is in the den of a fox"},
		{"absent", "dragons never visited this valley"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if pos := MapEvidenceToDocument(tt.evidence, wholeChunk(heroDoc), heroDoc); pos != nil {
				t.Errorf("expected nil, got %+v", pos)
			}
		})
	}
}

func TestAnchorWords(t *testing.T) {
	got := anchorWords("  the   Éowyn rode  with six riders toward Edoras at night ")
	want := []string{"Éowyn", "rode", "with", "riders", "toward"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("anchorWords = %v, want %v", got, want)
	}
}

func TestEditDistanceLocatorTypo(t *testing.T) {
	content := "Aldric drew his silver sword at dawn."
	var loc EvidenceLocator = EditDistanceLocator{}

	pos := loc.Locate("Aldric drew his silvr sword", wholeChunk(content), content)
	if pos == nil {
		t.Fatal("expected edit-distance match")
	}
	if pos.Start != 0 || pos.End != 27 {
		t.Errorf("got [%d,%d), want [0,27)", pos.Start, pos.End)
	}
}

func TestEditDistanceLocatorKeepsExactPath(t *testing.T) {
	loc := EditDistanceLocator{}
	chunk := Chunk{Text: heroDoc[:37], StartOffset: 0, EndOffset: 37}
	pos := loc.Locate("dark forest", chunk, heroDoc)
	if pos == nil || pos.Start != 25 || pos.End != 36 {
		t.Errorf("got %+v, want [25,36)", pos)
	}
}

func TestEditDistanceLocatorFallsBackToRegex(t *testing.T) {
	content := "Chapter one is quiet.\n\nLater, the Ember Crown was hidden beneath the old chapel."
	chunk := Chunk{Text: content[:21], StartOffset: 0, EndOffset: 21}
	pos := EditDistanceLocator{}.Locate("ember crown hidden beneath chapel", chunk, content)
	if pos == nil {
		t.Fatal("expected regex fallback to find the anchor")
	}
}

func TestLocateResultEvidence(t *testing.T) {
	r := ExtractionResult{
		Facts: []Fact{
			{Subject: "hero", Predicate: "entered", Object: "forest", Evidence: "dark forest"},
			{Subject: "hero", Predicate: "fears", Object: "owls", Evidence: "zzz qqq"},
			{Subject: "hero", Predicate: "is", Object: "brave"},
		},
		Relationships: []Relationship{
			{SourceEntity: "Birds", TargetEntity: "hero", RelationshipType: "sing over", Evidence: "Birds sang overhead."},
		},
	}
	located, missed := locateResultEvidence(&r, wholeChunk(heroDoc), heroDoc, RegexLocator{})
	if located != 2 || missed != 1 {
		t.Fatalf("located=%d missed=%d, want 2/1", located, missed)
	}
	if r.Facts[1].EvidencePosition != nil || r.Facts[2].EvidencePosition != nil {
		t.Error("unverified or absent evidence must leave the position nil")
	}
	if len(r.Facts) != 3 {
		t.Error("facts with unverified evidence must be kept")
	}
	rp := r.Relationships[0].EvidencePosition
	if rp == nil || heroDoc[rp.Start:rp.End] != "Birds sang overhead." {
		t.Errorf("relationship position = %+v", rp)
	}
}
