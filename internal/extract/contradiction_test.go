package extract

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hurttlocker/canon/internal/cache"
)

const bakerDoc = "Aldric kneaded the dough at dawn. He had never held a sword in his life."

func TestCheckContradictions(t *testing.T) {
	src := memSource{"d1": {ID: "d1", Content: bakerDoc}}
	checker := &scriptedCaller{respond: func(text string) map[string]any {
		if !strings.Contains(text, "Aldric is a knight") || !strings.Contains(text, bakerDoc) {
			t.Errorf("prompt missing canon or document: %q", text)
		}
		return map[string]any{"contradictions": []any{
			map[string]any{
				"existingFact": "Aldric is a knight",
				"newClaim":     "Aldric never held a sword",
				"severity":     "CRITICAL",
				"evidence":     "He had never held a sword in his life.",
			},
		}}
	}}
	o, err := NewOrchestrator(OrchestratorConfig{
		Source:              src,
		Cache:               cache.NewMemory(0, time.Hour),
		Caller:              &scriptedCaller{respond: firstLineResponder},
		ContradictionCaller: checker,
	})
	if err != nil {
		t.Fatal(err)
	}

	found, err := o.CheckContradictions(context.Background(), "d1", "Aldric is a knight.")
	if err != nil {
		t.Fatalf("CheckContradictions: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("got %d contradictions", len(found))
	}
	c := found[0]
	if c.Severity != SeverityHigh {
		t.Errorf("severity = %q, want high", c.Severity)
	}
	if c.EvidencePosition == nil || bakerDoc[c.EvidencePosition.Start:c.EvidencePosition.End] != c.Evidence {
		t.Errorf("evidence not located: %+v", c.EvidencePosition)
	}

	if _, err := o.CheckContradictions(context.Background(), "d1", "Aldric is a knight."); err != nil {
		t.Fatal(err)
	}
	if checker.calls() != 1 {
		t.Errorf("same canon context should hit the cache, got %d calls", checker.calls())
	}
	if _, err := o.CheckContradictions(context.Background(), "d1", "Aldric is a knight. Mira is his sister."); err != nil {
		t.Fatal(err)
	}
	if checker.calls() != 2 {
		t.Errorf("changed canon context must miss the cache, got %d calls", checker.calls())
	}
}

func TestCheckContradictionsNeedsCaller(t *testing.T) {
	o := newTestOrchestrator(t, memSource{"d1": {ID: "d1", Content: bakerDoc}}, nil, &scriptedCaller{respond: firstLineResponder}, 1)
	_, err := o.CheckContradictions(context.Background(), "d1", "canon")
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("error = %v, want configuration error", err)
	}
}

func TestNormalizeContradictions(t *testing.T) {
	got := NormalizeContradictions(`[{"existing_fact":"a","new_claim":"b"},{"severity":"low"},"junk"]`)
	if len(got) != 1 {
		t.Fatalf("got %d, want 1", len(got))
	}
	if got[0].Severity != SeverityMedium || got[0].ExistingFact != "a" || got[0].NewClaim != "b" {
		t.Errorf("unexpected %+v", got[0])
	}
	if len(NormalizeContradictions("not json")) != 0 {
		t.Error("garbage should normalize to nothing")
	}
}
