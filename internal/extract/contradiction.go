package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hurttlocker/canon/internal/cache"
)

// Severity grades how badly a new claim conflicts with canon.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Contradiction is one conflict between a document and established canon.
type Contradiction struct {
	ExistingFact     string    `json:"existingFact"`
	NewClaim         string    `json:"newClaim"`
	Explanation      string    `json:"explanation,omitempty"`
	Severity         Severity  `json:"severity"`
	Evidence         string    `json:"evidence,omitempty"`
	EvidencePosition *Position `json:"evidencePosition,omitempty"`
}

// CheckContradictions asks the LLM which claims in the document conflict
// with canonContext. The whole document goes out in one call; the response
// is cached under a hash of version, canon context and content together, so
// any change to the canon re-runs the check.
func (o *Orchestrator) CheckContradictions(ctx context.Context, documentID, canonContext string) ([]Contradiction, error) {
	if o.contradiction == nil {
		return nil, ConfigurationError("check contradictions", fmt.Errorf("no contradiction caller configured"))
	}
	doc, err := o.loadDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	log := o.log.With("document_id", documentID)
	content := doc.Content
	hash := cache.HashInput(cache.ContradictionInput(ContradictionPromptVersion, canonContext, content))

	var found []Contradiction
	if e := o.check(ctx, log, "contradiction", hash, ContradictionPromptVersion); e != nil {
		found = NormalizeContradictions([]byte(e.Response))
	} else {
		raw, modelID, err := o.contradiction.CallLLM(ctx, buildContradictionPrompt(canonContext, content))
		o.metrics.LLMCall("contradiction", err)
		if err != nil {
			return nil, err
		}
		found = NormalizeContradictions(raw)
		if data, err := json.Marshal(found); err == nil {
			if err := o.cache.Save(ctx, hash, ContradictionPromptVersion, modelID, data); err != nil {
				log.Warn("cache write failed", "version", ContradictionPromptVersion, "error", err)
			}
		}
	}

	whole := Chunk{Text: content, StartOffset: 0, EndOffset: len(content)}
	for i := range found {
		found[i].EvidencePosition = nil
		if found[i].Evidence != "" {
			found[i].EvidencePosition = o.locator.Locate(found[i].Evidence, whole, content)
		}
	}
	log.Debug("contradiction check finished", "contradictions", len(found))
	return found, nil
}

// NormalizeContradictions reshapes an LLM contradiction reply. It accepts
// {"contradictions": [...]}, a bare array, or raw JSON text, and never fails.
func NormalizeContradictions(raw any) []Contradiction {
	switch t := raw.(type) {
	case string:
		raw, _ = ParseLLMContent(t)
	case []byte:
		raw, _ = ParseLLMContent(string(t))
	case json.RawMessage:
		raw, _ = ParseLLMContent(string(t))
	}

	out := []Contradiction{}
	var items any = raw
	if root, ok := asObject(raw); ok {
		v, ok := root.get("contradictions", "conflicts")
		if !ok {
			return out
		}
		items = v
	}
	eachItem(items, func(_ string, item any) {
		obj, ok := asObject(item)
		if !ok {
			return
		}
		c := Contradiction{
			ExistingFact: stringField(obj, "existingFact", "existing_fact", "canon"),
			NewClaim:     stringField(obj, "newClaim", "new_claim", "claim"),
			Explanation:  stringField(obj, "explanation", "reason"),
			Severity:     normalizeSeverity(stringField(obj, "severity")),
			Evidence:     evidenceField(obj),
		}
		if c.ExistingFact == "" && c.NewClaim == "" {
			return
		}
		out = append(out, c)
	})
	return out
}

func normalizeSeverity(raw string) Severity {
	switch s := Severity(strings.ToLower(strings.TrimSpace(raw))); s {
	case SeverityLow, SeverityMedium, SeverityHigh:
		return s
	case "critical", "major", "severe":
		return SeverityHigh
	case "minor", "trivial":
		return SeverityLow
	}
	return SeverityMedium
}
