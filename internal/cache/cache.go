// Package cache defines the extraction cache: LLM responses keyed by the hash
// of the exact input text and the prompt version that produced them.
//
// The cache is an optimization only. A miss, an error or an expired row must
// never change what an extraction returns, only what it costs.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// DefaultTTL is how long a saved response stays readable.
const DefaultTTL = 30 * 24 * time.Hour

// Entry is one cached LLM response. Entries are replaced wholesale, never edited.
type Entry struct {
	InputHash     string          `json:"inputHash"`
	PromptVersion string          `json:"promptVersion"`
	ModelID       string          `json:"modelId"`
	Response      json.RawMessage `json:"response"`
	CreatedAt     time.Time       `json:"createdAt"`
	ExpiresAt     time.Time       `json:"expiresAt"`
}

// Expired reports whether e is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Cache is the extraction cache contract.
type Cache interface {
	// Check returns the live entry for (inputHash, promptVersion), or nil, nil on a miss.
	Check(ctx context.Context, inputHash, promptVersion string) (*Entry, error)
	// Save upserts the entry for (inputHash, promptVersion); last writer wins.
	Save(ctx context.Context, inputHash, promptVersion, modelID string, response []byte) error
	// Sweep deletes entries expired at now and returns how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// HashInput is the lowercase hex SHA-256 of the exact text sent to the LLM.
func HashInput(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// ContradictionInput builds the hashed input for a contradiction check.
func ContradictionInput(promptVersion, canonContext, content string) string {
	return promptVersion + ":" + canonContext + ":" + content
}

// Nop never hits and never stores.
type Nop struct{}

func (Nop) Check(context.Context, string, string) (*Entry, error) { return nil, nil }
func (Nop) Save(context.Context, string, string, string, []byte) error { return nil }
func (Nop) Sweep(context.Context, time.Time) (int, error) { return 0, nil }
