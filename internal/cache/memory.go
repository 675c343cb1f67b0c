package cache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

type memoryKey struct {
	hash    string
	version string
}

// Memory is an in-process cache backed by an expirable LRU. A size of zero
// means unbounded, so eviction is by TTL only.
type Memory struct {
	lru *expirable.LRU[memoryKey, *Entry]
	ttl time.Duration
	now func() time.Time
}

// NewMemory creates a memory cache holding at most size entries for ttl
// (DefaultTTL when ttl <= 0).
func NewMemory(size int, ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		lru: expirable.NewLRU[memoryKey, *Entry](size, nil, ttl),
		ttl: ttl,
		now: time.Now,
	}
}

func (m *Memory) Check(_ context.Context, inputHash, promptVersion string) (*Entry, error) {
	e, ok := m.lru.Get(memoryKey{inputHash, promptVersion})
	if !ok {
		return nil, nil
	}
	if e.Expired(m.now()) {
		m.lru.Remove(memoryKey{inputHash, promptVersion})
		return nil, nil
	}
	out := *e
	return &out, nil
}

func (m *Memory) Save(_ context.Context, inputHash, promptVersion, modelID string, response []byte) error {
	now := m.now()
	m.put(&Entry{
		InputHash:     inputHash,
		PromptVersion: promptVersion,
		ModelID:       modelID,
		Response:      append([]byte(nil), response...),
		CreatedAt:     now,
		ExpiresAt:     now.Add(m.ttl),
	})
	return nil
}

// put stores e as-is, keeping its ExpiresAt.
func (m *Memory) put(e *Entry) {
	m.lru.Add(memoryKey{e.InputHash, e.PromptVersion}, e)
}

func (m *Memory) Sweep(_ context.Context, now time.Time) (int, error) {
	removed := 0
	for _, k := range m.lru.Keys() {
		e, ok := m.lru.Peek(k)
		if ok && e.Expired(now) {
			m.lru.Remove(k)
			removed++
		}
	}
	return removed, nil
}

// Len is the number of entries currently held.
func (m *Memory) Len() int { return m.lru.Len() }
