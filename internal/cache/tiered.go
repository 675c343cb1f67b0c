package cache

import (
	"context"
	"time"
)

// TierObserver receives per-tier hit/miss events; *metrics.Collector satisfies it.
type TierObserver interface {
	CacheLookup(tier string, hit bool)
}

// Tiered reads through a memory front to a durable back cache. Back hits are
// copied into the front with their original expiry.
type Tiered struct {
	Front    *Memory
	Back     Cache
	Observer TierObserver
}

func (t *Tiered) observe(tier string, hit bool) {
	if t.Observer != nil {
		t.Observer.CacheLookup(tier, hit)
	}
}

func (t *Tiered) Check(ctx context.Context, inputHash, promptVersion string) (*Entry, error) {
	if e, _ := t.Front.Check(ctx, inputHash, promptVersion); e != nil {
		t.observe("memory", true)
		return e, nil
	}
	t.observe("memory", false)

	e, err := t.Back.Check(ctx, inputHash, promptVersion)
	if err != nil || e == nil {
		return e, err
	}
	copied := *e
	t.Front.put(&copied)
	return e, nil
}

func (t *Tiered) Save(ctx context.Context, inputHash, promptVersion, modelID string, response []byte) error {
	if err := t.Back.Save(ctx, inputHash, promptVersion, modelID, response); err != nil {
		return err
	}
	return t.Front.Save(ctx, inputHash, promptVersion, modelID, response)
}

func (t *Tiered) Sweep(ctx context.Context, now time.Time) (int, error) {
	if _, err := t.Front.Sweep(ctx, now); err != nil {
		return 0, err
	}
	return t.Back.Sweep(ctx, now)
}
