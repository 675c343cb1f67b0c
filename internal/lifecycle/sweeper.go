// Package lifecycle runs periodic housekeeping: expired extraction cache
// entries are deleted and documents abandoned mid-extraction are failed so
// they can be retried.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/hurttlocker/canon/internal/cache"
	"github.com/hurttlocker/canon/internal/logger"
)

// DefaultInterval is how often Run sweeps.
const DefaultInterval = time.Hour

// DefaultStaleAfter is how long a document may stay processing.
const DefaultStaleAfter = 30 * time.Minute

// StaleDocuments resets documents stuck in processing. store.SQLiteStore implements it.
type StaleDocuments interface {
	FailStaleProcessing(ctx context.Context, cutoff time.Time) (int, error)
}

// Report is the result of one sweep.
type Report struct {
	At             time.Time `json:"at"`
	CacheExpired   int       `json:"cache_expired"`
	DocumentsReset int       `json:"documents_reset"`
}

// Config configures a Sweeper.
type Config struct {
	Cache      cache.Cache
	Documents  StaleDocuments // optional
	Interval   time.Duration  // default DefaultInterval
	StaleAfter time.Duration  // default DefaultStaleAfter
	Log        *logger.Logger
}

// Sweeper applies the housekeeping policies once or on a ticker.
type Sweeper struct {
	cfg Config
	now func() time.Time
}

func NewSweeper(cfg Config) (*Sweeper, error) {
	if cfg.Cache == nil {
		return nil, fmt.Errorf("lifecycle sweeper requires a cache")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = DefaultStaleAfter
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	return &Sweeper{cfg: cfg, now: time.Now}, nil
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (*Report, error) {
	now := s.now().UTC()
	report := &Report{At: now}

	n, err := s.cfg.Cache.Sweep(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("sweeping cache: %w", err)
	}
	report.CacheExpired = n

	if s.cfg.Documents != nil {
		n, err := s.cfg.Documents.FailStaleProcessing(ctx, now.Add(-s.cfg.StaleAfter))
		if err != nil {
			return nil, err
		}
		report.DocumentsReset = n
	}
	return report, nil
}

// Run sweeps immediately and then every Interval until ctx is done.
// Sweep failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		report, err := s.RunOnce(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.cfg.Log.Warn("lifecycle sweep failed", "error", err)
		case report.CacheExpired > 0 || report.DocumentsReset > 0:
			s.cfg.Log.Info("lifecycle sweep",
				"cache_expired", report.CacheExpired,
				"documents_reset", report.DocumentsReset,
			)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
