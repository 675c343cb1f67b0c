package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hurttlocker/canon/internal/cache"
	"github.com/hurttlocker/canon/internal/logger"
	"github.com/hurttlocker/canon/internal/metrics"
)

// Document is what the orchestrator needs to know about a stored document.
type Document struct {
	ID        string
	ProjectID string
	Content   string
}

// DocumentSource loads documents by id. A missing document is (nil, nil).
type DocumentSource interface {
	GetDocument(ctx context.Context, id string) (*Document, error)
}

// OrchestratorConfig wires the orchestrator's collaborators. Source, Cache
// and Caller are required; the rest default.
type OrchestratorConfig struct {
	Source              DocumentSource
	Cache               cache.Cache
	Caller              Caller
	ContradictionCaller Caller
	Locator             EvidenceLocator // default RegexLocator
	Chunking            ChunkOptions    // per-request overrides fill in from here
	Parallelism         int             // concurrent chunk LLM calls; <= 1 is sequential
	Log                 *logger.Logger
	Metrics             *metrics.Collector
}

// Orchestrator runs document extraction: chunk, call or reuse the cache per
// chunk, remap evidence to document offsets, merge.
type Orchestrator struct {
	source        DocumentSource
	cache         cache.Cache
	caller        Caller
	contradiction Caller
	locator       EvidenceLocator
	chunking      ChunkOptions
	parallelism   int
	log           *logger.Logger
	metrics       *metrics.Collector
}

// ExtractStats describes how an extraction was served.
type ExtractStats struct {
	Chunks             int  `json:"chunks"`
	CacheHits          int  `json:"cacheHits"`
	LLMCalls           int  `json:"llmCalls"`
	EvidenceLocated    int  `json:"evidenceLocated"`
	EvidenceUnverified int  `json:"evidenceUnverified"`
	DocumentCacheHit   bool `json:"documentCacheHit"`
}

// NewOrchestrator validates cfg and fills defaults.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Source == nil {
		return nil, ConfigurationError("new orchestrator", fmt.Errorf("document source is required"))
	}
	if cfg.Caller == nil {
		return nil, ConfigurationError("new orchestrator", fmt.Errorf("LLM caller is required"))
	}
	if err := cfg.Chunking.Validate(); err != nil {
		return nil, ConfigurationError("new orchestrator", err)
	}
	o := &Orchestrator{
		source:        cfg.Source,
		cache:         cfg.Cache,
		caller:        cfg.Caller,
		contradiction: cfg.ContradictionCaller,
		locator:       cfg.Locator,
		chunking:      cfg.Chunking,
		parallelism:   cfg.Parallelism,
		log:           cfg.Log,
		metrics:       cfg.Metrics,
	}
	if o.cache == nil {
		o.cache = cache.Nop{}
	}
	if o.locator == nil {
		o.locator = RegexLocator{}
	}
	if o.log == nil {
		o.log = logger.Nop()
	}
	return o, nil
}

// ExtractFromDocument extracts canon from a stored document with the
// orchestrator's default chunking.
func (o *Orchestrator) ExtractFromDocument(ctx context.Context, documentID string) (ExtractionResult, error) {
	result, _, err := o.ExtractDetailed(ctx, documentID, ChunkOptions{})
	return result, err
}

// ExtractDetailed is ExtractFromDocument with per-request chunking overrides
// and stats. Any LLM or parse failure aborts the whole document; chunks that
// already succeeded stay cached, so calling again only pays for the rest.
func (o *Orchestrator) ExtractDetailed(ctx context.Context, documentID string, overrides ChunkOptions) (ExtractionResult, ExtractStats, error) {
	var stats ExtractStats
	start := time.Now()

	opts := o.chunkOptions(overrides)
	if err := o.ValidateChunking(overrides); err != nil {
		return ExtractionResult{}, stats, err
	}

	doc, err := o.loadDocument(ctx, documentID)
	if err != nil {
		return ExtractionResult{}, stats, err
	}
	log := o.log.With("document_id", documentID)
	content := doc.Content
	docHash := cache.HashInput(content)

	if result, ok := o.cachedResult(ctx, log, "document", docHash, DocumentPromptVersion); ok {
		stats.DocumentCacheHit, stats.CacheHits = true, 1
		o.finish(log, stats, start)
		return result, stats, nil
	}

	if !NeedsChunking(content, opts.resolve().MaxChars) {
		raw, modelID, err := o.callLLM(ctx, content)
		if err != nil {
			o.metrics.Extraction("failed", time.Since(start))
			return ExtractionResult{}, stats, err
		}
		stats.Chunks, stats.LLMCalls = 1, 1
		o.metrics.Chunk()

		// Merging a single result folds case-variant entity names together
		// the same way the chunked path does.
		result := MergeExtractionResults([]ExtractionResult{NormalizeExtractionResult(raw)})
		whole := Chunk{Text: content, StartOffset: 0, EndOffset: len(content), Index: 0}
		stats.EvidenceLocated, stats.EvidenceUnverified = locateResultEvidence(&result, whole, content, o.locator)
		o.save(ctx, log, docHash, DocumentPromptVersion, modelID, result)
		o.finish(log, stats, start)
		return result, stats, nil
	}

	mergedVersion := mergedPromptVersion(opts)
	if result, ok := o.cachedResult(ctx, log, "document", docHash, mergedVersion); ok {
		stats.DocumentCacheHit, stats.CacheHits = true, 1
		o.finish(log, stats, start)
		return result, stats, nil
	}

	chunks := ChunkDocument(content, opts)
	stats.Chunks = len(chunks)
	log.Debug("chunked document", "chunks", len(chunks), "length", len(content))

	outcomes, err := o.extractChunks(ctx, log, chunks)
	if err != nil {
		o.metrics.Extraction("failed", time.Since(start))
		return ExtractionResult{}, stats, err
	}

	results := make([]ExtractionResult, len(chunks))
	modelID := ""
	for i, out := range outcomes {
		if out.cached {
			stats.CacheHits++
		} else {
			stats.LLMCalls++
		}
		if modelID == "" {
			modelID = out.modelID
		}
		r := out.result
		located, missed := locateResultEvidence(&r, chunks[i], content, o.locator)
		stats.EvidenceLocated += located
		stats.EvidenceUnverified += missed
		if missed > 0 {
			log.Debug("unverified evidence in chunk", "chunk", i, "missed", missed)
		}
		results[i] = r
	}

	merged := MergeExtractionResults(results)
	o.save(ctx, log, docHash, mergedVersion, modelID, merged)
	o.finish(log, stats, start)
	return merged, stats, nil
}

type chunkOutcome struct {
	result  ExtractionResult
	modelID string
	cached  bool
}

// extractChunks returns one outcome per chunk, slotted by index. With
// parallelism the LLM calls overlap but the slots keep chunk order.
func (o *Orchestrator) extractChunks(ctx context.Context, log *logger.Logger, chunks []Chunk) ([]chunkOutcome, error) {
	outcomes := make([]chunkOutcome, len(chunks))

	if o.parallelism <= 1 {
		for i, c := range chunks {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			out, err := o.extractChunk(ctx, log, c)
			if err != nil {
				return nil, err
			}
			outcomes[i] = out
		}
		return outcomes, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.parallelism)
	for i, c := range chunks {
		g.Go(func() error {
			out, err := o.extractChunk(gctx, log, c)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

// extractChunk returns the chunk-relative result for one chunk, from the
// cache or a fresh LLM call. Fresh results are cached before evidence is
// located, so the cached form never carries offsets.
func (o *Orchestrator) extractChunk(ctx context.Context, log *logger.Logger, c Chunk) (chunkOutcome, error) {
	o.metrics.Chunk()
	hash := cache.HashInput(c.Text)
	if e := o.check(ctx, log, "chunk", hash, ChunkPromptVersion); e != nil {
		r := NormalizeExtractionResult([]byte(e.Response))
		return chunkOutcome{result: r, modelID: e.ModelID, cached: true}, nil
	}

	raw, modelID, err := o.callLLM(ctx, c.Text)
	if err != nil {
		return chunkOutcome{}, fmt.Errorf("chunk %d [%d,%d): %w", c.Index, c.StartOffset, c.EndOffset, err)
	}
	r := NormalizeExtractionResult(raw)
	o.save(ctx, log, hash, ChunkPromptVersion, modelID, r)
	return chunkOutcome{result: r, modelID: modelID}, nil
}

func (o *Orchestrator) loadDocument(ctx context.Context, documentID string) (*Document, error) {
	doc, err := o.source.GetDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", documentID, err)
	}
	if doc == nil {
		return nil, NotFoundError("extract", "document %s not found", documentID)
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, NotFoundError("extract", "document %s has no content", documentID)
	}
	return doc, nil
}

func (o *Orchestrator) callLLM(ctx context.Context, text string) (any, string, error) {
	raw, modelID, err := o.caller.CallLLM(ctx, text)
	o.metrics.LLMCall("extract", err)
	return raw, modelID, err
}

// check is a cache read that never fails: errors are logged and count as a miss.
func (o *Orchestrator) check(ctx context.Context, log *logger.Logger, tier, hash, version string) *cache.Entry {
	e, err := o.cache.Check(ctx, hash, version)
	if err != nil {
		log.Warn("cache read failed", "tier", tier, "version", version, "error", err)
		e = nil
	}
	o.metrics.CacheLookup(tier, e != nil)
	return e
}

func (o *Orchestrator) cachedResult(ctx context.Context, log *logger.Logger, tier, hash, version string) (ExtractionResult, bool) {
	e := o.check(ctx, log, tier, hash, version)
	if e == nil {
		return ExtractionResult{}, false
	}
	log.Debug("document cache hit", "version", version, "model", e.ModelID)
	return NormalizeExtractionResult([]byte(e.Response)), true
}

func (o *Orchestrator) save(ctx context.Context, log *logger.Logger, hash, version, modelID string, result ExtractionResult) {
	data, err := json.Marshal(result)
	if err != nil {
		log.Warn("encoding result for cache", "error", err)
		return
	}
	if err := o.cache.Save(ctx, hash, version, modelID, data); err != nil {
		log.Warn("cache write failed", "version", version, "error", err)
	}
}

func (o *Orchestrator) finish(log *logger.Logger, stats ExtractStats, start time.Time) {
	o.metrics.Extraction("completed", time.Since(start))
	o.metrics.EvidenceResult(stats.EvidenceLocated, stats.EvidenceUnverified)
	log.Info("extraction finished",
		"chunks", stats.Chunks,
		"cache_hits", stats.CacheHits,
		"llm_calls", stats.LLMCalls,
		"evidence_located", stats.EvidenceLocated,
		"evidence_unverified", stats.EvidenceUnverified,
		"document_cache_hit", stats.DocumentCacheHit,
		"elapsed", time.Since(start).String(),
	)
}

// ValidateChunking reports whether overrides, filled in from the
// orchestrator defaults, can chunk a document. Failures are Configuration
// errors.
func (o *Orchestrator) ValidateChunking(overrides ChunkOptions) error {
	if err := o.chunkOptions(overrides).Validate(); err != nil {
		return ConfigurationError("extract", err)
	}
	return nil
}

// chunkOptions fills zero override fields from the orchestrator defaults.
func (o *Orchestrator) chunkOptions(overrides ChunkOptions) ChunkOptions {
	opts := o.chunking
	if overrides.MaxChars != 0 {
		opts.MaxChars = overrides.MaxChars
	}
	if overrides.OverlapChars != 0 {
		opts.OverlapChars = overrides.OverlapChars
	}
	if overrides.MinChars != 0 {
		opts.MinChars = overrides.MinChars
	}
	if overrides.Lookback != 0 {
		opts.Lookback = overrides.Lookback
	}
	return opts
}

// mergedPromptVersion keys a merged multi-chunk result. Chunk geometry is
// part of the key because a different split can produce a different merge.
func mergedPromptVersion(opts ChunkOptions) string {
	r := opts.resolve()
	return fmt.Sprintf("%s+merged/%d/%d/%d/%d", ChunkPromptVersion, r.MaxChars, r.OverlapChars, r.MinChars, r.Lookback)
}
