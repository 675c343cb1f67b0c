package ingest

import (
	"context"
	"fmt"

	"github.com/hurttlocker/canon/internal/extract"
	"github.com/hurttlocker/canon/internal/logger"
	"github.com/hurttlocker/canon/internal/store"
)

// Processor runs extraction for stored documents and tracks their status.
type Processor struct {
	store store.Store
	orch  *extract.Orchestrator
	log   *logger.Logger
}

// ProcessOptions tunes a single Process call.
type ProcessOptions struct {
	Chunking extract.ChunkOptions // per-request overrides; zero fields use the orchestrator's
	Persist  bool                 // write entities, facts and relationships via SaveExtraction
}

// ProcessResult is the outcome of a successful Process call.
type ProcessResult struct {
	DocumentID string                   `json:"documentId"`
	Result     extract.ExtractionResult `json:"result"`
	Stats      extract.ExtractStats     `json:"stats"`
	Saved      *store.SaveSummary       `json:"saved,omitempty"`
}

// NewProcessor creates a Processor. A nil log discards output.
func NewProcessor(s store.Store, orch *extract.Orchestrator, log *logger.Logger) *Processor {
	if log == nil {
		log = logger.Nop()
	}
	return &Processor{store: s, orch: orch, log: log}
}

// Process extracts canon from document id.
//
// The document is marked processing, then completed on success or failed
// with the error message. A missing document returns a NotFound error and
// no status is written; neither is one for chunk overrides that fail
// ValidateOptions. Cached chunk results make a retry after failure
// resume where the previous attempt stopped.
func (p *Processor) Process(ctx context.Context, id string, opts ProcessOptions) (*ProcessResult, error) {
	if err := p.ValidateOptions(opts); err != nil {
		return nil, err
	}
	doc, err := p.store.GetDocument(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("loading document %s: %w", id, err)
	}
	if doc == nil {
		return nil, extract.NotFoundError("process", "document %s not found", id)
	}

	log := p.log.With("document_id", id)
	if err := p.store.UpdateDocumentStatus(ctx, id, store.StatusProcessing, ""); err != nil {
		return nil, err
	}

	result, stats, err := p.orch.ExtractDetailed(ctx, id, opts.Chunking)
	if err != nil {
		p.fail(ctx, log, id, err)
		return nil, err
	}

	out := &ProcessResult{DocumentID: id, Result: result, Stats: stats}
	if opts.Persist {
		saved, err := p.store.SaveExtraction(ctx, doc, result)
		if err != nil {
			p.fail(ctx, log, id, err)
			return nil, err
		}
		out.Saved = saved
	}

	if err := p.store.UpdateDocumentStatus(context.WithoutCancel(ctx), id, store.StatusCompleted, ""); err != nil {
		return nil, err
	}
	log.Info("document processed",
		"entities", len(result.Entities),
		"facts", len(result.Facts),
		"relationships", len(result.Relationships),
		"chunks", stats.Chunks,
		"llm_calls", stats.LLMCalls,
	)
	return out, nil
}

// ValidateOptions checks the chunk overrides in opts against the
// orchestrator defaults without touching any document.
func (p *Processor) ValidateOptions(opts ProcessOptions) error {
	return p.orch.ValidateChunking(opts.Chunking)
}

func (p *Processor) fail(ctx context.Context, log *logger.Logger, id string, cause error) {
	log.Warn("document processing failed", "error", cause)
	if err := p.store.UpdateDocumentStatus(context.WithoutCancel(ctx), id, store.StatusFailed, cause.Error()); err != nil {
		log.Error("recording failure status", "error", err)
	}
}
