// Package mcp provides a Model Context Protocol server for canon.
//
// It exposes document import, extraction, chunking, evidence location, fact
// listing and cache maintenance as MCP tools, and store statistics and
// recent documents as MCP resources.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/hurttlocker/canon/internal/extract"
	"github.com/hurttlocker/canon/internal/ingest"
	"github.com/hurttlocker/canon/internal/lifecycle"
	"github.com/hurttlocker/canon/internal/store"
)

// ServerConfig holds configuration for the MCP server.
type ServerConfig struct {
	Store     store.Store
	Processor *ingest.Processor       // optional; canon_extract is omitted without it
	Sweeper   *lifecycle.Sweeper      // optional; defaults to sweeping Store
	Locator   extract.EvidenceLocator // default extract.RegexLocator
	Chunking  extract.ChunkOptions
	Version   string
}

// dbMu serializes all MCP tool calls that touch the database.
// The mcp-go library dispatches handlers concurrently via goroutines and
// SQLite supports only one writer at a time.
var dbMu sync.Mutex

// NewServer creates a configured MCP server with all canon tools and resources.
func NewServer(cfg ServerConfig) (*server.MCPServer, error) {
	ver := cfg.Version
	if ver == "" {
		ver = "dev"
	}
	if cfg.Locator == nil {
		cfg.Locator = extract.RegexLocator{}
	}
	if cfg.Sweeper == nil {
		sw, err := lifecycle.NewSweeper(lifecycle.Config{Cache: cfg.Store})
		if err != nil {
			return nil, err
		}
		cfg.Sweeper = sw
	}

	s := server.NewMCPServer(
		"Canon",
		ver,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(true, false),
	)

	registerImportTool(s, cfg.Store)
	if cfg.Processor != nil {
		registerExtractTool(s, cfg.Processor)
	}
	registerChunkTool(s, cfg.Chunking)
	registerLocateEvidenceTool(s, cfg.Locator)
	registerFactsTool(s, cfg.Store)
	registerCacheSweepTool(s, cfg.Sweeper)

	registerStatsResource(s, cfg.Store)
	registerRecentResource(s, cfg.Store)

	return s, nil
}

// --- Tools ---

func registerImportTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("canon_import",
		mcp.WithDescription("Import a narrative document (chapter, notes, script) into canon. Identical content in the same project is not imported twice."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Full document text"),
		),
		mcp.WithString("title",
			mcp.Description("Document title"),
		),
		mcp.WithString("project",
			mcp.Description("Project the document belongs to. Empty = default project."),
		),
		mcp.WithString("source",
			mcp.Description("Source identifier (e.g. filename, URL). Defaults to 'mcp-import'."),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		content, err := req.RequireString("content")
		if err != nil || strings.TrimSpace(content) == "" {
			return mcp.NewToolResultError("content is required"), nil
		}
		project := req.GetString("project", "")
		source := req.GetString("source", "mcp-import")

		hash := store.HashDocumentContent(content, source)
		existing, err := st.FindDocumentByHash(ctx, project, hash)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("import error: %v", err)), nil
		}
		if existing != nil {
			return jsonResult(map[string]interface{}{"id": existing.ID, "created": false})
		}

		id, err := st.AddDocument(ctx, &store.Document{
			ProjectID:   project,
			Title:       req.GetString("title", ""),
			Content:     content,
			SourcePath:  source,
			ContentHash: hash,
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("import error: %v", err)), nil
		}
		return jsonResult(map[string]interface{}{"id": id, "created": true})
	})
}

func registerExtractTool(s *server.MCPServer, proc *ingest.Processor) {
	tool := mcp.NewTool("canon_extract",
		mcp.WithDescription("Extract entities, facts and relationships from an imported document with the configured LLM. Long documents are chunked; evidence quotes are mapped back to document offsets. Results are cached."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("document_id",
			mcp.Required(),
			mcp.Description("ID returned by canon_import"),
		),
		mcp.WithNumber("max_chars",
			mcp.Description("Maximum bytes per chunk (default: 12000)"),
		),
		mcp.WithNumber("overlap_chars",
			mcp.Description("Overlap between chunks (default: 800; negative disables)"),
		),
		mcp.WithBoolean("persist",
			mcp.Description("Save the extracted canon as pending facts (default: true)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("document_id")
		if err != nil || id == "" {
			return mcp.NewToolResultError("document_id is required"), nil
		}

		// Held across the LLM calls: status writes and persistence must not
		// interleave with another tool's writes.
		dbMu.Lock()
		defer dbMu.Unlock()

		res, err := proc.Process(ctx, id, ingest.ProcessOptions{
			Chunking: extract.ChunkOptions{
				MaxChars:     int(req.GetFloat("max_chars", 0)),
				OverlapChars: int(req.GetFloat("overlap_chars", 0)),
			},
			Persist: req.GetBool("persist", true),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("extract error: %v", err)), nil
		}
		return jsonResult(res)
	})
}

func registerChunkTool(s *server.MCPServer, defaults extract.ChunkOptions) {
	tool := mcp.NewTool("canon_chunk",
		mcp.WithDescription("Preview how a document would be split into overlapping LLM windows. Offsets are byte offsets."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Document text"),
		),
		mcp.WithNumber("max_chars",
			mcp.Description("Maximum bytes per chunk (default: 12000)"),
		),
		mcp.WithNumber("overlap_chars",
			mcp.Description("Overlap between chunks (default: 800)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError("content is required"), nil
		}
		opts := defaults
		if v := int(req.GetFloat("max_chars", 0)); v > 0 {
			opts.MaxChars = v
		}
		if v := int(req.GetFloat("overlap_chars", 0)); v != 0 {
			opts.OverlapChars = v
		}
		if err := opts.Validate(); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		type chunkInfo struct {
			Index       int    `json:"index"`
			StartOffset int    `json:"startOffset"`
			EndOffset   int    `json:"endOffset"`
			Preview     string `json:"preview"`
		}
		chunks := extract.ChunkDocument(content, opts)
		out := make([]chunkInfo, 0, len(chunks))
		for _, c := range chunks {
			out = append(out, chunkInfo{
				Index:       c.Index,
				StartOffset: c.StartOffset,
				EndOffset:   c.EndOffset,
				Preview:     preview(c.Text, 80),
			})
		}
		return jsonResult(map[string]interface{}{
			"needsChunking": extract.NeedsChunking(content, opts.MaxChars),
			"chunks":        out,
		})
	})
}

func registerLocateEvidenceTool(s *server.MCPServer, loc extract.EvidenceLocator) {
	tool := mcp.NewTool("canon_locate_evidence",
		mcp.WithDescription("Find where an evidence quote occurs in a document. Tries an exact match inside the chunk range, then a fuzzy match over the whole document."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("evidence",
			mcp.Required(),
			mcp.Description("Quoted evidence text"),
		),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("Full document text"),
		),
		mcp.WithNumber("chunk_start",
			mcp.Description("Byte offset where the quoting chunk starts (default: 0)"),
		),
		mcp.WithNumber("chunk_end",
			mcp.Description("Byte offset where the quoting chunk ends (default: end of content)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		evidence, err := req.RequireString("evidence")
		if err != nil {
			return mcp.NewToolResultError("evidence is required"), nil
		}
		content, err := req.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError("content is required"), nil
		}
		start := int(req.GetFloat("chunk_start", 0))
		end := int(req.GetFloat("chunk_end", float64(len(content))))
		if start < 0 || start > end || end > len(content) {
			return mcp.NewToolResultError(fmt.Sprintf("chunk range [%d,%d) is outside content of length %d", start, end, len(content))), nil
		}

		chunk := extract.Chunk{Text: content[start:end], StartOffset: start, EndOffset: end}
		pos := loc.Locate(evidence, chunk, content)
		result := map[string]interface{}{"located": pos != nil, "position": pos}
		if pos != nil {
			result["text"] = content[pos.Start:pos.End]
		}
		return jsonResult(result)
	})
}

func registerFactsTool(s *server.MCPServer, st store.Store) {
	tool := mcp.NewTool("canon_facts",
		mcp.WithDescription("List extracted canon facts and relationships for a document or project, with evidence offsets."),
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithString("document_id",
			mcp.Description("Only facts from this document"),
		),
		mcp.WithString("project",
			mcp.Description("Only facts from this project"),
		),
		mcp.WithString("status",
			mcp.Description("Review status filter"),
			mcp.Enum("pending", "approved", "rejected"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum rows per kind (default: 100, max: 500)"),
		),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		limit := int(req.GetFloat("limit", 100))
		if limit > 500 {
			limit = 500
		}
		opts := store.ListOpts{
			DocumentID: req.GetString("document_id", ""),
			ProjectID:  req.GetString("project", ""),
			Status:     req.GetString("status", ""),
			Limit:      limit,
		}
		facts, err := st.ListFacts(ctx, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("facts error: %v", err)), nil
		}
		rels, err := st.ListRelationships(ctx, opts)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("facts error: %v", err)), nil
		}
		if facts == nil {
			facts = []*store.Fact{}
		}
		if rels == nil {
			rels = []*store.Relationship{}
		}
		return jsonResult(map[string]interface{}{"facts": facts, "relationships": rels})
	})
}

func registerCacheSweepTool(s *server.MCPServer, sw *lifecycle.Sweeper) {
	tool := mcp.NewTool("canon_cache_sweep",
		mcp.WithDescription("Delete expired extraction cache entries and fail documents abandoned mid-extraction."),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
	)

	s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		report, err := sw.RunOnce(ctx)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("sweep error: %v", err)), nil
		}
		return jsonResult(report)
	})
}

// --- Resources ---

func registerStatsResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"canon://stats",
		"Canon Statistics",
		mcp.WithResourceDescription("Document, entity, fact, relationship and cache entry counts."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		stats, err := st.Stats(ctx)
		if err != nil {
			return nil, fmt.Errorf("getting stats: %w", err)
		}

		data, _ := json.MarshalIndent(stats, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

func registerRecentResource(s *server.MCPServer, st store.Store) {
	resource := mcp.NewResource(
		"canon://documents/recent",
		"Recent Documents",
		mcp.WithResourceDescription("The 20 most recently imported documents with their extraction status."),
		mcp.WithMIMEType("application/json"),
	)

	s.AddResource(resource, func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		dbMu.Lock()
		defer dbMu.Unlock()

		docs, err := st.ListDocuments(ctx, store.ListOpts{Limit: 20})
		if err != nil {
			return nil, fmt.Errorf("listing recent documents: %w", err)
		}

		type recentDocument struct {
			ID         string `json:"id"`
			Title      string `json:"title"`
			Project    string `json:"project,omitempty"`
			Status     string `json:"status"`
			ImportedAt string `json:"imported_at"`
		}
		recent := make([]recentDocument, 0, len(docs))
		for _, d := range docs {
			recent = append(recent, recentDocument{
				ID:         d.ID,
				Title:      d.Title,
				Project:    d.ProjectID,
				Status:     string(d.Status),
				ImportedAt: d.CreatedAt.Format(time.RFC3339),
			})
		}

		data, _ := json.MarshalIndent(recent, "", "  ")
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	})
}

// --- Helpers ---

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// preview returns the first n bytes of s on a rune boundary, with "..." when cut.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
