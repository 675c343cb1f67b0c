package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/hurttlocker/canon/internal/extract"
	"github.com/hurttlocker/canon/internal/ingest"
	"github.com/hurttlocker/canon/internal/store"
)

type createDocumentRequest struct {
	ProjectID  string `json:"projectId" binding:"max=200"`
	Title      string `json:"title" binding:"max=500"`
	Content    string `json:"content" binding:"required"`
	SourcePath string `json:"sourcePath"`
}

type extractRequest struct {
	MaxChars     int   `json:"max_chars" binding:"gte=0"`
	OverlapChars int   `json:"overlap_chars"`
	Persist      *bool `json:"persist"` // default true
}

type chunkRequest struct {
	Content      string `json:"content" binding:"required"`
	MaxChars     int    `json:"max_chars" binding:"gte=0"`
	OverlapChars int    `json:"overlap_chars"`
}

type locateRequest struct {
	Evidence   string `json:"evidence" binding:"required"`
	Content    string `json:"content" binding:"required"`
	ChunkStart *int   `json:"chunkStart" binding:"omitempty,gte=0"`
	ChunkEnd   *int   `json:"chunkEnd" binding:"omitempty,gte=0"`
}

func (s *Server) handleCreateDocument(c *gin.Context) {
	var req createDocumentRequest
	if !bind(c, &req) {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content is empty"})
		return
	}

	ctx := c.Request.Context()
	hash := store.HashDocumentContent(req.Content, req.SourcePath)
	if existing, err := s.store.FindDocumentByHash(ctx, req.ProjectID, hash); err != nil {
		s.writeError(c, err)
		return
	} else if existing != nil {
		c.JSON(http.StatusOK, gin.H{"id": existing.ID, "created": false})
		return
	}

	doc := &store.Document{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Content:     req.Content,
		SourcePath:  req.SourcePath,
		ContentHash: hash,
	}
	id, err := s.store.AddDocument(ctx, doc)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "created": true})
}

func (s *Server) handleListDocuments(c *gin.Context) {
	docs, err := s.store.ListDocuments(c.Request.Context(), store.ListOpts{
		ProjectID: c.Query("project"),
		Status:    c.Query("status"),
		Limit:     queryInt(c, "limit"),
		Offset:    queryInt(c, "offset"),
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	if docs == nil {
		docs = []*store.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (s *Server) handleGetDocument(c *gin.Context) {
	doc, err := s.store.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("document %s not found", c.Param("id"))})
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleExtract(c *gin.Context) {
	if s.processor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "extraction is not configured (no LLM provider)"})
		return
	}
	var req extractRequest
	if c.Request.ContentLength != 0 && !bind(c, &req) {
		return
	}

	opts := ingest.ProcessOptions{
		Chunking: extract.ChunkOptions{MaxChars: req.MaxChars, OverlapChars: req.OverlapChars},
		Persist:  req.Persist == nil || *req.Persist,
	}
	if err := s.processor.ValidateOptions(opts); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, err := s.processor.Process(c.Request.Context(), c.Param("id"), opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) handleFacts(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if doc == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("document %s not found", id)})
		return
	}

	opts := store.ListOpts{DocumentID: id, Status: c.Query("status"), Limit: queryInt(c, "limit"), Offset: queryInt(c, "offset")}
	facts, err := s.store.ListFacts(ctx, opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	rels, err := s.store.ListRelationships(ctx, opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if facts == nil {
		facts = []*store.Fact{}
	}
	if rels == nil {
		rels = []*store.Relationship{}
	}
	c.JSON(http.StatusOK, gin.H{"facts": facts, "relationships": rels})
}

func (s *Server) handleChunk(c *gin.Context) {
	var req chunkRequest
	if !bind(c, &req) {
		return
	}
	opts := s.chunking
	if req.MaxChars > 0 {
		opts.MaxChars = req.MaxChars
	}
	if req.OverlapChars != 0 {
		opts.OverlapChars = req.OverlapChars
	}
	if err := opts.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	chunks := extract.ChunkDocument(req.Content, opts)
	c.JSON(http.StatusOK, gin.H{
		"needsChunking": extract.NeedsChunking(req.Content, opts.MaxChars),
		"chunks":        chunks,
	})
}

// handleLocateEvidence maps evidence quoted from content[chunkStart:chunkEnd]
// back to document offsets. Without a range the whole content is the chunk.
func (s *Server) handleLocateEvidence(c *gin.Context) {
	var req locateRequest
	if !bind(c, &req) {
		return
	}
	start, end := 0, len(req.Content)
	if req.ChunkStart != nil {
		start = *req.ChunkStart
	}
	if req.ChunkEnd != nil {
		end = *req.ChunkEnd
	}
	if start > end || end > len(req.Content) {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("chunk range [%d,%d) is outside content of length %d", start, end, len(req.Content))})
		return
	}
	chunk := extract.Chunk{Text: req.Content[start:end], StartOffset: start, EndOffset: end}
	pos := s.locator.Locate(req.Evidence, chunk, req.Content)
	s.metrics.EvidenceResult(boolInt(pos != nil), boolInt(pos == nil))
	c.JSON(http.StatusOK, gin.H{"located": pos != nil, "position": pos})
}

// bind decodes the JSON body and answers 400 with per-field messages on failure.
func bind(c *gin.Context, dst interface{}) bool {
	err := c.ShouldBindJSON(dst)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			fields[fe.Field()] = fe.Tag()
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": fields})
		return false
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	return false
}

// writeError maps extraction error kinds to HTTP statuses.
func (s *Server) writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, extract.ErrNotFound), errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, extract.ErrValidation):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, extract.ErrAPI):
		status = http.StatusBadGateway
	case errors.Is(err, extract.ErrConfiguration):
		status = http.StatusInternalServerError
	}
	if status >= 500 {
		s.log.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func queryInt(c *gin.Context, key string) int {
	var n int
	if _, err := fmt.Sscan(c.Query(key), &n); err != nil {
		return 0
	}
	return n
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
