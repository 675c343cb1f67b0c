// Package api serves canon over HTTP: document import, extraction, fact
// listing, and the stateless chunk and evidence tools.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hurttlocker/canon/internal/extract"
	"github.com/hurttlocker/canon/internal/ingest"
	"github.com/hurttlocker/canon/internal/logger"
	"github.com/hurttlocker/canon/internal/metrics"
	"github.com/hurttlocker/canon/internal/store"
)

// Config wires the server's collaborators. Processor may be nil, in which
// case the extract endpoint answers 503.
type Config struct {
	Store     store.Store
	Processor *ingest.Processor
	Locator   extract.EvidenceLocator // default extract.RegexLocator
	Chunking  extract.ChunkOptions    // defaults for POST /v1/chunk
	Metrics   *metrics.Collector
	Log       *logger.Logger
}

// Server holds the state for the REST API server.
type Server struct {
	store     store.Store
	processor *ingest.Processor
	locator   extract.EvidenceLocator
	chunking  extract.ChunkOptions
	metrics   *metrics.Collector
	log       *logger.Logger
	router    *gin.Engine
}

// NewServer creates a new Server instance.
func NewServer(cfg Config) *Server {
	if cfg.Locator == nil {
		cfg.Locator = extract.RegexLocator{}
	}
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	r := gin.New()
	s := &Server{
		store:     cfg.Store,
		processor: cfg.Processor,
		locator:   cfg.Locator,
		chunking:  cfg.Chunking,
		metrics:   cfg.Metrics,
		log:       cfg.Log,
		router:    r,
	}
	r.Use(gin.Recovery(), s.observe())
	s.setupRoutes()
	return s
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/v1")
	v1.POST("/documents", s.handleCreateDocument)
	v1.GET("/documents", s.handleListDocuments)
	v1.GET("/documents/:id", s.handleGetDocument)
	v1.POST("/documents/:id/extract", s.handleExtract)
	v1.GET("/documents/:id/facts", s.handleFacts)
	v1.POST("/chunk", s.handleChunk)
	v1.POST("/evidence/locate", s.handleLocateEvidence)
}

// observe records request metrics and logs each request at debug.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		d := time.Since(start)
		s.metrics.HTTPRequest(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), d)
		s.log.Debug("http request",
			"method", c.Request.Method,
			"route", route,
			"status", c.Writer.Status(),
			"duration_ms", d.Milliseconds(),
		)
	}
}

// Health check
func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
