// Package store provides the SQLite storage layer for canon.
//
// One database file holds:
// - Imported documents with their processing status
// - The extraction cache (LLM responses keyed by input hash + prompt version)
// - Extracted entities, facts and relationships awaiting review
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hurttlocker/canon/internal/cache"
	"github.com/hurttlocker/canon/internal/extract"
)

// DefaultDBPath is the default database location.
const DefaultDBPath = "~/.canon/canon.db"

// ErrNotFound is returned by lookups that must find a row.
var ErrNotFound = errors.New("not found")

// DocumentStatus is where a document is in the extraction lifecycle.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

// Document is one imported source text.
type Document struct {
	ID          string         `json:"id"`
	ProjectID   string         `json:"projectId"`
	Title       string         `json:"title"`
	Content     string         `json:"content,omitempty"`
	SourcePath  string         `json:"sourcePath,omitempty"`
	ContentHash string         `json:"contentHash"`
	Status      DocumentStatus `json:"status"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// ListOpts controls pagination and filtering for List operations.
type ListOpts struct {
	Limit      int
	Offset     int
	ProjectID  string
	DocumentID string
	Status     string
}

// StoreStats holds row counts and file size.
type StoreStats struct {
	DocumentCount     int64 `json:"documents"`
	EntityCount       int64 `json:"entities"`
	FactCount         int64 `json:"facts"`
	RelationshipCount int64 `json:"relationships"`
	CacheEntryCount   int64 `json:"cacheEntries"`
	DBSizeBytes       int64 `json:"dbSizeBytes"`
}

// StoreConfig holds configuration for NewStore.
type StoreConfig struct {
	DBPath   string
	CacheTTL time.Duration // lifetime of extraction cache rows (default cache.DefaultTTL)
}

// Store defines the core storage interface.
type Store interface {
	// Documents
	AddDocument(ctx context.Context, d *Document) (string, error)
	GetDocument(ctx context.Context, id string) (*Document, error)
	FindDocumentByHash(ctx context.Context, projectID, hash string) (*Document, error)
	ListDocuments(ctx context.Context, opts ListOpts) ([]*Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus, errMsg string) error
	DeleteDocument(ctx context.Context, id string) error

	// Extraction cache
	cache.Cache

	// Canon rows
	SaveExtraction(ctx context.Context, doc *Document, result extract.ExtractionResult) (*SaveSummary, error)
	ListEntities(ctx context.Context, opts ListOpts) ([]*Entity, error)
	ListFacts(ctx context.Context, opts ListOpts) ([]*Fact, error)
	ListRelationships(ctx context.Context, opts ListOpts) ([]*Relationship, error)

	// Observability
	Stats(ctx context.Context) (*StoreStats, error)

	// Maintenance
	Vacuum(ctx context.Context) error
	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db       *sql.DB
	dbPath   string
	cacheTTL time.Duration
	now      func() time.Time
}

// NewStore creates a new SQLite-backed Store.
// Pass ":memory:" for in-memory databases (testing).
func NewStore(cfg StoreConfig) (Store, error) {
	if cfg.DBPath == "" {
		cfg.DBPath = DefaultDBPath
	}
	cfg.DBPath = expandPath(cfg.DBPath)
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = cache.DefaultTTL
	}

	if cfg.DBPath != ":memory:" {
		dir := filepath.Dir(cfg.DBPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Every pooled connection to :memory: would be its own empty database.
	if cfg.DBPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{
		db:       db,
		dbPath:   cfg.DBPath,
		cacheTTL: cfg.CacheTTL,
		now:      time.Now,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Vacuum runs VACUUM on the database. Manual only, never automatic.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Stats returns row counts for every table and the database file size.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	st := &StoreStats{}
	counts := []struct {
		table string
		dst   *int64
	}{
		{"documents", &st.DocumentCount},
		{"entities", &st.EntityCount},
		{"facts", &st.FactCount},
		{"relationships", &st.RelationshipCount},
		{"extraction_cache", &st.CacheEntryCount},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}
	if s.dbPath != ":memory:" {
		if info, err := os.Stat(s.dbPath); err == nil {
			st.DBSizeBytes = info.Size()
		}
	}
	return st, nil
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}

// AsDocumentSource exposes a Store to the extraction orchestrator.
func AsDocumentSource(s Store) extract.DocumentSource {
	return documentSource{s}
}

type documentSource struct{ s Store }

func (d documentSource) GetDocument(ctx context.Context, id string) (*extract.Document, error) {
	doc, err := d.s.GetDocument(ctx, id)
	if err != nil || doc == nil {
		return nil, err
	}
	return &extract.Document{ID: doc.ID, ProjectID: doc.ProjectID, Content: doc.Content}, nil
}
