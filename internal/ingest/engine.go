package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/hurttlocker/canon/internal/logger"
	"github.com/hurttlocker/canon/internal/store"
)

// Engine dispatches files to importers and stores the resulting documents.
type Engine struct {
	store     store.Store
	importers []Importer
	log       *logger.Logger
}

// NewEngine creates an import engine with the Markdown and plain text
// importers. A nil log discards output.
func NewEngine(s store.Store, log *logger.Logger) *Engine {
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{
		store: s,
		importers: []Importer{
			&MarkdownImporter{},
			&PlainTextImporter{},
		},
		log: log,
	}
}

// DetectImporter returns the first importer that can handle path, or nil.
func (e *Engine) DetectImporter(path string) Importer {
	for _, imp := range e.importers {
		if imp.CanHandle(path) {
			return imp
		}
	}
	return nil
}

// ImportPath imports a file, or every supported file under a directory.
func (e *Engine) ImportPath(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return e.ImportDir(ctx, path, opts)
	}
	return e.ImportFile(ctx, path, opts)
}

// ImportFile imports one file. Unsupported, oversized and empty files count
// as skipped rather than failing.
func (e *Engine) ImportFile(ctx context.Context, path string, opts ImportOptions) (*ImportResult, error) {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	result := &ImportResult{FilesScanned: 1}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > opts.MaxFileSize {
		e.log.Warn("skipping oversized file", "file", path, "bytes", info.Size(), "max", opts.MaxFileSize)
		result.FilesSkipped++
		return result, nil
	}

	imp := e.DetectImporter(path)
	if imp == nil {
		result.FilesSkipped++
		return result, nil
	}

	docs, err := imp.Import(ctx, path, opts)
	if err != nil {
		result.Errors = append(result.Errors, ImportError{File: path, Message: err.Error()})
		return result, nil
	}
	if len(docs) == 0 {
		result.FilesSkipped++
		return result, nil
	}

	for _, raw := range docs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		id, isNew, err := e.storeDocument(ctx, raw, opts)
		if err != nil {
			return result, err
		}
		if isNew {
			result.DocumentsNew++
		} else {
			result.DocumentsUnchanged++
		}
		if id != "" {
			result.DocumentIDs = append(result.DocumentIDs, id)
		}
	}
	result.FilesImported++
	e.log.Debug("imported file", "file", path, "documents", len(docs))
	return result, nil
}

func (e *Engine) storeDocument(ctx context.Context, raw RawDocument, opts ImportOptions) (string, bool, error) {
	hash := store.HashDocumentContent(raw.Content, sourceKey(raw))
	existing, err := e.store.FindDocumentByHash(ctx, opts.Project, hash)
	if err != nil {
		return "", false, fmt.Errorf("checking duplicate: %w", err)
	}
	if existing != nil {
		return existing.ID, false, nil
	}
	if opts.DryRun {
		return "", true, nil
	}

	doc := &store.Document{
		ProjectID:   opts.Project,
		Title:       raw.Title,
		Content:     raw.Content,
		SourcePath:  raw.SourcePath,
		ContentHash: hash,
	}
	id, err := e.store.AddDocument(ctx, doc)
	if err != nil {
		return "", false, fmt.Errorf("storing %s: %w", raw.SourcePath, err)
	}
	return id, true, nil
}

// sourceKey distinguishes chapters of one file in the content hash.
func sourceKey(raw RawDocument) string {
	if raw.SourceLine > 1 {
		return fmt.Sprintf("%s:%d", raw.SourcePath, raw.SourceLine)
	}
	return raw.SourcePath
}

// ImportDir imports every supported file in dir. Hidden files and
// directories are skipped, as are symlinks.
func (e *Engine) ImportDir(ctx context.Context, dir string, opts ImportOptions) (*ImportResult, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if path != dir && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != dir && !opts.Recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		if e.DetectImporter(path) != nil {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", dir, err)
	}

	total := &ImportResult{}
	for i, f := range files {
		if opts.ProgressFn != nil {
			opts.ProgressFn(i+1, len(files), f)
		}
		r, err := e.ImportFile(ctx, f, opts)
		if err != nil {
			return total, err
		}
		total.Add(r)
	}
	return total, nil
}
