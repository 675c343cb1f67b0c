package ingest

import "context"

// RawDocument is a parsed source text ready for storage.
type RawDocument struct {
	Title      string            // Front matter title, first heading or file name
	Content    string            // Body text, line endings normalized to \n
	SourcePath string            // Absolute path to source file
	SourceLine int               // Starting line number (1-indexed)
	Metadata   map[string]string // Front matter and filename date
}

// Importer handles a specific file format.
type Importer interface {
	// CanHandle returns true if this importer supports the given file path.
	CanHandle(path string) bool

	// Import parses the file into documents.
	Import(ctx context.Context, path string, opts ImportOptions) ([]RawDocument, error)
}

// ImportResult summarizes an import operation.
type ImportResult struct {
	FilesScanned       int           `json:"filesScanned"`
	FilesImported      int           `json:"filesImported"`
	FilesSkipped       int           `json:"filesSkipped"`
	DocumentsNew       int           `json:"documentsNew"`
	DocumentsUnchanged int           `json:"documentsUnchanged"`
	DocumentIDs        []string      `json:"documentIds"`
	Errors             []ImportError `json:"errors,omitempty"`
}

// Add merges another ImportResult into this one.
func (r *ImportResult) Add(other *ImportResult) {
	r.FilesScanned += other.FilesScanned
	r.FilesImported += other.FilesImported
	r.FilesSkipped += other.FilesSkipped
	r.DocumentsNew += other.DocumentsNew
	r.DocumentsUnchanged += other.DocumentsUnchanged
	r.DocumentIDs = append(r.DocumentIDs, other.DocumentIDs...)
	r.Errors = append(r.Errors, other.Errors...)
}

// ImportError records a non-fatal error during import.
type ImportError struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// ImportOptions configures an import operation.
type ImportOptions struct {
	Recursive     bool
	DryRun        bool
	MaxFileSize   int64  // bytes, default 10MB
	Project       string // Project to assign to imported documents
	SplitChapters bool   // Markdown: one document per top-level (# or ##) heading
	ProgressFn    func(current, total int, file string)
}

// DefaultMaxFileSize is 10MB.
const DefaultMaxFileSize = 10 * 1024 * 1024
