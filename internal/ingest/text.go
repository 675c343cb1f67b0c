package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
)

// PlainTextImporter handles .txt and extensionless files.
type PlainTextImporter struct{}

// CanHandle returns true for plain text extensions. Also acts as fallback.
func (t *PlainTextImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".txt" || ext == ".text" || ext == ""
}

// Import reads a plain text file as a single document titled after the file.
func (t *PlainTextImporter) Import(ctx context.Context, path string, opts ImportOptions) ([]RawDocument, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	content := normalizeNewlines(string(data))
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	return []RawDocument{{
		Title:      titleFromPath(path),
		Content:    content,
		SourcePath: absPath,
		SourceLine: 1,
	}}, nil
}

func normalizeNewlines(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}

// titleFromPath turns "chapters/03-the-tower.txt" into "03-the-tower".
func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
