package ingest

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// MarkdownImporter handles .md and .markdown files.
type MarkdownImporter struct{}

// CanHandle returns true for Markdown file extensions.
func (m *MarkdownImporter) CanHandle(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".md" || ext == ".markdown"
}

var filenameDateRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})`)

// Import parses a Markdown file. YAML front matter is stripped into Metadata.
// The whole body is one document unless opts.SplitChapters is set, in which
// case every # or ## heading starts a new document titled by that heading.
func (m *MarkdownImporter) Import(ctx context.Context, path string, opts ImportOptions) ([]RawDocument, error) {
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

	metadata, body, bodyLine, err := stripFrontMatter(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	// Detect date from filename (e.g., 2024-01-15.md)
	if match := filenameDateRe.FindString(titleFromPath(path)); match != "" {
		if metadata == nil {
			metadata = make(map[string]string)
		}
		metadata["date"] = match
	}

	if opts.SplitChapters {
		if docs := splitOnChapters(body, absPath, bodyLine, metadata); len(docs) > 0 {
			return docs, nil
		}
	}

	if strings.TrimSpace(body) == "" {
		return nil, nil
	}
	title := metadata["title"]
	if title == "" {
		title = firstHeading(body)
	}
	if title == "" {
		title = titleFromPath(path)
	}
	return []RawDocument{{
		Title:      title,
		Content:    body,
		SourcePath: absPath,
		SourceLine: bodyLine,
		Metadata:   metadata,
	}}, nil
}

// stripFrontMatter removes YAML front matter (--- delimited) from content.
// Returns metadata, the remaining body and the body's 1-indexed start line.
// Front matter that is not valid YAML is an error; scalar values are kept
// as strings and nested values are dropped.
func stripFrontMatter(content string) (map[string]string, string, int, error) {
	if !strings.HasPrefix(content, "---\n") {
		return nil, content, 1, nil
	}
	rest := content[4:]
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return nil, content, 1, nil
	}

	fm := rest[:idx]
	body := rest[idx+4:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && strings.TrimSpace(body[:nl]) == "" {
		body = body[nl+1:]
	} else if nl < 0 {
		body = ""
	}
	bodyLine := strings.Count(content[:len(content)-len(body)], "\n") + 1

	var raw map[string]interface{}
	if err := yaml.Unmarshal([]byte(fm), &raw); err != nil {
		return nil, "", 0, fmt.Errorf("parsing front matter: %w", err)
	}
	metadata := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case map[string]interface{}, []interface{}, nil:
			continue
		}
		metadata[k] = fmt.Sprint(v)
	}
	return metadata, body, bodyLine, nil
}

// chapterRe matches h1 and h2 headings.
var chapterRe = regexp.MustCompile(`^(#{1,2})\s+(.+)`)

// splitOnChapters splits Markdown on # and ## headings. Text before the first
// heading becomes its own untitled document. Headings inside fenced code
// blocks are ignored.
func splitOnChapters(content, absPath string, firstLine int, metadata map[string]string) []RawDocument {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var docs []RawDocument
	var currentLines []string
	currentTitle := ""
	sectionStart := firstLine
	lineNum := firstLine - 1
	inCodeBlock := false
	sawHeading := false

	flush := func() {
		text := strings.TrimSpace(strings.Join(currentLines, "\n"))
		currentLines = nil
		if text == "" {
			return
		}
		title := currentTitle
		if title == "" {
			title = titleFromPath(absPath)
		}
		docs = append(docs, RawDocument{
			Title:      title,
			Content:    text + "\n",
			SourcePath: absPath,
			SourceLine: sectionStart,
			Metadata:   copyMetadata(metadata),
		})
	}

	for scanner.Scan() {
		line := scanner.Text()
		lineNum++

		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inCodeBlock = !inCodeBlock
		}
		if !inCodeBlock {
			if m := chapterRe.FindStringSubmatch(line); m != nil {
				flush()
				sawHeading = true
				currentTitle = strings.TrimSpace(m[2])
				sectionStart = lineNum
			}
		}
		currentLines = append(currentLines, line)
	}
	flush()

	if !sawHeading {
		return nil
	}
	return docs
}

// firstHeading returns the text of the first heading of any level.
func firstHeading(content string) string {
	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	re := regexp.MustCompile(`^#{1,6}\s+(.+)`)
	for scanner.Scan() {
		if m := re.FindStringSubmatch(scanner.Text()); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// copyMetadata creates a copy of the metadata map (or nil if empty).
func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
