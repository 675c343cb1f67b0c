package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/canon/internal/config"
	"github.com/hurttlocker/canon/internal/extract"
	"github.com/hurttlocker/canon/internal/ingest"
	"github.com/hurttlocker/canon/internal/store"
)

// runCLI executes the root command against an isolated home directory.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func setupHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"CANON_DB", "CANON_LLM", "CANON_CACHE", "CANON_MAX_CHARS", "CANON_OVERLAP_CHARS",
		"CANON_PARALLELISM", "CANON_LOCATOR", "GEMINI_API_KEY", "GOOGLE_API_KEY", "OPENROUTER_API_KEY"} {
		t.Setenv(k, "")
	}
	t.Setenv("CANON_LOG_LEVEL", "error")
	return home
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestVersionCommand(t *testing.T) {
	setupHome(t)
	out, err := runCLI(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "canon "+version+"\n", out)
}

func TestImportAndListDocuments(t *testing.T) {
	home := setupHome(t)
	db := filepath.Join(home, "canon.db")
	src := t.TempDir()
	writeFile(t, src, "one.md", "# Arrival\n\nMara reached the keep at dusk.\n")
	writeFile(t, src, "two.txt", "The river froze early that year.\n")

	out, err := runCLI(t, "--db", db, "--json", "import", src)
	require.NoError(t, err)
	var res ingest.ImportResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 2, res.DocumentsNew)
	assert.Len(t, res.DocumentIDs, 2)

	out, err = runCLI(t, "--db", db, "--json", "import", src)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, 0, res.DocumentsNew)
	assert.Equal(t, 2, res.DocumentsUnchanged)

	out, err = runCLI(t, "--db", db, "--json", "documents")
	require.NoError(t, err)
	var docs []store.Document
	require.NoError(t, json.Unmarshal([]byte(out), &docs))
	require.Len(t, docs, 2)
	for _, d := range docs {
		assert.Equal(t, store.StatusPending, d.Status)
	}
}

func TestImportDryRunWritesNothing(t *testing.T) {
	home := setupHome(t)
	db := filepath.Join(home, "canon.db")
	src := writeFile(t, t.TempDir(), "notes.txt", "Nothing happens here.\n")

	out, err := runCLI(t, "--db", db, "import", "--dry-run", src)
	require.NoError(t, err)
	assert.Contains(t, out, "[dry run]")

	out, err = runCLI(t, "--db", db, "documents")
	require.NoError(t, err)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestChunkCommand(t *testing.T) {
	setupHome(t)
	path := writeFile(t, t.TempDir(), "long.txt", strings.Repeat("The tower stood. ", 1000))

	out, err := runCLI(t, "--json", "chunk", "--max-chars", "5000", "--overlap-chars", "200", path)
	require.NoError(t, err)
	var chunks []extract.Chunk
	require.NoError(t, json.Unmarshal([]byte(out), &chunks))
	require.Greater(t, len(chunks), 1)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, 17000, chunks[len(chunks)-1].EndOffset)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.EndOffset-c.StartOffset, 5000)
	}
}

func TestChunkCommandRejectsBadOverlap(t *testing.T) {
	setupHome(t)
	path := writeFile(t, t.TempDir(), "short.txt", "tiny")

	_, err := runCLI(t, "chunk", "--max-chars", "100", "--overlap-chars", "100", path)
	require.Error(t, err)
}

func TestExtractWithoutAPIKeyIsConfigurationError(t *testing.T) {
	home := setupHome(t)
	db := filepath.Join(home, "canon.db")

	_, err := runCLI(t, "--db", db, "--llm", "google/gemini-2.5-flash", "extract", "missing-doc")
	require.Error(t, err)
	assert.True(t, errors.Is(err, extract.ErrConfiguration), "got %v", err)
	assert.Equal(t, 4, exitCode(err))
}

func TestCheckRequiresCanonFile(t *testing.T) {
	setupHome(t)
	_, err := runCLI(t, "check", "doc-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, extract.ErrConfiguration))
}

func TestInvalidCacheBackend(t *testing.T) {
	home := setupHome(t)
	_, err := runCLI(t, "--db", filepath.Join(home, "canon.db"), "--cache", "floppy", "documents")
	require.Error(t, err)
	assert.Equal(t, 4, exitCode(err))
}

func TestCacheSweepCommand(t *testing.T) {
	home := setupHome(t)
	out, err := runCLI(t, "--db", filepath.Join(home, "canon.db"), "cache", "sweep")
	require.NoError(t, err)
	assert.Equal(t, "Expired 0 cache entries, reset 0 documents\n", out)
}

func TestConfigCommandRedactsSecrets(t *testing.T) {
	home := setupHome(t)
	t.Setenv("GEMINI_API_KEY", "secret-gemini-key")
	t.Setenv("CANON_REDIS_PASSWORD", "hunter2")

	out, err := runCLI(t, "--db", filepath.Join(home, "x.db"), "--json", "config")
	require.NoError(t, err)
	assert.NotContains(t, out, "secret-gemini-key")
	assert.NotContains(t, out, "hunter2")

	var cfg config.ResolvedConfig
	require.NoError(t, json.Unmarshal([]byte(out), &cfg))
	assert.Equal(t, config.SourceCLI, cfg.DBPath.Source)
	assert.Equal(t, "[REDACTED]", cfg.RedisPassword.Value)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 3, exitCode(extract.NotFoundError("op", "document %s", "x")))
	assert.Equal(t, 5, exitCode(extract.APIError("op", errors.New("boom"))))
	assert.Equal(t, 5, exitCode(extract.ValidationError("op", errors.New("bad json"))))
	assert.Equal(t, 1, exitCode(errors.New("plain")))
}
