// Package ingest brings source texts into canon and runs extraction on them.
//
// Each supported format (Markdown, plain text) has its own importer that
// implements the Importer interface. The Engine picks an importer by file
// extension, deduplicates by content hash and stores one document per file,
// or one per chapter when asked. The Processor runs the extraction
// orchestrator for a stored document and records its status.
package ingest
