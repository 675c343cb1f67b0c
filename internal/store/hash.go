package store

import (
	"crypto/sha256"
	"fmt"
)

// HashDocumentContent computes SHA-256 of source_path + content for import
// deduplication. The same text imported from two files is two documents.
//
// This is distinct from cache.HashInput, which hashes only the exact text
// sent to the LLM.
func HashDocumentContent(content, sourcePath string) string {
	h := sha256.New()
	h.Write([]byte(sourcePath))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return fmt.Sprintf("%x", h.Sum(nil))
}
