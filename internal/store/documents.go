package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const documentColumns = `id, project_id, title, content, source_path, content_hash, status, error, created_at, updated_at`

// AddDocument inserts a new document with status pending. Computes
// content_hash and a UUID id when they are empty. Returns the document ID.
func (s *SQLiteStore) AddDocument(ctx context.Context, d *Document) (string, error) {
	if strings.TrimSpace(d.Content) == "" {
		return "", fmt.Errorf("document content cannot be empty")
	}
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if d.ContentHash == "" {
		d.ContentHash = HashDocumentContent(d.Content, d.SourcePath)
	}
	if d.Status == "" {
		d.Status = StatusPending
	}

	now := s.now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (`+documentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.ProjectID, d.Title, d.Content, d.SourcePath, d.ContentHash, string(d.Status), d.Error, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("inserting document: %w", err)
	}

	d.CreatedAt = now
	d.UpdatedAt = now
	return d.ID, nil
}

// GetDocument retrieves a document by ID. Returns nil if not found.
func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting document %s: %w", id, err)
	}
	return d, nil
}

// FindDocumentByHash returns the document in projectID with the given
// content hash, or nil if none exists.
func (s *SQLiteStore) FindDocumentByHash(ctx context.Context, projectID, hash string) (*Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE project_id = ? AND content_hash = ?`, projectID, hash))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("finding document by hash: %w", err)
	}
	return d, nil
}

// ListDocuments returns documents newest first. Content is omitted.
func (s *SQLiteStore) ListDocuments(ctx context.Context, opts ListOpts) ([]*Document, error) {
	if opts.Limit <= 0 {
		opts.Limit = 100
	}

	query := `SELECT id, project_id, title, '', source_path, content_hash, status, error, created_at, updated_at
		FROM documents WHERE 1=1`
	var args []interface{}
	if opts.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, opts.ProjectID)
	}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, opts.Status)
	}
	query += ` ORDER BY created_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus moves a document through the extraction lifecycle.
// errMsg is stored for failed documents and cleared otherwise.
func (s *SQLiteStore) UpdateDocumentStatus(ctx context.Context, id string, status DocumentStatus, errMsg string) error {
	if status != StatusFailed {
		errMsg = ""
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, s.now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("updating document %s status: %w", id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteDocument removes a document. Its facts and relationships cascade;
// entities survive with document_id cleared.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDocument(row rowScanner) (*Document, error) {
	d := &Document{}
	var status string
	var createdAt, updatedAt sql.NullTime
	if err := row.Scan(&d.ID, &d.ProjectID, &d.Title, &d.Content, &d.SourcePath,
		&d.ContentHash, &status, &d.Error, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	d.Status = DocumentStatus(status)
	d.CreatedAt = nullTime(createdAt)
	d.UpdatedAt = nullTime(updatedAt)
	return d, nil
}

func nullTime(t sql.NullTime) time.Time {
	if !t.Valid {
		return time.Time{}
	}
	return t.Time
}

// FailStaleProcessing marks documents stuck in processing since before
// cutoff as failed. A crash mid-extraction otherwise leaves them processing
// forever. Returns how many documents were reset.
func (s *SQLiteStore) FailStaleProcessing(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = ?, error = ?, updated_at = ?
		 WHERE status = ? AND updated_at < ?`,
		string(StatusFailed), "processing abandoned", s.now().UTC(), string(StatusProcessing), cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("failing stale documents: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
