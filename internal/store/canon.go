package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/hurttlocker/canon/internal/extract"
)

// Review status of extracted canon rows. Rows start pending; the review
// workflow that promotes them lives outside this package.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Entity is a stored canon entity.
type Entity struct {
	ID          int64     `json:"id"`
	ProjectID   string    `json:"projectId"`
	DocumentID  string    `json:"documentId,omitempty"`
	Name        string    `json:"name"`
	Type        string    `json:"type"`
	Description string    `json:"description,omitempty"`
	Aliases     []string  `json:"aliases"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Fact is a stored canon fact. EvidenceStart/End are nil when the evidence
// quote could not be located in the source document.
type Fact struct {
	ID            int64     `json:"id"`
	ProjectID     string    `json:"projectId"`
	DocumentID    string    `json:"documentId"`
	EntityID      *int64    `json:"entityId,omitempty"`
	EntityName    string    `json:"entityName"`
	Subject       string    `json:"subject"`
	Predicate     string    `json:"predicate"`
	Object        string    `json:"object"`
	Confidence    float64   `json:"confidence"`
	Evidence      string    `json:"evidence,omitempty"`
	EvidenceStart *int      `json:"evidenceStart,omitempty"`
	EvidenceEnd   *int      `json:"evidenceEnd,omitempty"`
	TemporalBound string    `json:"temporalBound,omitempty"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
}

// Relationship is a stored link between two entities.
type Relationship struct {
	ID               int64     `json:"id"`
	ProjectID        string    `json:"projectId"`
	DocumentID       string    `json:"documentId"`
	SourceEntity     string    `json:"sourceEntity"`
	TargetEntity     string    `json:"targetEntity"`
	RelationshipType string    `json:"relationshipType"`
	Evidence         string    `json:"evidence,omitempty"`
	EvidenceStart    *int      `json:"evidenceStart,omitempty"`
	EvidenceEnd      *int      `json:"evidenceEnd,omitempty"`
	Status           string    `json:"status"`
	CreatedAt        time.Time `json:"createdAt"`
}

// SaveSummary reports what SaveExtraction wrote.
type SaveSummary struct {
	DocumentID           string `json:"documentId"`
	EntitiesCreated      int    `json:"entitiesCreated"`
	EntitiesUpdated      int    `json:"entitiesUpdated"`
	FactsCreated         int    `json:"factsCreated"`
	RelationshipsCreated int    `json:"relationshipsCreated"`
	Unverified           int    `json:"unverified"`
}

// SaveExtraction persists an extraction result for doc in one transaction.
//
// Pending facts and relationships from an earlier run on the same document
// are replaced. Entities are unique per project by case-insensitive name: an
// existing entity keeps its type and gains new aliases, and an empty
// description is filled in.
func (s *SQLiteStore) SaveExtraction(ctx context.Context, doc *Document, result extract.ExtractionResult) (*SaveSummary, error) {
	if doc == nil || doc.ID == "" {
		return nil, fmt.Errorf("save extraction: document is required")
	}
	sum := &SaveSummary{DocumentID: doc.ID}
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"facts", "relationships"} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE document_id = ? AND status = ?`, doc.ID, ReviewPending); err != nil {
			return nil, fmt.Errorf("clearing pending %s: %w", table, err)
		}
	}

	entityIDs := make(map[string]int64, len(result.Entities))
	for _, e := range result.Entities {
		id, created, err := upsertEntity(ctx, tx, doc, e, now)
		if err != nil {
			return nil, err
		}
		entityIDs[strings.ToLower(e.Name)] = id
		if created {
			sum.EntitiesCreated++
		} else {
			sum.EntitiesUpdated++
		}
	}

	for _, f := range result.Facts {
		var entityID interface{}
		if id, ok := entityIDs[strings.ToLower(f.EntityName)]; ok {
			entityID = id
		}
		start, end := positionArgs(f.EvidencePosition)
		if f.Evidence != "" && f.EvidencePosition == nil {
			sum.Unverified++
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO facts (project_id, document_id, entity_id, entity_name, subject, predicate, object,
				confidence, evidence, evidence_start, evidence_end, temporal_bound, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ProjectID, doc.ID, entityID, f.EntityName, f.Subject, f.Predicate, f.Object,
			f.Confidence, f.Evidence, start, end, f.TemporalBound, ReviewPending, now,
		); err != nil {
			return nil, fmt.Errorf("inserting fact: %w", err)
		}
		sum.FactsCreated++
	}

	for _, r := range result.Relationships {
		start, end := positionArgs(r.EvidencePosition)
		if r.Evidence != "" && r.EvidencePosition == nil {
			sum.Unverified++
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO relationships (project_id, document_id, source_entity, target_entity, relationship_type,
				evidence, evidence_start, evidence_end, status, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ProjectID, doc.ID, r.SourceEntity, r.TargetEntity, r.RelationshipType,
			r.Evidence, start, end, ReviewPending, now,
		); err != nil {
			return nil, fmt.Errorf("inserting relationship: %w", err)
		}
		sum.RelationshipsCreated++
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing extraction: %w", err)
	}
	return sum, nil
}

func upsertEntity(ctx context.Context, tx *sql.Tx, doc *Document, e extract.Entity, now time.Time) (int64, bool, error) {
	var (
		id          int64
		description string
		aliasesJSON string
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, description, aliases FROM entities WHERE project_id = ? AND name = ?`,
		doc.ProjectID, e.Name,
	).Scan(&id, &description, &aliasesJSON)

	if err == sql.ErrNoRows {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO entities (project_id, document_id, name, type, description, aliases, status, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			doc.ProjectID, doc.ID, e.Name, string(e.Type), e.Description, marshalAliases(e.Aliases), ReviewPending, now, now,
		)
		if err != nil {
			return 0, false, fmt.Errorf("inserting entity %q: %w", e.Name, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, false, fmt.Errorf("getting entity id: %w", err)
		}
		return id, true, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("looking up entity %q: %w", e.Name, err)
	}

	aliases := mergeAliases(unmarshalAliases(aliasesJSON), e.Aliases)
	if description == "" {
		description = e.Description
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE entities SET description = ?, aliases = ?, updated_at = ? WHERE id = ?`,
		description, marshalAliases(aliases), now, id,
	); err != nil {
		return 0, false, fmt.Errorf("updating entity %q: %w", e.Name, err)
	}
	return id, false, nil
}

// ListEntities returns entities in name order.
func (s *SQLiteStore) ListEntities(ctx context.Context, opts ListOpts) ([]*Entity, error) {
	query := `SELECT id, project_id, COALESCE(document_id, ''), name, type, description, aliases, status, created_at, updated_at
		FROM entities WHERE 1=1`
	query, args := applyCanonFilters(query, opts)
	query += ` ORDER BY name LIMIT ? OFFSET ?`
	args = append(args, listLimit(opts), opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing entities: %w", err)
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e := &Entity{}
		var aliases string
		var createdAt, updatedAt sql.NullTime
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.DocumentID, &e.Name, &e.Type, &e.Description,
			&aliases, &e.Status, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		e.Aliases = unmarshalAliases(aliases)
		e.CreatedAt = nullTime(createdAt)
		e.UpdatedAt = nullTime(updatedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// ListFacts returns facts in insertion order.
func (s *SQLiteStore) ListFacts(ctx context.Context, opts ListOpts) ([]*Fact, error) {
	query := `SELECT id, project_id, document_id, entity_id, entity_name, subject, predicate, object,
			confidence, evidence, evidence_start, evidence_end, temporal_bound, status, created_at
		FROM facts WHERE 1=1`
	query, args := applyCanonFilters(query, opts)
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, listLimit(opts), opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing facts: %w", err)
	}
	defer rows.Close()

	var out []*Fact
	for rows.Next() {
		f := &Fact{}
		var entityID, start, end sql.NullInt64
		var createdAt sql.NullTime
		if err := rows.Scan(&f.ID, &f.ProjectID, &f.DocumentID, &entityID, &f.EntityName, &f.Subject,
			&f.Predicate, &f.Object, &f.Confidence, &f.Evidence, &start, &end, &f.TemporalBound,
			&f.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning fact: %w", err)
		}
		if entityID.Valid {
			f.EntityID = &entityID.Int64
		}
		f.EvidenceStart, f.EvidenceEnd = nullInt(start), nullInt(end)
		f.CreatedAt = nullTime(createdAt)
		out = append(out, f)
	}
	return out, rows.Err()
}

// ListRelationships returns relationships in insertion order.
func (s *SQLiteStore) ListRelationships(ctx context.Context, opts ListOpts) ([]*Relationship, error) {
	query := `SELECT id, project_id, document_id, source_entity, target_entity, relationship_type,
			evidence, evidence_start, evidence_end, status, created_at
		FROM relationships WHERE 1=1`
	query, args := applyCanonFilters(query, opts)
	query += ` ORDER BY id LIMIT ? OFFSET ?`
	args = append(args, listLimit(opts), opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}
	defer rows.Close()

	var out []*Relationship
	for rows.Next() {
		r := &Relationship{}
		var start, end sql.NullInt64
		var createdAt sql.NullTime
		if err := rows.Scan(&r.ID, &r.ProjectID, &r.DocumentID, &r.SourceEntity, &r.TargetEntity,
			&r.RelationshipType, &r.Evidence, &start, &end, &r.Status, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		r.EvidenceStart, r.EvidenceEnd = nullInt(start), nullInt(end)
		r.CreatedAt = nullTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func applyCanonFilters(query string, opts ListOpts) (string, []interface{}) {
	var args []interface{}
	if opts.ProjectID != "" {
		query += ` AND project_id = ?`
		args = append(args, opts.ProjectID)
	}
	if opts.DocumentID != "" {
		query += ` AND document_id = ?`
		args = append(args, opts.DocumentID)
	}
	if opts.Status != "" {
		query += ` AND status = ?`
		args = append(args, opts.Status)
	}
	return query, args
}

func listLimit(opts ListOpts) int {
	if opts.Limit <= 0 {
		return 100
	}
	return opts.Limit
}

func positionArgs(p *extract.Position) (interface{}, interface{}) {
	if p == nil {
		return nil, nil
	}
	return p.Start, p.End
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}

func marshalAliases(aliases []string) string {
	if len(aliases) == 0 {
		return "[]"
	}
	b, err := json.Marshal(aliases)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func unmarshalAliases(s string) []string {
	out := []string{}
	if s == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return []string{}
	}
	return out
}

func mergeAliases(existing, add []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(add))
	out := make([]string, 0, len(existing)+len(add))
	for _, list := range [][]string{existing, add} {
		for _, a := range list {
			if _, ok := seen[a]; ok {
				continue
			}
			seen[a] = struct{}{}
			out = append(out, a)
		}
	}
	return out
}
