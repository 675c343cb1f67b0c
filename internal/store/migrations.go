package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// migrate creates all tables if they don't exist and seeds metadata.
func (s *SQLiteStore) migrate() error {
	bootstrapDone, err := s.isMetaFlagEnabled("schema_bootstrap_complete")
	if err != nil {
		return fmt.Errorf("checking bootstrap state: %w", err)
	}

	if !bootstrapDone {
		if err := s.runBootstrapDDL(); err != nil {
			return err
		}
	}

	if err := s.seedMeta(); err != nil {
		return fmt.Errorf("seeding metadata: %w", err)
	}

	if !bootstrapDone {
		if err := s.setMetaFlag("schema_bootstrap_complete"); err != nil {
			return fmt.Errorf("marking bootstrap complete: %w", err)
		}
	}

	// Schema evolution: temporal bounds on facts (schema v2).
	if err := s.migrateTemporalBoundColumn(); err != nil {
		return fmt.Errorf("migrating temporal_bound column: %w", err)
	}

	return nil
}

func (s *SQLiteStore) runBootstrapDDL() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id           TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL DEFAULT '',
			title        TEXT NOT NULL DEFAULT '',
			content      TEXT NOT NULL,
			source_path  TEXT NOT NULL DEFAULT '',
			content_hash TEXT NOT NULL,
			status       TEXT NOT NULL DEFAULT 'pending' CHECK(status IN ('pending','processing','completed','failed')),
			error        TEXT NOT NULL DEFAULT '',
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(project_id, content_hash)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_project ON documents(project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_status ON documents(status)`,

		// Extraction cache; times are unix milliseconds so expiry compares numerically.
		`CREATE TABLE IF NOT EXISTS extraction_cache (
			input_hash     TEXT NOT NULL,
			prompt_version TEXT NOT NULL,
			model_id       TEXT NOT NULL DEFAULT '',
			response       TEXT NOT NULL,
			created_at     INTEGER NOT NULL,
			expires_at     INTEGER NOT NULL,
			PRIMARY KEY (input_hash, prompt_version)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_extraction_cache_expires ON extraction_cache(expires_at)`,

		`CREATE TABLE IF NOT EXISTS entities (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id  TEXT NOT NULL DEFAULT '',
			document_id TEXT REFERENCES documents(id) ON DELETE SET NULL,
			name        TEXT NOT NULL COLLATE NOCASE,
			type        TEXT NOT NULL CHECK(type IN ('character','location','item','concept','event')),
			description TEXT NOT NULL DEFAULT '',
			aliases     TEXT NOT NULL DEFAULT '[]',
			status      TEXT NOT NULL DEFAULT 'pending',
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(project_id, name)
		)`,

		`CREATE TABLE IF NOT EXISTS facts (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id     TEXT NOT NULL DEFAULT '',
			document_id    TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			entity_id      INTEGER REFERENCES entities(id) ON DELETE SET NULL,
			entity_name    TEXT NOT NULL DEFAULT '',
			subject        TEXT NOT NULL DEFAULT '',
			predicate      TEXT NOT NULL DEFAULT '',
			object         TEXT NOT NULL DEFAULT '',
			confidence     REAL NOT NULL DEFAULT 0.8,
			evidence       TEXT NOT NULL DEFAULT '',
			evidence_start INTEGER,
			evidence_end   INTEGER,
			status         TEXT NOT NULL DEFAULT 'pending',
			created_at     DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_document ON facts(document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_facts_project_status ON facts(project_id, status)`,

		`CREATE TABLE IF NOT EXISTS relationships (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id        TEXT NOT NULL DEFAULT '',
			document_id       TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			source_entity     TEXT NOT NULL,
			target_entity     TEXT NOT NULL,
			relationship_type TEXT NOT NULL DEFAULT '',
			evidence          TEXT NOT NULL DEFAULT '',
			evidence_start    INTEGER,
			evidence_end      INTEGER,
			status            TEXT NOT NULL DEFAULT 'pending',
			created_at        DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_relationships_document ON relationships(document_id)`,

		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT
		)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning migration transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("executing migration %q: %w", truncate(stmt, 80), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing migration: %w", err)
	}

	return nil
}

func (s *SQLiteStore) isMetaFlagEnabled(key string) (bool, error) {
	var exists int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='meta'`).Scan(&exists); err != nil {
		return false, err
	}
	if exists == 0 {
		return false, nil
	}

	var value string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return value == "true", nil
}

func (s *SQLiteStore) setMetaFlag(key string) error {
	_, err := s.db.Exec("INSERT OR REPLACE INTO meta (key, value) VALUES (?, 'true')", key)
	return err
}

func (s *SQLiteStore) seedMeta() error {
	defaults := map[string]string{
		"schema_version": "2",
		"created_at":     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range defaults {
		if _, err := s.db.Exec("INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?)", k, v); err != nil {
			return fmt.Errorf("seeding meta key %q: %w", k, err)
		}
	}
	return nil
}

func isDuplicateColumnError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

// migrateTemporalBoundColumn adds facts.temporal_bound to schema v1 databases.
func (s *SQLiteStore) migrateTemporalBoundColumn() error {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM pragma_table_info('facts') WHERE name='temporal_bound'",
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking for temporal_bound column: %w", err)
	}
	if count > 0 {
		return nil
	}

	if _, err := s.db.Exec(`ALTER TABLE facts ADD COLUMN temporal_bound TEXT NOT NULL DEFAULT ''`); err != nil && !isDuplicateColumnError(err) {
		return fmt.Errorf("adding temporal_bound: %w", err)
	}
	_, err = s.db.Exec(`UPDATE meta SET value = '2' WHERE key = 'schema_version'`)
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
