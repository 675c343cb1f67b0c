package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hurttlocker/canon/internal/cache"
)

// Check returns the live cache entry for (inputHash, promptVersion).
// Expired rows read as a miss; Sweep removes them.
func (s *SQLiteStore) Check(ctx context.Context, inputHash, promptVersion string) (*cache.Entry, error) {
	var (
		e                    cache.Entry
		response             string
		createdAt, expiresAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT input_hash, prompt_version, model_id, response, created_at, expires_at
		 FROM extraction_cache
		 WHERE input_hash = ? AND prompt_version = ? AND expires_at > ?`,
		inputHash, promptVersion, s.now().UnixMilli(),
	).Scan(&e.InputHash, &e.PromptVersion, &e.ModelID, &response, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking extraction cache: %w", err)
	}
	e.Response = []byte(response)
	e.CreatedAt = time.UnixMilli(createdAt).UTC()
	e.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return &e, nil
}

// Save upserts a cache row. The expiry restarts on every save.
func (s *SQLiteStore) Save(ctx context.Context, inputHash, promptVersion, modelID string, response []byte) error {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_cache (input_hash, prompt_version, model_id, response, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(input_hash, prompt_version) DO UPDATE SET
			model_id = excluded.model_id,
			response = excluded.response,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at`,
		inputHash, promptVersion, modelID, string(response), now.UnixMilli(), now.Add(s.cacheTTL).UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("saving extraction cache: %w", err)
	}
	return nil
}

// Sweep deletes cache rows expired at now.
func (s *SQLiteStore) Sweep(ctx context.Context, now time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM extraction_cache WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweeping extraction cache: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
