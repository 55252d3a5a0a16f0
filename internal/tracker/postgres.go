package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRepository implements Repository using PostgreSQL.
type PostgresRepository struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresRepository creates a PostgreSQL checkpoint repository.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, ttl: DefaultTTL}
}

// EnsureSchema creates the checkpoint table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS crawl_checkpoints (
			source_key TEXT PRIMARY KEY,
			cursor     TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("create crawl_checkpoints table: %w", err)
	}
	return nil
}

// Get returns the stored cursor, or the sentinel when absent or expired.
func (r *PostgresRepository) Get(ctx context.Context, sourceKey string) (string, error) {
	var cursor string
	err := r.db.QueryRowContext(ctx, `
		SELECT cursor FROM crawl_checkpoints
		WHERE source_key = $1 AND expires_at > now()
	`, sourceKey).Scan(&cursor)

	if err == sql.ErrNoRows {
		return SentinelCursor, nil
	}
	if err != nil {
		return "", fmt.Errorf("query checkpoint for %s: %w", sourceKey, err)
	}
	return cursor, nil
}

// Save upserts the cursor and refreshes the TTL.
func (r *PostgresRepository) Save(ctx context.Context, sourceKey, cursor string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO crawl_checkpoints (source_key, cursor, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (source_key) DO UPDATE
		SET cursor = EXCLUDED.cursor, expires_at = EXCLUDED.expires_at, updated_at = now()
	`, sourceKey, cursor, time.Now().Add(r.ttl))

	if err != nil {
		return fmt.Errorf("save checkpoint for %s: %w", sourceKey, err)
	}
	return nil
}

// ResetPlatform deletes all checkpoints for a platform and returns how many
// rows were removed.
func (r *PostgresRepository) ResetPlatform(ctx context.Context, platform string) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM crawl_checkpoints WHERE source_key LIKE $1 || '#%'
	`, platform)
	if err != nil {
		return 0, fmt.Errorf("reset checkpoints for %s: %w", platform, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count reset checkpoints: %w", err)
	}
	return int(rows), nil
}
