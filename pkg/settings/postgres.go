package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgLogPrefix = "settings:postgres"

// PGStore persists settings in the mcp_settings table.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a PGStore with the given connection pool.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

// Get returns the stored value for key.
func (s *PGStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM mcp_settings WHERE key = $1 LIMIT 1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%s - get %s: %w", pgLogPrefix, key, err)
	}
	return value, true, nil
}

// Set creates or updates the value for key.
func (s *PGStore) Set(ctx context.Context, key, value string) error {
	slog.Debug(fmt.Sprintf("%s - set %s", pgLogPrefix, key))

	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO mcp_settings (key, value, modified)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET
		   value = $2,
		   modified = $3`,
		key, value, now)
	if err != nil {
		return fmt.Errorf("%s - set %s: %w", pgLogPrefix, key, err)
	}
	return nil
}

// List returns every pair whose key starts with prefix.
func (s *PGStore) List(ctx context.Context, prefix string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM mcp_settings WHERE key LIKE $1 || '%' ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("%s - list %s*: %w", pgLogPrefix, prefix, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("%s - scan: %w", pgLogPrefix, err)
		}
		out[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - list %s*: %w", pgLogPrefix, prefix, err)
	}
	return out, nil
}
