// Package db provides settings data clearing.
package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

const clearLogPrefix = "db:clear"

// ClearSettings truncates the mcp_settings table. Schema is preserved; only
// data is removed, so the server re-seeds defaults on its next start.
func ClearSettings(ctx context.Context, pool *pgxpool.Pool) error {
	slog.Info(fmt.Sprintf("%s - Clearing runtime settings", clearLogPrefix))

	_, err := pool.Exec(ctx, `TRUNCATE TABLE mcp_settings`)
	if err != nil {
		return fmt.Errorf("%s - truncate failed: %w", clearLogPrefix, err)
	}

	slog.Info(fmt.Sprintf("%s - Settings cleared", clearLogPrefix))
	return nil
}
