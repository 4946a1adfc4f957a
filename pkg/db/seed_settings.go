// Package db provides seed-file loading of runtime settings.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/woodwosj/OdooDevMCP/pkg/bootstrap"
	"github.com/woodwosj/OdooDevMCP/pkg/settings"
)

const seedSettingsLogPrefix = "db:seed_settings"

// SeedSettings loads a settings seed file and inserts its entries into the
// mcp_settings table. Idempotent: existing keys are left untouched (ON
// CONFLICT DO NOTHING), so operator changes made at runtime survive a
// re-seed. Keys outside the settings namespace are skipped with a warning.
func SeedSettings(ctx context.Context, pool *pgxpool.Pool, path string) error {
	cfg, err := bootstrap.LoadSettingsConfig(path)
	if err != nil {
		return err
	}
	if cfg == nil || len(cfg.Settings) == 0 {
		slog.Info(fmt.Sprintf("%s - no settings to seed", seedSettingsLogPrefix))
		return nil
	}

	keys := make([]string, 0, len(cfg.Settings))
	for key := range cfg.Settings {
		if !strings.HasPrefix(key, settings.Prefix) {
			slog.Warn(fmt.Sprintf("%s - skip key %q outside %q namespace", seedSettingsLogPrefix, key, settings.Prefix))
			continue
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		slog.Info(fmt.Sprintf("%s - no settings to seed", seedSettingsLogPrefix))
		return nil
	}
	sort.Strings(keys)

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%s - begin tx: %w", seedSettingsLogPrefix, err)
	}
	defer tx.Rollback(ctx)

	inserted := 0
	for _, key := range keys {
		tag, err := tx.Exec(ctx,
			`INSERT INTO mcp_settings (key, value)
			 VALUES ($1, $2)
			 ON CONFLICT (key) DO NOTHING`,
			key, cfg.Settings[key])
		if err != nil {
			return fmt.Errorf("%s - insert %s: %w", seedSettingsLogPrefix, key, err)
		}
		inserted += int(tag.RowsAffected())
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%s - commit: %w", seedSettingsLogPrefix, err)
	}
	slog.Info(fmt.Sprintf("%s - seeded %d settings (%d already present)", seedSettingsLogPrefix, inserted, len(keys)-inserted))
	return nil
}
