// Package main is the entrypoint for the Odoo MCP server (binary name "odoo-mcp").
package main

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"os"

	"github.com/woodwosj/OdooDevMCP/internal/config"
	"github.com/woodwosj/OdooDevMCP/internal/server"
	"github.com/woodwosj/OdooDevMCP/pkg/db"
)

const usage = `Usage: odoo-mcp [command]
       odoo-mcp serve               Start the MCP server (HTTP, NATS, fleet phone-home).
       odoo-mcp migrate up          Run database migrations.
       odoo-mcp migrate down        Roll back one migration (optional; not all migrations support down).
       odoo-mcp migrate status      Show migration status.
       odoo-mcp ensure-db [name]    Create database if missing (default name: odoo_mcp_test). Uses DATABASE_URL host/user.
       odoo-mcp clear-settings      Truncate the mcp_settings table; the server re-seeds defaults on next start.
       odoo-mcp seed <file>         Insert settings from a seed file (existing keys are left untouched).

Commands:
  serve           (default) Start the MCP server.
  migrate up      Run database migrations only.
  migrate down    Roll back last migration (optional).
  migrate status  Show current migration status.
  ensure-db [name] Create database (e.g. odoo_mcp_test) on same host as DATABASE_URL; then run tests with that URL.
  clear-settings  Truncate runtime settings; schema preserved.
  seed <file>     Seed mcp.* settings from a JSON file (e.g. config/settings.json).

Environment: DATABASE_URL (required), MCP_SERVER_PORT (default 8768), MCP_AUTH_TOKEN, MCP_LIMITS_FILE, MIGRATION_PATH. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "migrate":
		if len(args) < 2 {
			log.Fatalf("odoo-mcp migrate: require subcommand (up, down, status)")
		}
		sub := args[1]
		switch sub {
		case "up":
			if err := runMigrateUp(); err != nil {
				log.Fatalf("odoo-mcp migrate up: %v", err)
			}
		case "status":
			if err := runMigrateStatus(); err != nil {
				log.Fatalf("odoo-mcp migrate status: %v", err)
			}
		case "down":
			if err := runMigrateDown(); err != nil {
				log.Fatalf("odoo-mcp migrate down: %v", err)
			}
		default:
			log.Fatalf("odoo-mcp migrate: unknown subcommand %q (use up, down, status)", sub)
		}
		return
	case "clear-settings":
		if err := runClearSettings(); err != nil {
			log.Fatalf("odoo-mcp clear-settings: %v", err)
		}
		return
	case "seed":
		if len(args) < 2 || args[1] == "" {
			log.Fatalf("odoo-mcp seed: require a settings file path")
		}
		if err := runSeed(args[1]); err != nil {
			log.Fatalf("odoo-mcp seed: %v", err)
		}
		return
	case "ensure-db":
		dbName := "odoo_mcp_test"
		if len(args) > 1 && args[1] != "" {
			dbName = args[1]
		}
		if err := runEnsureDB(dbName); err != nil {
			log.Fatalf("odoo-mcp ensure-db: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("odoo-mcp: %v", err)
	}
}

func runMigrateUp() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	migrationSQL, err := db.LoadMigrationFiles(cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	if err := db.RunMigrations(ctx, pool, migrationSQL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func runMigrateStatus() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return db.MigrationStatus(ctx, pool, cfg.MigrationPath)
}

func runMigrateDown() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	return db.MigrationDown(ctx, pool, cfg.MigrationPath)
}

func runClearSettings() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.ClearSettings(ctx, pool); err != nil {
		return fmt.Errorf("clear settings: %w", err)
	}
	return nil
}

func runSeed(settingsFile string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.SeedSettings(ctx, pool, settingsFile); err != nil {
		return fmt.Errorf("seed settings: %w", err)
	}
	return nil
}

func runEnsureDB(dbName string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	u, err := url.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	// Replace path with target database name; query (e.g. sslmode) is kept on u.RawQuery.
	u.Path = "/" + dbName
	targetURL := u.String()
	ctx := context.Background()
	if err := db.EnsureDatabase(ctx, targetURL); err != nil {
		return err
	}
	fmt.Printf("Database %q is ready.\n", dbName)
	return nil
}
