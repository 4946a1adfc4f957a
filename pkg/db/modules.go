package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const modulesLogPrefix = "db:modules"

// Module is one row of the Odoo module registry (ir_module_module).
type Module struct {
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Version     string `json:"version"`
	State       string `json:"state"`
	Author      string `json:"author"`
	Summary     string `json:"summary"`
}

// ModuleDependency is one declared dependency of a module, with the
// current installation state of the dependency itself.
type ModuleDependency struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

// ModuleDetail is the full record for a single module.
type ModuleDetail struct {
	Module
	Description      string             `json:"description"`
	Category         string             `json:"category"`
	Website          string             `json:"website"`
	Dependencies     []ModuleDependency `json:"dependencies"`
	InstalledVersion string             `json:"installed_version"`
}

// ListModulesParams holds filters for ListModules.
type ListModulesParams struct {
	State  string
	Search string
	Limit  int
}

// ListModules lists modules from ir_module_module with optional state
// and search filters, ordered by name. Returns the page and the total
// count matching the filters.
func ListModules(ctx context.Context, pool *pgxpool.Pool, params ListModulesParams) ([]Module, int, error) {
	limit := params.Limit
	if limit < 1 {
		limit = 100
	}

	// Build query dynamically
	query := `SELECT name, COALESCE(shortdesc, ''), COALESCE(latest_version, ''),
	                 state, COALESCE(author, ''), COALESCE(summary, '')
	          FROM ir_module_module WHERE 1=1`
	countQuery := `SELECT COUNT(*)::int FROM ir_module_module WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if params.State != "" && params.State != "all" {
		clause := fmt.Sprintf(` AND state = $%d`, argIdx)
		query += clause
		countQuery += clause
		args = append(args, params.State)
		argIdx++
	}
	if params.Search != "" {
		clause := fmt.Sprintf(` AND (name ILIKE $%d OR COALESCE(shortdesc, '') ILIKE $%d OR COALESCE(summary, '') ILIKE $%d)`,
			argIdx, argIdx, argIdx)
		query += clause
		countQuery += clause
		args = append(args, "%"+params.Search+"%")
		argIdx++
	}

	var total int
	if err := pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%s - count modules: %w", modulesLogPrefix, err)
	}

	query += fmt.Sprintf(` ORDER BY name LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%s - list modules: %w", modulesLogPrefix, err)
	}
	defer rows.Close()

	var out []Module
	for rows.Next() {
		var m Module
		if err := rows.Scan(&m.Name, &m.DisplayName, &m.Version, &m.State, &m.Author, &m.Summary); err != nil {
			return nil, 0, fmt.Errorf("%s - scan module: %w", modulesLogPrefix, err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("%s - list modules: %w", modulesLogPrefix, err)
	}
	return out, total, nil
}

// GetModuleDetail returns the full record for one module, or nil when
// no module by that name exists.
func GetModuleDetail(ctx context.Context, pool *pgxpool.Pool, name string) (*ModuleDetail, error) {
	slog.Debug(fmt.Sprintf("%s - GetModuleDetail name=%s", modulesLogPrefix, name))

	var d ModuleDetail
	var id int64
	err := pool.QueryRow(ctx,
		`SELECT m.id, m.name, COALESCE(m.shortdesc, ''), COALESCE(m.latest_version, ''),
		        m.state, COALESCE(m.author, ''), COALESCE(m.summary, ''),
		        COALESCE(m.description, ''), COALESCE(c.name, ''), COALESCE(m.website, '')
		 FROM ir_module_module m
		 LEFT JOIN ir_module_category c ON c.id = m.category_id
		 WHERE m.name = $1
		 LIMIT 1`, name).Scan(
		&id, &d.Name, &d.DisplayName, &d.Version, &d.State, &d.Author, &d.Summary,
		&d.Description, &d.Category, &d.Website,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s - get module %s: %w", modulesLogPrefix, name, err)
	}

	if d.State == "installed" {
		d.InstalledVersion = d.Version
	}

	rows, err := pool.Query(ctx,
		`SELECT d.name, COALESCE(dep.state, 'unknown')
		 FROM ir_module_module_dependency d
		 LEFT JOIN ir_module_module dep ON dep.name = d.name
		 WHERE d.module_id = $1
		 ORDER BY d.name`, id)
	if err != nil {
		return nil, fmt.Errorf("%s - module dependencies for %s: %w", modulesLogPrefix, name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var dep ModuleDependency
		if err := rows.Scan(&dep.Name, &dep.State); err != nil {
			return nil, fmt.Errorf("%s - scan dependency: %w", modulesLogPrefix, err)
		}
		d.Dependencies = append(d.Dependencies, dep)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s - module dependencies for %s: %w", modulesLogPrefix, name, err)
	}

	return &d, nil
}

// ModuleState returns the state of one module ("" when the module does
// not exist). Used by the lifecycle tools to short-circuit installs.
func ModuleState(ctx context.Context, pool *pgxpool.Pool, name string) (string, error) {
	var state string
	err := pool.QueryRow(ctx,
		`SELECT state FROM ir_module_module WHERE name = $1 LIMIT 1`, name).Scan(&state)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("%s - module state %s: %w", modulesLogPrefix, name, err)
	}
	return state, nil
}
