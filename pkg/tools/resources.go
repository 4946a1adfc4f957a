package tools

import (
	"context"
	"encoding/json"
	"os"
	"runtime"
	"strings"

	"github.com/woodwosj/OdooDevMCP/pkg/db"
)

// Resource is one entry in the resources/list response.
type Resource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MimeType    string `json:"mimeType"`
}

// ResourceContent is one entry in a resources/read response.
type ResourceContent struct {
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	Text     string `json:"text"`
}

// ListResources returns the readable resources this server exposes.
func (s *Service) ListResources() []Resource {
	return []Resource{
		{
			URI:         "odoo://config",
			Name:        "Odoo Configuration",
			Description: "Current Odoo server configuration (with sensitive values masked)",
			MimeType:    "application/json",
		},
		{
			URI:         "odoo://logs/{service}",
			Name:        "Service Logs",
			Description: "Recent log entries for the specified service",
			MimeType:    "text/plain",
		},
		{
			URI:         "odoo://schema/{table}",
			Name:        "Database Schema",
			Description: "Schema information for a specific database table",
			MimeType:    "application/json",
		},
		{
			URI:         "odoo://modules",
			Name:        "Installed Modules",
			Description: "List of all installed Odoo modules with version info",
			MimeType:    "application/json",
		},
		{
			URI:         "odoo://system",
			Name:        "System Information",
			Description: "System information -- OS, Go version, Odoo version",
			MimeType:    "application/json",
		},
	}
}

// ReadResource resolves one resource URI to its content. Parameterized
// URIs (odoo://logs/<service>, odoo://schema/<table>) take the value
// from the last path segment.
func (s *Service) ReadResource(ctx context.Context, uri string) (*ResourceContent, error) {
	switch {
	case uri == "odoo://config":
		configPath, values, err := s.loadConfigValues()
		if err != nil {
			return nil, err
		}
		return jsonResource(uri, ReadConfigAllOutput{ConfigPath: configPath, Values: values})

	case strings.HasPrefix(uri, "odoo://logs/"):
		service := lastSegment(uri)
		if !serviceAllowed(service) {
			return nil, Validationf("Service %q not in allowed list: %v", service, allowedServices)
		}
		logs, err := s.serviceLogs(ctx, service, 100)
		if err != nil {
			return nil, err
		}
		return &ResourceContent{
			URI:      uri,
			MimeType: "text/plain",
			Text:     strings.Join(logs.LogLines, "\n"),
		}, nil

	case strings.HasPrefix(uri, "odoo://schema/"):
		table := lastSegment(uri)
		if table == "" {
			return nil, Validationf("Unknown resource URI: %s", uri)
		}
		if err := s.requirePool(); err != nil {
			return nil, err
		}
		queryCtx, cancel := s.queryCtx(ctx)
		defer cancel()
		columns, err := db.DescribeTable(queryCtx, s.pool, table, "public")
		if err != nil {
			return nil, sqlError(queryCtx, "Schema lookup", err)
		}
		return jsonResource(uri, SchemaColumnsOutput{TableName: table, Columns: columns, ColumnCount: len(columns)})

	case uri == "odoo://modules":
		if err := s.requirePool(); err != nil {
			return nil, err
		}
		queryCtx, cancel := s.queryCtx(ctx)
		defer cancel()
		modules, total, err := db.ListModules(queryCtx, s.pool, db.ListModulesParams{State: "installed", Limit: 1000})
		if err != nil {
			return nil, sqlError(queryCtx, "Module listing", err)
		}
		return jsonResource(uri, ListModulesOutput{
			Modules:       modules,
			TotalCount:    total,
			ReturnedCount: len(modules),
			FilterApplied: "installed",
		})

	case uri == "odoo://system":
		hostname, _ := os.Hostname()
		return jsonResource(uri, map[string]string{
			"hostname":     hostname,
			"os":           runtime.GOOS + " " + runtime.GOARCH,
			"go_version":   runtime.Version(),
			"odoo_version": s.odooVersion,
		})

	default:
		return nil, Validationf("Unknown resource URI: %s", uri)
	}
}

func jsonResource(uri string, v interface{}) (*ResourceContent, error) {
	text, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, Executionf("encode resource %s: %v", uri, err)
	}
	return &ResourceContent{URI: uri, MimeType: "application/json", Text: string(text)}, nil
}

func lastSegment(uri string) string {
	idx := strings.LastIndex(uri, "/")
	if idx < 0 || idx == len(uri)-1 {
		return ""
	}
	return uri[idx+1:]
}
