package tools

import (
	"context"
	"encoding/json"

	"github.com/woodwosj/OdooDevMCP/pkg/ratelimit"
)

// Handler executes one tool call with raw JSON arguments.
type Handler func(ctx context.Context, args json.RawMessage) (*Result, error)

// Descriptor describes one tool: its wire name, the schema advertised
// over tools/list, the rate limit category it admits under (empty
// means unlimited), and the handler bound to a Service.
type Descriptor struct {
	Name        string
	Description string
	Category    string
	InputSchema map[string]interface{}
	Handler     Handler
}

// Registry is an immutable name-to-descriptor index built once at
// startup.
type Registry struct {
	byName  map[string]*Descriptor
	ordered []*Descriptor
}

// NewRegistry binds every tool to the given service.
func NewRegistry(svc *Service) *Registry {
	descriptors := []Descriptor{
		{
			Name:        "execute_command",
			Description: "Execute a shell command on the Odoo server",
			Category:    ratelimit.CategoryCommand,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"command": map[string]interface{}{
						"type":        "string",
						"description": "The shell command to execute",
					},
					"working_directory": map[string]interface{}{
						"type":        "string",
						"description": "Working directory for command execution",
					},
					"timeout": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum execution time in seconds",
						"default":     30,
					},
					"env_vars": map[string]interface{}{
						"type":        "object",
						"description": "Additional environment variables",
					},
				},
				"required": []string{"command"},
			},
			Handler: svc.ExecuteCommand,
		},
		{
			Name:        "query_database",
			Description: "Execute a read-only SQL query against the Odoo PostgreSQL database",
			Category:    ratelimit.CategoryQuery,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "SQL query to execute (SELECT or read-only)",
					},
					"params": map[string]interface{}{
						"type":        "array",
						"description": "Parameterized query values",
						"items":       map[string]interface{}{},
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of rows to return",
						"default":     1000,
					},
				},
				"required": []string{"query"},
			},
			Handler: svc.QueryDatabase,
		},
		{
			Name:        "execute_sql",
			Description: "Execute a write SQL statement (INSERT, UPDATE, DELETE, DDL)",
			Category:    ratelimit.CategoryWrite,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"statement": map[string]interface{}{
						"type":        "string",
						"description": "SQL statement to execute",
					},
					"params": map[string]interface{}{
						"type":        "array",
						"description": "Parameterized query values",
						"items":       map[string]interface{}{},
					},
				},
				"required": []string{"statement"},
			},
			Handler: svc.ExecuteSQL,
		},
		{
			Name:        "get_db_schema",
			Description: "Retrieve database schema information",
			Category:    ratelimit.CategoryQuery,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"action": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"list_tables", "describe_table", "list_indexes", "list_constraints"},
						"description": "What schema information to retrieve",
					},
					"table_name": map[string]interface{}{
						"type":        "string",
						"description": "Table name (required for describe_table, list_indexes, list_constraints)",
					},
					"schema_name": map[string]interface{}{
						"type":        "string",
						"description": "PostgreSQL schema",
						"default":     "public",
					},
				},
				"required": []string{"action"},
			},
			Handler: svc.GetDBSchema,
		},
		{
			Name:        "read_file",
			Description: "Read the contents of a file from the Odoo server filesystem",
			Category:    ratelimit.CategoryFileRead,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the file to read",
					},
					"encoding": map[string]interface{}{
						"type":        "string",
						"description": "Text encoding (use \"binary\" for base64 output)",
						"default":     "utf-8",
					},
					"offset": map[string]interface{}{
						"type":        "integer",
						"description": "Line number to start reading from (1-based)",
						"default":     0,
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of lines to return (0 = entire file)",
						"default":     0,
					},
				},
				"required": []string{"path"},
			},
			Handler: svc.ReadFile,
		},
		{
			Name:        "write_file",
			Description: "Write content to a file on the Odoo server filesystem",
			Category:    ratelimit.CategoryFileWrite,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": map[string]interface{}{
						"type":        "string",
						"description": "Absolute path to the file to write",
					},
					"content": map[string]interface{}{
						"type":        "string",
						"description": "Content to write",
					},
					"encoding": map[string]interface{}{
						"type":        "string",
						"description": "Text encoding (use \"binary\" for base64 input)",
						"default":     "utf-8",
					},
					"mode": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"overwrite", "append"},
						"description": "Write mode",
						"default":     "overwrite",
					},
					"create_directories": map[string]interface{}{
						"type":        "boolean",
						"description": "Create parent directories if they do not exist",
						"default":     true,
					},
				},
				"required": []string{"path", "content"},
			},
			Handler: svc.WriteFile,
		},
		{
			Name:        "odoo_shell",
			Description: "Execute Python code in the Odoo environment with ORM access",
			Category:    ratelimit.CategoryShell,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"code": map[string]interface{}{
						"type":        "string",
						"description": "Python code to execute (env variable is available)",
					},
					"timeout": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum execution time in seconds",
						"default":     30,
					},
				},
				"required": []string{"code"},
			},
			Handler: svc.OdooShell,
		},
		{
			Name:        "service_status",
			Description: "Check and manage services (odoo, postgresql, nginx)",
			Category:    ratelimit.CategoryCommand,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"service": map[string]interface{}{
						"type":        "string",
						"description": "Service name",
						"default":     "odoo",
					},
					"action": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"status", "start", "stop", "restart", "logs"},
						"description": "Action to perform",
						"default":     "status",
					},
					"log_lines": map[string]interface{}{
						"type":        "integer",
						"description": "Number of log lines to return (for logs action)",
						"default":     50,
					},
				},
			},
			Handler: svc.ServiceStatus,
		},
		{
			Name:        "read_config",
			Description: "Read the Odoo server configuration file",
			Category:    ratelimit.CategoryFileRead,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"key": map[string]interface{}{
						"type":        "string",
						"description": "Specific configuration key to read (null = all)",
					},
				},
			},
			Handler: svc.ReadConfig,
		},
		{
			Name:        "list_modules",
			Description: "List Odoo modules with their installation status",
			Category:    ratelimit.CategoryQuery,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"state": map[string]interface{}{
						"type":        "string",
						"enum":        []string{"installed", "uninstalled", "to_upgrade", "to_install", "to_remove", "all"},
						"description": "Filter by module state",
						"default":     "all",
					},
					"search": map[string]interface{}{
						"type":        "string",
						"description": "Search term to filter module names or descriptions",
					},
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of modules to return",
						"default":     100,
					},
				},
			},
			Handler: svc.ListModules,
		},
		{
			Name:        "get_module_info",
			Description: "Get detailed information about a specific module",
			Category:    ratelimit.CategoryQuery,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"module_name": map[string]interface{}{
						"type":        "string",
						"description": "Technical name of the module",
					},
				},
				"required": []string{"module_name"},
			},
			Handler: svc.GetModuleInfo,
		},
		{
			Name:        "install_module",
			Description: "Install an Odoo module",
			Category:    ratelimit.CategoryCommand,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"module_name": map[string]interface{}{
						"type":        "string",
						"description": "Technical name of the module to install",
					},
				},
				"required": []string{"module_name"},
			},
			Handler: svc.InstallModule,
		},
		{
			Name:        "upgrade_module",
			Description: "Upgrade an Odoo module",
			Category:    ratelimit.CategoryCommand,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"module_name": map[string]interface{}{
						"type":        "string",
						"description": "Technical name of the module to upgrade",
					},
				},
				"required": []string{"module_name"},
			},
			Handler: svc.UpgradeModule,
		},
		{
			Name:        "register_receiver",
			Description: "Register a receiver URL for phone-home notifications and heartbeats",
			Category:    ratelimit.CategoryRegisterReceiver,
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"receiver_url": map[string]interface{}{
						"type":        "string",
						"description": "Base URL of the receiver server (e.g., https://receiver.example.com)",
					},
				},
				"required": []string{"receiver_url"},
			},
			Handler: svc.RegisterReceiver,
		},
	}

	r := &Registry{byName: make(map[string]*Descriptor, len(descriptors))}
	for i := range descriptors {
		d := &descriptors[i]
		r.byName[d.Name] = d
		r.ordered = append(r.ordered, d)
	}
	return r
}

// Get looks up a descriptor by tool name.
func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.byName[name]
	return d, ok
}

// List returns the descriptors in registration order.
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.ordered))
	for _, d := range r.ordered {
		names = append(names, d.Name)
	}
	return names
}
