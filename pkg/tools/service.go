package tools

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/woodwosj/OdooDevMCP/pkg/pathguard"
	"github.com/woodwosj/OdooDevMCP/pkg/settings"
)

const logPrefix = "tools:service"

// Registrar triggers fleet registration on behalf of register_receiver.
// Implemented by fleet.Client; nil when fleet integration is disabled.
type Registrar interface {
	Register(ctx context.Context) error
	ServerID() string
}

// Options configures a Service.
type Options struct {
	Pool      *pgxpool.Pool
	Settings  *settings.Settings
	Registrar Registrar

	Database    string // tenant database name
	Version     string // server version, reported by odoo://system
	OdooVersion string

	OdooBin        string // odoo-bin executable, for shell and module lifecycle
	OdooConfigPath string // Odoo server config file
	DefaultWorkdir string // working directory for execute_command
}

// Service holds the shared collaborators every tool handler needs.
// Handlers hang off Service so the registry can bind them as closures
// over one set of dependencies.
type Service struct {
	pool      *pgxpool.Pool
	settings  *settings.Settings
	registrar Registrar

	database    string
	version     string
	odooVersion string

	odooBin        string
	odooConfigPath string
	defaultWorkdir string
}

// NewService creates a Service with the given options, filling defaults
// for the paths the Odoo tools shell out to.
func NewService(opts Options) *Service {
	if opts.OdooBin == "" {
		opts.OdooBin = "odoo-bin"
	}
	if opts.OdooConfigPath == "" {
		opts.OdooConfigPath = "/etc/odoo/odoo.conf"
	}
	if opts.DefaultWorkdir == "" {
		opts.DefaultWorkdir = "/opt/odoo"
	}
	return &Service{
		pool:           opts.Pool,
		settings:       opts.Settings,
		registrar:      opts.Registrar,
		database:       opts.Database,
		version:        opts.Version,
		odooVersion:    opts.OdooVersion,
		odooBin:        opts.OdooBin,
		odooConfigPath: opts.OdooConfigPath,
		defaultWorkdir: opts.DefaultWorkdir,
	}
}

// Database returns the tenant database name.
func (s *Service) Database() string {
	return s.database
}

// Version returns the server version reported to clients.
func (s *Service) Version() string {
	return s.version
}

// guard builds the path validator from the current allowed_roots
// setting. Read per call so an operator can tighten roots at runtime
// without a restart; an unset value leaves absolute paths unrestricted,
// with traversal and symlink rules still enforced.
func (s *Service) guard(ctx context.Context) *pathguard.Guard {
	roots := s.settings.String(ctx, settings.KeyAllowedRoots, "")
	return pathguard.New(pathguard.ParseRoots(roots))
}

// validatePath runs a raw path through the validator, translating a
// denial into a uniform validation error.
func (s *Service) validatePath(ctx context.Context, raw string) (string, error) {
	resolved, err := s.guard(ctx).Validate(raw)
	if err != nil {
		return "", Validationf("Invalid path: %v", err)
	}
	return resolved, nil
}

// durationMillis converts an elapsed duration to whole milliseconds for
// result payloads.
func durationMillis(d time.Duration) int {
	return int(d.Milliseconds())
}
