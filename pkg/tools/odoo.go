package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/woodwosj/OdooDevMCP/pkg/audit"
	"github.com/woodwosj/OdooDevMCP/pkg/db"
	"github.com/woodwosj/OdooDevMCP/pkg/settings"
)

const odooLogPrefix = "tools:odoo"

// Ceilings for the subprocesses the Odoo tools spawn.
const (
	maxShellTimeout       = 300 * time.Second
	systemctlShowTimeout  = 5 * time.Second
	systemctlActTimeout   = 30 * time.Second
	journalctlTimeout     = 10 * time.Second
	maxServiceLogLines    = 1000
	defaultServiceLogKeep = 50
)

var allowedServices = []string{"odoo", "postgresql", "nginx"}

// OdooShellInput holds odoo_shell arguments.
type OdooShellInput struct {
	Code    string `json:"code"`
	Timeout int    `json:"timeout"`
}

// OdooShellOutput is the odoo_shell result payload. ReturnValue and
// Error are pointers so absent values render as JSON null, mirroring
// the interactive shell's "no result" cases.
type OdooShellOutput struct {
	Output      string  `json:"output"`
	ReturnValue *string `json:"return_value"`
	Error       *string `json:"error"`
	DurationMs  int     `json:"duration_ms"`
}

// ServiceStatusInput holds service_status arguments.
type ServiceStatusInput struct {
	Service  string `json:"service"`
	Action   string `json:"action"`
	LogLines int    `json:"log_lines"`
}

// ServiceStatusOutput is the status/start/stop/restart result payload.
type ServiceStatusOutput struct {
	Service     string `json:"service"`
	Active      bool   `json:"active"`
	Status      string `json:"status"`
	Pid         int    `json:"pid"`
	MemoryMB    int    `json:"memory_mb"`
	Uptime      string `json:"uptime"`
	Description string `json:"description"`
}

// ServiceLogsOutput is the logs action result payload.
type ServiceLogsOutput struct {
	Service   string   `json:"service"`
	LogLines  []string `json:"log_lines"`
	LineCount int      `json:"line_count"`
}

// ReadConfigInput holds read_config arguments.
type ReadConfigInput struct {
	Key string `json:"key"`
}

// ReadConfigValueOutput is the single-key read_config result payload.
type ReadConfigValueOutput struct {
	ConfigPath string `json:"config_path"`
	Key        string `json:"key"`
	Value      string `json:"value"`
}

// ReadConfigAllOutput is the whole-file read_config result payload.
type ReadConfigAllOutput struct {
	ConfigPath string            `json:"config_path"`
	Values     map[string]string `json:"values"`
}

// ListModulesInput holds list_modules arguments.
type ListModulesInput struct {
	State  string `json:"state"`
	Search string `json:"search"`
	Limit  int    `json:"limit"`
}

// ListModulesOutput is the list_modules result payload.
type ListModulesOutput struct {
	Modules       []db.Module `json:"modules"`
	TotalCount    int         `json:"total_count"`
	ReturnedCount int         `json:"returned_count"`
	FilterApplied string      `json:"filter_applied"`
}

// ModuleNameInput holds get_module_info / install_module /
// upgrade_module arguments.
type ModuleNameInput struct {
	ModuleName string `json:"module_name"`
}

// ModuleLifecycleOutput is the install_module / upgrade_module result
// payload.
type ModuleLifecycleOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	State   string `json:"state"`
}

// OdooShell pipes Python code into odoo-bin shell for the tenant
// database. Code errors come back in the result's error field, never
// as protocol errors, so a broken snippet reads like a shell session.
func (s *Service) OdooShell(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in OdooShellInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Code == "" {
		return nil, Validationf("code is required")
	}

	timeout := 30 * time.Second
	if in.Timeout > 0 {
		timeout = time.Duration(in.Timeout) * time.Second
	}
	if timeout > maxShellTimeout {
		timeout = maxShellTimeout
	}

	argv := []string{s.odooBin, "shell", "-c", s.odooConfigPath, "--no-http"}
	if s.database != "" {
		argv = append(argv, "-d", s.database)
	}

	outcome := runCommand(ctx, commandSpec{
		Argv:    argv,
		Stdin:   in.Code,
		Timeout: timeout,
	})

	out := OdooShellOutput{
		Output:     outcome.Stdout,
		DurationMs: durationMillis(outcome.Duration),
	}
	switch {
	case outcome.TimedOut:
		msg := fmt.Sprintf("Execution timed out after %d seconds", int(timeout.Seconds()))
		out.Error = &msg
		slog.Warn(fmt.Sprintf("%s - Shell execution timed out after %s", odooLogPrefix, timeout))
	case outcome.ExitCode != 0:
		msg := strings.TrimSpace(outcome.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("shell exited with code %d", outcome.ExitCode)
		}
		out.Error = &msg
		slog.Error(fmt.Sprintf("%s - Shell execution error: %s", odooLogPrefix, msg))
	default:
		ok := "Execution successful"
		out.ReturnValue = &ok
	}

	hadError := "no"
	if out.Error != nil {
		hadError = "yes"
	}
	return &Result{
		Data: out,
		Audit: []audit.Field{
			audit.F("code_length", strconv.Itoa(len(in.Code))),
			audit.F("error", hadError),
		},
	}, nil
}

// ServiceStatus checks or manages one of the allowed host services.
func (s *Service) ServiceStatus(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in ServiceStatusInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.Service == "" {
		in.Service = "odoo"
	}
	if in.Action == "" {
		in.Action = "status"
	}
	if in.LogLines <= 0 {
		in.LogLines = defaultServiceLogKeep
	}
	if in.LogLines > maxServiceLogLines {
		in.LogLines = maxServiceLogLines
	}

	if !serviceAllowed(in.Service) {
		return nil, Validationf("Service %q not in allowed list: %v", in.Service, allowedServices)
	}

	var data interface{}
	var err error
	switch in.Action {
	case "status":
		data, err = s.serviceShow(ctx, in.Service)
	case "start", "stop", "restart":
		data, err = s.serviceAction(ctx, in.Service, in.Action)
	case "logs":
		data, err = s.serviceLogs(ctx, in.Service, in.LogLines)
	default:
		return nil, Validationf("Unknown action: %s", in.Action)
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		Data: data,
		Audit: []audit.Field{
			audit.F("service", in.Service),
			audit.F("action", in.Action),
		},
	}, nil
}

func serviceAllowed(service string) bool {
	for _, allowed := range allowedServices {
		if service == allowed {
			return true
		}
	}
	return false
}

func (s *Service) serviceShow(ctx context.Context, service string) (*ServiceStatusOutput, error) {
	outcome := runCommand(ctx, commandSpec{
		Argv: []string{
			"systemctl", "show", service,
			"--property=ActiveState,SubState,MainPID,MemoryCurrent,ExecMainStartTimestamp,Description",
		},
		Timeout: systemctlShowTimeout,
	})
	if outcome.ExitCode != 0 {
		return nil, Executionf("systemctl failed: %s", strings.TrimSpace(outcome.Stderr))
	}

	props := parseSystemdProps(outcome.Stdout)

	pid, _ := strconv.Atoi(props["MainPID"])
	memoryMB := 0
	if raw := props["MemoryCurrent"]; raw != "" {
		if bytes, err := strconv.ParseInt(raw, 10, 64); err == nil {
			memoryMB = int(bytes / (1024 * 1024))
		}
	}

	activeState := props["ActiveState"]
	if activeState == "" {
		activeState = "unknown"
	}
	subState := props["SubState"]
	if subState == "" {
		subState = "unknown"
	}

	return &ServiceStatusOutput{
		Service:     service,
		Active:      activeState == "active",
		Status:      fmt.Sprintf("%s (%s)", activeState, subState),
		Pid:         pid,
		MemoryMB:    memoryMB,
		Uptime:      uptimeSince(props["ExecMainStartTimestamp"]),
		Description: props["Description"],
	}, nil
}

func (s *Service) serviceAction(ctx context.Context, service, action string) (*ServiceStatusOutput, error) {
	outcome := runCommand(ctx, commandSpec{
		Argv:    []string{"systemctl", action, service},
		Timeout: systemctlActTimeout,
	})
	if outcome.ExitCode != 0 {
		return nil, Executionf("systemctl %s failed: %s", action, strings.TrimSpace(outcome.Stderr))
	}
	// Report the state the service landed in
	return s.serviceShow(ctx, service)
}

func (s *Service) serviceLogs(ctx context.Context, service string, lines int) (*ServiceLogsOutput, error) {
	outcome := runCommand(ctx, commandSpec{
		Argv:    []string{"journalctl", "-u", service, "-n", strconv.Itoa(lines), "--no-pager"},
		Timeout: journalctlTimeout,
	})
	if outcome.ExitCode != 0 {
		return nil, Executionf("journalctl failed: %s", strings.TrimSpace(outcome.Stderr))
	}

	var logLines []string
	if trimmed := strings.TrimSpace(outcome.Stdout); trimmed != "" {
		logLines = strings.Split(trimmed, "\n")
	}
	return &ServiceLogsOutput{
		Service:   service,
		LogLines:  logLines,
		LineCount: len(logLines),
	}, nil
}

// parseSystemdProps parses `systemctl show` key=value output.
func parseSystemdProps(out string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		if idx := strings.Index(line, "="); idx >= 0 {
			props[line[:idx]] = line[idx+1:]
		}
	}
	return props
}

// uptimeSince humanizes the time since a systemd ExecMainStartTimestamp
// ("Mon 2024-01-15 10:30:00 UTC"). Unparseable input reads "unknown".
func uptimeSince(stamp string) string {
	if stamp == "" {
		return "unknown"
	}
	start, err := time.Parse("Mon 2006-01-02 15:04:05 MST", stamp)
	if err != nil {
		return "unknown"
	}
	delta := time.Since(start)
	if delta < 0 {
		return "unknown"
	}

	days := int(delta.Hours()) / 24
	hours := int(delta.Hours()) % 24
	minutes := int(delta.Minutes()) % 60
	switch {
	case days > 0:
		return fmt.Sprintf("%d days %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}

// loadConfigValues locates the Odoo config file, parses its [options]
// section and masks credential-bearing entries.
func (s *Service) loadConfigValues() (string, map[string]string, error) {
	configPath := s.odooConfigPath
	if _, err := os.Stat(configPath); err != nil {
		// Try alternate locations
		for _, alt := range []string{"/etc/odoo.conf", "/opt/odoo/odoo.conf"} {
			if _, err := os.Stat(alt); err == nil {
				configPath = alt
				break
			}
		}
	}

	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return "", nil, &ToolError{Kind: KindNotFound, Message: fmt.Sprintf("Odoo configuration file not found: %s", configPath)}
	}
	if err != nil {
		return "", nil, Executionf("read config %s: %v", configPath, err)
	}
	return configPath, maskSensitiveValues(parseOdooConfig(string(data))), nil
}

// ReadConfig reads the Odoo server configuration file with sensitive
// values masked.
func (s *Service) ReadConfig(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in ReadConfigInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}

	configPath, values, err := s.loadConfigValues()
	if err != nil {
		return nil, err
	}

	key := in.Key
	auditKey := key
	if auditKey == "" {
		auditKey = "all"
	}
	fields := []audit.Field{audit.F("key", auditKey)}

	if key != "" {
		value, ok := values[key]
		if !ok {
			return nil, Validationf("Configuration key not found: %s", key)
		}
		return &Result{
			Data:  ReadConfigValueOutput{ConfigPath: configPath, Key: key, Value: value},
			Audit: fields,
		}, nil
	}

	return &Result{
		Data:  ReadConfigAllOutput{ConfigPath: configPath, Values: values},
		Audit: fields,
	}, nil
}

// parseOdooConfig extracts the [options] section of an Odoo config file.
func parseOdooConfig(content string) map[string]string {
	values := make(map[string]string)
	inOptions := false
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			inOptions = strings.EqualFold(line, "[options]")
			continue
		}
		if !inOptions {
			continue
		}
		if idx := strings.Index(line, "="); idx >= 0 {
			key := strings.TrimSpace(line[:idx])
			value := strings.TrimSpace(line[idx+1:])
			if key != "" {
				values[key] = value
			}
		}
	}
	return values
}

var sensitiveKeySubstrings = []string{
	"db_password",
	"password",
	"admin_passwd",
	"api_key",
	"secret",
	"token",
}

// maskSensitiveValues replaces credential-bearing values so they never
// reach the wire or the audit log.
func maskSensitiveValues(values map[string]string) map[string]string {
	masked := make(map[string]string, len(values))
	for key, value := range values {
		lower := strings.ToLower(key)
		sensitive := false
		for _, sub := range sensitiveKeySubstrings {
			if strings.Contains(lower, sub) {
				sensitive = true
				break
			}
		}
		if sensitive && value != "" {
			masked[key] = "***MASKED***"
		} else {
			masked[key] = value
		}
	}
	return masked
}

// ListModules lists Odoo modules with their installation status.
func (s *Service) ListModules(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in ListModulesInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if err := s.requirePool(); err != nil {
		return nil, err
	}
	state := in.State
	if state == "" {
		state = "all"
	}
	limit := in.Limit
	if limit <= 0 {
		limit = 100
	}

	queryCtx, cancel := s.queryCtx(ctx)
	defer cancel()

	modules, total, err := db.ListModules(queryCtx, s.pool, db.ListModulesParams{
		State:  state,
		Search: in.Search,
		Limit:  limit,
	})
	if err != nil {
		slog.Error(fmt.Sprintf("%s - Failed to list modules: %v", odooLogPrefix, err))
		return nil, sqlError(queryCtx, "Module listing", err)
	}

	search := in.Search
	if search == "" {
		search = "none"
	}
	return &Result{
		Data: ListModulesOutput{
			Modules:       modules,
			TotalCount:    total,
			ReturnedCount: len(modules),
			FilterApplied: state,
		},
		Audit: []audit.Field{
			audit.F("state", state),
			audit.F("search", search),
			audit.F("returned", strconv.Itoa(len(modules))),
		},
	}, nil
}

// GetModuleInfo returns the full record for one module, dependencies
// included.
func (s *Service) GetModuleInfo(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in ModuleNameInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.ModuleName == "" {
		return nil, Validationf("module_name is required")
	}
	if err := s.requirePool(); err != nil {
		return nil, err
	}

	queryCtx, cancel := s.queryCtx(ctx)
	defer cancel()

	detail, err := db.GetModuleDetail(queryCtx, s.pool, in.ModuleName)
	if err != nil {
		slog.Error(fmt.Sprintf("%s - Failed to get module info: %v", odooLogPrefix, err))
		return nil, sqlError(queryCtx, "Module lookup", err)
	}
	if detail == nil {
		return nil, Validationf("Module not found: %s", in.ModuleName)
	}

	return &Result{
		Data:  detail,
		Audit: []audit.Field{audit.F("module", in.ModuleName)},
	}, nil
}

// InstallModule installs a module via odoo-bin --stop-after-init.
// An already-installed module short-circuits to success.
func (s *Service) InstallModule(ctx context.Context, args json.RawMessage) (*Result, error) {
	return s.moduleLifecycle(ctx, args, "install")
}

// UpgradeModule upgrades an installed module via odoo-bin
// --stop-after-init.
func (s *Service) UpgradeModule(ctx context.Context, args json.RawMessage) (*Result, error) {
	return s.moduleLifecycle(ctx, args, "upgrade")
}

func (s *Service) moduleLifecycle(ctx context.Context, args json.RawMessage, action string) (*Result, error) {
	var in ModuleNameInput
	if err := decodeArgs(args, &in); err != nil {
		return nil, err
	}
	if in.ModuleName == "" {
		return nil, Validationf("module_name is required")
	}
	if err := s.requirePool(); err != nil {
		return nil, err
	}

	stateCtx, cancel := s.queryCtx(ctx)
	state, err := db.ModuleState(stateCtx, s.pool, in.ModuleName)
	cancel()
	if err != nil {
		return nil, sqlError(stateCtx, "Module lookup", err)
	}
	if state == "" {
		return nil, Validationf("Module not found: %s", in.ModuleName)
	}

	auditFields := []audit.Field{
		audit.F("module", in.ModuleName),
		audit.F("action", action),
	}

	flag := "-i"
	verb := "installed"
	if action == "upgrade" {
		if state != "installed" {
			return nil, Validationf("Module %q is not installed (state: %s)", in.ModuleName, state)
		}
		flag = "-u"
		verb = "upgraded"
	} else if state == "installed" {
		return &Result{
			Data: ModuleLifecycleOutput{
				Success: true,
				Message: fmt.Sprintf("Module %q is already installed", in.ModuleName),
				State:   "installed",
			},
			Audit: auditFields,
		}, nil
	}

	timeout := s.settings.Seconds(ctx, settings.KeyCommandMaxTimeout, 600*time.Second)
	argv := []string{s.odooBin, "-c", s.odooConfigPath, "-d", s.database, flag, in.ModuleName, "--stop-after-init"}

	slog.Info(fmt.Sprintf("%s - Running module %s: %s", odooLogPrefix, action, in.ModuleName))
	outcome := runCommand(ctx, commandSpec{Argv: argv, Timeout: timeout})

	if outcome.TimedOut {
		return nil, &ToolError{Kind: KindTimeout, Message: fmt.Sprintf("Module %s timed out", action)}
	}
	if outcome.ExitCode != 0 {
		slog.Error(fmt.Sprintf("%s - Module %s failed (exit %d): %s", odooLogPrefix, action, outcome.ExitCode, outcome.Stderr))
		return nil, Executionf("Module %s failed (exit code %d)", action, outcome.ExitCode)
	}

	return &Result{
		Data: ModuleLifecycleOutput{
			Success: true,
			Message: fmt.Sprintf("Module %q has been %s", in.ModuleName, verb),
			State:   "installed",
		},
		Audit: auditFields,
	}, nil
}
