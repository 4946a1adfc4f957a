package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/woodwosj/OdooDevMCP/pkg/ratelimit"
)

const logPrefix = "bootstrap:loader"

// LoadLimitsConfig loads the limits config from file paths or environment.
// It tries paths in order: first any paths passed in, then MCP_LIMITS_FILE env, then defaults.
// So an explicit path (e.g. from a CLI flag) is tried before the env var.
func LoadLimitsConfig(paths ...string) (*LimitsConfig, error) {
	// Build path list: passed paths first, then env, then defaults
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("MCP_LIMITS_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/limits.json", "limits.json")
	paths = all

	for _, p := range paths {
		if p == "" {
			continue
		}

		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}

		var cfg LimitsConfig
		if err := json.Unmarshal(data, &cfg); err != nil {
			slog.Warn(fmt.Sprintf("%s - Failed to parse limits file %s: %v", logPrefix, p, err))
			continue
		}

		slog.Info(fmt.Sprintf("%s - Loaded limits config from %s", logPrefix, p))
		return &cfg, nil
	}

	slog.Info(fmt.Sprintf("%s - Using default limits config", logPrefix))
	return GetDefaultLimitsConfig(), nil
}

// GetDefaultLimitsConfig returns the embedded fallback limits configuration.
// Categories and ceilings mirror ratelimit.DefaultRules.
func GetDefaultLimitsConfig() *LimitsConfig {
	return &LimitsConfig{
		Name:        "odoo-mcp-limits",
		Version:     "1.0.0",
		Description: "Default admission limits per tool category",
		Limits: map[string]string{
			ratelimit.CategoryCommand:          "10/60",
			ratelimit.CategoryQuery:            "100/60",
			ratelimit.CategoryWrite:            "50/60",
			ratelimit.CategoryShell:            "5/60",
			ratelimit.CategoryFileRead:         "50/60",
			ratelimit.CategoryFileWrite:        "30/60",
			ratelimit.CategoryRegisterReceiver: "5/60",
		},
	}
}

// CreateResolvedLimits parses a LimitsConfig into a ResolvedLimits for
// fast lookups. Entries that fail to parse are skipped with a warning,
// leaving the built-in rule for that category in force.
func CreateResolvedLimits(cfg *LimitsConfig) *ResolvedLimits {
	rules := make(map[string]ratelimit.Rule, len(cfg.Limits))
	for category, raw := range cfg.Limits {
		rule, err := ratelimit.ParseRule(raw)
		if err != nil {
			slog.Warn(fmt.Sprintf("%s - Skipping limit for %s: %v", logPrefix, category, err))
			continue
		}
		rules[category] = rule
	}

	tools := make(map[string]string, len(cfg.Tools))
	for tool, category := range cfg.Tools {
		tools[tool] = category
	}

	return &ResolvedLimits{
		name:    cfg.Name,
		version: cfg.Version,
		rules:   rules,
		tools:   tools,
	}
}

// MergeLimitsConfigs merges an override config into a base config.
func MergeLimitsConfigs(base, override *LimitsConfig) *LimitsConfig {
	merged := *base

	// Merge limits
	if merged.Limits == nil {
		merged.Limits = make(map[string]string)
	}
	for category, raw := range override.Limits {
		merged.Limits[category] = raw
	}

	// Merge tool overrides
	if merged.Tools == nil {
		merged.Tools = make(map[string]string)
	}
	for tool, category := range override.Tools {
		merged.Tools[tool] = category
	}

	if override.Name != "" {
		merged.Name = override.Name
	}
	if override.Version != "" {
		merged.Version = override.Version
	}

	return &merged
}
