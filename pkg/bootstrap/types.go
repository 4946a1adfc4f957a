// Package bootstrap provides startup configuration loading for admission
// limits. Operators override the built-in rate limit table with a JSON
// file; the file also lets them move individual tools between categories
// without a rebuild.
package bootstrap

import (
	"github.com/woodwosj/OdooDevMCP/pkg/ratelimit"
)

// LimitsConfig is the root limits configuration as it appears on disk.
// Limits map category names to "max/window-seconds" strings ("10/60");
// Tools optionally reassigns a tool name to a different category.
type LimitsConfig struct {
	Name        string            `json:"name"`
	Version     string            `json:"version"`
	Description string            `json:"description,omitempty"`
	Limits      map[string]string `json:"limits"`
	Tools       map[string]string `json:"tools,omitempty"`
}

// ResolvedLimits provides fast lookup over a parsed limits config.
type ResolvedLimits struct {
	name    string
	version string
	rules   map[string]ratelimit.Rule
	tools   map[string]string
}

// Name returns the config name (for versioning/diagnostics).
func (rl *ResolvedLimits) Name() string {
	return rl.name
}

// Version returns the config version.
func (rl *ResolvedLimits) Version() string {
	return rl.version
}

// Rule returns the parsed rule for a category.
func (rl *ResolvedLimits) Rule(category string) (ratelimit.Rule, bool) {
	rule, ok := rl.rules[category]
	return rule, ok
}

// Rules returns a copy of every parsed rule, keyed by category.
func (rl *ResolvedLimits) Rules() map[string]ratelimit.Rule {
	out := make(map[string]ratelimit.Rule, len(rl.rules))
	for category, rule := range rl.rules {
		out[category] = rule
	}
	return out
}

// CategoryFor resolves the category for a tool: the override from the
// config when present, otherwise fallback (the tool's built-in category).
func (rl *ResolvedLimits) CategoryFor(tool, fallback string) string {
	if category, ok := rl.tools[tool]; ok {
		return category
	}
	return fallback
}

// Categories returns the category names with a configured rule.
func (rl *ResolvedLimits) Categories() []string {
	out := make([]string, 0, len(rl.rules))
	for category := range rl.rules {
		out = append(out, category)
	}
	return out
}
