package bootstrap

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

const settingsLogPrefix = "bootstrap:settings"

// SettingsConfig is a settings seed file as it appears on disk. Settings map
// fully-qualified keys ("mcp.phone_home_url") to their string values.
type SettingsConfig struct {
	Name     string            `json:"name,omitempty"`
	Version  string            `json:"version,omitempty"`
	Settings map[string]string `json:"settings"`
}

// LoadSettingsConfig loads a settings seed file. An empty path returns
// (nil, nil) so callers can treat "no file" as "nothing to seed". Unlike
// LoadLimitsConfig there is no fallback chain: seeding is explicit, so a
// named file that cannot be read or parsed is an error.
func LoadSettingsConfig(path string) (*SettingsConfig, error) {
	if path == "" {
		return nil, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s - read settings file %s: %w", settingsLogPrefix, path, err)
	}

	var cfg SettingsConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%s - parse settings file %s: %w", settingsLogPrefix, path, err)
	}

	slog.Info(fmt.Sprintf("%s - Loaded settings config from %s", settingsLogPrefix, path))
	return &cfg, nil
}
