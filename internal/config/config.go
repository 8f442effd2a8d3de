// Package config loads and hot-reloads this server's configuration:
// eval.workers, options.enable, options.path, formatting.command, and
// log.level. Settings layer in a fixed order — built-in defaults, then
// an optional config file — and are clamped to sane minimums before use;
// no environment variables are consulted. The file and the one hot-reload
// path (workspace/configuration) are both JSON, since that is also the
// wire format the LSP client already speaks.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// Config is the full set of recognized settings. JSON tags are the
// literal dotted keys the client sends under the "nixd" section of
// workspace/configuration.
type Config struct {
	EvalWorkers       int    `json:"eval.workers"`
	OptionsEnable     bool   `json:"options.enable"`
	OptionsPath       string `json:"options.path"`
	FormattingCommand string `json:"formatting.command"`
	LogLevel          string `json:"log.level"`
}

const appName = "nixd"

var defaultConfig = Config{
	EvalWorkers:   2,
	OptionsEnable: true,
	OptionsPath:   "",
	LogLevel:      "info",
}

// Load builds a Config starting from defaults, then overlaying the JSON
// file at the platform config directory (e.g. ~/.config/nixd/config.json)
// if one exists, then clamping to sane minimums. A missing file is not
// an error; a malformed one is logged at Warn and ignored, with the
// defaults preserved — startup never fails on bad configuration.
func Load(log zerolog.Logger) Config {
	cfg := defaultConfig

	dir, err := os.UserConfigDir()
	if err != nil {
		log.Warn().Err(err).Msg("could not determine user config directory, using defaults")
		clamp(&cfg, log)
		return cfg
	}

	path := filepath.Join(dir, appName, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("could not read config file, using defaults")
		}
		clamp(&cfg, log)
		return cfg
	}

	if err := json.Unmarshal(data, &cfg); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("malformed config file, keeping defaults")
		cfg = defaultConfig
	}

	clamp(&cfg, log)
	return cfg
}

// Merge applies a JSON settings blob (the value of the "nixd" section
// from workspace/configuration, or a workspace/didChangeConfiguration
// payload) on top of base, returning a new Config. Unknown keys are
// silently ignored by encoding/json; a malformed blob leaves base
// untouched, logged at Warn, matching Load's policy.
func Merge(base Config, raw json.RawMessage, log zerolog.Logger) Config {
	merged := base
	if len(raw) == 0 {
		return merged
	}
	if err := json.Unmarshal(raw, &merged); err != nil {
		log.Warn().Err(err).Msg("malformed workspace configuration, keeping previous settings")
		return base
	}
	clamp(&merged, log)
	return merged
}

// clamp enforces sane minimums, warning (not failing) when a configured
// value needed adjusting — a bad config value should degrade gracefully,
// not take the server down at startup.
func clamp(cfg *Config, log zerolog.Logger) {
	if cfg.EvalWorkers < 1 {
		log.Warn().Int("configured", cfg.EvalWorkers).Msg("eval.workers below minimum, clamping to 1")
		cfg.EvalWorkers = 1
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultConfig.LogLevel
	}
}
