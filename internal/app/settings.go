package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables read as settings. A double
// underscore separates nesting levels, so CDFLOW_ARTIFACTS__MINIO__BUCKET
// sets artifacts.minio.bucket.
const EnvPrefix = "CDFLOW_"

var defaultSettings = map[string]any{
	"log_format":             "text",
	"log_level":              "info",
	"workers":                10,
	"action_timeout":         30 * time.Minute,
	"state":                  ".cdflow/state.db",
	"artifacts.dir":          ".cdflow/artifacts",
	"shell":                  "sh",
	"notify.connect_timeout": 15 * time.Second,
}

// LoadConfig layers the settings sources, lowest precedence first: built-in
// defaults, the YAML settings file (when settingsPath is set), CDFLOW_*
// environment variables, then flags. flags holds only the flags the user
// actually set, keyed by setting name. The positional fields of base are
// kept as they are.
func LoadConfig(settingsPath string, flags map[string]any, base Config) (*Config, error) {
	k := koanf.New(".")

	if settingsPath != "" {
		if err := k.Load(file.Provider(settingsPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load settings file %s: %w", settingsPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	for key, val := range flags {
		if err := k.Set(key, val); err != nil {
			return nil, err
		}
	}
	for key, val := range defaultSettings {
		if !k.Exists(key) {
			if err := k.Set(key, val); err != nil {
				return nil, err
			}
		}
	}

	cfg := base
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	cfg.Command, cfg.Path, cfg.Pipelines = base.Command, base.Path, base.Pipelines
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	return NewConfig(cfg)
}
