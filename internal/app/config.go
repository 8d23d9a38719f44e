package app

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/specialistvlad/cdflow/internal/artifactstore"
	"github.com/specialistvlad/cdflow/internal/notify"
)

// Commands understood by App.Run.
const (
	CommandValidate = "validate"
	CommandRun      = "run"
	CommandExports  = "exports"
	CommandInit     = "init"
)

// Commands lists every command in help order.
var Commands = []string{CommandValidate, CommandRun, CommandExports, CommandInit}

// Config holds all the necessary configuration for an App instance to run.
// Fields tagged for koanf can come from the settings file, the environment
// or flags; the rest come from positional arguments.
type Config struct {
	Command   string   `koanf:"-"`
	Path      string   `koanf:"-"`
	Pipelines []string `koanf:"-"`

	LogFormat       string            `koanf:"log_format"`
	LogLevel        string            `koanf:"log_level"`
	Workers         int               `koanf:"workers"`
	ActionTimeout   time.Duration     `koanf:"action_timeout"`
	StatePath       string            `koanf:"state"`
	HealthcheckPort int               `koanf:"healthcheck_port"`
	Trace           bool              `koanf:"trace"`
	Shell           string            `koanf:"shell"`
	WorkDir         string            `koanf:"work_dir"`
	Repositories    map[string]string `koanf:"repositories"`
	Artifacts       ArtifactsConfig   `koanf:"artifacts"`
	Notify          notify.Config     `koanf:"notify"`
}

// ArtifactsConfig selects the artifact store. A configured MinIO endpoint
// takes precedence over the local directory.
type ArtifactsConfig struct {
	Dir   string                    `koanf:"dir"`
	Minio artifactstore.MinioConfig `koanf:"minio"`
}

// UseMinio reports whether artifacts go to an object store.
func (c ArtifactsConfig) UseMinio() bool {
	return c.Minio.Endpoint != ""
}

// NewConfig validates cfg and returns a copy of it.
func NewConfig(cfg Config) (*Config, error) {
	if !slices.Contains(Commands, cfg.Command) {
		return nil, fmt.Errorf("unknown command %q: must be one of %v", cfg.Command, Commands)
	}
	if cfg.Command != CommandExports && cfg.Path == "" {
		return nil, fmt.Errorf("command %q requires a PATH argument", cfg.Command)
	}
	switch cfg.LogFormat {
	case "text", "json":
	default:
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return nil, errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	if cfg.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.ActionTimeout < 0 {
		return nil, errors.New("action-timeout must not be negative")
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return nil, fmt.Errorf("healthcheck-port %d is out of range", cfg.HealthcheckPort)
	}
	if cfg.StatePath == "" {
		return nil, errors.New("state path must not be empty")
	}
	if cfg.Artifacts.UseMinio() {
		if err := cfg.Artifacts.Minio.Validate(); err != nil {
			return nil, err
		}
	} else if cfg.Artifacts.Dir == "" {
		return nil, errors.New("either an artifacts directory or a MinIO endpoint is required")
	}
	return &cfg, nil
}
