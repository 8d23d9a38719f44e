package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/cdflow/internal/engine"
	"github.com/specialistvlad/cdflow/internal/exports"
	"github.com/specialistvlad/cdflow/internal/selfmutate"
	"github.com/specialistvlad/cdflow/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Command:       CommandRun,
		Path:          "defs",
		LogFormat:     "text",
		LogLevel:      "info",
		Workers:       2,
		ActionTimeout: time.Minute,
		StatePath:     "state.db",
		Artifacts:     ArtifactsConfig{Dir: "artifacts"},
	}
}

func TestNewConfig(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"exports needs no path", func(c *Config) { c.Command, c.Path = CommandExports, "" }, ""},
		{"unknown command", func(c *Config) { c.Command = "deploy" }, `unknown command "deploy"`},
		{"missing path", func(c *Config) { c.Path = "" }, "requires a PATH"},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, "invalid log-format"},
		{"bad level", func(c *Config) { c.LogLevel = "trace" }, "invalid log-level"},
		{"no workers", func(c *Config) { c.Workers = 0 }, "workers must be at least 1"},
		{"negative timeout", func(c *Config) { c.ActionTimeout = -time.Second }, "must not be negative"},
		{"bad port", func(c *Config) { c.HealthcheckPort = 70000 }, "out of range"},
		{"no state", func(c *Config) { c.StatePath = "" }, "state path"},
		{"no artifacts", func(c *Config) { c.Artifacts.Dir = "" }, "artifacts directory"},
		{"incomplete minio", func(c *Config) { c.Artifacts.Minio.Endpoint = "localhost:9000" }, "object store settings missing"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(&cfg)
			got, err := NewConfig(cfg)
			if tc.want == "" {
				require.NoError(t, err)
				assert.Equal(t, cfg, *got)
				return
			}
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoadConfig_Layering(t *testing.T) {
	settings := filepath.Join(t.TempDir(), "cdflow.yaml")
	require.NoError(t, os.WriteFile(settings, []byte(`
log_level: warn
workers: 4
action_timeout: 5m
repositories:
  app: /src/app
artifacts:
  minio:
    endpoint: minio:9000
    bucket: artifacts
    access_key: key
    secret_key: secret
notify:
  url: http://dashboard:3000
`), 0o644))
	t.Setenv("CDFLOW_WORKERS", "6")
	t.Setenv("CDFLOW_ARTIFACTS__MINIO__BUCKET", "from-env")

	cfg, err := LoadConfig(settings, map[string]any{"log_level": "debug"}, Config{Command: CommandRun, Path: "defs", Pipelines: []string{"App"}})
	require.NoError(t, err)

	assert.Equal(t, CommandRun, cfg.Command)
	assert.Equal(t, "defs", cfg.Path)
	assert.Equal(t, []string{"App"}, cfg.Pipelines)
	assert.Equal(t, "debug", cfg.LogLevel, "flags override the settings file")
	assert.Equal(t, 6, cfg.Workers, "environment overrides the settings file")
	assert.Equal(t, 5*time.Minute, cfg.ActionTimeout)
	assert.Equal(t, "text", cfg.LogFormat, "defaults fill the gaps")
	assert.Equal(t, ".cdflow/state.db", cfg.StatePath)
	assert.Equal(t, map[string]string{"app": "/src/app"}, cfg.Repositories)
	assert.True(t, cfg.Artifacts.UseMinio())
	assert.Equal(t, "from-env", cfg.Artifacts.Minio.Bucket)
	assert.Equal(t, "http://dashboard:3000", cfg.Notify.URL)
	assert.Equal(t, 15*time.Second, cfg.Notify.ConnectTimeout)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil, Config{Command: CommandExports})
	assert.ErrorContains(t, err, "failed to load settings file")

	_, err = LoadConfig("", map[string]any{"workers": 0}, Config{Command: CommandExports})
	assert.ErrorContains(t, err, "workers must be at least 1")
}

func TestExitCode(t *testing.T) {
	notYet := &exports.ExportNotYetAvailableError{Export: "lambdaUrl"}
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitFailure, ExitCode(errors.New("boom")))
	assert.Equal(t, ExitBootstrap, ExitCode(notYet))
	assert.Equal(t, ExitBootstrap, ExitCode(errors.Join(notYet, fmt.Errorf("other pipeline: %w", notYet))))

	failure := &engine.StageFailure{Pipeline: "p", Stage: "Verify", Failures: []*engine.ActionError{{Action: "v", Err: notYet}}}
	assert.Equal(t, ExitFailure, ExitCode(failure))
	assert.Equal(t, ExitFailure, ExitCode(errors.Join(notYet, failure)))
}

func TestInitThenValidate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "defs")

	out, _, err := RunAppTest(t, Config{Command: CommandInit, Path: dir})
	require.NoError(t, err)
	assert.Contains(t, out, filepath.Join(dir, DefinitionFile))

	_, _, err = RunAppTest(t, Config{Command: CommandInit, Path: dir})
	assert.ErrorContains(t, err, "already exists")

	out, _, err = RunAppTest(t, Config{Command: CommandValidate, Path: dir})
	require.NoError(t, err)
	assert.Contains(t, out, "pipeline "+selfmutate.MutationPipeline+" (self-mutation, redeploys PipelineStack from repository pipeline)")
	assert.Contains(t, out, "pipeline "+selfmutate.ApplicationPipeline+" (application)")
	assert.Contains(t, out, "Lambda_Verify")
	assert.Contains(t, out, "$LAMBDA_URL=export.lambdaUrl")
}

func TestValidate_RejectsInvalidDefinition(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "p.hcl"), []byte(`
repository "app" {}
pipeline "p" {
  stage "Build" {
    action "build" "b" {
      inputs  = ["src"]
      outputs = ["bin"]
      build {
        phase "build" { commands = ["true"] }
      }
    }
  }
  stage "Source" {
    action "source" "s" {
      repository = "app"
      outputs    = ["src"]
    }
  }
}`), 0o644))

	_, _, err := RunAppTest(t, Config{Command: CommandValidate, Path: dir})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "src")
}

const helloTemplate = `{
  "Parameters": {
    "bucket": {"Type": "String"},
    "stage": {"Type": "String"}
  },
  "Outputs": {
    "Url": {
      "Value": "https://${bucket}.example/${stage}",
      "Export": {"Name": "helloUrl"}
    }
  }
}`

const helloDefinition = `
repository "app" {}

pipeline "Hello" {
  stage "Source" {
    action "source" "Checkout" {
      repository = "app"
      outputs    = ["src"]
    }
  }
  stage "Build" {
    action "build" "Compile" {
      inputs  = ["src"]
      outputs = ["bundle"]
      build {
        phase "build" {
          commands = ["mkdir -p out", "cp template.json out/", "echo hi > out/main"]
        }
        artifacts {
          base_directory = "out"
        }
      }
    }
  }
  stage "Deploy" {
    action "deploy" "Release" {
      stack_name    = "HelloStack"
      template      = "bundle"
      template_path = "template.json"
      parameters    = { bucket = artifact.bundle.bucket, stage = "prod" }
    }
  }
  stage "Verify" {
    action "verify" "Smoke" {
      inputs      = ["src"]
      environment = { URL = export.helloUrl }
      build {
        phase "build" { commands = ["test \"$URL\" = \"https://local.example/prod\""] }
      }
    }
  }
}

pipeline "Waiting" {
  stage "Source" {
    action "source" "Checkout" {
      repository = "app"
      outputs    = ["src"]
    }
  }
  stage "Verify" {
    action "verify" "Smoke" {
      inputs      = ["src"]
      environment = { URL = export.notPublished }
      build {
        phase "build" { commands = ["true"] }
      }
    }
  }
}
`

func TestRun_EndToEnd(t *testing.T) {
	repo := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(repo, "template.json"), []byte(helloTemplate), 0o644))
	defs := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(defs, "hello.hcl"), []byte(helloDefinition), 0o644))
	state := filepath.Join(t.TempDir(), "nested", "state.db")

	base := Config{
		Command:      CommandRun,
		Path:         defs,
		StatePath:    state,
		Repositories: map[string]string{"app": repo},
	}

	cfg := base
	cfg.Pipelines = []string{"Hello"}
	out, logs, err := RunAppTest(t, cfg)
	require.NoError(t, err, logs)
	assert.Contains(t, out, "Hello: succeeded (4 actions")

	out, _, err = RunAppTest(t, Config{Command: CommandExports, StatePath: state})
	require.NoError(t, err)
	assert.Contains(t, out, "helloUrl")
	assert.Contains(t, out, "https://local.example/prod")
	assert.Contains(t, out, "HelloStack")

	cfg = base
	cfg.Pipelines = []string{"Waiting"}
	out, _, err = RunAppTest(t, cfg)
	require.Error(t, err)
	assert.Equal(t, ExitBootstrap, ExitCode(err))
	assert.Contains(t, out, "Waiting: bootstrap_pending")

	st, err := store.Open(state)
	require.NoError(t, err)
	defer st.Close()
	runs, err := st.RecentRuns(context.Background(), "", 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "Waiting", runs[0].Pipeline)
	assert.Equal(t, string(engine.BootstrapPending), runs[0].Status)
	assert.Equal(t, "Hello", runs[1].Pipeline)
	assert.Equal(t, string(engine.Succeeded), runs[1].Status)
}

func TestExports_Empty(t *testing.T) {
	out, _, err := RunAppTest(t, Config{Command: CommandExports})
	require.NoError(t, err)
	assert.Equal(t, "No exports published yet.\n", out)
}
