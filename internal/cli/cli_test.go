package cli

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/specialistvlad/cdflow/internal/app"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	out := &bytes.Buffer{}
	cfg, exit, err := Parse([]string{
		"--log-level", "debug", "run", "defs",
		"--workers", "3", "--action-timeout", "90s",
		"--pipeline", "PipelineMutation", "--pipeline", "RequestLoggerPipeline",
		"--notify-url", "http://localhost:3000",
	}, out)
	require.NoError(t, err)
	require.False(t, exit)

	assert.Equal(t, app.CommandRun, cfg.Command)
	assert.Equal(t, "defs", cfg.Path)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, 90*time.Second, cfg.ActionTimeout)
	assert.Equal(t, []string{"PipelineMutation", "RequestLoggerPipeline"}, cfg.Pipelines)
	assert.Equal(t, "http://localhost:3000", cfg.Notify.URL)
	assert.Equal(t, ".cdflow/artifacts", cfg.Artifacts.Dir)
}

func TestParse_SettingsFile(t *testing.T) {
	settings := filepath.Join(t.TempDir(), "cdflow.yaml")
	require.NoError(t, os.WriteFile(settings, []byte("workers: 7\nstate: /tmp/s.db\n"), 0o644))

	cfg, _, err := Parse([]string{"--settings", settings, "exports"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Workers)
	assert.Equal(t, "/tmp/s.db", cfg.StatePath)

	cfg, _, err = Parse([]string{"--settings", settings, "--workers", "2", "exports"}, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Workers)
}

func TestParse_UsageAndHelp(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}} {
		out := &bytes.Buffer{}
		cfg, exit, err := Parse(args, out)
		require.NoError(t, err)
		assert.True(t, exit)
		assert.Nil(t, cfg)
		assert.Contains(t, out.String(), "Usage:")
	}
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		want string
	}{
		{"unknown flag", []string{"--nope", "run", "x"}, "flag provided but not defined: -nope"},
		{"unknown command", []string{"deploy", "x"}, `unknown command "deploy"`},
		{"missing path", []string{"run"}, "requires a PATH"},
		{"extra args", []string{"run", "a", "b"}, "unexpected arguments"},
		{"bad level", []string{"--log-level", "loud", "run", "x"}, "invalid log-level"},
		{"bad format", []string{"--log-format", "xml", "run", "x"}, "invalid log-format"},
		{"empty pipeline", []string{"--pipeline", "", "run", "x"}, "pipeline name must not be empty"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Parse(tc.args, &bytes.Buffer{})
			require.Error(t, err)
			var exitErr *ExitError
			require.True(t, errors.As(err, &exitErr))
			assert.Equal(t, 2, exitErr.Code)
			assert.Contains(t, exitErr.Message, tc.want)
		})
	}
}
