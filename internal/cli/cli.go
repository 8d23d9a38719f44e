package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/specialistvlad/cdflow/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// settingKeys maps flag names to the settings they override.
var settingKeys = map[string]string{
	"log-level":        "log_level",
	"log-format":       "log_format",
	"workers":          "workers",
	"action-timeout":   "action_timeout",
	"state":            "state",
	"artifacts":        "artifacts.dir",
	"healthcheck-port": "healthcheck_port",
	"notify-url":       "notify.url",
	"trace":            "trace",
}

// Parse processes command-line arguments. It returns a populated Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
// Flags may appear before or after the command.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("cdflow", flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
cdflow - continuous delivery pipelines that redeploy themselves.

Usage:
  cdflow [options] validate PATH   Build and check every pipeline, print the plan.
  cdflow [options] run PATH        Run the pipelines, self-mutation first.
  cdflow [options] exports         List the exports published so far.
  cdflow [options] init DIR        Write the canonical self-mutation definition.

Arguments:
  PATH
    Path to a single .hcl file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	flagSet.Int("workers", 10, "Maximum number of actions of one stage running at once.")
	flagSet.Duration("action-timeout", 30*time.Minute, "Per-action timeout. 0 disables it.")
	flagSet.String("state", ".cdflow/state.db", "Path of the SQLite database holding exports and run history.")
	flagSet.String("artifacts", ".cdflow/artifacts", "Directory of the local artifact store.")
	flagSet.Int("healthcheck-port", 0, "Port for the HTTP status server. 0 is disabled.")
	flagSet.String("notify-url", "", "socket.io dashboard URL receiving pipeline events.")
	flagSet.Bool("trace", false, "Export OpenTelemetry spans to stderr.")
	settingsFlag := flagSet.String("settings", "", "Path to a YAML settings file.")
	var pipelines []string
	flagSet.Func("pipeline", "Run only the named pipeline. Repeatable.", func(s string) error {
		if s == "" {
			return errors.New("pipeline name must not be empty")
		}
		pipelines = append(pipelines, s)
		return nil
	})

	positional, shouldExit, err := parseInterleaved(flagSet, args)
	if err != nil || shouldExit {
		return nil, shouldExit, err
	}
	slog.Debug("Arguments parsed successfully.", "positional", positional)

	if len(positional) == 0 {
		slog.Debug("No command provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}
	command := strings.ToLower(positional[0])
	var path string
	if len(positional) > 1 {
		path = positional[1]
	}
	if len(positional) > 2 {
		return nil, false, &ExitError{Code: 2, Message: fmt.Sprintf("unexpected arguments: %v", positional[2:])}
	}

	overrides := make(map[string]any)
	flagSet.Visit(func(f *flag.Flag) {
		if key, ok := settingKeys[f.Name]; ok {
			overrides[key] = f.Value.(flag.Getter).Get()
		}
	})

	config, err := app.LoadConfig(*settingsFlag, overrides, app.Config{
		Command:   command,
		Path:      path,
		Pipelines: pipelines,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "command", config.Command)
	return config, false, nil
}

// parseInterleaved parses flags around positional arguments, which the
// standard flag package stops at.
func parseInterleaved(flagSet *flag.FlagSet, args []string) ([]string, bool, error) {
	var positional []string
	for {
		if err := flagSet.Parse(args); err != nil {
			if errors.Is(err, flag.ErrHelp) {
				return nil, true, nil
			}
			return nil, false, &ExitError{Code: 2, Message: err.Error()}
		}
		if flagSet.NArg() == 0 {
			return positional, false, nil
		}
		positional = append(positional, flagSet.Arg(0))
		args = flagSet.Args()[1:]
	}
}
