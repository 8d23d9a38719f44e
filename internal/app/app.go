package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/specialistvlad/cdflow/internal/config"
	"github.com/specialistvlad/cdflow/internal/ctxlog"
	"github.com/specialistvlad/cdflow/internal/engine"
	"github.com/specialistvlad/cdflow/internal/exports"
)

// Exit codes returned by ExitCode.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitBootstrap = 3
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW   io.Writer
	errW   io.Writer
	logger *slog.Logger
	config *Config
	loader config.Loader
}

// NewApp is the constructor for the main application. Logs go to errW so
// that command output on outW stays machine-readable.
func NewApp(outW, errW io.Writer, cfg *Config, loader config.Loader) *App {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, errW)
	logger.Debug("Logger configured successfully.")
	return &App{
		outW:   outW,
		errW:   errW,
		logger: logger,
		config: cfg,
		loader: loader,
	}
}

// Run executes the configured command.
func (a *App) Run(ctx context.Context) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.", "command", a.config.Command)

	if a.config.Trace {
		shutdown, err := initTracer(a.errW, a.logger)
		if err != nil {
			return fmt.Errorf("failed to initialise tracing: %w", err)
		}
		defer func() {
			if err := shutdown(context.WithoutCancel(ctx)); err != nil {
				a.logger.Warn("Tracer shutdown failed.", "error", err)
			}
		}()
	}

	switch a.config.Command {
	case CommandValidate:
		return a.validate(ctx)
	case CommandRun:
		return a.run(ctx)
	case CommandExports:
		return a.listExports(ctx)
	case CommandInit:
		return a.initDefinition(ctx)
	}
	return fmt.Errorf("unknown command %q", a.config.Command)
}

// ExitCode maps an error returned by Run to a process exit code. A run that
// stopped only because exports are not published yet gets ExitBootstrap, so
// scripts can tell a first deployment from a regression.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var failure *engine.StageFailure
	if !errors.As(err, &failure) && exports.IsExportNotYetAvailable(err) {
		return ExitBootstrap
	}
	return ExitFailure
}

func ensureParentDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}
