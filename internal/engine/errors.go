package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/specialistvlad/cdflow/internal/exports"
	"github.com/specialistvlad/cdflow/internal/pipeline"
)

// ActionError is the failure of one action.
type ActionError struct {
	Pipeline string
	Stage    string
	Action   string
	Kind     pipeline.ActionKind
	// TimedOut is set when the action exceeded the per-action timeout.
	TimedOut bool
	Timeout  time.Duration
	Err      error
}

func (e *ActionError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("%s action %q timed out after %s", e.Kind, e.Action, e.Timeout)
	}
	return fmt.Sprintf("%s action %q failed: %v", e.Kind, e.Action, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// StageFailure halts a pipeline: at least one action of Stage failed, and no
// action of a later stage was started.
type StageFailure struct {
	Pipeline string
	Stage    string
	Index    int
	Failures []*ActionError
}

func (e *StageFailure) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.Action
	}
	msg := fmt.Sprintf("pipeline %q halted at stage %q: %d action(s) failed: %s",
		e.Pipeline, e.Stage, len(e.Failures), strings.Join(names, ", "))
	if len(e.Failures) == 1 {
		msg += ": " + e.Failures[0].Error()
	}
	return msg
}

// Unwrap exposes every action failure to errors.Is and errors.As.
func (e *StageFailure) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// onlyBootstrap reports whether every failure is a missing export. It returns
// the first one so it can be surfaced on its own.
func onlyBootstrap(failures []*ActionError) (*exports.ExportNotYetAvailableError, bool) {
	var first *exports.ExportNotYetAvailableError
	for _, f := range failures {
		var notYet *exports.ExportNotYetAvailableError
		if f.TimedOut || !errors.As(f.Err, &notYet) {
			return nil, false
		}
		if first == nil {
			first = notYet
		}
	}
	return first, first != nil
}
