// Package exports models the named-export registry of the deployment
// backend: deploy actions publish values under process-wide names, and verify
// actions import them lazily through deferred references.
package exports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/specialistvlad/cdflow/internal/pipeline"
)

// Export is one published value.
type Export struct {
	Name      string
	Value     string
	Stack     string
	UpdatedAt time.Time
}

// Registry is the lookup interface used by the sequencer. It is injected
// rather than global so the resolver can be exercised without a backend.
type Registry interface {
	// Lookup returns the current value of an export. ok is false when the
	// export has never been published.
	Lookup(ctx context.Context, name string) (value string, ok bool, err error)
	// Publish creates or replaces an export.
	Publish(ctx context.Context, e Export) error
	// List returns every export sorted by name.
	List(ctx context.Context) ([]Export, error)
}

// ExportNotYetAvailableError is the expected outcome of the first execution
// of a verify action whose export is published by a deployment that has not
// succeeded yet. It is reported apart from ordinary action failures so that
// operators can tell a bootstrap run from a regression.
type ExportNotYetAvailableError struct {
	Export   string
	Action   string
	Pipeline string
}

func (e *ExportNotYetAvailableError) Error() string {
	msg := fmt.Sprintf("export %q is not yet available", e.Export)
	if e.Action != "" {
		msg = fmt.Sprintf("action %q: %s", e.Action, msg)
	}
	return msg + "; re-run after the exporting stack deploys once"
}

// IsExportNotYetAvailable reports whether err is, or wraps, an
// ExportNotYetAvailableError.
func IsExportNotYetAvailable(err error) bool {
	var target *ExportNotYetAvailableError
	return errors.As(err, &target)
}

// ResolveDeferred looks up every deferred reference of an action and returns
// the resulting environment variables. The first missing export stops the
// lookup with an *ExportNotYetAvailableError.
func ResolveDeferred(ctx context.Context, reg Registry, a *pipeline.Action) (map[string]string, error) {
	refs := a.Deferred()
	env := make(map[string]string, len(refs))
	if len(refs) == 0 {
		return env, nil
	}
	if reg == nil {
		return nil, fmt.Errorf("action %q imports exports but no export registry is configured", a.Name())
	}
	for _, ref := range refs {
		value, ok, err := reg.Lookup(ctx, ref.Export)
		if err != nil {
			return nil, fmt.Errorf("looking up export %q: %w", ref.Export, err)
		}
		if !ok {
			return nil, &ExportNotYetAvailableError{Export: ref.Export, Action: a.Name()}
		}
		env[ref.Variable] = value
	}
	return env, nil
}
