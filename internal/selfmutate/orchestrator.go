package selfmutate

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/specialistvlad/cdflow/internal/ctxlog"
	"github.com/specialistvlad/cdflow/internal/engine"
	"github.com/specialistvlad/cdflow/internal/pipeline"
	"golang.org/x/sync/errgroup"
)

// Runner executes one pipeline. *engine.Sequencer implements it.
type Runner interface {
	Run(ctx context.Context, p *pipeline.Pipeline) (*engine.Report, error)
}

// Orchestrator runs the pipelines of a topology side by side. Each pipeline
// is its own object with its own halt-on-failure scope, so a failing
// application never stops the self-deploy chain.
type Orchestrator struct {
	Topology *Topology
	Runner   Runner
}

// Outcome collects the reports and errors of every pipeline that ran.
type Outcome struct {
	Reports map[string]*engine.Report
	Errors  map[string]error
}

// Err joins the errors of every pipeline in name order, or returns nil.
func (o *Outcome) Err() error {
	var errs []error
	for _, name := range sortedKeys(o.Errors) {
		errs = append(errs, o.Errors[name])
	}
	return errors.Join(errs...)
}

// Run executes the selected pipelines concurrently; with no names, all of
// them. The returned error joins every pipeline error.
func (o *Orchestrator) Run(ctx context.Context, only ...string) (*Outcome, error) {
	if err := o.Topology.CheckIndependence(); err != nil {
		return nil, err
	}
	selected, err := o.selected(only)
	if err != nil {
		return nil, err
	}

	logger := ctxlog.FromContext(ctx)
	if m := o.Topology.Mutation; m != nil {
		logger = logger.With("mutation", m.Name())
	}
	logger.Info("🔀 Running pipelines.", "count", len(selected))

	out := &Outcome{Reports: make(map[string]*engine.Report), Errors: make(map[string]error)}
	var mu sync.Mutex
	g := new(errgroup.Group)
	for _, p := range selected {
		g.Go(func() error {
			report, err := o.Runner.Run(ctx, p)
			mu.Lock()
			defer mu.Unlock()
			if report != nil {
				out.Reports[p.Name()] = report
			}
			if err != nil {
				out.Errors[p.Name()] = err
			}
			return nil
		})
	}
	_ = g.Wait()
	return out, out.Err()
}

func (o *Orchestrator) selected(only []string) ([]*pipeline.Pipeline, error) {
	all := o.Topology.Pipelines()
	if len(only) == 0 {
		return all, nil
	}
	// A name given twice selects the pipeline once.
	var out []*pipeline.Pipeline
	seen := make(map[string]bool, len(only))
	for _, name := range only {
		if seen[name] {
			continue
		}
		seen[name] = true
		i := slices.IndexFunc(all, func(p *pipeline.Pipeline) bool { return p.Name() == name })
		if i < 0 {
			return nil, fmt.Errorf("pipeline %q is not defined", name)
		}
		out = append(out, all[i])
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
