package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/specialistvlad/cdflow/internal/backend"
	"github.com/specialistvlad/cdflow/internal/ctxlog"
	"github.com/specialistvlad/cdflow/internal/exports"
	"github.com/specialistvlad/cdflow/internal/pipeline"
	"github.com/specialistvlad/cdflow/internal/resolve"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/specialistvlad/cdflow/internal/engine"

// Sequencer executes pipelines against a backend.
type Sequencer struct {
	backend  backend.Backend
	registry exports.Registry
	workers  int
	timeout  time.Duration
	observer Observer
	tracer   trace.Tracer
	newID    func() string
	now      func() time.Time
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithWorkers limits how many actions of one stage run at the same time.
// Zero or less means no limit.
func WithWorkers(n int) Option {
	return func(s *Sequencer) { s.workers = n }
}

// WithActionTimeout bounds the run time of every action. Zero disables it.
func WithActionTimeout(d time.Duration) Option {
	return func(s *Sequencer) { s.timeout = d }
}

// WithObserver receives lifecycle events.
func WithObserver(o Observer) Option {
	return func(s *Sequencer) { s.observer = o }
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(s *Sequencer) { s.tracer = t }
}

// New returns a sequencer running actions on b. reg is where deploy actions
// publish exports and where verify actions look them up.
func New(b backend.Backend, reg exports.Registry, opts ...Option) *Sequencer {
	s := &Sequencer{
		backend:  b,
		registry: reg,
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracer == nil {
		s.tracer = otel.Tracer(tracerName)
	}
	return s
}

// Run executes every stage of p in order. It returns a *StageFailure when a
// stage failed, or an *exports.ExportNotYetAvailableError when the only
// failures were imports of exports that have not been published yet. The
// report is returned in every case and lists only the actions that started.
func (s *Sequencer) Run(ctx context.Context, p *pipeline.Pipeline) (*Report, error) {
	execID := s.newID()
	ctx, logger := ctxlog.With(ctx, "pipeline", p.Name(), "execution_id", execID)
	ctx, span := s.tracer.Start(ctx, "pipeline "+p.Name(), trace.WithAttributes(
		attribute.String("cdflow.pipeline", p.Name()),
		attribute.String("cdflow.execution_id", execID),
	))
	defer span.End()

	report := &Report{
		ExecutionID: execID,
		Pipeline:    p.Name(),
		Started:     s.now(),
		Artifacts:   make(map[string]pipeline.Location),
		Exports:     make(map[string]string),
	}
	res := resolve.New(p)
	stages := p.Stages()

	logger.Info("🚀 Starting pipeline execution.", "stages", len(stages))
	s.emit(ctx, Event{Type: PipelineStarted, ExecutionID: execID, Pipeline: p.Name()})

	err := s.runStages(ctx, p, stages, res, report)

	report.Finished = s.now()
	report.Artifacts = res.Resolved()
	// A StageFailure wraps its action errors, so it must be matched before
	// the bootstrap case or a mixed stage would look like a pending export.
	var (
		failure *StageFailure
		notYet  *exports.ExportNotYetAvailableError
	)
	switch {
	case err == nil:
		report.Status = Succeeded
		logger.Info("🏁 Pipeline execution finished.", "duration", report.Finished.Sub(report.Started))
	case errors.As(err, &failure):
		report.Status = Failed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Pipeline execution failed.", "stage", failure.Stage, "error", err)
	case errors.As(err, &notYet):
		report.Status = BootstrapPending
		logger.Warn("⏳ Pipeline stopped waiting for an export. Re-run once the exporting stack has deployed.", "export", notYet.Export, "action", notYet.Action)
	default:
		report.Status = Failed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Pipeline execution failed.", "error", err)
	}
	span.SetAttributes(attribute.String("cdflow.status", string(report.Status)))
	s.emit(ctx, Event{Type: PipelineFinished, ExecutionID: execID, Pipeline: p.Name(), Status: string(report.Status), Error: errString(err)})
	return report, err
}

func (s *Sequencer) runStages(ctx context.Context, p *pipeline.Pipeline, stages []*pipeline.Stage, res *resolve.Resolver, report *Report) error {
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline %q cancelled before stage %q: %w", p.Name(), st.Name(), err)
		}
		sr, failures := s.runStage(ctx, p, st, res, report)
		report.Stages = append(report.Stages, sr)
		if len(failures) == 0 {
			continue
		}
		if notYet, ok := onlyBootstrap(failures); ok {
			notYet.Pipeline = p.Name()
			return notYet
		}
		return &StageFailure{Pipeline: p.Name(), Stage: st.Name(), Index: st.Index(), Failures: failures}
	}
	return nil
}

// runStage runs every action of st and waits for all of them. Outputs and
// exports of successful actions are committed after the barrier.
func (s *Sequencer) runStage(ctx context.Context, p *pipeline.Pipeline, st *pipeline.Stage, res *resolve.Resolver, report *Report) (StageReport, []*ActionError) {
	ctx, logger := ctxlog.With(ctx, "stage", st.Name())
	ctx, span := s.tracer.Start(ctx, "stage "+st.Name(), trace.WithAttributes(attribute.Int("cdflow.stage_index", st.Index())))
	defer span.End()

	actions := st.Actions()
	logger.Info("▶️ Starting stage.", "index", st.Index(), "actions", len(actions))
	s.emit(ctx, Event{Type: StageStarted, ExecutionID: report.ExecutionID, Pipeline: p.Name(), Stage: st.Name()})

	results := make([]ActionReport, len(actions))
	errs := make([]*ActionError, len(actions))
	g := new(errgroup.Group)
	if s.workers > 0 {
		g.SetLimit(s.workers)
	}
	for i, a := range actions {
		g.Go(func() error {
			results[i], errs[i] = s.runAction(ctx, p, a, res.For(a), report.ExecutionID)
			return nil
		})
	}
	_ = g.Wait()

	var failures []*ActionError
	for i, a := range actions {
		if errs[i] == nil {
			errs[i] = s.commit(ctx, p, a, res, &results[i])
		}
		if errs[i] != nil {
			failures = append(failures, errs[i])
			continue
		}
		maps.Copy(report.Exports, results[i].Exports)
	}

	status := Succeeded
	if len(failures) > 0 {
		status = Failed
		span.SetStatus(codes.Error, fmt.Sprintf("%d action(s) failed", len(failures)))
		logger.Error("Stage failed.", "failed", len(failures), "actions", len(actions))
	} else {
		logger.Info("✅ Stage finished.")
	}
	s.emit(ctx, Event{Type: StageFinished, ExecutionID: report.ExecutionID, Pipeline: p.Name(), Stage: st.Name(), Status: string(status)})
	return StageReport{Name: st.Name(), Index: st.Index(), Actions: results}, failures
}

type outcome struct {
	result *backend.Result
	err    error
}

func (s *Sequencer) runAction(ctx context.Context, p *pipeline.Pipeline, a *pipeline.Action, view *resolve.View, execID string) (ActionReport, *ActionError) {
	ctx, logger := ctxlog.With(ctx, "action", a.Name(), "kind", a.Kind().String())
	ctx, span := s.tracer.Start(ctx, "action "+a.Name(), trace.WithAttributes(attribute.String("cdflow.action_kind", a.Kind().String())))
	defer span.End()

	ar := ActionReport{Name: a.Name(), Kind: a.Kind(), Started: s.now()}
	s.emit(ctx, Event{Type: ActionStarted, ExecutionID: execID, Pipeline: p.Name(), Stage: a.Stage().Name(), Action: a.Name()})
	logger.Info("▶️ Starting action.")

	fail := func(err error, timedOut bool) (ActionReport, *ActionError) {
		ar.Finished = s.now()
		ar.Status, ar.Err = Failed, err
		if timedOut {
			ar.Status = TimedOut
		}
		actionErr := &ActionError{
			Pipeline: p.Name(), Stage: a.Stage().Name(), Action: a.Name(), Kind: a.Kind(),
			TimedOut: timedOut, Timeout: s.timeout, Err: err,
		}
		span.RecordError(actionErr)
		span.SetStatus(codes.Error, actionErr.Error())
		if exports.IsExportNotYetAvailable(err) {
			logger.Warn("Action is waiting for an export.", "error", err)
		} else {
			logger.Error("Action failed.", "error", actionErr)
		}
		s.emit(ctx, Event{Type: ActionFinished, ExecutionID: execID, Pipeline: p.Name(), Stage: a.Stage().Name(), Action: a.Name(), Status: string(ar.Status), Error: err.Error()})
		return ar, actionErr
	}

	inv, err := s.invocation(ctx, p, a, view, execID)
	if err != nil {
		return fail(err, false)
	}

	actx, cancel := ctx, context.CancelFunc(func() {})
	if s.timeout > 0 {
		actx, cancel = context.WithTimeout(ctx, s.timeout)
	}
	defer cancel()

	// The backend runs in its own goroutine so that a backend ignoring its
	// context still cannot hold the stage barrier past the timeout.
	done := make(chan outcome, 1)
	go func() {
		r, err := s.backend.Execute(actx, inv)
		done <- outcome{r, err}
	}()

	var out outcome
	select {
	case out = <-done:
	case <-actx.Done():
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fail(actx.Err(), true)
		}
		return fail(actx.Err(), false)
	}
	if out.err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return fail(out.err, true)
		}
		return fail(out.err, false)
	}
	if err := checkOutputs(a, out.result); err != nil {
		return fail(err, false)
	}

	ar.Finished = s.now()
	ar.Status = Succeeded
	ar.Outputs = maps.Clone(out.result.Outputs)
	ar.Exports = maps.Clone(out.result.Exports)
	logger.Info("✅ Finished action.", "duration", ar.Finished.Sub(ar.Started), "outputs", len(ar.Outputs))
	s.emit(ctx, Event{Type: ActionFinished, ExecutionID: execID, Pipeline: p.Name(), Stage: a.Stage().Name(), Action: a.Name(), Status: string(Succeeded)})
	return ar, nil
}

// invocation resolves everything the action reads. Deferred references are
// looked up here, at the moment the action starts.
func (s *Sequencer) invocation(ctx context.Context, p *pipeline.Pipeline, a *pipeline.Action, view *resolve.View, execID string) (*backend.Invocation, error) {
	inputs, err := view.Inputs()
	if err != nil {
		return nil, err
	}
	inv := &backend.Invocation{
		ExecutionID: execID,
		Pipeline:    p.Name(),
		Stage:       a.Stage().Name(),
		Action:      a,
		Inputs:      inputs,
		Environment: a.Environment(),
	}
	if inv.Environment == nil {
		inv.Environment = make(map[string]string)
	}
	if a.Kind() == pipeline.DeployAction {
		if inv.Parameters, err = view.Parameters(); err != nil {
			return nil, err
		}
	}
	deferred, err := exports.ResolveDeferred(ctx, s.registry, a)
	if err != nil {
		var notYet *exports.ExportNotYetAvailableError
		if errors.As(err, &notYet) {
			notYet.Pipeline = p.Name()
		}
		return nil, err
	}
	maps.Copy(inv.Environment, deferred)
	return inv, nil
}

// checkOutputs verifies that the backend produced exactly the declared
// outputs.
func checkOutputs(a *pipeline.Action, r *backend.Result) error {
	if r == nil {
		r = &backend.Result{}
	}
	declared := a.Outputs()
	for _, name := range declared {
		if loc, ok := r.Outputs[name]; !ok || loc.IsZero() {
			return fmt.Errorf("backend did not produce declared output %q", name)
		}
	}
	for _, name := range slices.Sorted(maps.Keys(r.Outputs)) {
		if !slices.Contains(declared, name) {
			return fmt.Errorf("backend produced undeclared output %q", name)
		}
	}
	if len(r.Exports) > 0 && a.Kind() != pipeline.DeployAction {
		return fmt.Errorf("only deploy actions publish exports")
	}
	return nil
}

// commit records the outputs and publishes the exports of a successful
// action. It runs after the stage barrier.
func (s *Sequencer) commit(ctx context.Context, p *pipeline.Pipeline, a *pipeline.Action, res *resolve.Resolver, ar *ActionReport) *ActionError {
	wrap := func(err error) *ActionError {
		ar.Status, ar.Err = Failed, err
		return &ActionError{Pipeline: p.Name(), Stage: a.Stage().Name(), Action: a.Name(), Kind: a.Kind(), Err: err}
	}
	for _, name := range slices.Sorted(maps.Keys(ar.Outputs)) {
		if err := res.Record(name, ar.Outputs[name]); err != nil {
			return wrap(err)
		}
	}
	if len(ar.Exports) == 0 {
		return nil
	}
	if s.registry == nil {
		return wrap(errors.New("action published exports but no export registry is configured"))
	}
	var stack string
	if target := a.DeployTarget(); target != nil {
		stack = target.StackName
	}
	for _, name := range slices.Sorted(maps.Keys(ar.Exports)) {
		if err := s.registry.Publish(ctx, exports.Export{Name: name, Value: ar.Exports[name], Stack: stack}); err != nil {
			return wrap(fmt.Errorf("publishing export %q: %w", name, err))
		}
	}
	ctxlog.FromContext(ctx).Debug("Published exports.", "action", a.Name(), "count", len(ar.Exports))
	return nil
}

func (s *Sequencer) emit(ctx context.Context, e Event) {
	if s.observer == nil {
		return
	}
	e.Time = s.now()
	s.observer.Notify(ctx, e)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
