package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/specialistvlad/cdflow/internal/artifactstore"
	"github.com/specialistvlad/cdflow/internal/backend"
	"github.com/specialistvlad/cdflow/internal/config"
	"github.com/specialistvlad/cdflow/internal/ctxlog"
	"github.com/specialistvlad/cdflow/internal/engine"
	"github.com/specialistvlad/cdflow/internal/hcl"
	"github.com/specialistvlad/cdflow/internal/notify"
	"github.com/specialistvlad/cdflow/internal/pipeline"
	"github.com/specialistvlad/cdflow/internal/selfmutate"
	"github.com/specialistvlad/cdflow/internal/server"
	"github.com/specialistvlad/cdflow/internal/store"
)

// DefinitionFile is the file name written by the init command.
const DefinitionFile = "cdflow.hcl"

func (a *App) topology(ctx context.Context) (*selfmutate.Topology, error) {
	model, err := a.loader.Load(ctx, a.config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}
	topo, err := model.Topology()
	if err != nil {
		return nil, err
	}
	if err := topo.CheckIndependence(); err != nil {
		return nil, err
	}
	return topo, nil
}

func (a *App) openStore() (*store.Store, error) {
	if err := ensureParentDir(a.config.StatePath); err != nil {
		return nil, err
	}
	return store.Open(a.config.StatePath)
}

func (a *App) artifactStore(ctx context.Context) (artifactstore.Store, error) {
	if a.config.Artifacts.UseMinio() {
		return artifactstore.NewMinioStore(ctx, a.config.Artifacts.Minio)
	}
	return artifactstore.NewFileStore(a.config.Artifacts.Dir)
}

// validate builds every pipeline, checks the self-mutation chain and prints
// the execution plan.
func (a *App) validate(ctx context.Context) error {
	topo, err := a.topology(ctx)
	if err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("✅ Definition is valid.", "pipelines", len(topo.Pipelines()))
	a.printPlan(topo)
	return nil
}

func (a *App) printPlan(topo *selfmutate.Topology) {
	w := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	defer w.Flush()

	for _, p := range topo.Pipelines() {
		role := "application"
		if p == topo.Mutation {
			role = fmt.Sprintf("self-mutation, redeploys %s from repository %s",
				topo.SelfDeploy.DeployTarget().StackName, topo.DefinitionRepository)
		}
		fmt.Fprintf(w, "pipeline %s (%s)\n", p.Name(), role)
		for _, st := range p.Stages() {
			fmt.Fprintf(w, "  %d. %s\n", st.Index()+1, st.Name())
			for _, act := range st.Actions() {
				fmt.Fprintf(w, "\t%s\t%s\t%s\t-> %s\n", act.Kind(), act.Name(), describeInputs(act), strings.Join(act.Outputs(), ", "))
			}
		}
	}
}

func describeInputs(act *pipeline.Action) string {
	if repo, ok := act.Repository(); ok {
		return fmt.Sprintf("%s@%s", repo.Name, repo.Branch)
	}
	in := strings.Join(act.Inputs(), ", ")
	if d := act.DeployTarget(); d != nil {
		in = fmt.Sprintf("%s [stack %s]", in, d.StackName)
	}
	for _, ref := range act.Deferred() {
		in += fmt.Sprintf(" $%s=export.%s", ref.Variable, ref.Export)
	}
	return strings.TrimSpace(in)
}

// run executes the selected pipelines of the definition with the local
// backend, persisting exports and run history in the state database.
func (a *App) run(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)

	topo, err := a.topology(ctx)
	if err != nil {
		return err
	}

	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if a.config.HealthcheckPort > 0 {
		srv := server.New(ctx, st, st)
		if _, err := srv.Start(fmt.Sprintf(":%d", a.config.HealthcheckPort)); err != nil {
			return err
		}
		defer srv.Shutdown(context.WithoutCancel(ctx))
	}

	artifacts, err := a.artifactStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to open artifact store: %w", err)
	}
	local := backend.NewLocal(artifacts, a.config.Repositories)
	local.WorkDir = a.config.WorkDir
	local.Shell = a.config.Shell

	observers := notify.Fanout{notify.Log{}}
	if a.config.Notify.URL != "" {
		em, err := notify.Dial(ctx, a.config.Notify)
		if err != nil {
			logger.Warn("Dashboard unavailable, continuing without notifications.", "error", err)
		} else {
			defer em.Close()
			observers = append(observers, em)
		}
	}

	seq := engine.New(local, st,
		engine.WithWorkers(a.config.Workers),
		engine.WithActionTimeout(a.config.ActionTimeout),
		engine.WithObserver(observers),
	)
	orch := &selfmutate.Orchestrator{Topology: topo, Runner: &historyRunner{runner: seq, store: st}}

	out, err := orch.Run(ctx, a.config.Pipelines...)
	if out != nil {
		a.printOutcome(out)
	}
	return err
}

// historyRunner records every execution in the state database.
type historyRunner struct {
	runner selfmutate.Runner
	store  *store.Store
}

func (h *historyRunner) Run(ctx context.Context, p *pipeline.Pipeline) (*engine.Report, error) {
	report, err := h.runner.Run(ctx, p)
	if report != nil {
		if recErr := h.store.RecordRun(context.WithoutCancel(ctx), report, err); recErr != nil {
			ctxlog.FromContext(ctx).Error("Failed to record run history.", "pipeline", p.Name(), "error", recErr)
		}
	}
	return report, err
}

func (a *App) printOutcome(out *selfmutate.Outcome) {
	names := make([]string, 0, len(out.Reports))
	for name := range out.Reports {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		r := out.Reports[name]
		fmt.Fprintf(a.outW, "%s: %s (%d actions in %s)\n", name, r.Status, len(r.Executed()), r.Finished.Sub(r.Started).Round(time.Millisecond))
		if err := out.Errors[name]; err != nil {
			fmt.Fprintf(a.outW, "  %v\n", err)
		}
	}
}

// listExports prints every export published so far.
func (a *App) listExports(ctx context.Context) error {
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	list, err := st.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(a.outW, "No exports published yet.")
		return nil
	}
	w := tabwriter.NewWriter(a.outW, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintln(w, "NAME\tVALUE\tSTACK\tUPDATED")
	for _, e := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, e.Value, e.Stack, humanize.Time(e.UpdatedAt))
	}
	return nil
}

// initDefinition writes the canonical split self-mutation topology into the
// target directory. An existing definition is never overwritten.
func (a *App) initDefinition(ctx context.Context) error {
	if err := os.MkdirAll(a.config.Path, 0o755); err != nil {
		return err
	}
	target := filepath.Join(a.config.Path, DefinitionFile)
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("%s already exists", target)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	src := hcl.Render(config.FromDefinition(selfmutate.Standard()))
	if err := os.WriteFile(target, src, 0o644); err != nil {
		return err
	}
	ctxlog.FromContext(ctx).Info("📝 Wrote self-mutation definition.", "path", target, "size", humanize.Bytes(uint64(len(src))))
	fmt.Fprintln(a.outW, target)
	return nil
}
