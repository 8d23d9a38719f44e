package backend

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/specialistvlad/cdflow/internal/artifactstore"
	"github.com/specialistvlad/cdflow/internal/ctxlog"
	"github.com/specialistvlad/cdflow/internal/fsutil"
	"github.com/specialistvlad/cdflow/internal/pipeline"
)

// Local runs actions on this machine. Sources are directories on disk,
// builds run through a shell, and deployments evaluate the outputs of a
// CloudFormation-shaped JSON template.
type Local struct {
	Store artifactstore.Store
	// Repositories maps repository names to checkout directories.
	Repositories map[string]string
	// WorkDir is where scratch workspaces are created. Empty means the
	// system temporary directory.
	WorkDir string
	// Shell runs build commands; defaults to "sh".
	Shell string

	mu     sync.Mutex
	stacks map[string]Deployment
}

// NewLocal returns a local backend writing artifacts to store.
func NewLocal(store artifactstore.Store, repositories map[string]string) *Local {
	return &Local{
		Store:        store,
		Repositories: maps.Clone(repositories),
		stacks:       make(map[string]Deployment),
	}
}

// Execute implements Backend.
func (l *Local) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	a := inv.Action
	ctx, logger := ctxlog.With(ctx, "backend", "local")
	logger.Debug("Executing action.", "kind", a.Kind().String())

	switch a.Kind() {
	case pipeline.SourceAction:
		return l.source(ctx, inv)
	case pipeline.BuildAction, pipeline.VerifyAction:
		return l.build(ctx, inv)
	case pipeline.DeployAction:
		return l.deploy(ctx, inv)
	}
	return nil, fmt.Errorf("action %q has unsupported kind %s", a.Name(), a.Kind())
}

func (l *Local) source(ctx context.Context, inv *Invocation) (*Result, error) {
	repo, ok := inv.Action.Repository()
	if !ok {
		return nil, fmt.Errorf("source action %q has no repository", inv.Action.Name())
	}
	dir, ok := l.Repositories[repo.Name]
	if !ok {
		return nil, fmt.Errorf("repository %q has no local checkout configured", repo.Name)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("repository %q: checkout %q is not a directory", repo.Name, dir)
	}
	ctxlog.FromContext(ctx).Info("📥 Checking out repository.", "repository", repo.Name, "branch", repo.Branch, "path", dir)

	out := inv.Action.Outputs()[0]
	loc, err := l.Store.Put(ctx, inv.ExecutionID, out, dir)
	if err != nil {
		return nil, err
	}
	return &Result{Outputs: map[string]pipeline.Location{out: loc}}, nil
}

func (l *Local) build(ctx context.Context, inv *Invocation) (*Result, error) {
	a := inv.Action
	spec := a.BuildSpec()
	if spec == nil {
		return nil, fmt.Errorf("action %q has no build specification", a.Name())
	}

	ws, err := os.MkdirTemp(l.WorkDir, "cdflow-"+strings.ReplaceAll(a.Name(), string(os.PathSeparator), "_")+"-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(ws)

	srcDir, env, err := l.stageInputs(ctx, inv, ws)
	if err != nil {
		return nil, err
	}

	for _, phase := range spec.Phases {
		ctxlog.FromContext(ctx).Info("🔨 Running phase.", "phase", phase.Name, "commands", len(phase.Commands))
		for _, command := range phase.Commands {
			if err := l.runCommand(ctx, srcDir, env, command); err != nil {
				return nil, fmt.Errorf("phase %q: %w", phase.Name, err)
			}
		}
	}

	outputs := a.Outputs()
	result := &Result{Outputs: make(map[string]pipeline.Location, len(outputs))}
	if len(outputs) == 0 {
		return result, nil
	}

	bundle := filepath.Join(ws, ".bundle")
	files := spec.Artifacts.Files
	if len(files) == 0 {
		files = []string{"**/*"}
	}
	copied, err := fsutil.Collect(filepath.Join(srcDir, spec.Artifacts.BaseDirectory), files, bundle)
	if err != nil {
		return nil, fmt.Errorf("collecting build output: %w", err)
	}
	if len(copied) == 0 {
		return nil, fmt.Errorf("no files in %q matched %v", spec.Artifacts.BaseDirectory, files)
	}
	for _, out := range outputs {
		loc, err := l.Store.Put(ctx, inv.ExecutionID, out, bundle)
		if err != nil {
			return nil, err
		}
		result.Outputs[out] = loc
	}
	return result, nil
}

// stageInputs fetches every input into the workspace. The first input is the
// primary source and becomes the working directory; every input is also
// exposed as CDFLOW_SRC_DIR_<name>.
func (l *Local) stageInputs(ctx context.Context, inv *Invocation, ws string) (string, []string, error) {
	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(inv.Environment)) {
		env = append(env, k+"="+inv.Environment[k])
	}
	env = append(env,
		"CDFLOW_EXECUTION_ID="+inv.ExecutionID,
		"CDFLOW_PIPELINE="+inv.Pipeline,
		"CDFLOW_ACTION="+inv.Action.Name(),
	)

	inputs := inv.Action.Inputs()
	primary := ws
	for i, name := range inputs {
		loc, ok := inv.Inputs[name]
		if !ok {
			return "", nil, fmt.Errorf("input %q was not resolved", name)
		}
		dir := filepath.Join(ws, name)
		if err := l.Store.Fetch(ctx, loc, dir); err != nil {
			return "", nil, fmt.Errorf("fetching input %q: %w", name, err)
		}
		if i == 0 {
			primary = dir
		}
		env = append(env, "CDFLOW_SRC_DIR_"+envName(name)+"="+dir)
	}
	return primary, env, nil
}

func (l *Local) runCommand(ctx context.Context, dir string, env []string, command string) error {
	shell := l.Shell
	if shell == "" {
		shell = "sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = dir
	cmd.Env = env

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Command finished.", "command", command, "output", strings.TrimSpace(out.String()))
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("command %q: %w", command, ctx.Err())
		}
		return fmt.Errorf("command %q: %w: %s", command, err, tail(out.String(), 512))
	}
	return nil
}

func envName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		}
		return '_'
	}, s)
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
