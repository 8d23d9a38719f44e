package pipeline

import (
	"fmt"
	"maps"
	"slices"

	"github.com/specialistvlad/cdflow/internal/dag"
)

// producedAt records where an artifact is written.
type producedAt struct {
	stage  int
	action string
}

// Build validates a pipeline definition and assembles the immutable graph.
//
// Construction is all-or-nothing: the first structural defect is returned as
// a *GraphValidationError and no pipeline is produced. The passes are:
//
//  1. action and artifact inventory (duplicate names, repository lookups);
//  2. reference checks for inputs, the deploy template, and parameter
//     bindings, which must all be produced in a strictly earlier stage;
//  3. graph assembly, wiring producers to consumers.
func Build(spec Spec) (*Pipeline, error) {
	b := &builder{
		spec:      spec,
		repos:     make(map[string]Repository),
		sourced:   make(map[string]string),
		actions:   make(map[string]int),
		producers: make(map[string]producedAt),
	}
	if err := b.inventory(); err != nil {
		return nil, err
	}
	if err := b.checkReferences(); err != nil {
		return nil, err
	}
	return b.assemble()
}

// MustBuild is like Build but panics on error. It is meant for definitions
// that are constants of the program.
func MustBuild(spec Spec) *Pipeline {
	p, err := Build(spec)
	if err != nil {
		panic(err)
	}
	return p
}

type builder struct {
	spec      Spec
	repos     map[string]Repository
	sourced   map[string]string
	actions   map[string]int
	producers map[string]producedAt
}

func (b *builder) fail(kind ValidationKind, stage, action, artifact, format string, args ...any) error {
	return &GraphValidationError{
		Kind:     kind,
		Pipeline: b.spec.Name,
		Stage:    stage,
		Action:   action,
		Artifact: artifact,
		Detail:   fmt.Sprintf(format, args...),
	}
}

func (b *builder) inventory() error {
	if b.spec.Name == "" {
		return b.fail(InvalidAction, "", "", "", "pipeline name must not be empty")
	}
	if len(b.spec.Stages) == 0 {
		return b.fail(InvalidAction, "", "", "", "pipeline has no stages")
	}
	for _, r := range b.spec.Repositories {
		b.repos[r.Name] = r
	}

	for i, st := range b.spec.Stages {
		if len(st.Actions) == 0 {
			return b.fail(InvalidAction, st.Name, "", "", "stage has no actions")
		}
		for _, a := range st.Actions {
			if a.Name == "" {
				return b.fail(InvalidAction, st.Name, "", "", "action name must not be empty")
			}
			if _, dup := b.actions[a.Name]; dup {
				return b.fail(DuplicateActionName, st.Name, a.Name, "", "action name is already used in this pipeline")
			}
			b.actions[a.Name] = i

			if err := b.checkShape(st.Name, a); err != nil {
				return err
			}

			for _, out := range a.Outputs {
				if prev, dup := b.producers[out]; dup {
					return b.fail(DuplicateArtifactName, st.Name, a.Name, out,
						"artifact %q is already produced by action %q", out, prev.action)
				}
				b.producers[out] = producedAt{stage: i, action: a.Name}
			}
		}
	}
	return nil
}

// checkShape verifies that an action carries what its kind needs.
func (b *builder) checkShape(stage string, a ActionSpec) error {
	switch a.Kind {
	case SourceAction:
		if a.Repository == "" {
			return b.fail(InvalidAction, stage, a.Name, "", "source action must name a repository")
		}
		if _, ok := b.repos[a.Repository]; !ok {
			return b.fail(UnknownRepository, stage, a.Name, "", "repository %q is not declared", a.Repository)
		}
		if prev, dup := b.sourced[a.Repository]; dup {
			return b.fail(DuplicateRepositorySource, stage, a.Name, "",
				"repository %q is already sourced by action %q", a.Repository, prev)
		}
		b.sourced[a.Repository] = a.Name
		if len(a.Outputs) != 1 {
			return b.fail(InvalidAction, stage, a.Name, "", "source action must produce exactly one artifact, got %d", len(a.Outputs))
		}
		if len(a.Inputs) > 0 {
			return b.fail(InvalidAction, stage, a.Name, "", "source action must not read artifacts")
		}
	case BuildAction, VerifyAction:
		if a.Build == nil {
			return b.fail(InvalidAction, stage, a.Name, "", "%s action requires a build specification", a.Kind)
		}
		if len(a.Inputs) == 0 {
			return b.fail(InvalidAction, stage, a.Name, "", "%s action must read at least one artifact", a.Kind)
		}
	case DeployAction:
		if a.Deploy == nil || a.Deploy.StackName == "" {
			return b.fail(InvalidAction, stage, a.Name, "", "deploy action requires a stack name")
		}
		if a.Deploy.Template == "" {
			return b.fail(InvalidAction, stage, a.Name, "", "deploy action requires a template artifact")
		}
	default:
		return b.fail(InvalidAction, stage, a.Name, "", "unknown action kind %s", a.Kind)
	}

	if len(a.Bindings) > 0 && a.Kind != DeployAction {
		return b.fail(InvalidAction, stage, a.Name, "", "only deploy actions accept parameter bindings")
	}
	if len(a.Deferred) > 0 && a.Kind != VerifyAction {
		return b.fail(InvalidAction, stage, a.Name, "", "only verify actions accept deferred export references")
	}
	return nil
}

func (b *builder) checkReferences() error {
	for i, st := range b.spec.Stages {
		for _, a := range st.Actions {
			for _, in := range a.Inputs {
				if err := b.checkRead(i, st.Name, a.Name, in); err != nil {
					return err
				}
			}
			if a.Deploy != nil {
				if err := b.checkRead(i, st.Name, a.Name, a.Deploy.Template); err != nil {
					return err
				}
			}
			if err := b.checkBindings(i, st.Name, a); err != nil {
				return err
			}
			if err := b.checkDeferred(st.Name, a); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *builder) checkRead(stageIdx int, stage, action, artifact string) error {
	p, ok := b.producers[artifact]
	if !ok {
		return b.fail(DanglingArtifactReference, stage, action, artifact,
			"artifact %q is not produced by any action", artifact)
	}
	if p.stage >= stageIdx {
		return b.fail(ForwardReference, stage, action, artifact,
			"artifact %q is produced by action %q in stage %q, which does not precede this stage",
			artifact, p.action, b.spec.Stages[p.stage].Name)
	}
	return nil
}

func (b *builder) checkBindings(stageIdx int, stage string, a ActionSpec) error {
	params := make(map[string]bool)
	if a.Deploy != nil {
		for name := range a.Deploy.Parameters {
			params[name] = true
		}
	}
	for _, bind := range a.Bindings {
		if bind.Param == "" {
			return b.fail(InvalidAction, stage, a.Name, bind.Artifact, "parameter binding has no parameter name")
		}
		if params[bind.Param] {
			return b.fail(DuplicateParameterBinding, stage, a.Name, bind.Artifact,
				"parameter %q is assigned more than once", bind.Param)
		}
		params[bind.Param] = true
		if _, err := ParseField(string(bind.Field)); err != nil {
			return b.fail(InvalidAction, stage, a.Name, bind.Artifact, "%v", err)
		}
		if err := b.checkRead(stageIdx, stage, a.Name, bind.Artifact); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) checkDeferred(stage string, a ActionSpec) error {
	vars := make(map[string]bool)
	for name := range a.Environment {
		vars[name] = true
	}
	for _, ref := range a.Deferred {
		if ref.Variable == "" || ref.Export == "" {
			return b.fail(InvalidAction, stage, a.Name, "", "deferred reference needs a variable and an export name")
		}
		if vars[ref.Variable] {
			return b.fail(DuplicateParameterBinding, stage, a.Name, "",
				"environment variable %q is assigned more than once", ref.Variable)
		}
		vars[ref.Variable] = true
	}
	return nil
}

func (b *builder) assemble() (*Pipeline, error) {
	p := &Pipeline{
		name:         b.spec.Name,
		repositories: make(map[string]Repository),
		actions:      make(map[string]*Action),
		artifacts:    make(map[string]*Artifact),
		flow:         dag.New(),
	}

	for i, st := range b.spec.Stages {
		stage := &Stage{name: st.Name, index: i}
		for _, as := range st.Actions {
			a := &Action{
				name:        as.Name,
				kind:        as.Kind,
				stage:       stage,
				bindings:    slices.Clone(as.Bindings),
				environment: maps.Clone(as.Environment),
				deferred:    slices.Clone(as.Deferred),
			}
			if as.Kind == SourceAction {
				repo := b.repos[as.Repository]
				a.repository = &repo
				p.repositories[repo.Name] = repo
			}
			if as.Build != nil {
				a.build = &BuildSpec{
					Version: as.Build.Version,
					Phases:  clonePhases(as.Build.Phases),
					Artifacts: OutputSpec{
						BaseDirectory: as.Build.Artifacts.BaseDirectory,
						Files:         slices.Clone(as.Build.Artifacts.Files),
					},
				}
			}
			if as.Deploy != nil {
				d := *as.Deploy
				d.Parameters = maps.Clone(as.Deploy.Parameters)
				a.deploy = &d
			}
			for _, out := range as.Outputs {
				art := &Artifact{name: out, producer: a}
				p.artifacts[out] = art
				a.outputs = append(a.outputs, art)
			}

			stage.actions = append(stage.actions, a)
			p.actions[a.name] = a
			p.flow.AddNode(a.name)
		}
		p.stages = append(p.stages, stage)
	}

	// Inputs are wired after every artifact exists. The deploy template and
	// bound artifacts become implicit inputs.
	for _, st := range b.spec.Stages {
		for _, as := range st.Actions {
			a := p.actions[as.Name]
			reads := slices.Clone(as.Inputs)
			if as.Deploy != nil {
				reads = append(reads, as.Deploy.Template)
			}
			for _, bind := range as.Bindings {
				reads = append(reads, bind.Artifact)
			}
			for _, name := range reads {
				if a.Reads(name) {
					continue
				}
				art := p.artifacts[name]
				a.inputs = append(a.inputs, art)
				art.consumers = append(art.consumers, a)
				if err := p.flow.AddEdge(art.producer.name, a.name); err != nil {
					return nil, fmt.Errorf("pipeline %q: linking %q to %q: %w", p.name, art.producer.name, a.name, err)
				}
			}
		}
	}

	if err := p.flow.DetectCycles(); err != nil {
		return nil, fmt.Errorf("pipeline %q: %w", p.name, err)
	}
	return p, nil
}

func clonePhases(phases []Phase) []Phase {
	out := make([]Phase, len(phases))
	for i, ph := range phases {
		out[i] = Phase{Name: ph.Name, Commands: slices.Clone(ph.Commands)}
	}
	return out
}
