package pipeline

import (
	"fmt"
	"maps"
	"slices"

	"github.com/specialistvlad/cdflow/internal/dag"
)

// Pipeline is a validated, immutable stage graph. It is only produced by
// Build; all accessors return copies.
type Pipeline struct {
	name         string
	repositories map[string]Repository
	stages       []*Stage
	actions      map[string]*Action
	artifacts    map[string]*Artifact
	flow         *dag.Graph
}

// Stage is a barrier between groups of concurrently run actions.
type Stage struct {
	name    string
	index   int
	actions []*Action
}

// Action is a validated unit of work.
type Action struct {
	name       string
	kind       ActionKind
	stage      *Stage
	repository *Repository
	inputs     []*Artifact
	outputs    []*Artifact

	build       *BuildSpec
	deploy      *DeployTarget
	bindings    []Binding
	environment map[string]string
	deferred    []DeferredRef
}

// Artifact is the handle of files passed between actions.
type Artifact struct {
	name      string
	producer  *Action
	consumers []*Action
}

func (p *Pipeline) Name() string { return p.name }

// Stages returns the stages in execution order.
func (p *Pipeline) Stages() []*Stage { return slices.Clone(p.stages) }

// Action looks up an action by name.
func (p *Pipeline) Action(name string) (*Action, bool) {
	a, ok := p.actions[name]
	return a, ok
}

// Artifact looks up an artifact by name.
func (p *Pipeline) Artifact(name string) (*Artifact, bool) {
	a, ok := p.artifacts[name]
	return a, ok
}

// Artifacts returns every artifact name, sorted.
func (p *Pipeline) Artifacts() []string {
	return slices.Sorted(maps.Keys(p.artifacts))
}

// Repositories returns the repositories read by the pipeline's source
// actions, sorted by name.
func (p *Pipeline) Repositories() []Repository {
	var repos []Repository
	for _, name := range slices.Sorted(maps.Keys(p.repositories)) {
		repos = append(repos, p.repositories[name])
	}
	return repos
}

// Upstream returns the names of every action whose outputs can reach the
// named action, directly or transitively.
func (p *Pipeline) Upstream(action string) ([]string, error) {
	if _, ok := p.actions[action]; !ok {
		return nil, fmt.Errorf("pipeline %q has no action %q", p.name, action)
	}
	return p.flow.Ancestors(action)
}

// ActionsOfKind returns the actions of one kind in stage order.
func (p *Pipeline) ActionsOfKind(kind ActionKind) []*Action {
	var out []*Action
	for _, s := range p.stages {
		for _, a := range s.actions {
			if a.kind == kind {
				out = append(out, a)
			}
		}
	}
	return out
}

func (s *Stage) Name() string { return s.name }

// Index is the zero-based position of the stage in its pipeline.
func (s *Stage) Index() int { return s.index }

func (s *Stage) Actions() []*Action { return slices.Clone(s.actions) }

func (a *Action) Name() string     { return a.name }
func (a *Action) Kind() ActionKind { return a.kind }
func (a *Action) Stage() *Stage    { return a.stage }

// Repository is set for source actions only.
func (a *Action) Repository() (Repository, bool) {
	if a.repository == nil {
		return Repository{}, false
	}
	return *a.repository, true
}

// Inputs returns the names of every artifact the action reads, including
// the deploy template and bound artifacts.
func (a *Action) Inputs() []string { return artifactNames(a.inputs) }

// Outputs returns the names of the artifacts the action produces.
func (a *Action) Outputs() []string { return artifactNames(a.outputs) }

// Reads reports whether the action declared the artifact as an input.
func (a *Action) Reads(artifact string) bool {
	return slices.ContainsFunc(a.inputs, func(in *Artifact) bool { return in.name == artifact })
}

// BuildSpec is set for build and verify actions.
func (a *Action) BuildSpec() *BuildSpec {
	if a.build == nil {
		return nil
	}
	b := *a.build
	b.Phases = clonePhases(a.build.Phases)
	b.Artifacts.Files = slices.Clone(a.build.Artifacts.Files)
	return &b
}

// DeployTarget is set for deploy actions.
func (a *Action) DeployTarget() *DeployTarget {
	if a.deploy == nil {
		return nil
	}
	d := *a.deploy
	d.Parameters = maps.Clone(a.deploy.Parameters)
	return &d
}

func (a *Action) Bindings() []Binding            { return slices.Clone(a.bindings) }
func (a *Action) Environment() map[string]string { return maps.Clone(a.environment) }
func (a *Action) Deferred() []DeferredRef        { return slices.Clone(a.deferred) }

func (a *Artifact) Name() string { return a.name }

// Producer is the single action that writes the artifact.
func (a *Artifact) Producer() *Action { return a.producer }

// Consumers returns the actions that read the artifact.
func (a *Artifact) Consumers() []*Action { return slices.Clone(a.consumers) }

func artifactNames(artifacts []*Artifact) []string {
	names := make([]string, len(artifacts))
	for i, a := range artifacts {
		names[i] = a.name
	}
	return names
}
