// Package selfmutate encodes the self-mutation pattern: a pipeline that
// redeploys its own definition independently of the application it delivers.
package selfmutate

import (
	"errors"
	"fmt"
	"slices"

	"github.com/specialistvlad/cdflow/internal/pipeline"
)

// Definition names the pipelines of a delivery topology and which of them
// redeploys the pipelines themselves.
type Definition struct {
	// Mutation is the name of the pipeline holding the self-deploy chain.
	Mutation string
	// SelfStack is the stack the self-deploy action targets.
	SelfStack string
	Pipelines []pipeline.Spec
}

// IndependenceError reports a way in which the self-deploy chain could be
// blocked by, or block, the application chain.
type IndependenceError struct {
	Pipeline string
	Action   string
	Reason   string
}

func (e *IndependenceError) Error() string {
	if e.Action == "" {
		return fmt.Sprintf("self-mutation of pipeline %q is not independent: %s", e.Pipeline, e.Reason)
	}
	return fmt.Sprintf("self-mutation of pipeline %q is not independent: action %q %s", e.Pipeline, e.Action, e.Reason)
}

// Topology is a validated set of pipelines with an identified self-deploy
// chain.
type Topology struct {
	// Mutation is the pipeline that holds the self-deploy action.
	Mutation *pipeline.Pipeline
	// SelfDeploy is the action deploying SelfStack.
	SelfDeploy *pipeline.Action
	// Chain lists the self-deploy action and everything upstream of it.
	Chain []string
	// DefinitionRepository is the repository the chain sources from.
	DefinitionRepository string
	// Applications are the remaining pipelines, in definition order.
	Applications []*pipeline.Pipeline
	selfStack    string
}

// Plan builds every pipeline of def and locates the self-deploy chain. Any
// validation error of a pipeline is returned unchanged.
func Plan(def Definition) (*Topology, error) {
	if def.Mutation == "" || def.SelfStack == "" {
		return nil, errors.New("self-mutation needs a mutation pipeline name and a self stack")
	}

	t := &Topology{selfStack: def.SelfStack}
	seen := make(map[string]bool)
	for _, spec := range def.Pipelines {
		if seen[spec.Name] {
			return nil, fmt.Errorf("pipeline %q is defined more than once", spec.Name)
		}
		seen[spec.Name] = true

		p, err := pipeline.Build(spec)
		if err != nil {
			return nil, err
		}
		if spec.Name == def.Mutation {
			t.Mutation = p
		} else {
			t.Applications = append(t.Applications, p)
		}
	}
	if t.Mutation == nil {
		return nil, fmt.Errorf("mutation pipeline %q is not defined", def.Mutation)
	}

	deploys := deploysOf(t.Mutation, def.SelfStack)
	switch len(deploys) {
	case 0:
		return nil, fmt.Errorf("pipeline %q has no action deploying stack %q", def.Mutation, def.SelfStack)
	case 1:
		t.SelfDeploy = deploys[0]
	default:
		return nil, fmt.Errorf("pipeline %q deploys stack %q more than once", def.Mutation, def.SelfStack)
	}

	upstream, err := t.Mutation.Upstream(t.SelfDeploy.Name())
	if err != nil {
		return nil, err
	}
	t.Chain = append(upstream, t.SelfDeploy.Name())
	slices.Sort(t.Chain)

	// The definition repository is the one the self template is built from.
	tmpl, _ := t.Mutation.Artifact(t.SelfDeploy.DeployTarget().Template)
	producer := tmpl.Producer().Name()
	feeding, err := t.Mutation.Upstream(producer)
	if err != nil {
		return nil, err
	}
	var repos []string
	for _, name := range append(feeding, producer) {
		a, _ := t.Mutation.Action(name)
		if repo, ok := a.Repository(); ok && !slices.Contains(repos, repo.Name) {
			repos = append(repos, repo.Name)
		}
	}
	if len(repos) == 0 {
		return nil, fmt.Errorf("self-deploy action %q does not read from any repository", t.SelfDeploy.Name())
	}
	slices.Sort(repos)
	t.DefinitionRepository = repos[0]
	return t, nil
}

// ApplicationsOnly builds a topology without a self-deploy chain, for
// definitions that do not redeploy themselves.
func ApplicationsOnly(specs []pipeline.Spec) (*Topology, error) {
	t := &Topology{}
	seen := make(map[string]bool)
	for _, spec := range specs {
		if seen[spec.Name] {
			return nil, fmt.Errorf("pipeline %q is defined more than once", spec.Name)
		}
		seen[spec.Name] = true
		p, err := pipeline.Build(spec)
		if err != nil {
			return nil, err
		}
		t.Applications = append(t.Applications, p)
	}
	return t, nil
}

// Pipelines returns the mutation pipeline, if any, followed by the
// applications.
func (t *Topology) Pipelines() []*pipeline.Pipeline {
	if t.Mutation == nil {
		return slices.Clone(t.Applications)
	}
	return append([]*pipeline.Pipeline{t.Mutation}, t.Applications...)
}

// CheckIndependence verifies that the self-deploy chain can run to
// completion whatever the application chain does:
//   - the chain reads only the definition repository;
//   - in a merged topology, no action outside the chain sits in a stage
//     before the self-deploy, where its failure would halt the pipeline;
//   - no application pipeline deploys the self stack.
func (t *Topology) CheckIndependence() error {
	if t.Mutation == nil {
		return nil
	}
	name := t.Mutation.Name()
	for _, a := range t.chainActions() {
		if repo, ok := a.Repository(); ok && repo.Name != t.DefinitionRepository {
			return &IndependenceError{Pipeline: name, Action: a.Name(),
				Reason: fmt.Sprintf("reads repository %q besides the definition repository %q", repo.Name, t.DefinitionRepository)}
		}
	}

	selfStage := t.SelfDeploy.Stage().Index()
	for _, st := range t.Mutation.Stages() {
		if st.Index() >= selfStage {
			break
		}
		for _, a := range st.Actions() {
			if !slices.Contains(t.Chain, a.Name()) {
				return &IndependenceError{Pipeline: name, Action: a.Name(),
					Reason: fmt.Sprintf("in stage %q can halt the pipeline before the self-deploy runs", st.Name())}
			}
		}
	}

	for _, app := range t.Applications {
		if d := deploysOf(app, t.selfStack); len(d) > 0 {
			return &IndependenceError{Pipeline: name,
				Reason: fmt.Sprintf("pipeline %q also deploys stack %q", app.Name(), t.selfStack)}
		}
	}
	return nil
}

func (t *Topology) chainActions() []*pipeline.Action {
	out := make([]*pipeline.Action, 0, len(t.Chain))
	for _, name := range t.Chain {
		a, _ := t.Mutation.Action(name)
		out = append(out, a)
	}
	return out
}

func deploysOf(p *pipeline.Pipeline, stack string) []*pipeline.Action {
	var out []*pipeline.Action
	for _, a := range p.ActionsOfKind(pipeline.DeployAction) {
		if a.DeployTarget().StackName == stack {
			out = append(out, a)
		}
	}
	return out
}
