// Package resolve turns declared artifacts into concrete locations during a
// single pipeline execution, and merges parameter bindings into the input map
// of a deploy action.
package resolve

import (
	"fmt"
	"maps"
	"sync"

	"github.com/specialistvlad/cdflow/internal/pipeline"
)

// UnresolvedArtifactError is returned when an artifact is resolved before its
// producing action completed. With a validated pipeline this means the
// sequencer dispatched an action too early.
type UnresolvedArtifactError struct {
	Artifact string
	Producer string
}

func (e *UnresolvedArtifactError) Error() string {
	return fmt.Sprintf("artifact %q is unresolved: producing action %q has not completed", e.Artifact, e.Producer)
}

// UndeclaredInputError is returned when an action resolves an artifact it did
// not declare as an input.
type UndeclaredInputError struct {
	Action   string
	Artifact string
}

func (e *UndeclaredInputError) Error() string {
	return fmt.Sprintf("action %q did not declare artifact %q as an input", e.Action, e.Artifact)
}

// Resolver holds the artifact locations recorded during one execution. A
// location is written once and never changes afterwards.
type Resolver struct {
	p         *pipeline.Pipeline
	mu        sync.RWMutex
	locations map[string]pipeline.Location
}

// New returns an empty resolver for one execution of p.
func New(p *pipeline.Pipeline) *Resolver {
	return &Resolver{
		p:         p,
		locations: make(map[string]pipeline.Location),
	}
}

// Record stores where an artifact was written. Recording an unknown
// artifact, an empty location, or the same artifact twice is an error.
func (r *Resolver) Record(artifact string, loc pipeline.Location) error {
	if _, ok := r.p.Artifact(artifact); !ok {
		return fmt.Errorf("pipeline %q has no artifact %q", r.p.Name(), artifact)
	}
	if loc.IsZero() {
		return fmt.Errorf("artifact %q: empty location", artifact)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.locations[artifact]; ok {
		return fmt.Errorf("artifact %q is already resolved to %s", artifact, prev)
	}
	r.locations[artifact] = loc
	return nil
}

// Resolve returns the recorded location of an artifact.
func (r *Resolver) Resolve(artifact string) (pipeline.Location, error) {
	art, ok := r.p.Artifact(artifact)
	if !ok {
		return pipeline.Location{}, fmt.Errorf("pipeline %q has no artifact %q", r.p.Name(), artifact)
	}

	r.mu.RLock()
	loc, ok := r.locations[artifact]
	r.mu.RUnlock()
	if !ok {
		return pipeline.Location{}, &UnresolvedArtifactError{Artifact: artifact, Producer: art.Producer().Name()}
	}
	return loc, nil
}

// Resolved returns a copy of every location recorded so far.
func (r *Resolver) Resolved() map[string]pipeline.Location {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.locations)
}

// For returns a view of the resolver restricted to what action a declared.
func (r *Resolver) For(a *pipeline.Action) *View {
	return &View{r: r, action: a}
}

// Parameters builds the deployment input map of deploy action a. It is a
// shorthand for r.For(a).Parameters().
func (r *Resolver) Parameters(a *pipeline.Action) (map[string]string, error) {
	return r.For(a).Parameters()
}

// View is the resolver as seen by one action.
type View struct {
	r      *Resolver
	action *pipeline.Action
}

// Resolve returns the location of one of the action's declared inputs.
func (v *View) Resolve(artifact string) (pipeline.Location, error) {
	if !v.action.Reads(artifact) {
		return pipeline.Location{}, &UndeclaredInputError{Action: v.action.Name(), Artifact: artifact}
	}
	return v.r.Resolve(artifact)
}

// Inputs resolves every declared input of the action.
func (v *View) Inputs() (map[string]pipeline.Location, error) {
	inputs := make(map[string]pipeline.Location)
	for _, name := range v.action.Inputs() {
		loc, err := v.r.Resolve(name)
		if err != nil {
			return nil, err
		}
		inputs[name] = loc
	}
	return inputs, nil
}

// Parameters builds the deployment input map of a deploy action: its static
// parameters merged with {param: resolve(artifact)} for every binding.
func (v *View) Parameters() (map[string]string, error) {
	params := make(map[string]string)
	if target := v.action.DeployTarget(); target != nil {
		maps.Copy(params, target.Parameters)
	}
	for _, b := range v.action.Bindings() {
		if _, dup := params[b.Param]; dup {
			// Build rejects this; reaching it means the action bypassed validation.
			return nil, fmt.Errorf("action %q: parameter %q bound twice", v.action.Name(), b.Param)
		}
		loc, err := v.Resolve(b.Artifact)
		if err != nil {
			return nil, fmt.Errorf("binding parameter %q: %w", b.Param, err)
		}
		value, err := loc.Field(b.Field)
		if err != nil {
			return nil, fmt.Errorf("binding parameter %q: %w", b.Param, err)
		}
		params[b.Param] = value
	}
	return params, nil
}

// Template resolves the template artifact of a deploy action.
func (v *View) Template() (pipeline.Location, string, error) {
	target := v.action.DeployTarget()
	if target == nil {
		return pipeline.Location{}, "", fmt.Errorf("action %q is not a deploy action", v.action.Name())
	}
	loc, err := v.Resolve(target.Template)
	if err != nil {
		return pipeline.Location{}, "", err
	}
	return loc, target.TemplatePath, nil
}
