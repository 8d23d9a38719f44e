// This file translates decoded HCL blocks into pipeline specs.

package hcl

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"

	"github.com/specialistvlad/cdflow/internal/buildspec"
	"github.com/specialistvlad/cdflow/internal/ctxlog"
	"github.com/specialistvlad/cdflow/internal/pipeline"
)

// translatePipeline converts a pipeline block into a spec. Relative
// buildspec paths are resolved against dir. Only the repositories read by
// the pipeline's source actions are attached to it.
func translatePipeline(ctx context.Context, p *pipelineBlock, dir string, repos map[string]pipeline.Repository) (pipeline.Spec, error) {
	logger := ctxlog.FromContext(ctx).With("pipeline", p.Name)
	logger.Debug("Translating HCL pipeline to internal model.", "stages", len(p.Stages))

	spec := pipeline.Spec{Name: p.Name}
	for _, st := range p.Stages {
		stage := pipeline.StageSpec{Name: st.Name}
		for _, a := range st.Actions {
			action, err := translateAction(a, dir)
			if err != nil {
				return pipeline.Spec{}, fmt.Errorf("%s: pipeline %q, action %q: %w", a.DefRange, p.Name, a.Name, err)
			}
			if action.Kind == pipeline.SourceAction {
				if repo, ok := repos[action.Repository]; ok && !slices.Contains(spec.Repositories, repo) {
					spec.Repositories = append(spec.Repositories, repo)
				}
			}
			stage.Actions = append(stage.Actions, action)
		}
		spec.Stages = append(spec.Stages, stage)
	}
	return spec, nil
}

func translateAction(a *actionBlock, dir string) (pipeline.ActionSpec, error) {
	kind, err := pipeline.ParseActionKind(a.Kind)
	if err != nil {
		return pipeline.ActionSpec{}, err
	}
	spec := pipeline.ActionSpec{
		Name:       a.Name,
		Kind:       kind,
		Repository: a.Repository,
		Inputs:     a.Inputs,
		Outputs:    a.Outputs,
	}

	build, err := translateBuild(a, dir)
	if err != nil {
		return pipeline.ActionSpec{}, err
	}
	spec.Build = build

	if a.StackName != "" || a.Template != "" || a.TemplatePath != "" {
		spec.Deploy = &pipeline.DeployTarget{
			StackName:    a.StackName,
			Template:     a.Template,
			TemplatePath: a.TemplatePath,
		}
	}

	params, err := analyseMap(a.Parameters, "parameters")
	if err != nil {
		return pipeline.ActionSpec{}, err
	}
	for _, e := range params {
		switch e.ref.kind {
		case refNone:
			if spec.Deploy == nil {
				spec.Deploy = &pipeline.DeployTarget{}
			}
			if spec.Deploy.Parameters == nil {
				spec.Deploy.Parameters = make(map[string]string)
			}
			spec.Deploy.Parameters[e.key] = e.literal
		case refArtifact:
			spec.BindParameter(e.key, e.ref.name, e.ref.field)
		case refExport:
			return pipeline.ActionSpec{}, fmt.Errorf("parameter %q: exports can only be imported through a verify action's environment", e.key)
		}
	}

	env, err := analyseMap(a.Environment, "environment")
	if err != nil {
		return pipeline.ActionSpec{}, err
	}
	for _, e := range env {
		switch e.ref.kind {
		case refNone:
			if spec.Environment == nil {
				spec.Environment = make(map[string]string)
			}
			spec.Environment[e.key] = e.literal
		case refExport:
			spec.ImportExport(e.key, e.ref.name)
		case refArtifact:
			return pipeline.ActionSpec{}, fmt.Errorf("environment %q: artifacts are read through inputs, not environment variables", e.key)
		}
	}
	return spec, nil
}

func translateBuild(a *actionBlock, dir string) (*pipeline.BuildSpec, error) {
	switch {
	case a.BuildSpec != "" && a.Build != nil:
		return nil, fmt.Errorf("buildspec and an inline build block are mutually exclusive")
	case a.BuildSpec != "":
		path := a.BuildSpec
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		return buildspec.Load(path)
	case a.Build != nil:
		spec := &pipeline.BuildSpec{Version: a.Build.Version}
		for _, ph := range a.Build.Phases {
			spec.Phases = append(spec.Phases, pipeline.Phase{Name: ph.Name, Commands: ph.Commands})
		}
		if art := a.Build.Artifacts; art != nil {
			spec.Artifacts = pipeline.OutputSpec{BaseDirectory: art.BaseDirectory, Files: art.Files}
		}
		if err := buildspec.Validate(spec); err != nil {
			return nil, err
		}
		return spec, nil
	}
	return nil, nil
}
