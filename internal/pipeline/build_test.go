package pipeline

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSpec() *BuildSpec {
	return &BuildSpec{
		Version: "0.2",
		Phases: []Phase{
			{Name: "install", Commands: []string{"bash ./bin/install"}},
			{Name: "build", Commands: []string{"bash ./bin/release"}},
		},
		Artifacts: OutputSpec{BaseDirectory: "build", Files: []string{"main"}},
	}
}

// threeStage is Source -> Build -> Deploy where Deploy binds `code` to X.
func threeStage() Spec {
	deploy := ActionSpec{
		Name: "deploy",
		Kind: DeployAction,
		Deploy: &DeployTarget{
			StackName:    "AppStack",
			Template:     "X",
			TemplatePath: "App.template.json",
		},
	}
	deploy.BindParameter("code", "X", FieldLocation)

	return Spec{
		Name:         "app",
		Repositories: []Repository{{Name: "app", Branch: "main"}},
		Stages: []StageSpec{
			{Name: "Source", Actions: []ActionSpec{
				{Name: "src", Kind: SourceAction, Repository: "app", Outputs: []string{"app_source"}},
			}},
			{Name: "Build", Actions: []ActionSpec{
				{Name: "build", Kind: BuildAction, Inputs: []string{"app_source"}, Outputs: []string{"X"}, Build: buildSpec()},
			}},
			{Name: "Deploy", Actions: []ActionSpec{deploy}},
		},
	}
}

func requireKind(t *testing.T, err error, kind ValidationKind) *GraphValidationError {
	t.Helper()
	require.Error(t, err)
	var gve *GraphValidationError
	require.True(t, errors.As(err, &gve), "expected *GraphValidationError, got %T: %v", err, err)
	assert.Equal(t, kind, gve.Kind, "unexpected kind: %v", err)
	return gve
}

func TestBuild_ValidPipeline(t *testing.T) {
	p, err := Build(threeStage())
	require.NoError(t, err)
	require.NotNil(t, p)

	assert.Equal(t, "app", p.Name())
	require.Len(t, p.Stages(), 3)
	assert.Equal(t, []string{"X", "app_source"}, p.Artifacts())

	deploy, ok := p.Action("deploy")
	require.True(t, ok)
	assert.Equal(t, DeployAction, deploy.Kind())
	assert.Equal(t, 2, deploy.Stage().Index())
	assert.Equal(t, []string{"X"}, deploy.Inputs(), "template and binding collapse into one input")
	assert.True(t, deploy.Reads("X"))
	assert.False(t, deploy.Reads("app_source"))

	x, ok := p.Artifact("X")
	require.True(t, ok)
	assert.Equal(t, "build", x.Producer().Name())
	require.Len(t, x.Consumers(), 1)
	assert.Equal(t, "deploy", x.Consumers()[0].Name())

	upstream, err := p.Upstream("deploy")
	require.NoError(t, err)
	assert.Equal(t, []string{"build", "src"}, upstream)

	repos := p.Repositories()
	assert.Equal(t, []Repository{{Name: "app", Branch: "main"}}, repos)
}

func TestBuild_EveryReadComesFromAnEarlierStage(t *testing.T) {
	p, err := Build(threeStage())
	require.NoError(t, err)

	for _, st := range p.Stages() {
		for _, a := range st.Actions() {
			for _, in := range a.Inputs() {
				art, ok := p.Artifact(in)
				require.True(t, ok)
				assert.Less(t, art.Producer().Stage().Index(), st.Index(),
					"action %s reads %s from stage %d", a.Name(), in, art.Producer().Stage().Index())
			}
		}
	}
}

func TestBuild_IsImmutable(t *testing.T) {
	spec := threeStage()
	p, err := Build(spec)
	require.NoError(t, err)

	// Mutating the spec after Build must not leak into the pipeline.
	spec.Stages[1].Actions[0].Build.Phases[0].Commands[0] = "rm -rf /"
	spec.Stages[2].Actions[0].Bindings[0].Param = "changed"

	build, _ := p.Action("build")
	assert.Equal(t, "bash ./bin/install", build.BuildSpec().Phases[0].Commands[0])

	// Mutating returned copies must not leak either.
	build.BuildSpec().Phases[0].Commands[0] = "oops"
	assert.Equal(t, "bash ./bin/install", build.BuildSpec().Phases[0].Commands[0])

	deploy, _ := p.Action("deploy")
	assert.Equal(t, "code", deploy.Bindings()[0].Param)
	stages := p.Stages()
	stages[0] = nil
	assert.NotNil(t, p.Stages()[0])
}

func TestBuild_ForwardReference(t *testing.T) {
	t.Run("read from a later stage", func(t *testing.T) {
		spec := threeStage()
		spec.Stages[1].Actions[0].Inputs = []string{"late"}
		spec.Stages[2].Actions = append(spec.Stages[2].Actions, ActionSpec{
			Name: "late_build", Kind: BuildAction, Inputs: []string{"app_source"}, Outputs: []string{"late"}, Build: buildSpec(),
		})

		p, err := Build(spec)
		assert.Nil(t, p, "no partial pipeline may be returned")
		gve := requireKind(t, err, ForwardReference)
		assert.Equal(t, "late", gve.Artifact)
		assert.Equal(t, "build", gve.Action)
	})

	t.Run("read from the same stage", func(t *testing.T) {
		spec := threeStage()
		spec.Stages[1].Actions = append(spec.Stages[1].Actions, ActionSpec{
			Name: "sibling", Kind: BuildAction, Inputs: []string{"X"}, Outputs: []string{"Y"}, Build: buildSpec(),
		})

		p, err := Build(spec)
		assert.Nil(t, p)
		requireKind(t, err, ForwardReference)
	})

	t.Run("binding to a same-stage artifact", func(t *testing.T) {
		spec := threeStage()
		spec.Stages[2].Actions = append(spec.Stages[2].Actions, ActionSpec{
			Name: "pack", Kind: BuildAction, Inputs: []string{"X"}, Outputs: []string{"packed"}, Build: buildSpec(),
		})
		spec.Stages[2].Actions[0].BindParameter("packed", "packed", FieldKey)

		_, err := Build(spec)
		requireKind(t, err, ForwardReference)
	})
}

func TestBuild_DuplicateArtifactName(t *testing.T) {
	spec := threeStage()
	spec.Stages[1].Actions = append(spec.Stages[1].Actions, ActionSpec{
		Name: "build2", Kind: BuildAction, Inputs: []string{"app_source"}, Outputs: []string{"X"}, Build: buildSpec(),
	})

	p, err := Build(spec)
	assert.Nil(t, p)
	gve := requireKind(t, err, DuplicateArtifactName)
	assert.Equal(t, "X", gve.Artifact)
	assert.True(t, errors.Is(err, &GraphValidationError{Kind: DuplicateArtifactName}))
	assert.False(t, errors.Is(err, &GraphValidationError{Kind: ForwardReference}))
}

func TestBuild_DanglingArtifactReference(t *testing.T) {
	t.Run("input", func(t *testing.T) {
		spec := threeStage()
		spec.Stages[1].Actions[0].Inputs = []string{"ghost"}
		_, err := Build(spec)
		requireKind(t, err, DanglingArtifactReference)
	})

	t.Run("parameter binding", func(t *testing.T) {
		spec := threeStage()
		spec.Stages[2].Actions[0].BindParameter("other", "ghost", FieldBucket)
		_, err := Build(spec)
		gve := requireKind(t, err, DanglingArtifactReference)
		assert.Equal(t, "ghost", gve.Artifact)
	})

	t.Run("deploy template", func(t *testing.T) {
		spec := threeStage()
		spec.Stages[2].Actions[0].Deploy.Template = "ghost"
		_, err := Build(spec)
		requireKind(t, err, DanglingArtifactReference)
	})
}

func TestBuild_DuplicateParameterBinding(t *testing.T) {
	t.Run("two bindings", func(t *testing.T) {
		spec := threeStage()
		spec.Stages[2].Actions[0].BindParameter("code", "app_source", FieldKey)
		_, err := Build(spec)
		requireKind(t, err, DuplicateParameterBinding)
	})

	t.Run("binding shadows static parameter", func(t *testing.T) {
		spec := threeStage()
		spec.Stages[2].Actions[0].Deploy.Parameters = map[string]string{"code": "static"}
		_, err := Build(spec)
		requireKind(t, err, DuplicateParameterBinding)
	})

	t.Run("deferred reference shadows environment", func(t *testing.T) {
		spec := threeStage()
		verify := ActionSpec{
			Name: "verify", Kind: VerifyAction, Inputs: []string{"app_source"}, Build: buildSpec(),
			Environment: map[string]string{"URL": "static"},
		}
		verify.ImportExport("URL", "lambdaUrl")
		spec.Stages = append(spec.Stages, StageSpec{Name: "Verify", Actions: []ActionSpec{verify}})
		_, err := Build(spec)
		requireKind(t, err, DuplicateParameterBinding)
	})
}

func TestBuild_StructuralChecks(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Spec)
		kind   ValidationKind
	}{
		{
			name:   "unknown repository",
			mutate: func(s *Spec) { s.Stages[0].Actions[0].Repository = "nope" },
			kind:   UnknownRepository,
		},
		{
			name: "repository sourced twice",
			mutate: func(s *Spec) {
				s.Stages[0].Actions = append(s.Stages[0].Actions, ActionSpec{
					Name: "src2", Kind: SourceAction, Repository: "app", Outputs: []string{"again"},
				})
			},
			kind: DuplicateRepositorySource,
		},
		{
			name:   "duplicate action name",
			mutate: func(s *Spec) { s.Stages[2].Actions[0].Name = "build" },
			kind:   DuplicateActionName,
		},
		{
			name:   "empty stage",
			mutate: func(s *Spec) { s.Stages[1].Actions = nil },
			kind:   InvalidAction,
		},
		{
			name:   "build without spec",
			mutate: func(s *Spec) { s.Stages[1].Actions[0].Build = nil },
			kind:   InvalidAction,
		},
		{
			name:   "deploy without stack",
			mutate: func(s *Spec) { s.Stages[2].Actions[0].Deploy.StackName = "" },
			kind:   InvalidAction,
		},
		{
			name:   "binding on a build action",
			mutate: func(s *Spec) { s.Stages[1].Actions[0].BindParameter("p", "app_source", "") },
			kind:   InvalidAction,
		},
		{
			name:   "deferred reference on a deploy action",
			mutate: func(s *Spec) { s.Stages[2].Actions[0].ImportExport("URL", "lambdaUrl") },
			kind:   InvalidAction,
		},
		{
			name:   "unknown binding field",
			mutate: func(s *Spec) { s.Stages[2].Actions[0].Bindings[0].Field = "region" },
			kind:   InvalidAction,
		},
		{
			name:   "no stages",
			mutate: func(s *Spec) { s.Stages = nil },
			kind:   InvalidAction,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			spec := threeStage()
			tc.mutate(&spec)
			p, err := Build(spec)
			assert.Nil(t, p)
			requireKind(t, err, tc.kind)
		})
	}
}

func TestGraphValidationError_Message(t *testing.T) {
	err := &GraphValidationError{
		Kind:     ForwardReference,
		Pipeline: "app",
		Stage:    "Build",
		Action:   "build",
		Detail:   "artifact \"late\" is produced later",
	}
	assert.Equal(t, `pipeline "app", stage "Build", action "build": ForwardReference: artifact "late" is produced later`, err.Error())
}

func TestParseActionKind(t *testing.T) {
	for _, kind := range []ActionKind{SourceAction, BuildAction, DeployAction, VerifyAction} {
		parsed, err := ParseActionKind(kind.String())
		require.NoError(t, err)
		assert.Equal(t, kind, parsed)
	}
	_, err := ParseActionKind("approve")
	assert.ErrorContains(t, err, "unknown action kind")
}

func TestMustBuild_Panics(t *testing.T) {
	assert.Panics(t, func() { MustBuild(Spec{Name: "empty"}) })
}
