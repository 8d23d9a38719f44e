package resolve

import (
	"errors"
	"sync"
	"testing"

	"github.com/specialistvlad/cdflow/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	bs := &pipeline.BuildSpec{Phases: []pipeline.Phase{{Name: "build", Commands: []string{"make"}}}}
	deploy := pipeline.ActionSpec{
		Name: "deploy",
		Kind: pipeline.DeployAction,
		Deploy: &pipeline.DeployTarget{
			StackName:  "AppStack",
			Template:   "templates",
			Parameters: map[string]string{"stage": "prod"},
		},
	}
	deploy.BindParameter("code", "X", pipeline.FieldLocation)
	deploy.BindParameter("code_bucket", "X", pipeline.FieldBucket)
	deploy.BindParameter("code_key", "X", pipeline.FieldKey)

	p, err := pipeline.Build(pipeline.Spec{
		Name:         "app",
		Repositories: []pipeline.Repository{{Name: "app", Branch: "main"}},
		Stages: []pipeline.StageSpec{
			{Name: "Source", Actions: []pipeline.ActionSpec{
				{Name: "src", Kind: pipeline.SourceAction, Repository: "app", Outputs: []string{"source"}},
			}},
			{Name: "Build", Actions: []pipeline.ActionSpec{
				{Name: "build", Kind: pipeline.BuildAction, Inputs: []string{"source"}, Outputs: []string{"X"}, Build: bs},
				{Name: "synth", Kind: pipeline.BuildAction, Inputs: []string{"source"}, Outputs: []string{"templates"}, Build: bs},
			}},
			{Name: "Deploy", Actions: []pipeline.ActionSpec{deploy}},
		},
	})
	require.NoError(t, err)
	return p
}

var xLoc = pipeline.Location{Bucket: "artifacts", Key: "run-1/X", URI: "s3://artifacts/run-1/X"}

func TestResolve_BeforeAndAfterProducerCompletes(t *testing.T) {
	p := testPipeline(t)
	r := New(p)
	deploy, _ := p.Action("deploy")
	view := r.For(deploy)

	_, err := view.Parameters()
	var unresolved *UnresolvedArtifactError
	require.True(t, errors.As(err, &unresolved), "got %v", err)
	assert.Equal(t, "X", unresolved.Artifact)
	assert.Equal(t, "build", unresolved.Producer)

	require.NoError(t, r.Record("X", xLoc))

	loc, err := r.Resolve("X")
	require.NoError(t, err)
	assert.Equal(t, xLoc, loc)

	params, err := view.Parameters()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"stage":       "prod",
		"code":        "s3://artifacts/run-1/X",
		"code_bucket": "artifacts",
		"code_key":    "run-1/X",
	}, params)
}

func TestRecord(t *testing.T) {
	p := testPipeline(t)
	r := New(p)

	require.NoError(t, r.Record("X", xLoc))
	assert.ErrorContains(t, r.Record("X", xLoc), "already resolved")
	assert.ErrorContains(t, r.Record("nope", xLoc), "has no artifact")
	assert.ErrorContains(t, r.Record("source", pipeline.Location{}), "empty location")

	resolved := r.Resolved()
	resolved["X"] = pipeline.Location{URI: "changed"}
	loc, err := r.Resolve("X")
	require.NoError(t, err)
	assert.Equal(t, xLoc, loc, "Resolved must return a copy")
}

func TestView_RejectsUndeclaredReads(t *testing.T) {
	p := testPipeline(t)
	r := New(p)
	require.NoError(t, r.Record("source", pipeline.Location{URI: "file:///src"}))

	deploy, _ := p.Action("deploy")
	_, err := r.For(deploy).Resolve("source")
	var undeclared *UndeclaredInputError
	require.True(t, errors.As(err, &undeclared))
	assert.Equal(t, "deploy", undeclared.Action)
}

func TestView_InputsAndTemplate(t *testing.T) {
	p := testPipeline(t)
	r := New(p)
	templates := pipeline.Location{Bucket: "local", Key: "run-1/templates", URI: "file:///tmp/templates"}
	require.NoError(t, r.Record("X", xLoc))
	require.NoError(t, r.Record("templates", templates))

	deploy, _ := p.Action("deploy")
	inputs, err := r.For(deploy).Inputs()
	require.NoError(t, err)
	assert.Equal(t, map[string]pipeline.Location{"X": xLoc, "templates": templates}, inputs)

	loc, path, err := r.For(deploy).Template()
	require.NoError(t, err)
	assert.Equal(t, templates, loc)
	assert.Empty(t, path)

	build, _ := p.Action("build")
	_, _, err = r.For(build).Template()
	assert.ErrorContains(t, err, "not a deploy action")
}

func TestResolver_ConcurrentAccess(t *testing.T) {
	p := testPipeline(t)
	r := New(p)
	require.NoError(t, r.Record("source", pipeline.Location{URI: "file:///src"}))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Resolve("source")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestResolver_Parameters(t *testing.T) {
	p := testPipeline(t)
	r := New(p)
	deploy, ok := p.Action("deploy")
	require.True(t, ok)

	_, err := r.Parameters(deploy)
	var unresolved *UnresolvedArtifactError
	require.True(t, errors.As(err, &unresolved))

	require.NoError(t, r.Record("X", xLoc))
	params, err := r.Parameters(deploy)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"stage":       "prod",
		"code":        xLoc.URI,
		"code_bucket": "artifacts",
		"code_key":    "run-1/X",
	}, params)
}
