package buildspec

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/cdflow/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const lambdaBuild = `
version: "0.2"
phases:
  build:
    commands: bash ./bin/release
  install:
    commands:
      - ls
      - ls bin
      - bash ./bin/install
artifacts:
  base-directory: build
  files:
    - main
`

func TestParse(t *testing.T) {
	spec, err := Parse([]byte(lambdaBuild))
	require.NoError(t, err)

	want := &pipeline.BuildSpec{
		Version: "0.2",
		Phases: []pipeline.Phase{
			{Name: "install", Commands: []string{"ls", "ls bin", "bash ./bin/install"}},
			{Name: "build", Commands: []string{"bash ./bin/release"}},
		},
		Artifacts: pipeline.OutputSpec{BaseDirectory: "build", Files: []string{"main"}},
	}
	if diff := cmp.Diff(want, spec); diff != "" {
		t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse_Errors(t *testing.T) {
	testCases := []struct {
		name string
		doc  string
		want string
	}{
		{"unknown phase", "phases:\n  deploy:\n    commands: [x]\n", `unknown phase "deploy"`},
		{"empty phase", "phases:\n  build:\n    commands: []\n", `phase "build" has no commands`},
		{"no phases", "version: \"0.2\"\n", "no phases"},
		{"unknown field", "phasez: {}\n", "field phasez not found"},
		{"bad commands", "phases:\n  build:\n    commands: {a: b}\n", "must be a string or a list"},
		{"bad file pattern", "phases:\n  build:\n    commands: x\nartifacts:\n  files: ['out/[main']\n", `artifacts file pattern "out/[main"`},
		{"env block", "env:\n  variables: {A: b}\nphases:\n  build:\n    commands: x\n", "env is not supported"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lambda.yml")
	require.NoError(t, os.WriteFile(path, []byte(lambdaBuild), 0o644))

	spec, err := Load(path)
	require.NoError(t, err)
	assert.Len(t, spec.Phases, 2)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	ok := &pipeline.BuildSpec{Phases: []pipeline.Phase{
		{Name: "install", Commands: []string{"a"}},
		{Name: "build", Commands: []string{"b"}},
	}}
	assert.NoError(t, Validate(ok))

	assert.ErrorContains(t, Validate(nil), "missing")
	assert.ErrorContains(t, Validate(&pipeline.BuildSpec{}), "no phases")
	assert.ErrorContains(t, Validate(&pipeline.BuildSpec{Phases: []pipeline.Phase{
		{Name: "build", Commands: []string{"b"}},
		{Name: "install", Commands: []string{"a"}},
	}}), "out of order")
	assert.ErrorContains(t, Validate(&pipeline.BuildSpec{Phases: []pipeline.Phase{
		{Name: "build", Commands: []string{"b"}},
		{Name: "build", Commands: []string{"c"}},
	}}), "declared twice")
	assert.ErrorContains(t, Validate(&pipeline.BuildSpec{Phases: []pipeline.Phase{
		{Name: "test", Commands: []string{"b"}},
	}}), "unknown phase")
	assert.ErrorIs(t, Validate(&pipeline.BuildSpec{
		Phases:    []pipeline.Phase{{Name: "build", Commands: []string{"b"}}},
		Artifacts: pipeline.OutputSpec{Files: []string{"**/*.json", "bin/[x"}},
	}), doublestar.ErrBadPattern)
}
