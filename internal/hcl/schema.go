package hcl

import "github.com/hashicorp/hcl/v2"

// fileRoot is the set of top-level blocks a definition file may hold.
type fileRoot struct {
	Repositories []*repositoryBlock   `hcl:"repository,block"`
	SelfMutation []*selfMutationBlock `hcl:"self_mutation,block"`
	Pipelines    []*pipelineBlock     `hcl:"pipeline,block"`
}

type repositoryBlock struct {
	Name     string    `hcl:"name,label"`
	Branch   string    `hcl:"branch,optional"`
	DefRange hcl.Range `hcl:",def_range"`
}

type selfMutationBlock struct {
	Pipeline string    `hcl:"pipeline"`
	Stack    string    `hcl:"stack"`
	DefRange hcl.Range `hcl:",def_range"`
}

type pipelineBlock struct {
	Name     string        `hcl:"name,label"`
	Stages   []*stageBlock `hcl:"stage,block"`
	DefRange hcl.Range     `hcl:",def_range"`
}

type stageBlock struct {
	Name    string         `hcl:"name,label"`
	Actions []*actionBlock `hcl:"action,block"`
}

// actionBlock holds every attribute any action kind accepts; which ones are
// required is decided by pipeline.Build.
type actionBlock struct {
	Kind       string   `hcl:"kind,label"`
	Name       string   `hcl:"name,label"`
	Repository string   `hcl:"repository,optional"`
	Inputs     []string `hcl:"inputs,optional"`
	Outputs    []string `hcl:"outputs,optional"`

	BuildSpec string      `hcl:"buildspec,optional"`
	Build     *buildBlock `hcl:"build,block"`

	StackName    string         `hcl:"stack_name,optional"`
	Template     string         `hcl:"template,optional"`
	TemplatePath string         `hcl:"template_path,optional"`
	Parameters   hcl.Expression `hcl:"parameters,optional"`

	Environment hcl.Expression `hcl:"environment,optional"`
	DefRange    hcl.Range      `hcl:",def_range"`
}

type buildBlock struct {
	Version   string          `hcl:"version,optional"`
	Phases    []*phaseBlock   `hcl:"phase,block"`
	Artifacts *artifactsBlock `hcl:"artifacts,block"`
}

type phaseBlock struct {
	Name     string   `hcl:"name,label"`
	Commands []string `hcl:"commands"`
}

type artifactsBlock struct {
	BaseDirectory string   `hcl:"base_directory,optional"`
	Files         []string `hcl:"files,optional"`
}
