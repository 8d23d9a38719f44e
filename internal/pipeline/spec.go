package pipeline

import (
	"fmt"
	"strings"
)

// ActionKind is the tag of the action variant.
type ActionKind int

const (
	// SourceAction pulls a repository branch into an artifact.
	SourceAction ActionKind = iota
	// BuildAction runs a build specification over its inputs.
	BuildAction
	// DeployAction deploys a template artifact to a named stack.
	DeployAction
	// VerifyAction runs a build specification as a post-deploy check.
	VerifyAction
)

var kindNames = map[ActionKind]string{
	SourceAction: "source",
	BuildAction:  "build",
	DeployAction: "deploy",
	VerifyAction: "verify",
}

func (k ActionKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ActionKind(%d)", int(k))
}

// ParseActionKind maps the textual kind used in definitions to an ActionKind.
func ParseActionKind(s string) (ActionKind, error) {
	for k, name := range kindNames {
		if strings.EqualFold(name, s) {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown action kind %q: must be one of source, build, deploy, verify", s)
}

// Repository names an external source of versioned code.
type Repository struct {
	Name   string
	Branch string
}

// Field selects which part of a resolved artifact location a binding injects.
type Field string

const (
	FieldLocation Field = "location"
	FieldBucket   Field = "bucket"
	FieldKey      Field = "key"
)

// ParseField validates a field name. An empty name selects FieldLocation.
func ParseField(s string) (Field, error) {
	switch Field(s) {
	case "", FieldLocation:
		return FieldLocation, nil
	case FieldBucket, FieldKey:
		return Field(s), nil
	}
	return "", fmt.Errorf("unknown artifact field %q: must be one of location, bucket, key", s)
}

// Binding injects the resolved location of Artifact into a deployment input
// named Param.
type Binding struct {
	Param    string
	Artifact string
	Field    Field
}

// DeferredRef is an environment variable whose value is an export published
// by an earlier deployment, looked up only when the action runs.
type DeferredRef struct {
	Variable string
	Export   string
}

// BuildSpec is the opaque description of a build or verify run. The engine
// never interprets the commands.
type BuildSpec struct {
	Version   string
	Phases    []Phase
	Artifacts OutputSpec
}

// Phase is a named, ordered list of shell commands.
type Phase struct {
	Name     string
	Commands []string
}

// OutputSpec names the produced files that become the output artifact.
type OutputSpec struct {
	BaseDirectory string
	Files         []string
}

// DeployTarget describes where and what a deploy action deploys.
type DeployTarget struct {
	StackName string
	// Template is the name of the artifact holding the template.
	Template string
	// TemplatePath is the template file inside the Template artifact.
	TemplatePath string
	// Parameters are static deployment inputs known at definition time.
	Parameters map[string]string
}

// ActionSpec is the definition-time description of a single action.
type ActionSpec struct {
	Name       string
	Kind       ActionKind
	Repository string
	Inputs     []string
	Outputs    []string

	Build  *BuildSpec
	Deploy *DeployTarget

	Bindings    []Binding
	Environment map[string]string
	Deferred    []DeferredRef
}

// BindParameter attaches a parameter binding to a deploy action. Conflicts
// are reported by Build, not here.
func (a *ActionSpec) BindParameter(param, artifact string, field Field) {
	if field == "" {
		field = FieldLocation
	}
	a.Bindings = append(a.Bindings, Binding{Param: param, Artifact: artifact, Field: field})
}

// ImportExport attaches a deferred export reference exposed to the action as
// the environment variable named variable.
func (a *ActionSpec) ImportExport(variable, export string) {
	a.Deferred = append(a.Deferred, DeferredRef{Variable: variable, Export: export})
}

// StageSpec is an ordered group of action specs.
type StageSpec struct {
	Name    string
	Actions []ActionSpec
}

// Spec is the complete definition of one pipeline.
type Spec struct {
	Name         string
	Repositories []Repository
	Stages       []StageSpec
}
