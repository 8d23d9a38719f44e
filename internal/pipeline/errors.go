package pipeline

import (
	"fmt"
	"strings"
)

// ValidationKind classifies a structural defect found by Build.
type ValidationKind string

const (
	// DanglingArtifactReference: an artifact is read but never produced.
	DanglingArtifactReference ValidationKind = "DanglingArtifactReference"
	// DuplicateArtifactName: two outputs share one name.
	DuplicateArtifactName ValidationKind = "DuplicateArtifactName"
	// ForwardReference: an artifact is read in the stage that produces it or
	// in a stage before that.
	ForwardReference ValidationKind = "ForwardReference"
	// DuplicateParameterBinding: one action assigns a parameter name twice.
	DuplicateParameterBinding ValidationKind = "DuplicateParameterBinding"
	// DuplicateActionName: two actions in one pipeline share a name.
	DuplicateActionName ValidationKind = "DuplicateActionName"
	// UnknownRepository: a source action names an undeclared repository.
	UnknownRepository ValidationKind = "UnknownRepository"
	// DuplicateRepositorySource: a repository is sourced more than once.
	DuplicateRepositorySource ValidationKind = "DuplicateRepositorySource"
	// InvalidAction: an action lacks what its kind requires.
	InvalidAction ValidationKind = "InvalidAction"
)

// GraphValidationError is returned by Build when a definition is
// structurally unsound. No pipeline is produced alongside it.
type GraphValidationError struct {
	Kind     ValidationKind
	Pipeline string
	Stage    string
	Action   string
	Artifact string
	Detail   string
}

func (e *GraphValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "pipeline %q", e.Pipeline)
	if e.Stage != "" {
		fmt.Fprintf(&b, ", stage %q", e.Stage)
	}
	if e.Action != "" {
		fmt.Fprintf(&b, ", action %q", e.Action)
	}
	fmt.Fprintf(&b, ": %s", e.Kind)
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

// Is lets errors.Is match on the kind alone, e.g.
// errors.Is(err, &GraphValidationError{Kind: ForwardReference}).
func (e *GraphValidationError) Is(target error) bool {
	t, ok := target.(*GraphValidationError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Pipeline == "" || t.Pipeline == e.Pipeline)
}
