package engine

import (
	"time"

	"github.com/specialistvlad/cdflow/internal/pipeline"
)

// Status is the outcome of an execution or of one action.
type Status string

const (
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
	TimedOut  Status = "timed_out"
	// BootstrapPending marks an execution that stopped only because an
	// imported export has not been published yet.
	BootstrapPending Status = "bootstrap_pending"
)

// Report describes one execution of a pipeline.
type Report struct {
	ExecutionID string
	Pipeline    string
	Status      Status
	Started     time.Time
	Finished    time.Time
	Stages      []StageReport
	// Artifacts holds every location committed during the execution.
	Artifacts map[string]pipeline.Location
	// Exports holds the values published by deploy actions.
	Exports map[string]string
}

// StageReport lists the actions of a stage that was started.
type StageReport struct {
	Name    string
	Index   int
	Actions []ActionReport
}

// ActionReport is the outcome of one action.
type ActionReport struct {
	Name     string
	Kind     pipeline.ActionKind
	Status   Status
	Err      error
	Started  time.Time
	Finished time.Time
	Outputs  map[string]pipeline.Location
	Exports  map[string]string
}

// Executed returns the names of every action that was started, in stage
// order.
func (r *Report) Executed() []string {
	var names []string
	for _, st := range r.Stages {
		for _, a := range st.Actions {
			names = append(names, a.Name)
		}
	}
	return names
}

// Action returns the report of the named action, if it was started.
func (r *Report) Action(name string) (ActionReport, bool) {
	for _, st := range r.Stages {
		for _, a := range st.Actions {
			if a.Name == name {
				return a, true
			}
		}
	}
	return ActionReport{}, false
}
