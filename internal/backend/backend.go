// Package backend defines the contract between the stage sequencer and the
// systems that actually check out, build, deploy, and verify, along with a
// local implementation that runs everything on this machine.
package backend

import (
	"context"

	"github.com/specialistvlad/cdflow/internal/pipeline"
)

// Invocation is everything an action needs to run, already resolved by the
// sequencer.
type Invocation struct {
	ExecutionID string
	Pipeline    string
	Stage       string
	Action      *pipeline.Action
	// Inputs holds the location of every artifact the action reads,
	// including the template and bound artifacts of a deploy action.
	Inputs map[string]pipeline.Location
	// Parameters is the merged deployment input map of a deploy action.
	Parameters map[string]string
	// Environment holds static variables and resolved deferred references.
	Environment map[string]string
}

// Result is what a completed action hands back.
type Result struct {
	// Outputs maps every declared output artifact to where it was written.
	Outputs map[string]pipeline.Location
	// Exports are the named values published by a deploy action.
	Exports map[string]string
}

// Backend executes single actions.
type Backend interface {
	Execute(ctx context.Context, inv *Invocation) (*Result, error)
}

// Func adapts a plain function to Backend.
type Func func(ctx context.Context, inv *Invocation) (*Result, error)

// Execute implements Backend.
func (f Func) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	return f(ctx, inv)
}
