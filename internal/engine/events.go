package engine

import (
	"context"
	"time"
)

// EventType names a point in the lifecycle of an execution.
type EventType string

const (
	PipelineStarted  EventType = "pipeline_started"
	PipelineFinished EventType = "pipeline_finished"
	StageStarted     EventType = "stage_started"
	StageFinished    EventType = "stage_finished"
	ActionStarted    EventType = "action_started"
	ActionFinished   EventType = "action_finished"
)

// Event is emitted to the Observer as an execution progresses.
type Event struct {
	Type        EventType `json:"type"`
	ExecutionID string    `json:"execution_id"`
	Pipeline    string    `json:"pipeline"`
	Stage       string    `json:"stage,omitempty"`
	Action      string    `json:"action,omitempty"`
	Status      string    `json:"status,omitempty"`
	Error       string    `json:"error,omitempty"`
	Time        time.Time `json:"time"`
}

// Observer receives execution events. Notify is called from the goroutines
// running actions and must be safe for concurrent use.
type Observer interface {
	Notify(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

// Notify implements Observer.
func (f ObserverFunc) Notify(ctx context.Context, e Event) { f(ctx, e) }
