package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/specialistvlad/cdflow/internal/engine"
	"github.com/stretchr/testify/assert"
)

func TestEventPayload(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got := eventPayload(engine.Event{
		Type: engine.ActionFinished, ExecutionID: "e1", Pipeline: "RequestLoggerPipeline",
		Stage: "Verify", Action: "Lambda_Verify", Status: "failed", Time: at,
	})
	want := map[string]any{
		"type":         "action_finished",
		"execution_id": "e1",
		"pipeline":     "RequestLoggerPipeline",
		"stage":        "Verify",
		"action":       "Lambda_Verify",
		"status":       "failed",
		"time":         "2024-05-01T12:00:00Z",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("eventPayload() mismatch (-want +got):\n%s", diff)
	}

	minimal := eventPayload(engine.Event{Type: engine.PipelineStarted, Pipeline: "p", Time: at})
	assert.NotContains(t, minimal, "stage")
	assert.NotContains(t, minimal, "error")
}

func TestFanout(t *testing.T) {
	var got []string
	rec := func(name string) engine.Observer {
		return engine.ObserverFunc(func(_ context.Context, e engine.Event) {
			got = append(got, name+":"+string(e.Type))
		})
	}
	f := Fanout{rec("a"), nil, rec("b"), Log{}}
	f.Notify(context.Background(), engine.Event{Type: engine.StageStarted})
	assert.Equal(t, []string{"a:stage_started", "b:stage_started"}, got)
}

func TestDial_RejectsRelativeURL(t *testing.T) {
	_, err := Dial(context.Background(), Config{URL: "/socket.io"})
	assert.ErrorContains(t, err, "must be absolute")
}
