package store

import (
	"context"
	"time"

	"github.com/specialistvlad/cdflow/internal/engine"
)

// RunRecord is one finished pipeline execution.
type RunRecord struct {
	ExecutionID string    `json:"execution_id" db:"execution_id"`
	Pipeline    string    `json:"pipeline" db:"pipeline"`
	Status      string    `json:"status" db:"status"`
	Error       string    `json:"error,omitempty" db:"error"`
	Actions     int       `json:"actions" db:"actions"`
	StartedAt   time.Time `json:"started_at" db:"-"`
	FinishedAt  time.Time `json:"finished_at" db:"-"`
}

type runRow struct {
	RunRecord
	Started  int64 `db:"started_at"`
	Finished int64 `db:"finished_at"`
}

// RecordRun stores the outcome of an execution.
func (s *Store) RecordRun(ctx context.Context, report *engine.Report, runErr error) error {
	rec := RunRecord{
		ExecutionID: report.ExecutionID,
		Pipeline:    report.Pipeline,
		Status:      string(report.Status),
		Actions:     len(report.Executed()),
		StartedAt:   report.Started,
		FinishedAt:  report.Finished,
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO runs (execution_id, pipeline, status, error, actions, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ExecutionID, rec.Pipeline, rec.Status, rec.Error, rec.Actions,
		rec.StartedAt.UnixNano(), rec.FinishedAt.UnixNano())
	return err
}

// RecentRuns returns up to limit runs, newest first. An empty pipeline name
// matches every pipeline.
func (s *Store) RecentRuns(ctx context.Context, pipeline string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, `
SELECT execution_id, pipeline, status, error, actions, started_at, finished_at
FROM runs
WHERE (? = '' OR pipeline = ?)
ORDER BY started_at DESC
LIMIT ?`, pipeline, pipeline, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RunRecord, len(rows))
	for i, r := range rows {
		rec := r.RunRecord
		rec.StartedAt = time.Unix(0, r.Started).UTC()
		rec.FinishedAt = time.Unix(0, r.Finished).UTC()
		out[i] = rec
	}
	return out, nil
}
