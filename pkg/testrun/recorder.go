// Package testrun drives test runs: the run state machine, the per-step
// result recorder and the orchestration service that ties them to the engine.
package testrun

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowprobe/flowprobe/pkg/assertion"
	"github.com/flowprobe/flowprobe/pkg/eventbus"
	"github.com/flowprobe/flowprobe/pkg/events"
	"github.com/flowprobe/flowprobe/pkg/log"
	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence"
)

// Recorder persists one StepResult per executed workflow step. Results carry
// the step's declared order so display order never depends on arrival order.
type Recorder struct {
	runs      persistence.TestRunRepository
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewRecorder(runs persistence.TestRunRepository, publisher eventbus.EventPublisher) *Recorder {
	return &Recorder{
		runs:      runs,
		publisher: publisher,
		logger:    log.WithModule("step_recorder"),
	}
}

// Record evaluates the run's snapshotted assertions for the step and stores
// the result. For runs already in passed, failed or error state the call is a
// logged no-op. Cancelled runs still accept late-arriving results for
// diagnostics, without reopening the run.
func (r *Recorder) Record(ctx context.Context, runID string, step models.WorkflowStep, output any, durationMs int64) (*models.StepResult, error) {
	run, err := r.runs.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load test run %s: %w", runID, err)
	}

	if run == nil {
		return nil, persistence.ErrTestRunNotFound
	}

	if run.Status.IsTerminal() && run.Status != models.TestRunStatusCancelled {
		r.logger.WarnContext(ctx, "Ignoring step result for terminal test run",
			"test_run_id", runID, "step_id", step.ID, "run_status", run.Status)

		return nil, nil
	}

	if run.Status == models.TestRunStatusCancelled {
		r.logger.InfoContext(ctx, "Recording late step result for cancelled test run",
			"test_run_id", runID, "step_id", step.ID)
	}

	result := r.evaluate(run, step, output, durationMs)

	if err := r.runs.AppendStepResult(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to store step result: %w", err)
	}

	r.publishRecorded(ctx, run, result)

	return result, nil
}

// evaluate builds the StepResult for a step output against the run's
// assertion snapshot. Steps no assertion targets are stored as skipped, with
// the output kept for inspection.
func (r *Recorder) evaluate(run *models.TestRun, step models.WorkflowStep, output any, durationMs int64) *models.StepResult {
	result := &models.StepResult{
		TestRunID:    run.ID,
		StepID:       step.ID,
		Order:        step.Order,
		ActualOutput: output,
		DurationMs:   durationMs,
		RecordedAt:   time.Now().UTC(),
	}

	assertions := run.AssertionsForTarget(step.ID)
	if len(assertions) == 0 {
		result.Status = models.StepResultStatusSkipped

		return result
	}

	result.ExpectedOutput = assertions[0].Expected
	result.Status = models.StepResultStatusPassed

	for _, a := range assertions {
		verdict, err := assertion.Evaluate(a, output, true)
		if err != nil {
			detail := err.Error()
			result.Status = models.StepResultStatusError
			result.Error = &detail
			result.Message = fmt.Sprintf("assertion %s could not be evaluated", a.ID)

			return result
		}

		if !verdict.Passed {
			result.Status = models.StepResultStatusFailed
			result.Message = fmt.Sprintf("step %s: %s", step.ID, verdict.Message)

			return result
		}
	}

	return result
}

func (r *Recorder) publishRecorded(ctx context.Context, run *models.TestRun, result *models.StepResult) {
	if r.publisher == nil {
		return
	}

	event := events.StepResultRecorded{
		BaseEvent: events.BaseEvent{
			ID:         uuid.New().String(),
			Type:       events.StepResultRecordedEvent,
			Timestamp:  time.Now().UTC(),
			WorkflowID: run.WorkflowID,
		},
		TestRunID: run.ID,
		StepID:    result.StepID,
		Status:    result.Status,
		Message:   result.Message,
	}

	if err := r.publisher.Publish(ctx, run.ID, event); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish step result event",
			"test_run_id", run.ID, "step_id", result.StepID, "error", err)
	}
}
