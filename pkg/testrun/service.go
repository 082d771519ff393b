package testrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowprobe/flowprobe/pkg/assertion"
	"github.com/flowprobe/flowprobe/pkg/engine"
	"github.com/flowprobe/flowprobe/pkg/eventbus"
	"github.com/flowprobe/flowprobe/pkg/events"
	"github.com/flowprobe/flowprobe/pkg/log"
	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/otelhelper"
	"github.com/flowprobe/flowprobe/pkg/persistence"
)

// ErrTestCaseInactive is returned when a run is requested for a deactivated
// test case.
var ErrTestCaseInactive = errors.New("test case is not active")

// Service orchestrates test runs: it owns the run state machine and drives
// the recorder and the assertion evaluator against a workflow's steps.
type Service struct {
	persistence persistence.Persistence
	engine      engine.Client
	recorder    *Recorder
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
	workerID    string
}

// NewService builds the test execution service. engineClient may be nil; runs
// then execute against a local simulator fed by the test case's mock inputs.
func NewService(
	p persistence.Persistence,
	engineClient engine.Client,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	workerID string,
) *Service {
	return &Service{
		persistence: p,
		engine:      engineClient,
		recorder:    NewRecorder(p.TestRunRepository(), publisher),
		publisher:   publisher,
		tracer:      tracer,
		logger:      log.WithModule("testrun_service"),
		workerID:    workerID,
	}
}

// RunTest executes the test case synchronously and returns the finished run.
// A second request while the test case has a pending or running run fails
// with an ActiveRunError naming the active run.
func (s *Service) RunTest(ctx context.Context, testCaseID string) (*models.TestRun, error) {
	ctx, span := otelhelper.StartSpan(ctx, s.tracer, "testrun.run",
		attribute.String(otelhelper.TestCaseIDKey, testCaseID),
	)
	defer span.End()

	testCase, err := s.persistence.TestCaseRepository().GetByID(ctx, testCaseID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load test case %s: %w", testCaseID, err)
	}

	if testCase == nil {
		return nil, persistence.ErrTestCaseNotFound
	}

	if !testCase.IsActive {
		return nil, fmt.Errorf("test case %s: %w", testCaseID, ErrTestCaseInactive)
	}

	workflow, err := s.loadWorkflow(ctx, testCase.WorkflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	run := &models.TestRun{
		ID:         uuid.Must(uuid.NewV7()).String(),
		TestCaseID: &testCase.ID,
		WorkflowID: workflow.ID,
		Status:     models.TestRunStatusPending,
		Assertions: snapshotAssertions(testCase.Assertions),
		StartedAt:  time.Now().UTC(),
	}

	if err := s.persistence.TestRunRepository().Create(ctx, run); err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.TestRunIDKey, run.ID))
	s.publish(ctx, run, events.TestRunStarted{
		BaseEvent:  s.baseEvent(events.TestRunStartedEvent, run.WorkflowID),
		TestRunID:  run.ID,
		TestCaseID: testCase.ID,
	})

	run, err = s.execute(ctx, workflow, testCase, run)
	if err != nil {
		otelhelper.SetError(span, err)

		return run, err
	}

	s.updateLastRun(ctx, testCase.ID, run)

	return run, nil
}

// RunAdHoc executes an unsaved test definition against a workflow. Ad hoc
// runs reference no test case and bypass the single-active-run constraint.
func (s *Service) RunAdHoc(ctx context.Context, workflowID string, mockStepInputs map[string]any, assertions []models.Assertion) (*models.TestRun, error) {
	workflow, err := s.loadWorkflow(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	testCase := &models.TestCase{
		WorkflowID:     workflowID,
		MockStepInputs: mockStepInputs,
		Assertions:     assertions,
		IsActive:       true,
	}

	run := &models.TestRun{
		ID:         uuid.Must(uuid.NewV7()).String(),
		WorkflowID: workflow.ID,
		Status:     models.TestRunStatusPending,
		Assertions: snapshotAssertions(assertions),
		StartedAt:  time.Now().UTC(),
	}

	if err := s.persistence.TestRunRepository().Create(ctx, run); err != nil {
		return nil, err
	}

	return s.execute(ctx, workflow, testCase, run)
}

// CancelTestRun marks an active run cancelled. Cancelling a run that is
// already terminal is a no-op that leaves its status unchanged.
func (s *Service) CancelTestRun(ctx context.Context, runID string) (*models.TestRun, error) {
	runs := s.persistence.TestRunRepository()

	run, err := runs.GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load test run %s: %w", runID, err)
	}

	if run == nil {
		return nil, persistence.ErrTestRunNotFound
	}

	if run.Status.IsTerminal() {
		return run, nil
	}

	now := time.Now().UTC()

	err = runs.TransitionStatus(ctx, runID,
		[]models.TestRunStatus{models.TestRunStatusPending, models.TestRunStatusRunning},
		models.TestRunStatusCancelled,
		persistence.TestRunPatch{CompletedAt: &now})
	if err != nil {
		// The run raced to a terminal state; report what it settled on.
		if persistence.IsStatusConflict(err) {
			return runs.GetByID(ctx, runID)
		}

		return nil, fmt.Errorf("failed to cancel test run %s: %w", runID, err)
	}

	run.Status = models.TestRunStatusCancelled
	run.CompletedAt = &now

	testCaseID := ""
	if run.TestCaseID != nil {
		testCaseID = *run.TestCaseID
		s.updateLastRun(ctx, testCaseID, run)
	}

	s.publish(ctx, run, events.TestRunCancelled{
		BaseEvent:  s.baseEvent(events.TestRunCancelledEvent, run.WorkflowID),
		TestRunID:  run.ID,
		TestCaseID: testCaseID,
	})

	s.logger.InfoContext(ctx, "Test run cancelled", "test_run_id", runID)

	return run, nil
}

// GetTestRun loads a run with its step results in step-declared order.
func (s *Service) GetTestRun(ctx context.Context, runID string) (*models.TestRun, error) {
	run, err := s.persistence.TestRunRepository().GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load test run %s: %w", runID, err)
	}

	if run == nil {
		return nil, persistence.ErrTestRunNotFound
	}

	results, err := s.persistence.TestRunRepository().StepResults(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load step results for run %s: %w", runID, err)
	}

	run.StepResults = results

	return run, nil
}

// GetStepResults returns a run's step results in step-declared order.
func (s *Service) GetStepResults(ctx context.Context, runID string) ([]models.StepResult, error) {
	run, err := s.persistence.TestRunRepository().GetByID(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to load test run %s: %w", runID, err)
	}

	if run == nil {
		return nil, persistence.ErrTestRunNotFound
	}

	return s.persistence.TestRunRepository().StepResults(ctx, runID)
}

// execute drives the run through the step loop to its terminal state.
func (s *Service) execute(ctx context.Context, workflow *models.Workflow, testCase *models.TestCase, run *models.TestRun) (*models.TestRun, error) {
	runs := s.persistence.TestRunRepository()

	err := runs.TransitionStatus(ctx, run.ID,
		[]models.TestRunStatus{models.TestRunStatusPending},
		models.TestRunStatusRunning,
		persistence.TestRunPatch{})
	if err != nil {
		// Cancelled before dispatch; nothing ran.
		if persistence.IsStatusConflict(err) {
			return runs.GetByID(ctx, run.ID)
		}

		return nil, fmt.Errorf("failed to start test run %s: %w", run.ID, err)
	}

	run.Status = models.TestRunStatusRunning

	client := s.engine
	engineWorkflowID := workflow.ID

	if client == nil || !workflow.HasEngine() {
		client = engine.NewSimulator(testCase.MockStepInputs)
	} else {
		engineWorkflowID = *workflow.EngineWorkflowID
	}

	var (
		summary     models.RunSummary
		finalOutput any
		hasOutput   bool
		runFault    *string
	)

	for _, step := range orderedSteps(workflow) {
		cancelled, err := s.runCancelled(ctx, run.ID)
		if err != nil {
			return run, err
		}

		if cancelled {
			s.logger.InfoContext(ctx, "Test run cancelled mid-flight, stopping step loop",
				"test_run_id", run.ID, "next_step", step.ID)

			return runs.GetByID(ctx, run.ID)
		}

		started := time.Now()
		output, stepErr := client.ExecuteStep(ctx, engineWorkflowID, step.ID, testCase.MockStepInputs[step.ID])
		durationMs := time.Since(started).Milliseconds()

		if stepErr != nil {
			detail := fmt.Sprintf("step %s: %v", step.ID, stepErr)
			runFault = &detail
			summary.Errored++

			s.recordStepError(ctx, run.ID, step, stepErr, durationMs)

			break
		}

		finalOutput = output
		hasOutput = true

		result, err := s.recorder.Record(ctx, run.ID, step, output, durationMs)
		if err != nil {
			return run, fmt.Errorf("failed to record step result: %w", err)
		}

		if result == nil {
			// The run went terminal underneath us.
			return runs.GetByID(ctx, run.ID)
		}

		switch result.Status {
		case models.StepResultStatusPassed:
			summary.Passed++
		case models.StepResultStatusFailed:
			summary.Failed++
		case models.StepResultStatusSkipped:
			summary.Skipped++
		case models.StepResultStatusError:
			summary.Errored++
			detail := "assertion evaluation failed for step " + step.ID

			if result.Error != nil {
				detail = *result.Error
			}

			runFault = &detail
		}
	}

	if runFault == nil {
		s.evaluateFinalAssertions(ctx, run, finalOutput, hasOutput, &summary, &runFault)
	}

	return s.finish(ctx, run, summary, runFault)
}

// evaluateFinalAssertions applies the assertions targeting the run's final
// output rather than an individual step.
func (s *Service) evaluateFinalAssertions(ctx context.Context, run *models.TestRun, finalOutput any, hasOutput bool, summary *models.RunSummary, runFault **string) {
	for _, a := range run.AssertionsForTarget(models.AssertionTargetFinal) {
		verdict, err := assertion.Evaluate(a, finalOutput, hasOutput)
		if err != nil {
			detail := fmt.Sprintf("final assertion %s: %v", a.ID, err)
			*runFault = &detail
			summary.Errored++

			return
		}

		if verdict.Passed {
			summary.Passed++
		} else {
			summary.Failed++
			s.logger.InfoContext(ctx, "Final assertion failed",
				"test_run_id", run.ID, "assertion_id", a.ID, "message", verdict.Message)
		}
	}
}

// finish moves the run to its terminal state. An engine or evaluation fault
// yields error; a plain assertion mismatch yields failed, which is a normal
// outcome rather than a system fault.
func (s *Service) finish(ctx context.Context, run *models.TestRun, summary models.RunSummary, runFault *string) (*models.TestRun, error) {
	runs := s.persistence.TestRunRepository()

	status := models.TestRunStatusPassed
	if summary.Failed > 0 {
		status = models.TestRunStatusFailed
	}

	if runFault != nil {
		status = models.TestRunStatusError
	}

	now := time.Now().UTC()

	err := runs.TransitionStatus(ctx, run.ID,
		[]models.TestRunStatus{models.TestRunStatusRunning},
		status,
		persistence.TestRunPatch{Summary: &summary, Error: runFault, CompletedAt: &now})
	if err != nil {
		// Lost the race against a cancellation; the cancelled state stands.
		if persistence.IsStatusConflict(err) {
			return runs.GetByID(ctx, run.ID)
		}

		return run, fmt.Errorf("failed to finish test run %s: %w", run.ID, err)
	}

	run.Status = status
	run.Summary = summary
	run.Error = runFault
	run.CompletedAt = &now

	testCaseID := ""
	if run.TestCaseID != nil {
		testCaseID = *run.TestCaseID
	}

	s.publish(ctx, run, events.TestRunFinished{
		BaseEvent:  s.baseEvent(events.TestRunFinishedEvent, run.WorkflowID),
		TestRunID:  run.ID,
		TestCaseID: testCaseID,
		Status:     status,
		Summary:    summary,
		Duration:   now.Sub(run.StartedAt),
	})

	s.logger.InfoContext(ctx, "Test run finished",
		"test_run_id", run.ID,
		"test_case_id", testCaseID,
		"status", status,
		"passed", summary.Passed,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"errored", summary.Errored)

	results, err := runs.StepResults(ctx, run.ID)
	if err == nil {
		run.StepResults = results
	}

	return run, nil
}

func (s *Service) recordStepError(ctx context.Context, runID string, step models.WorkflowStep, stepErr error, durationMs int64) {
	detail := stepErr.Error()
	result := &models.StepResult{
		TestRunID:  runID,
		StepID:     step.ID,
		Order:      step.Order,
		Status:     models.StepResultStatusError,
		DurationMs: durationMs,
		Error:      &detail,
		Message:    fmt.Sprintf("step %s could not be executed", step.ID),
		RecordedAt: time.Now().UTC(),
	}

	if err := s.persistence.TestRunRepository().AppendStepResult(ctx, result); err != nil {
		s.logger.ErrorContext(ctx, "Failed to store step error result",
			"test_run_id", runID, "step_id", step.ID, "error", err)
	}
}

func (s *Service) runCancelled(ctx context.Context, runID string) (bool, error) {
	run, err := s.persistence.TestRunRepository().GetByID(ctx, runID)
	if err != nil {
		return false, fmt.Errorf("failed to check test run %s: %w", runID, err)
	}

	if run == nil {
		return false, persistence.ErrTestRunNotFound
	}

	return run.Status == models.TestRunStatusCancelled, nil
}

func (s *Service) loadWorkflow(ctx context.Context, workflowID string) (*models.Workflow, error) {
	workflow, err := s.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	if workflow == nil {
		return nil, persistence.ErrWorkflowNotFound
	}

	return workflow, nil
}

// updateLastRun refreshes the test case's denormalized last-run cache;
// failures are logged, never propagated.
func (s *Service) updateLastRun(ctx context.Context, testCaseID string, run *models.TestRun) {
	at := run.StartedAt
	if run.CompletedAt != nil {
		at = *run.CompletedAt
	}

	if err := s.persistence.TestCaseRepository().UpdateLastRun(ctx, testCaseID, at, run.Status); err != nil {
		s.logger.WarnContext(ctx, "Failed to update test case last-run cache",
			"test_case_id", testCaseID, "error", err)
	}
}

func (s *Service) publish(ctx context.Context, run *models.TestRun, event eventbus.Event) {
	if s.publisher == nil {
		return
	}

	if err := s.publisher.Publish(ctx, run.ID, event); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish test run event",
			"test_run_id", run.ID, "event_type", event.GetType(), "error", err)
	}
}

func (s *Service) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	return events.BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		WorkerID:   s.workerID,
	}
}

// snapshotAssertions copies a test case's assertions into a run, assigning
// ids to any that lack one, so later edits to the test case cannot alter
// historical results.
func snapshotAssertions(assertions []models.Assertion) []models.Assertion {
	snapshot := make([]models.Assertion, len(assertions))
	copy(snapshot, assertions)

	for i := range snapshot {
		if snapshot[i].ID == "" {
			snapshot[i].ID = uuid.New().String()
		}
	}

	return snapshot
}

// orderedSteps returns the workflow's steps sorted by declared order.
func orderedSteps(workflow *models.Workflow) []models.WorkflowStep {
	steps := make([]models.WorkflowStep, len(workflow.Steps))
	copy(steps, workflow.Steps)

	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].Order < steps[j].Order
	})

	return steps
}
