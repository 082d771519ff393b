// Package persistence provides the data storage abstraction for workflows,
// executions, test cases and test runs.
package persistence

import (
	"context"
	"time"

	"github.com/flowprobe/flowprobe/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	TestCaseRepository() TestCaseRepository
	TestRunRepository() TestRunRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores workflow definitions. Lookups return (nil, nil)
// when no workflow exists for the id.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ExecutionPatch carries the optional fields applied together with an
// execution status transition.
type ExecutionPatch struct {
	EngineExecutionID *string
	Error             *string
	CompletedAt       *time.Time
}

// ExecutionRepository stores execution records. Creation is append-only;
// status updates are compare-and-set so two concurrent completions cannot
// race to different terminal states.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error)

	// TransitionStatus atomically moves the execution to the target status if
	// its current status is one of expect. Returns ErrStatusConflict when the
	// current status does not match.
	TransitionStatus(ctx context.Context, id string, expect []models.ExecutionStatus, to models.ExecutionStatus, patch ExecutionPatch) error
}

type TestCaseRepository interface {
	TestCases(ctx context.Context) ([]*models.TestCase, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*models.TestCase, error)
	GetByID(ctx context.Context, id string) (*models.TestCase, error)
	Save(ctx context.Context, testCase *models.TestCase) error
	Delete(ctx context.Context, id string) error

	// UpdateLastRun refreshes the denormalized last-run cache on the test case.
	UpdateLastRun(ctx context.Context, id string, at time.Time, status models.TestRunStatus) error
}

// TestRunPatch carries the optional fields applied together with a test run
// status transition.
type TestRunPatch struct {
	Summary     *models.RunSummary
	Error       *string
	CompletedAt *time.Time
}

// TestRunRepository stores test runs and their step results.
type TestRunRepository interface {
	// Create persists a new run. When the run references a test case and that
	// test case already has a run in a pending or running state, Create fails
	// with an ActiveRunError; the single-active-run invariant is enforced at
	// the storage layer, not by a read-then-write.
	Create(ctx context.Context, run *models.TestRun) error

	GetByID(ctx context.Context, id string) (*models.TestRun, error)
	ListByTestCase(ctx context.Context, testCaseID string) ([]*models.TestRun, error)
	Delete(ctx context.Context, id string) error

	// TransitionStatus atomically moves the run to the target status if its
	// current status is one of expect. Returns ErrStatusConflict otherwise.
	TransitionStatus(ctx context.Context, id string, expect []models.TestRunStatus, to models.TestRunStatus, patch TestRunPatch) error

	// AppendStepResult stores one step result for a run. Results are exposed
	// by StepResults in step-declared order regardless of insertion order.
	AppendStepResult(ctx context.Context, result *models.StepResult) error
	StepResults(ctx context.Context, runID string) ([]models.StepResult, error)
}
