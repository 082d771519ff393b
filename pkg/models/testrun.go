package models

import "time"

// TestRunStatus represents the lifecycle state of a test run.
//
// pending -> running -> passed | failed | error
// pending | running -> cancelled
type TestRunStatus string

const (
	TestRunStatusPending   TestRunStatus = "pending"
	TestRunStatusRunning   TestRunStatus = "running"
	TestRunStatusPassed    TestRunStatus = "passed"
	TestRunStatusFailed    TestRunStatus = "failed"
	TestRunStatusError     TestRunStatus = "error"
	TestRunStatusCancelled TestRunStatus = "cancelled"
)

// IsTerminal reports whether the status admits no further transitions.
func (s TestRunStatus) IsTerminal() bool {
	switch s {
	case TestRunStatusPassed, TestRunStatusFailed, TestRunStatusError, TestRunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsActive reports whether the run still occupies the single-active-run slot
// of its test case.
func (s TestRunStatus) IsActive() bool {
	return s == TestRunStatusPending || s == TestRunStatusRunning
}

// StepResultStatus represents the outcome of one executed step within a test run.
type StepResultStatus string

const (
	StepResultStatusPassed  StepResultStatus = "passed"
	StepResultStatusFailed  StepResultStatus = "failed"
	StepResultStatusSkipped StepResultStatus = "skipped" // No assertion targeted the step
	StepResultStatusError   StepResultStatus = "error"
)

// StepResult records the outcome of one workflow step executed during a test run.
// Append-only per run; Order is the step's declared order, which is the
// authoritative display sequence regardless of arrival order.
type StepResult struct {
	TestRunID      string           `json:"test_run_id"`
	StepID         string           `json:"step_id"`
	Order          int              `json:"order"`
	Status         StepResultStatus `json:"status"`
	ActualOutput   any              `json:"actual_output,omitempty"`
	ExpectedOutput any              `json:"expected_output,omitempty"`
	Message        string           `json:"message,omitempty"`
	DurationMs     int64            `json:"duration_ms"`
	Error          *string          `json:"error,omitempty"`
	RecordedAt     time.Time        `json:"recorded_at"`
}

// RunSummary holds the pass/fail counts of a completed test run.
type RunSummary struct {
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errored int `json:"errored"`
}

// TestRun records one simulated invocation of a workflow against mock data.
type TestRun struct {
	ID          string        `json:"id"`
	TestCaseID  *string       `json:"test_case_id,omitempty"` // nil for ad hoc runs
	WorkflowID  string        `json:"workflow_id"`
	Status      TestRunStatus `json:"status"`
	Assertions  []Assertion   `json:"assertions"` // Snapshot taken at run start
	StepResults []StepResult  `json:"step_results,omitempty"`
	Summary     RunSummary    `json:"summary"`
	Error       *string       `json:"error,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}

// AssertionsForTarget returns the snapshotted assertions aimed at a target.
func (r *TestRun) AssertionsForTarget(target string) []Assertion {
	var matched []Assertion

	for _, a := range r.Assertions {
		if a.Target == target {
			matched = append(matched, a)
		}
	}

	return matched
}
