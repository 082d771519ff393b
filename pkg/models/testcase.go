package models

import "time"

// AssertionKind selects the comparison an assertion performs.
type AssertionKind string

const (
	AssertionKindEquals   AssertionKind = "equals"
	AssertionKindContains AssertionKind = "contains"
	AssertionKindExists   AssertionKind = "exists"
	AssertionKindCustom   AssertionKind = "custom"
)

// AssertionTargetFinal targets the final output of a run rather than a single step.
const AssertionTargetFinal = "final"

// Assertion declares an expectation about a step's or run's output.
// Assertions are copied into a TestRun at start so later edits to the
// TestCase do not retroactively alter historical results.
type Assertion struct {
	ID       string        `json:"id"`
	Target   string        `json:"target"   validate:"required"`
	Kind     AssertionKind `json:"kind"     validate:"required,oneof=equals contains exists custom"`
	Expected any           `json:"expected,omitempty"`
	// Predicate holds the operator for custom assertions: gt, gte, lt, lte, ne.
	Predicate string `json:"predicate,omitempty"`
}

// TestCase describes a simulated invocation of a workflow against mock data.
type TestCase struct {
	ID              string         `json:"id"`
	WorkflowID      string         `json:"workflow_id"       validate:"required"`
	Name            string         `json:"name"              validate:"required,min=3"`
	MockTriggerData map[string]any `json:"mock_trigger_data,omitempty"`
	MockStepInputs  map[string]any `json:"mock_step_inputs,omitempty"`
	ExpectedOutputs map[string]any `json:"expected_outputs,omitempty"`
	Assertions      []Assertion    `json:"assertions"`
	Tags            []string       `json:"tags,omitempty"`
	IsActive        bool           `json:"is_active"`
	LastRunAt       *time.Time     `json:"last_run_at,omitempty"`
	LastRunStatus   *TestRunStatus `json:"last_run_status,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// AssertionsForTarget returns the assertions aimed at a given target, in declaration order.
func (tc *TestCase) AssertionsForTarget(target string) []Assertion {
	var matched []Assertion

	for _, a := range tc.Assertions {
		if a.Target == target {
			matched = append(matched, a)
		}
	}

	return matched
}
