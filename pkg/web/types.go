// Package web provides the REST API for test cases, test runs and execution
// records.
package web

import "github.com/flowprobe/flowprobe/pkg/models"

// AssertionRequest is one declared expectation in a create or update request.
// Assertions submitted without an id are assigned one server-side.
type AssertionRequest struct {
	ID        string               `json:"id,omitempty"`
	Target    string               `json:"target"              validate:"required"`
	Kind      models.AssertionKind `json:"kind"                validate:"required,oneof=equals contains exists custom"`
	Expected  any                  `json:"expected,omitempty"`
	Predicate string               `json:"predicate,omitempty" validate:"omitempty,oneof=gt gte lt lte ne"`
}

// CreateTestCaseRequest represents the request body for creating a test case.
type CreateTestCaseRequest struct {
	WorkflowID      string             `json:"workflow_id"       validate:"required"`
	Name            string             `json:"name"              validate:"required,min=3"`
	MockTriggerData map[string]any     `json:"mock_trigger_data,omitempty"`
	MockStepInputs  map[string]any     `json:"mock_step_inputs,omitempty"`
	ExpectedOutputs map[string]any     `json:"expected_outputs,omitempty"`
	Assertions      []AssertionRequest `json:"assertions,omitempty" validate:"dive"`
	Tags            []string           `json:"tags,omitempty"`
	IsActive        *bool              `json:"is_active,omitempty"`
}

// UpdateTestCaseRequest represents the request body for updating a test case.
// All fields are optional to support partial updates.
type UpdateTestCaseRequest struct {
	Name            *string            `json:"name,omitempty" validate:"omitempty,min=3"`
	MockTriggerData map[string]any     `json:"mock_trigger_data,omitempty"`
	MockStepInputs  map[string]any     `json:"mock_step_inputs,omitempty"`
	ExpectedOutputs map[string]any     `json:"expected_outputs,omitempty"`
	Assertions      []AssertionRequest `json:"assertions,omitempty" validate:"dive"`
	Tags            []string           `json:"tags,omitempty"`
	IsActive        *bool              `json:"is_active,omitempty"`
}

// RunAdHocRequest represents the request body for running an unsaved test
// definition against a workflow.
type RunAdHocRequest struct {
	WorkflowID     string             `json:"workflow_id" validate:"required"`
	MockStepInputs map[string]any     `json:"mock_step_inputs,omitempty"`
	Assertions     []AssertionRequest `json:"assertions,omitempty" validate:"dive"`
}

// TestRunResponse decorates a run with denormalized workflow and test case
// summaries for display.
type TestRunResponse struct {
	*models.TestRun

	WorkflowName string `json:"workflow_name,omitempty"`
	TestCaseName string `json:"test_case_name,omitempty"`
}

func toModelAssertions(requests []AssertionRequest) []models.Assertion {
	if requests == nil {
		return nil
	}

	assertions := make([]models.Assertion, 0, len(requests))
	for _, r := range requests {
		assertions = append(assertions, models.Assertion{
			ID:        r.ID,
			Target:    r.Target,
			Kind:      r.Kind,
			Expected:  r.Expected,
			Predicate: r.Predicate,
		})
	}

	return assertions
}
