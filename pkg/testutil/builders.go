// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/flowprobe/flowprobe/pkg/models"
)

// CreateTestWorkflow creates an active single-step workflow with default
// values that can be overridden.
func CreateTestWorkflow(overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Now().UTC()
	workflow := &models.Workflow{
		ID:     uuid.New().String(),
		Name:   "Test Workflow",
		Status: models.WorkflowStatusActive,
		Steps: []models.WorkflowStep{
			{ID: "step1", Name: "Step One", Order: 1},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// WithID sets the workflow id.
func WithID(id string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.ID = id
	}
}

// WithName sets the workflow name.
func WithName(name string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Name = name
	}
}

// WithStatus sets the workflow status.
func WithStatus(status models.WorkflowStatus) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Status = status
	}
}

// WithSchedule sets the workflow's cron expression.
func WithSchedule(expr string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Schedule = expr
	}
}

// WithSteps replaces the declared steps.
func WithSteps(steps ...models.WorkflowStep) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.Steps = steps
	}
}

// WithEngineWorkflowID binds the workflow to an external engine workflow.
func WithEngineWorkflowID(engineID string) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.EngineWorkflowID = &engineID
	}
}

// WithTriggerSchema sets the inbound payload schema.
func WithTriggerSchema(schema map[string]any) func(*models.Workflow) {
	return func(w *models.Workflow) {
		w.TriggerSchema = schema
	}
}

// CreateTestCase creates an active test case for the given workflow with
// default values that can be overridden.
func CreateTestCase(workflowID string, overrides ...func(*models.TestCase)) *models.TestCase {
	now := time.Now().UTC()
	testCase := &models.TestCase{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Name:       "Test Case",
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	for _, override := range overrides {
		override(testCase)
	}

	return testCase
}

// WithMockStepInputs sets the simulated step outputs.
func WithMockStepInputs(inputs map[string]any) func(*models.TestCase) {
	return func(tc *models.TestCase) {
		tc.MockStepInputs = inputs
	}
}

// WithAssertions sets the declared assertions.
func WithAssertions(assertions ...models.Assertion) func(*models.TestCase) {
	return func(tc *models.TestCase) {
		tc.Assertions = assertions
	}
}

// Inactive marks the test case inactive.
func Inactive() func(*models.TestCase) {
	return func(tc *models.TestCase) {
		tc.IsActive = false
	}
}
