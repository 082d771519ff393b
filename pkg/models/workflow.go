// Package models defines the core domain models for workflow triggering and test orchestration.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft  WorkflowStatus = "draft"  // Editable, not triggerable
	WorkflowStatusActive WorkflowStatus = "active" // Accepts webhook and scheduled triggers
	WorkflowStatusPaused WorkflowStatus = "paused" // Temporarily not triggerable
)

// Workflow represents an automated multi-step workflow owned by an organization.
// Authoring happens elsewhere; this core only reads workflows to trigger and test them.
type Workflow struct {
	ID               string         `json:"id"`
	Name             string         `json:"name"                         validate:"required,min=3"`
	Status           WorkflowStatus `json:"status"                       validate:"required"`
	Steps            []WorkflowStep `json:"steps"`
	WorkerID         string         `json:"worker_id,omitempty"`
	EngineWorkflowID *string        `json:"engine_workflow_id,omitempty"` // Reference into the external execution engine
	Schedule         string         `json:"schedule,omitempty"`           // Optional cron expression for scheduled triggers
	TriggerSchema    map[string]any `json:"trigger_schema,omitempty"`     // Optional JSON schema for inbound trigger payloads
	Metadata         map[string]any `json:"metadata,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// WorkflowStep is one declared step of a workflow. Order is the authoritative
// execution and display sequence.
type WorkflowStep struct {
	ID    string `json:"id"   validate:"required"`
	Name  string `json:"name"`
	Order int    `json:"order"`
}

// IsTriggerable reports whether the workflow currently accepts external triggers.
func (w *Workflow) IsTriggerable() bool {
	return w.Status == WorkflowStatusActive
}

// StepByID returns the declared step with the given id.
func (w *Workflow) StepByID(stepID string) (WorkflowStep, bool) {
	for _, step := range w.Steps {
		if step.ID == stepID {
			return step, true
		}
	}

	return WorkflowStep{}, false
}

// HasEngine reports whether the workflow is bound to an external execution engine.
func (w *Workflow) HasEngine() bool {
	return w.EngineWorkflowID != nil && *w.EngineWorkflowID != ""
}
