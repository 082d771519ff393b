package models

import "time"

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusSucceeded ExecutionStatus = "succeeded"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusSucceeded || s == ExecutionStatusFailed
}

// TriggerType identifies how an execution was initiated.
type TriggerType string

const (
	TriggerTypeWebhook   TriggerType = "webhook"
	TriggerTypeManual    TriggerType = "manual"
	TriggerTypeScheduled TriggerType = "scheduled"
)

// Execution records one externally-triggered invocation of a workflow.
// Created exactly once per trigger; status transitions are monotonic.
type Execution struct {
	ID                string          `json:"id"`
	WorkflowID        string          `json:"workflow_id"`
	WorkerID          string          `json:"worker_id,omitempty"`
	Status            ExecutionStatus `json:"status"`
	TriggerType       TriggerType     `json:"trigger_type"`
	TriggerData       map[string]any  `json:"trigger_data,omitempty"`
	EngineExecutionID *string         `json:"engine_execution_id,omitempty"`
	StartedAt         time.Time       `json:"started_at"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	Error             *string         `json:"error,omitempty"`
}
