// Package events defines the lifecycle notifications published by the trigger
// dispatcher and the test execution service.
package events

import (
	"time"

	"github.com/flowprobe/flowprobe/pkg/models"
)

type EventType string

// Kafka topic.
const Topic = "flowprobe.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Execution lifecycle events.
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionSucceededEvent EventType = "execution.succeeded"
	ExecutionFailedEvent    EventType = "execution.failed"

	// Test run lifecycle events.
	TestRunStartedEvent   EventType = "testrun.started"
	TestRunFinishedEvent  EventType = "testrun.finished"
	TestRunCancelledEvent EventType = "testrun.cancelled"

	// Step result events.
	StepResultRecordedEvent EventType = "testrun.step_result.recorded"
)

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id"`
	WorkerID   string         `json:"worker_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID string             `json:"execution_id"`
	TriggerType models.TriggerType `json:"trigger_type"`
	TriggerData map[string]any     `json:"trigger_data,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionSucceeded struct {
	BaseEvent

	ExecutionID       string `json:"execution_id"`
	EngineExecutionID string `json:"engine_execution_id,omitempty"`
}

func (e ExecutionSucceeded) GetType() EventType {
	return ExecutionSucceededEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Error       string `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type TestRunStarted struct {
	BaseEvent

	TestRunID  string `json:"test_run_id"`
	TestCaseID string `json:"test_case_id,omitempty"`
}

func (e TestRunStarted) GetType() EventType {
	return TestRunStartedEvent
}

type TestRunFinished struct {
	BaseEvent

	TestRunID  string               `json:"test_run_id"`
	TestCaseID string               `json:"test_case_id,omitempty"`
	Status     models.TestRunStatus `json:"status"`
	Summary    models.RunSummary    `json:"summary"`
	Duration   time.Duration        `json:"duration"`
}

func (e TestRunFinished) GetType() EventType {
	return TestRunFinishedEvent
}

type TestRunCancelled struct {
	BaseEvent

	TestRunID  string `json:"test_run_id"`
	TestCaseID string `json:"test_case_id,omitempty"`
}

func (e TestRunCancelled) GetType() EventType {
	return TestRunCancelledEvent
}

type StepResultRecorded struct {
	BaseEvent

	TestRunID string                  `json:"test_run_id"`
	StepID    string                  `json:"step_id"`
	Status    models.StepResultStatus `json:"status"`
	Message   string                  `json:"message,omitempty"`
}

func (e StepResultRecorded) GetType() EventType {
	return StepResultRecordedEvent
}
