// Package engine talks to the external workflow engine that actually runs
// workflows. The dispatcher and the test execution service depend only on the
// Client interface, so deployments without an engine can use the Simulator.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Engine-reported execution statuses.
const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// Result is the engine's acknowledgement of a workflow execution. Status is
// the engine's own view: "running" for executions still in flight,
// "succeeded" or "failed" when the engine completed synchronously.
type Result struct {
	EngineExecutionID string         `json:"engine_execution_id"`
	Status            string         `json:"status"`
	Output            map[string]any `json:"output,omitempty"`
}

// Client launches workflows and individual steps on the engine.
type Client interface {
	// Execute starts a full workflow execution and returns the engine-side
	// execution reference.
	Execute(ctx context.Context, engineWorkflowID string, payload map[string]any) (*Result, error)

	// ExecuteStep runs a single step with the given input and returns the
	// step's actual output.
	ExecuteStep(ctx context.Context, engineWorkflowID, stepID string, input any) (any, error)
}

// Error is a failure reported by the engine. A zero StatusCode means the
// request never reached the engine (network fault, timeout).
type Error struct {
	StatusCode int
	Body       string
}

func (e *Error) Error() string {
	if e.StatusCode == 0 {
		return "engine unreachable"
	}

	return fmt.Sprintf("engine responded with status %d: %s", e.StatusCode, e.Body)
}

// Transient reports whether retrying the request could succeed. Client errors
// (4xx) are never transient.
func (e *Error) Transient() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// IsTransient reports whether err is an engine fault worth retrying.
func IsTransient(err error) bool {
	var engineErr *Error
	if errors.As(err, &engineErr) {
		return engineErr.Transient()
	}

	return false
}
