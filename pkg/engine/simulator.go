package engine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Simulator is a local Client for deployments without an engine and for dry
// runs of test cases. Step outputs come from the configured mock inputs, so a
// test case runs end to end without any workflow actually executing.
type Simulator struct {
	stepOutputs map[string]any
}

// NewSimulator builds a Simulator whose step outputs are looked up by step id.
func NewSimulator(stepOutputs map[string]any) *Simulator {
	if stepOutputs == nil {
		stepOutputs = map[string]any{}
	}

	return &Simulator{stepOutputs: stepOutputs}
}

func (s *Simulator) Execute(_ context.Context, _ string, _ map[string]any) (*Result, error) {
	return &Result{EngineExecutionID: "sim-" + uuid.New().String()[:8], Status: StatusSucceeded}, nil
}

func (s *Simulator) ExecuteStep(_ context.Context, _, stepID string, _ any) (any, error) {
	output, exists := s.stepOutputs[stepID]
	if !exists {
		return nil, fmt.Errorf("no simulated output configured for step %q", stepID)
	}

	return output, nil
}
