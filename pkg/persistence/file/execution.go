package file

import (
	"context"
	"errors"
	"os"
	"sort"

	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence"
)

const executionCollection = "executions"

// ExecutionRepository handles execution-related file operations.
type ExecutionRepository struct {
	p *Persistence
}

// Create appends a new execution record.
func (er *ExecutionRepository) Create(_ context.Context, execution *models.Execution) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	return er.p.writeEntity(executionCollection, execution.ID, execution)
}

// GetByID returns an execution by id, or (nil, nil) when absent.
func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	var execution models.Execution

	err := er.p.readEntity(executionCollection, id, &execution)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	return &execution, nil
}

// ListByWorkflow returns the executions of a workflow, most recent first.
func (er *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	ids, err := er.p.listIDs(executionCollection)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*models.Execution{}, nil
		}

		return nil, err
	}

	executions := make([]*models.Execution, 0)

	for _, id := range ids {
		execution, err := er.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if execution != nil && execution.WorkflowID == workflowID {
			executions = append(executions, execution)
		}
	}

	sort.Slice(executions, func(i, j int) bool {
		return executions[i].StartedAt.After(executions[j].StartedAt)
	})

	return executions, nil
}

// TransitionStatus atomically moves an execution to the target status when its
// current status matches one of expect.
func (er *ExecutionRepository) TransitionStatus(
	ctx context.Context,
	id string,
	expect []models.ExecutionStatus,
	to models.ExecutionStatus,
	patch persistence.ExecutionPatch,
) error {
	er.p.mu.Lock()
	defer er.p.mu.Unlock()

	execution, err := er.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if execution == nil {
		return persistence.ErrExecutionNotFound
	}

	expected := false

	for _, status := range expect {
		if execution.Status == status {
			expected = true

			break
		}
	}

	if !expected {
		return &persistence.TransitionError{
			Op:      "TransitionStatus",
			ID:      id,
			Current: string(execution.Status),
			Target:  string(to),
		}
	}

	execution.Status = to

	if patch.EngineExecutionID != nil {
		execution.EngineExecutionID = patch.EngineExecutionID
	}

	if patch.Error != nil {
		execution.Error = patch.Error
	}

	if patch.CompletedAt != nil {
		execution.CompletedAt = patch.CompletedAt
	}

	return er.p.writeEntity(executionCollection, id, execution)
}
