package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence"
	"github.com/lib/pq"
)

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , workflow_id
  , worker_id
  , status
  , trigger_type
  , trigger_data
  , engine_execution_id
  , started_at
  , completed_at
  , error
`

// Create appends a new execution record.
func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	triggerDataJSON, err := json.Marshal(execution.TriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger data: %w", err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_id, worker_id, status, trigger_type,
			trigger_data, engine_execution_id, started_at, completed_at, error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		nullString(execution.WorkerID),
		execution.Status,
		execution.TriggerType,
		triggerDataJSON,
		execution.EngineExecutionID,
		execution.StartedAt,
		execution.CompletedAt,
		execution.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// GetByID returns an execution by id, or (nil, nil) when absent.
func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	execution, err := scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

// ListByWorkflow returns the executions of a workflow, most recent first.
func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE workflow_id = $1 ORDER BY started_at DESC`

	rows, err := r.db.QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// TransitionStatus atomically moves an execution to the target status when its
// current status matches one of expect. The status check and the update are a
// single statement, so two concurrent completions cannot both win.
func (r *ExecutionRepository) TransitionStatus(
	ctx context.Context,
	id string,
	expect []models.ExecutionStatus,
	to models.ExecutionStatus,
	patch persistence.ExecutionPatch,
) error {
	expectStrings := make([]string, len(expect))
	for i, status := range expect {
		expectStrings[i] = string(status)
	}

	query := `
		UPDATE executions SET
			status = $2,
			engine_execution_id = COALESCE($3, engine_execution_id),
			error = COALESCE($4, error),
			completed_at = COALESCE($5, completed_at)
		WHERE id = $1 AND status = ANY($6)
	`

	result, err := r.db.ExecContext(ctx, query,
		id, to, patch.EngineExecutionID, patch.Error, patch.CompletedAt, pq.Array(expectStrings))
	if err != nil {
		return fmt.Errorf("failed to transition execution status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check transition result: %w", err)
	}

	if affected == 0 {
		return r.transitionConflict(ctx, id, to)
	}

	return nil
}

// transitionConflict distinguishes a missing record from a CAS mismatch.
func (r *ExecutionRepository) transitionConflict(ctx context.Context, id string, to models.ExecutionStatus) error {
	var current string

	err := r.db.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrExecutionNotFound
		}

		return fmt.Errorf("failed to inspect execution status: %w", err)
	}

	return &persistence.TransitionError{
		Op:      "TransitionStatus",
		ID:      id,
		Current: current,
		Target:  string(to),
	}
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution       models.Execution
		workerID        sql.NullString
		triggerDataJSON []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&workerID,
		&execution.Status,
		&execution.TriggerType,
		&triggerDataJSON,
		&execution.EngineExecutionID,
		&execution.StartedAt,
		&execution.CompletedAt,
		&execution.Error,
	)
	if err != nil {
		return nil, err
	}

	execution.WorkerID = workerID.String

	if err := unmarshalNullable(triggerDataJSON, &execution.TriggerData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal trigger data: %w", err)
	}

	return &execution, nil
}
