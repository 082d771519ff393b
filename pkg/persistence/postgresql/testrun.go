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

const pqUniqueViolation = "23505"

// TestRunRepository handles test-run-related database operations.
type TestRunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTestRunRepository creates a new test run repository.
func NewTestRunRepository(db *sql.DB, logger *slog.Logger) *TestRunRepository {
	return &TestRunRepository{db: db, logger: logger}
}

const testRunColumns = `
	id
  , test_case_id
  , workflow_id
  , status
  , assertions
  , summary
  , error
  , started_at
  , completed_at
`

// Create persists a new run. The partial unique index on active runs turns a
// violated single-active-run invariant into a unique violation, which is
// mapped to an ActiveRunError naming the run that holds the slot.
func (r *TestRunRepository) Create(ctx context.Context, run *models.TestRun) error {
	assertionsJSON, err := json.Marshal(run.Assertions)
	if err != nil {
		return fmt.Errorf("failed to marshal assertions: %w", err)
	}

	summaryJSON, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to marshal summary: %w", err)
	}

	query := `
		INSERT INTO test_runs (
			id, test_case_id, workflow_id, status, assertions,
			summary, error, started_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.TestCaseID,
		run.WorkflowID,
		run.Status,
		assertionsJSON,
		summaryJSON,
		run.Error,
		run.StartedAt,
		run.CompletedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation && run.TestCaseID != nil {
			return r.activeRunConflict(ctx, *run.TestCaseID)
		}

		return fmt.Errorf("failed to create test run: %w", err)
	}

	return nil
}

func (r *TestRunRepository) activeRunConflict(ctx context.Context, testCaseID string) error {
	var activeRunID string

	err := r.db.QueryRowContext(ctx,
		`SELECT id FROM test_runs WHERE test_case_id = $1 AND status IN ('pending', 'running')`,
		testCaseID,
	).Scan(&activeRunID)
	if err != nil {
		// The active run finished between the insert and this lookup; report
		// the invariant violation without the run id.
		return persistence.NewActiveRunError(testCaseID, "unknown")
	}

	return persistence.NewActiveRunError(testCaseID, activeRunID)
}

// GetByID returns a test run by id including its step results, or (nil, nil) when absent.
func (r *TestRunRepository) GetByID(ctx context.Context, id string) (*models.TestRun, error) {
	query := `SELECT ` + testRunColumns + ` FROM test_runs WHERE id = $1`

	run, err := scanTestRun(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan test run: %w", err)
	}

	results, err := r.StepResults(ctx, id)
	if err != nil {
		return nil, err
	}

	run.StepResults = results

	return run, nil
}

// ListByTestCase returns the runs of a test case, most recent first.
func (r *TestRunRepository) ListByTestCase(ctx context.Context, testCaseID string) ([]*models.TestRun, error) {
	query := `SELECT ` + testRunColumns + ` FROM test_runs WHERE test_case_id = $1 ORDER BY started_at DESC`

	rows, err := r.db.QueryContext(ctx, query, testCaseID)
	if err != nil {
		return nil, fmt.Errorf("failed to query test runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.TestRun, 0)

	for rows.Next() {
		run, err := scanTestRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test run: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating test runs: %w", err)
	}

	return runs, nil
}

// Delete removes a test run row; step results go with it via ON DELETE CASCADE.
func (r *TestRunRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM test_runs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete test run: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTestRunNotFound
	}

	return nil
}

// TransitionStatus atomically moves a run to the target status when its
// current status matches one of expect.
func (r *TestRunRepository) TransitionStatus(
	ctx context.Context,
	id string,
	expect []models.TestRunStatus,
	to models.TestRunStatus,
	patch persistence.TestRunPatch,
) error {
	expectStrings := make([]string, len(expect))
	for i, status := range expect {
		expectStrings[i] = string(status)
	}

	var summaryJSON []byte

	if patch.Summary != nil {
		var err error

		summaryJSON, err = json.Marshal(patch.Summary)
		if err != nil {
			return fmt.Errorf("failed to marshal summary: %w", err)
		}
	}

	query := `
		UPDATE test_runs SET
			status = $2,
			summary = COALESCE($3, summary),
			error = COALESCE($4, error),
			completed_at = COALESCE($5, completed_at)
		WHERE id = $1 AND status = ANY($6)
	`

	result, err := r.db.ExecContext(ctx, query,
		id, to, summaryJSON, patch.Error, patch.CompletedAt, pq.Array(expectStrings))
	if err != nil {
		return fmt.Errorf("failed to transition test run status: %w", err)
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

func (r *TestRunRepository) transitionConflict(ctx context.Context, id string, to models.TestRunStatus) error {
	var current string

	err := r.db.QueryRowContext(ctx, `SELECT status FROM test_runs WHERE id = $1`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrTestRunNotFound
		}

		return fmt.Errorf("failed to inspect test run status: %w", err)
	}

	return &persistence.TransitionError{
		Op:      "TransitionStatus",
		ID:      id,
		Current: current,
		Target:  string(to),
	}
}

// AppendStepResult stores one step result row for a run.
func (r *TestRunRepository) AppendStepResult(ctx context.Context, result *models.StepResult) error {
	actualJSON, err := json.Marshal(result.ActualOutput)
	if err != nil {
		return fmt.Errorf("failed to marshal actual output: %w", err)
	}

	expectedJSON, err := json.Marshal(result.ExpectedOutput)
	if err != nil {
		return fmt.Errorf("failed to marshal expected output: %w", err)
	}

	query := `
		INSERT INTO step_results (
			test_run_id, step_id, step_order, status, actual_output,
			expected_output, message, duration_ms, error, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		result.TestRunID,
		result.StepID,
		result.Order,
		result.Status,
		actualJSON,
		expectedJSON,
		nullString(result.Message),
		result.DurationMs,
		result.Error,
		result.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append step result: %w", err)
	}

	return nil
}

// StepResults returns the run's step results in step-declared order.
func (r *TestRunRepository) StepResults(ctx context.Context, runID string) ([]models.StepResult, error) {
	query := `
		SELECT
			test_run_id
		  , step_id
		  , step_order
		  , status
		  , actual_output
		  , expected_output
		  , message
		  , duration_ms
		  , error
		  , recorded_at
		FROM step_results
		WHERE test_run_id = $1
		ORDER BY step_order ASC
	`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query step results: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	results := make([]models.StepResult, 0)

	for rows.Next() {
		var (
			result       models.StepResult
			actualJSON   []byte
			expectedJSON []byte
			message      sql.NullString
		)

		err := rows.Scan(
			&result.TestRunID,
			&result.StepID,
			&result.Order,
			&result.Status,
			&actualJSON,
			&expectedJSON,
			&message,
			&result.DurationMs,
			&result.Error,
			&result.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step result: %w", err)
		}

		result.Message = message.String

		if err := unmarshalNullable(actualJSON, &result.ActualOutput); err != nil {
			return nil, fmt.Errorf("failed to unmarshal actual output: %w", err)
		}

		if err := unmarshalNullable(expectedJSON, &result.ExpectedOutput); err != nil {
			return nil, fmt.Errorf("failed to unmarshal expected output: %w", err)
		}

		results = append(results, result)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating step results: %w", err)
	}

	return results, nil
}

func scanTestRun(row rowScanner) (*models.TestRun, error) {
	var (
		run            models.TestRun
		assertionsJSON []byte
		summaryJSON    []byte
	)

	err := row.Scan(
		&run.ID,
		&run.TestCaseID,
		&run.WorkflowID,
		&run.Status,
		&assertionsJSON,
		&summaryJSON,
		&run.Error,
		&run.StartedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalNullable(assertionsJSON, &run.Assertions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assertions: %w", err)
	}

	if err := unmarshalNullable(summaryJSON, &run.Summary); err != nil {
		return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
	}

	return &run, nil
}
