package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence"
	"github.com/google/uuid"
)

// TestCaseRepository handles test-case-related database operations.
type TestCaseRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTestCaseRepository creates a new test case repository.
func NewTestCaseRepository(db *sql.DB, logger *slog.Logger) *TestCaseRepository {
	return &TestCaseRepository{db: db, logger: logger}
}

const testCaseColumns = `
	id
  , workflow_id
  , name
  , mock_trigger_data
  , mock_step_inputs
  , expected_outputs
  , assertions
  , tags
  , is_active
  , last_run_at
  , last_run_status
  , created_at
  , updated_at
`

// TestCases returns all test cases, newest first.
func (r *TestCaseRepository) TestCases(ctx context.Context) ([]*models.TestCase, error) {
	query := `SELECT ` + testCaseColumns + ` FROM test_cases ORDER BY created_at DESC`

	return r.queryTestCases(ctx, query)
}

// ListByWorkflow returns the test cases attached to a workflow, newest first.
func (r *TestCaseRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.TestCase, error) {
	query := `SELECT ` + testCaseColumns + ` FROM test_cases WHERE workflow_id = $1 ORDER BY created_at DESC`

	return r.queryTestCases(ctx, query, workflowID)
}

func (r *TestCaseRepository) queryTestCases(ctx context.Context, query string, args ...any) ([]*models.TestCase, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query test cases: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	testCases := make([]*models.TestCase, 0)

	for rows.Next() {
		testCase, err := scanTestCase(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test case: %w", err)
		}

		testCases = append(testCases, testCase)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating test cases: %w", err)
	}

	return testCases, nil
}

// GetByID returns a test case by id, or (nil, nil) when absent.
func (r *TestCaseRepository) GetByID(ctx context.Context, id string) (*models.TestCase, error) {
	query := `SELECT ` + testCaseColumns + ` FROM test_cases WHERE id = $1`

	testCase, err := scanTestCase(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to scan test case: %w", err)
	}

	return testCase, nil
}

// Save upserts a test case, assigning an id and timestamps as needed.
func (r *TestCaseRepository) Save(ctx context.Context, testCase *models.TestCase) error {
	now := time.Now().UTC()

	if testCase.CreatedAt.IsZero() {
		testCase.CreatedAt = now
	}

	testCase.UpdatedAt = now

	if testCase.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate test case ID: %w", err)
		}

		testCase.ID = id.String()
	}

	mockTriggerJSON, err := json.Marshal(testCase.MockTriggerData)
	if err != nil {
		return fmt.Errorf("failed to marshal mock trigger data: %w", err)
	}

	mockStepsJSON, err := json.Marshal(testCase.MockStepInputs)
	if err != nil {
		return fmt.Errorf("failed to marshal mock step inputs: %w", err)
	}

	expectedJSON, err := json.Marshal(testCase.ExpectedOutputs)
	if err != nil {
		return fmt.Errorf("failed to marshal expected outputs: %w", err)
	}

	assertionsJSON, err := json.Marshal(testCase.Assertions)
	if err != nil {
		return fmt.Errorf("failed to marshal assertions: %w", err)
	}

	tagsJSON, err := json.Marshal(testCase.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	query := `
		INSERT INTO test_cases (
			id, workflow_id, name, mock_trigger_data, mock_step_inputs,
			expected_outputs, assertions, tags, is_active,
			last_run_at, last_run_status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			workflow_id = EXCLUDED.workflow_id,
			name = EXCLUDED.name,
			mock_trigger_data = EXCLUDED.mock_trigger_data,
			mock_step_inputs = EXCLUDED.mock_step_inputs,
			expected_outputs = EXCLUDED.expected_outputs,
			assertions = EXCLUDED.assertions,
			tags = EXCLUDED.tags,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		testCase.ID,
		testCase.WorkflowID,
		testCase.Name,
		mockTriggerJSON,
		mockStepsJSON,
		expectedJSON,
		assertionsJSON,
		tagsJSON,
		testCase.IsActive,
		testCase.LastRunAt,
		testCase.LastRunStatus,
		testCase.CreatedAt,
		testCase.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save test case: %w", err)
	}

	return nil
}

// Delete removes a test case row.
func (r *TestCaseRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM test_cases WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete test case: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTestCaseNotFound
	}

	return nil
}

// UpdateLastRun refreshes the denormalized last-run cache on the test case.
func (r *TestCaseRepository) UpdateLastRun(ctx context.Context, id string, at time.Time, status models.TestRunStatus) error {
	query := `
		UPDATE test_cases SET
			last_run_at = $2,
			last_run_status = $3,
			updated_at = $4
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query, id, at, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to update last run cache: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrTestCaseNotFound
	}

	return nil
}

func scanTestCase(row rowScanner) (*models.TestCase, error) {
	var (
		testCase        models.TestCase
		mockTriggerJSON []byte
		mockStepsJSON   []byte
		expectedJSON    []byte
		assertionsJSON  []byte
		tagsJSON        []byte
	)

	err := row.Scan(
		&testCase.ID,
		&testCase.WorkflowID,
		&testCase.Name,
		&mockTriggerJSON,
		&mockStepsJSON,
		&expectedJSON,
		&assertionsJSON,
		&tagsJSON,
		&testCase.IsActive,
		&testCase.LastRunAt,
		&testCase.LastRunStatus,
		&testCase.CreatedAt,
		&testCase.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := unmarshalNullable(mockTriggerJSON, &testCase.MockTriggerData); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mock trigger data: %w", err)
	}

	if err := unmarshalNullable(mockStepsJSON, &testCase.MockStepInputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mock step inputs: %w", err)
	}

	if err := unmarshalNullable(expectedJSON, &testCase.ExpectedOutputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal expected outputs: %w", err)
	}

	if err := unmarshalNullable(assertionsJSON, &testCase.Assertions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assertions: %w", err)
	}

	if err := unmarshalNullable(tagsJSON, &testCase.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}

	return &testCase, nil
}
