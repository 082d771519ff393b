package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence"
	"github.com/google/uuid"
)

const testCaseCollection = "testcases"

// TestCaseRepository handles test-case-related file operations.
type TestCaseRepository struct {
	p *Persistence
}

// TestCases returns all stored test cases ordered by creation time, newest first.
func (tr *TestCaseRepository) TestCases(ctx context.Context) ([]*models.TestCase, error) {
	ids, err := tr.p.listIDs(testCaseCollection)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*models.TestCase{}, nil
		}

		return nil, err
	}

	testCases := make([]*models.TestCase, 0, len(ids))

	for _, id := range ids {
		testCase, err := tr.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load test case %s: %w", id, err)
		}

		if testCase != nil {
			testCases = append(testCases, testCase)
		}
	}

	sort.Slice(testCases, func(i, j int) bool {
		return testCases[i].CreatedAt.After(testCases[j].CreatedAt)
	})

	return testCases, nil
}

// ListByWorkflow returns the test cases attached to a workflow.
func (tr *TestCaseRepository) ListByWorkflow(ctx context.Context, workflowID string) ([]*models.TestCase, error) {
	all, err := tr.TestCases(ctx)
	if err != nil {
		return nil, err
	}

	testCases := make([]*models.TestCase, 0)

	for _, testCase := range all {
		if testCase.WorkflowID == workflowID {
			testCases = append(testCases, testCase)
		}
	}

	return testCases, nil
}

// GetByID returns a test case by id, or (nil, nil) when absent.
func (tr *TestCaseRepository) GetByID(_ context.Context, id string) (*models.TestCase, error) {
	var testCase models.TestCase

	err := tr.p.readEntity(testCaseCollection, id, &testCase)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	return &testCase, nil
}

// Save writes a test case document, assigning an id and timestamps as needed.
func (tr *TestCaseRepository) Save(_ context.Context, testCase *models.TestCase) error {
	now := time.Now().UTC()

	if testCase.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate test case ID: %w", err)
		}

		testCase.ID = id.String()
	}

	if testCase.CreatedAt.IsZero() {
		testCase.CreatedAt = now
	}

	testCase.UpdatedAt = now

	return tr.p.writeEntity(testCaseCollection, testCase.ID, testCase)
}

// Delete removes a test case document.
func (tr *TestCaseRepository) Delete(_ context.Context, id string) error {
	err := tr.p.deleteEntity(testCaseCollection, id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return persistence.ErrTestCaseNotFound
		}

		return fmt.Errorf("failed to delete test case %s: %w", id, err)
	}

	return nil
}

// UpdateLastRun refreshes the denormalized last-run cache on the test case.
func (tr *TestCaseRepository) UpdateLastRun(ctx context.Context, id string, at time.Time, status models.TestRunStatus) error {
	tr.p.mu.Lock()
	defer tr.p.mu.Unlock()

	testCase, err := tr.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if testCase == nil {
		return persistence.ErrTestCaseNotFound
	}

	testCase.LastRunAt = &at
	testCase.LastRunStatus = &status
	testCase.UpdatedAt = time.Now().UTC()

	return tr.p.writeEntity(testCaseCollection, id, testCase)
}
