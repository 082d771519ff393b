package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence"
)

const testRunCollection = "testruns"

// TestRunRepository handles test-run-related file operations. Step results are
// stored inside the run document.
type TestRunRepository struct {
	p *Persistence
}

// Create persists a new run, enforcing the single-active-run invariant for
// runs attached to a test case. Check-and-create happens under the
// persistence mutex so two concurrent creates cannot both pass the check.
func (rr *TestRunRepository) Create(ctx context.Context, run *models.TestRun) error {
	rr.p.mu.Lock()
	defer rr.p.mu.Unlock()

	if run.TestCaseID != nil {
		active, err := rr.activeRunFor(ctx, *run.TestCaseID)
		if err != nil {
			return err
		}

		if active != nil {
			return persistence.NewActiveRunError(*run.TestCaseID, active.ID)
		}
	}

	return rr.p.writeEntity(testRunCollection, run.ID, run)
}

func (rr *TestRunRepository) activeRunFor(ctx context.Context, testCaseID string) (*models.TestRun, error) {
	ids, err := rr.p.listIDs(testRunCollection)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	for _, id := range ids {
		run, err := rr.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if run != nil && run.TestCaseID != nil && *run.TestCaseID == testCaseID && run.Status.IsActive() {
			return run, nil
		}
	}

	return nil, nil
}

// GetByID returns a test run by id, or (nil, nil) when absent.
func (rr *TestRunRepository) GetByID(_ context.Context, id string) (*models.TestRun, error) {
	var run models.TestRun

	err := rr.p.readEntity(testRunCollection, id, &run)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}

		return nil, err
	}

	return &run, nil
}

// ListByTestCase returns the runs of a test case, most recent first.
func (rr *TestRunRepository) ListByTestCase(ctx context.Context, testCaseID string) ([]*models.TestRun, error) {
	ids, err := rr.p.listIDs(testRunCollection)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []*models.TestRun{}, nil
		}

		return nil, err
	}

	runs := make([]*models.TestRun, 0)

	for _, id := range ids {
		run, err := rr.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}

		if run != nil && run.TestCaseID != nil && *run.TestCaseID == testCaseID {
			runs = append(runs, run)
		}
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	return runs, nil
}

// Delete removes a test run document.
func (rr *TestRunRepository) Delete(_ context.Context, id string) error {
	err := rr.p.deleteEntity(testRunCollection, id)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return persistence.ErrTestRunNotFound
		}

		return fmt.Errorf("failed to delete test run %s: %w", id, err)
	}

	return nil
}

// TransitionStatus atomically moves a run to the target status when its
// current status matches one of expect.
func (rr *TestRunRepository) TransitionStatus(
	ctx context.Context,
	id string,
	expect []models.TestRunStatus,
	to models.TestRunStatus,
	patch persistence.TestRunPatch,
) error {
	rr.p.mu.Lock()
	defer rr.p.mu.Unlock()

	run, err := rr.GetByID(ctx, id)
	if err != nil {
		return err
	}

	if run == nil {
		return persistence.ErrTestRunNotFound
	}

	expected := false

	for _, status := range expect {
		if run.Status == status {
			expected = true

			break
		}
	}

	if !expected {
		return &persistence.TransitionError{
			Op:      "TransitionStatus",
			ID:      id,
			Current: string(run.Status),
			Target:  string(to),
		}
	}

	run.Status = to

	if patch.Summary != nil {
		run.Summary = *patch.Summary
	}

	if patch.Error != nil {
		run.Error = patch.Error
	}

	if patch.CompletedAt != nil {
		run.CompletedAt = patch.CompletedAt
	}

	return rr.p.writeEntity(testRunCollection, id, run)
}

// AppendStepResult stores one step result inside the run document.
func (rr *TestRunRepository) AppendStepResult(ctx context.Context, result *models.StepResult) error {
	rr.p.mu.Lock()
	defer rr.p.mu.Unlock()

	run, err := rr.GetByID(ctx, result.TestRunID)
	if err != nil {
		return err
	}

	if run == nil {
		return persistence.ErrTestRunNotFound
	}

	run.StepResults = append(run.StepResults, *result)

	return rr.p.writeEntity(testRunCollection, run.ID, run)
}

// StepResults returns the run's step results in step-declared order.
func (rr *TestRunRepository) StepResults(ctx context.Context, runID string) ([]models.StepResult, error) {
	run, err := rr.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}

	if run == nil {
		return nil, persistence.ErrTestRunNotFound
	}

	results := make([]models.StepResult, len(run.StepResults))
	copy(results, run.StepResults)

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Order < results[j].Order
	})

	return results, nil
}
