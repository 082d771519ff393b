package file

import (
	"testing"
	"time"

	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkflowRepository_SaveAndGet(t *testing.T) {
	p := NewPersistence(t.TempDir())

	workflow := &models.Workflow{
		Name:   "Order Sync",
		Status: models.WorkflowStatusActive,
		Steps: []models.WorkflowStep{
			{ID: "step1", Name: "Fetch", Order: 0},
			{ID: "step2", Name: "Store", Order: 1},
		},
	}

	err := p.WorkflowRepository().Save(t.Context(), workflow)
	require.NoError(t, err)
	assert.NotEmpty(t, workflow.ID)
	assert.False(t, workflow.CreatedAt.IsZero())

	fetched, err := p.WorkflowRepository().GetByID(t.Context(), workflow.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched)
	assert.Equal(t, "Order Sync", fetched.Name)
	assert.Len(t, fetched.Steps, 2)

	missing, err := p.WorkflowRepository().GetByID(t.Context(), "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestWorkflowRepository_Delete(t *testing.T) {
	p := NewPersistence(t.TempDir())

	workflow := &models.Workflow{Name: "Doomed", Status: models.WorkflowStatusDraft}
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), workflow))

	require.NoError(t, p.WorkflowRepository().Delete(t.Context(), workflow.ID))

	err := p.WorkflowRepository().Delete(t.Context(), workflow.ID)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestExecutionRepository_TransitionStatus(t *testing.T) {
	p := NewPersistence(t.TempDir())

	execution := &models.Execution{
		ID:          "exec-1",
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusRunning,
		TriggerType: models.TriggerTypeWebhook,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, p.ExecutionRepository().Create(t.Context(), execution))

	completedAt := time.Now().UTC()
	errMsg := "engine unreachable"

	err := p.ExecutionRepository().TransitionStatus(
		t.Context(),
		"exec-1",
		[]models.ExecutionStatus{models.ExecutionStatusRunning},
		models.ExecutionStatusFailed,
		persistence.ExecutionPatch{Error: &errMsg, CompletedAt: &completedAt},
	)
	require.NoError(t, err)

	fetched, err := p.ExecutionRepository().GetByID(t.Context(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, fetched.Status)
	require.NotNil(t, fetched.Error)
	assert.Equal(t, "engine unreachable", *fetched.Error)
	assert.NotNil(t, fetched.CompletedAt)

	// Terminal states are final: a second completion must not win.
	err = p.ExecutionRepository().TransitionStatus(
		t.Context(),
		"exec-1",
		[]models.ExecutionStatus{models.ExecutionStatusRunning},
		models.ExecutionStatusSucceeded,
		persistence.ExecutionPatch{},
	)
	assert.True(t, persistence.IsStatusConflict(err))
}

func TestTestRunRepository_SingleActiveRun(t *testing.T) {
	p := NewPersistence(t.TempDir())

	testCaseID := "tc-1"

	first := &models.TestRun{
		ID:         "run-1",
		TestCaseID: &testCaseID,
		WorkflowID: "wf-1",
		Status:     models.TestRunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, p.TestRunRepository().Create(t.Context(), first))

	second := &models.TestRun{
		ID:         "run-2",
		TestCaseID: &testCaseID,
		WorkflowID: "wf-1",
		Status:     models.TestRunStatusPending,
		StartedAt:  time.Now().UTC(),
	}

	err := p.TestRunRepository().Create(t.Context(), second)
	require.Error(t, err)
	assert.True(t, persistence.IsActiveRunExists(err))

	var activeErr *persistence.ActiveRunError
	require.ErrorAs(t, err, &activeErr)
	assert.Equal(t, "run-1", activeErr.ActiveRunID)

	// No second run row was created.
	missing, err := p.TestRunRepository().GetByID(t.Context(), "run-2")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Once the first run is terminal, a new run may be created.
	completedAt := time.Now().UTC()
	require.NoError(t, p.TestRunRepository().TransitionStatus(
		t.Context(),
		"run-1",
		[]models.TestRunStatus{models.TestRunStatusRunning},
		models.TestRunStatusPassed,
		persistence.TestRunPatch{CompletedAt: &completedAt},
	))
	require.NoError(t, p.TestRunRepository().Create(t.Context(), second))
}

func TestTestRunRepository_AdHocRunsBypassActiveCheck(t *testing.T) {
	p := NewPersistence(t.TempDir())

	for _, id := range []string{"adhoc-1", "adhoc-2"} {
		run := &models.TestRun{
			ID:         id,
			WorkflowID: "wf-1",
			Status:     models.TestRunStatusRunning,
			StartedAt:  time.Now().UTC(),
		}
		require.NoError(t, p.TestRunRepository().Create(t.Context(), run))
	}
}

func TestTestRunRepository_StepResultsOrderedByDeclaredOrder(t *testing.T) {
	p := NewPersistence(t.TempDir())

	run := &models.TestRun{
		ID:         "run-1",
		WorkflowID: "wf-1",
		Status:     models.TestRunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, p.TestRunRepository().Create(t.Context(), run))

	// Insert out of declared order.
	for _, result := range []models.StepResult{
		{TestRunID: "run-1", StepID: "step3", Order: 2, Status: models.StepResultStatusSkipped},
		{TestRunID: "run-1", StepID: "step1", Order: 0, Status: models.StepResultStatusPassed},
		{TestRunID: "run-1", StepID: "step2", Order: 1, Status: models.StepResultStatusFailed},
	} {
		require.NoError(t, p.TestRunRepository().AppendStepResult(t.Context(), &result))
	}

	results, err := p.TestRunRepository().StepResults(t.Context(), "run-1")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "step1", results[0].StepID)
	assert.Equal(t, "step2", results[1].StepID)
	assert.Equal(t, "step3", results[2].StepID)
}

func TestTestCaseRepository_UpdateLastRun(t *testing.T) {
	p := NewPersistence(t.TempDir())

	testCase := &models.TestCase{
		WorkflowID: "wf-1",
		Name:       "Happy path",
		IsActive:   true,
	}
	require.NoError(t, p.TestCaseRepository().Save(t.Context(), testCase))

	at := time.Now().UTC()
	require.NoError(t, p.TestCaseRepository().UpdateLastRun(t.Context(), testCase.ID, at, models.TestRunStatusPassed))

	fetched, err := p.TestCaseRepository().GetByID(t.Context(), testCase.ID)
	require.NoError(t, err)
	require.NotNil(t, fetched.LastRunStatus)
	assert.Equal(t, models.TestRunStatusPassed, *fetched.LastRunStatus)
	require.NotNil(t, fetched.LastRunAt)
}
