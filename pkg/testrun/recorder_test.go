package testrun

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence"
	"github.com/flowprobe/flowprobe/pkg/persistence/file"
)

func createRun(t *testing.T, p persistence.Persistence, run *models.TestRun) *models.TestRun {
	t.Helper()

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	require.NoError(t, p.TestRunRepository().Create(t.Context(), run))

	return run
}

func TestRecorderSkippedWhenNoAssertionTargetsStep(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	run := createRun(t, p, &models.TestRun{
		ID:         "run-1",
		WorkflowID: "wf-1",
		Status:     models.TestRunStatusRunning,
	})

	recorder := NewRecorder(p.TestRunRepository(), nil)

	result, err := recorder.Record(t.Context(), run.ID, models.WorkflowStep{ID: "step-1", Order: 1},
		map[string]any{"x": 1}, 12)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, models.StepResultStatusSkipped, result.Status)
	assert.Equal(t, map[string]any{"x": 1}, result.ActualOutput)
}

func TestRecorderEvaluatesAssertions(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	run := createRun(t, p, &models.TestRun{
		ID:         "run-1",
		WorkflowID: "wf-1",
		Status:     models.TestRunStatusRunning,
		Assertions: []models.Assertion{
			{ID: "a-1", Target: "step-1", Kind: models.AssertionKindEquals, Expected: map[string]any{"x": 1}},
		},
	})

	recorder := NewRecorder(p.TestRunRepository(), nil)

	result, err := recorder.Record(t.Context(), run.ID, models.WorkflowStep{ID: "step-1", Order: 1},
		map[string]any{"x": 1}, 5)
	require.NoError(t, err)
	assert.Equal(t, models.StepResultStatusPassed, result.Status)

	result, err = recorder.Record(t.Context(), run.ID, models.WorkflowStep{ID: "step-1", Order: 1},
		map[string]any{"x": 2}, 5)
	require.NoError(t, err)
	assert.Equal(t, models.StepResultStatusFailed, result.Status)
	assert.Contains(t, result.Message, "step-1")
	assert.Contains(t, result.Message, `"x"`)
}

func TestRecorderIgnoresTerminalRuns(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	run := createRun(t, p, &models.TestRun{
		ID:         "run-1",
		WorkflowID: "wf-1",
		Status:     models.TestRunStatusPassed,
	})

	recorder := NewRecorder(p.TestRunRepository(), nil)

	result, err := recorder.Record(t.Context(), run.ID, models.WorkflowStep{ID: "step-1", Order: 1}, nil, 1)
	require.NoError(t, err)
	assert.Nil(t, result)

	results, err := p.TestRunRepository().StepResults(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRecorderKeepsLateResultsForCancelledRuns(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	run := createRun(t, p, &models.TestRun{
		ID:         "run-1",
		WorkflowID: "wf-1",
		Status:     models.TestRunStatusCancelled,
	})

	recorder := NewRecorder(p.TestRunRepository(), nil)

	result, err := recorder.Record(t.Context(), run.ID, models.WorkflowStep{ID: "step-2", Order: 2},
		map[string]any{"late": true}, 3)
	require.NoError(t, err)
	require.NotNil(t, result)

	results, err := p.TestRunRepository().StepResults(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Len(t, results, 1)

	// The late result never reopens the run.
	stored, err := p.TestRunRepository().GetByID(t.Context(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TestRunStatusCancelled, stored.Status)
}

func TestRecorderUnknownRun(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	recorder := NewRecorder(p.TestRunRepository(), nil)

	_, err := recorder.Record(t.Context(), "run-missing", models.WorkflowStep{ID: "step-1"}, nil, 1)
	assert.ErrorIs(t, err, persistence.ErrTestRunNotFound)
}
