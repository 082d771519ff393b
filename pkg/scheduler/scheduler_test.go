package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/flowprobe/flowprobe/pkg/dispatcher"
	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence/file"
	"github.com/flowprobe/flowprobe/pkg/testutil"
)

func newTestScheduler(t *testing.T) (*Scheduler, *file.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	d := dispatcher.NewDispatcher(p, nil, nil, noop.NewTracerProvider().Tracer("test"), "worker-1")

	return NewScheduler(p.WorkflowRepository(), d), p
}

func saveWorkflow(t *testing.T, p *file.Persistence, id, schedule string, status models.WorkflowStatus) {
	t.Helper()

	require.NoError(t, p.WorkflowRepository().Save(t.Context(), testutil.CreateTestWorkflow(
		testutil.WithID(id),
		testutil.WithName(id),
		testutil.WithStatus(status),
		testutil.WithSchedule(schedule),
	)))
}

func TestValidateSchedule(t *testing.T) {
	assert.NoError(t, ValidateSchedule("*/5 * * * *"))
	assert.NoError(t, ValidateSchedule("@hourly"))
	assert.Error(t, ValidateSchedule("not a cron expression"))
	assert.Error(t, ValidateSchedule("* * *"))
}

func TestStartRegistersScheduledWorkflows(t *testing.T) {
	s, p := newTestScheduler(t)

	saveWorkflow(t, p, "wf-scheduled", "0 * * * *", models.WorkflowStatusActive)
	saveWorkflow(t, p, "wf-unscheduled", "", models.WorkflowStatusActive)
	saveWorkflow(t, p, "wf-paused", "0 * * * *", models.WorkflowStatusPaused)

	require.NoError(t, s.Start(t.Context()))

	defer func() {
		require.NoError(t, s.Stop(t.Context()))
	}()

	assert.Len(t, s.jobs, 1)
	assert.Contains(t, s.jobs, "wf-scheduled")
}

func TestStartSkipsInvalidCronExpression(t *testing.T) {
	s, p := newTestScheduler(t)

	saveWorkflow(t, p, "wf-bad", "every tuesday", models.WorkflowStatusActive)
	saveWorkflow(t, p, "wf-good", "30 2 * * *", models.WorkflowStatusActive)

	require.NoError(t, s.Start(t.Context()))

	defer func() {
		require.NoError(t, s.Stop(t.Context()))
	}()

	assert.Len(t, s.jobs, 1)
	assert.Contains(t, s.jobs, "wf-good")
}

func TestRefreshReconcilesJobSet(t *testing.T) {
	s, p := newTestScheduler(t)

	saveWorkflow(t, p, "wf-1", "0 * * * *", models.WorkflowStatusActive)
	require.NoError(t, s.Start(t.Context()))

	defer func() {
		require.NoError(t, s.Stop(t.Context()))
	}()

	// Pause wf-1, add wf-2.
	saveWorkflow(t, p, "wf-1", "0 * * * *", models.WorkflowStatusPaused)
	saveWorkflow(t, p, "wf-2", "*/10 * * * *", models.WorkflowStatusActive)

	require.NoError(t, s.Refresh(t.Context()))

	assert.Len(t, s.jobs, 1)
	assert.NotContains(t, s.jobs, "wf-1")
	assert.Contains(t, s.jobs, "wf-2")
}

func TestRefreshReregistersChangedExpression(t *testing.T) {
	s, p := newTestScheduler(t)

	saveWorkflow(t, p, "wf-1", "0 * * * *", models.WorkflowStatusActive)
	require.NoError(t, s.Start(t.Context()))

	defer func() {
		require.NoError(t, s.Stop(t.Context()))
	}()

	originalEntry := s.jobs["wf-1"]

	saveWorkflow(t, p, "wf-1", "*/15 * * * *", models.WorkflowStatusActive)
	require.NoError(t, s.Refresh(t.Context()))

	assert.Equal(t, "*/15 * * * *", s.specs["wf-1"])
	assert.NotEqual(t, originalEntry, s.jobs["wf-1"])
}

func TestFireDispatchesScheduledExecution(t *testing.T) {
	s, p := newTestScheduler(t)

	saveWorkflow(t, p, "wf-1", "0 * * * *", models.WorkflowStatusActive)

	s.fire("wf-1", "0 * * * *")

	executions, err := p.ExecutionRepository().ListByWorkflow(t.Context(), "wf-1")
	require.NoError(t, err)
	require.Len(t, executions, 1)
	assert.Equal(t, models.TriggerTypeScheduled, executions[0].TriggerType)
}
