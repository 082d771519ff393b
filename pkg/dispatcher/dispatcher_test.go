package dispatcher

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/flowprobe/flowprobe/pkg/engine"
	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence"
	"github.com/flowprobe/flowprobe/pkg/persistence/file"
)

type stubEngine struct {
	result *engine.Result
	err    error
	calls  int
}

func (s *stubEngine) Execute(_ context.Context, _ string, _ map[string]any) (*engine.Result, error) {
	s.calls++

	return s.result, s.err
}

func (s *stubEngine) ExecuteStep(_ context.Context, _, _ string, _ any) (any, error) {
	return nil, errors.New("not implemented")
}

func setupWorkflow(t *testing.T, p persistence.Persistence, workflow *models.Workflow) {
	t.Helper()
	require.NoError(t, p.WorkflowRepository().Save(t.Context(), workflow))
}

func engineRef(id string) *string {
	return &id
}

func TestDispatchUnknownWorkflow(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	d := NewDispatcher(p, nil, nil, noop.NewTracerProvider().Tracer("test"), "worker-1")

	_, err := d.Dispatch(t.Context(), "wf-missing", nil, models.TriggerTypeWebhook)
	require.Error(t, err)
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	executions, err := p.ExecutionRepository().ListByWorkflow(t.Context(), "wf-missing")
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestDispatchInactiveWorkflow(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	setupWorkflow(t, p, &models.Workflow{ID: "wf-1", Name: "Paused workflow", Status: models.WorkflowStatusPaused})

	d := NewDispatcher(p, nil, nil, noop.NewTracerProvider().Tracer("test"), "worker-1")

	_, err := d.Dispatch(t.Context(), "wf-1", nil, models.TriggerTypeWebhook)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWorkflowInactive)

	executions, err := p.ExecutionRepository().ListByWorkflow(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Empty(t, executions)
}

func TestDispatchSchemaValidation(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	setupWorkflow(t, p, &models.Workflow{
		ID:     "wf-1",
		Name:   "Schema workflow",
		Status: models.WorkflowStatusActive,
		TriggerSchema: map[string]any{
			"type":     "object",
			"required": []any{"order_id"},
		},
	})

	d := NewDispatcher(p, nil, nil, noop.NewTracerProvider().Tracer("test"), "worker-1")

	_, err := d.Dispatch(t.Context(), "wf-1", map[string]any{"customer": "acme"}, models.TriggerTypeWebhook)
	require.Error(t, err)

	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, validationErr.Detail, "order_id")

	executions, err := p.ExecutionRepository().ListByWorkflow(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Empty(t, executions)

	result, err := d.Dispatch(t.Context(), "wf-1", map[string]any{"order_id": "o-1"}, models.TriggerTypeWebhook)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
}

func TestDispatchDegradedWithoutEngine(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	setupWorkflow(t, p, &models.Workflow{ID: "wf-1", Name: "No engine workflow", Status: models.WorkflowStatusActive})

	d := NewDispatcher(p, &stubEngine{}, nil, noop.NewTracerProvider().Tracer("test"), "worker-1")

	result, err := d.Dispatch(t.Context(), "wf-1", map[string]any{"x": 1}, models.TriggerTypeManual)
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Empty(t, result.EngineExecutionID)

	stored, err := p.ExecutionRepository().GetByID(t.Context(), result.Execution.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status)
	assert.Nil(t, stored.EngineExecutionID)
}

func TestDispatchRecordsEngineReference(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	setupWorkflow(t, p, &models.Workflow{
		ID:               "wf-1",
		Name:             "Engine workflow",
		Status:           models.WorkflowStatusActive,
		EngineWorkflowID: engineRef("eng-wf-1"),
	})

	stub := &stubEngine{result: &engine.Result{EngineExecutionID: "eng-exec-1", Status: engine.StatusRunning}}
	d := NewDispatcher(p, stub, nil, noop.NewTracerProvider().Tracer("test"), "worker-1")

	result, err := d.Dispatch(t.Context(), "wf-1", map[string]any{"x": 1}, models.TriggerTypeWebhook)
	require.NoError(t, err)
	assert.False(t, result.Degraded)
	assert.Equal(t, "eng-exec-1", result.EngineExecutionID)
	assert.Equal(t, 1, stub.calls)

	stored, err := p.ExecutionRepository().GetByID(t.Context(), result.Execution.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.ExecutionStatusRunning, stored.Status)
	require.NotNil(t, stored.EngineExecutionID)
	assert.Equal(t, "eng-exec-1", *stored.EngineExecutionID)
}

func TestDispatchSynchronousEngineSuccess(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	setupWorkflow(t, p, &models.Workflow{
		ID:               "wf-1",
		Name:             "Engine workflow",
		Status:           models.WorkflowStatusActive,
		EngineWorkflowID: engineRef("eng-wf-1"),
	})

	stub := &stubEngine{result: &engine.Result{EngineExecutionID: "eng-exec-1", Status: engine.StatusSucceeded}}
	d := NewDispatcher(p, stub, nil, noop.NewTracerProvider().Tracer("test"), "worker-1")

	result, err := d.Dispatch(t.Context(), "wf-1", nil, models.TriggerTypeWebhook)
	require.NoError(t, err)

	stored, err := p.ExecutionRepository().GetByID(t.Context(), result.Execution.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.ExecutionStatusSucceeded, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
}

func TestDispatchEngineFailureNeverLeavesRunning(t *testing.T) {
	p := file.NewPersistence(t.TempDir())
	setupWorkflow(t, p, &models.Workflow{
		ID:               "wf-1",
		Name:             "Engine workflow",
		Status:           models.WorkflowStatusActive,
		EngineWorkflowID: engineRef("eng-wf-1"),
	})

	stub := &stubEngine{err: &engine.Error{StatusCode: 503, Body: "unavailable"}}
	d := NewDispatcher(p, stub, nil, noop.NewTracerProvider().Tracer("test"), "worker-1")

	_, err := d.Dispatch(t.Context(), "wf-1", nil, models.TriggerTypeWebhook)
	require.Error(t, err)

	var engineFault *EngineFaultError
	require.ErrorAs(t, err, &engineFault)

	stored, err := p.ExecutionRepository().GetByID(t.Context(), engineFault.ExecutionID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Contains(t, *stored.Error, "503")
	assert.NotNil(t, stored.CompletedAt)
}
