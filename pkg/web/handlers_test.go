package web_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence/file"
	"github.com/flowprobe/flowprobe/pkg/testrun"
	"github.com/flowprobe/flowprobe/pkg/testutil"
	"github.com/flowprobe/flowprobe/pkg/web"
)

func setupTestApp(t *testing.T) (*fiber.App, *file.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())
	runService := testrun.NewService(p, nil, nil, noop.NewTracerProvider().Tracer("test"), "worker-1")
	handlers := web.NewAPIHandlers(p, runService, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()
	handlers.RegisterRoutes(app)

	return app, p
}

func seedWorkflow(t *testing.T, p *file.Persistence) {
	t.Helper()

	require.NoError(t, p.WorkflowRepository().Save(t.Context(), testutil.CreateTestWorkflow(
		testutil.WithID("wf-1"),
		testutil.WithName("Order workflow"),
		testutil.WithSteps(models.WorkflowStep{ID: "step1", Name: "Validate order", Order: 1}),
	)))
}

func doJSON(t *testing.T, app *fiber.App, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()

	var body io.Reader

	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := app.Test(req)
	require.NoError(t, err)

	responseBody, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, responseBody
}

func TestCreateTestCase(t *testing.T) {
	app, p := setupTestApp(t)
	seedWorkflow(t, p)

	resp, body := doJSON(t, app, http.MethodPost, "/test-cases/", web.CreateTestCaseRequest{
		WorkflowID:     "wf-1",
		Name:           "Happy path",
		MockStepInputs: map[string]any{"step1": map[string]any{"x": 1}},
		Assertions: []web.AssertionRequest{
			{Target: "step1", Kind: models.AssertionKindEquals, Expected: map[string]any{"x": 1}},
		},
	})

	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.TestCase
	require.NoError(t, json.Unmarshal(body, &created))
	assert.NotEmpty(t, created.ID)
	assert.True(t, created.IsActive)
	require.Len(t, created.Assertions, 1)
	assert.NotEmpty(t, created.Assertions[0].ID)
}

func TestCreateTestCaseValidation(t *testing.T) {
	app, p := setupTestApp(t)
	seedWorkflow(t, p)

	resp, _ := doJSON(t, app, http.MethodPost, "/test-cases/", web.CreateTestCaseRequest{
		WorkflowID: "wf-1",
		Name:       "x",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodPost, "/test-cases/", web.CreateTestCaseRequest{
		WorkflowID: "wf-missing",
		Name:       "Valid name",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdateTestCasePreservesAssertionIDs(t *testing.T) {
	app, p := setupTestApp(t)
	seedWorkflow(t, p)

	_, body := doJSON(t, app, http.MethodPost, "/test-cases/", web.CreateTestCaseRequest{
		WorkflowID: "wf-1",
		Name:       "Round trip",
		Assertions: []web.AssertionRequest{
			{Target: "step1", Kind: models.AssertionKindExists},
		},
	})

	var created models.TestCase
	require.NoError(t, json.Unmarshal(body, &created))
	assignedID := created.Assertions[0].ID
	require.NotEmpty(t, assignedID)

	// Re-update with the assigned id plus a new assertion without one.
	resp, body := doJSON(t, app, http.MethodPatch, "/test-cases/"+created.ID, web.UpdateTestCaseRequest{
		Assertions: []web.AssertionRequest{
			{ID: assignedID, Target: "step1", Kind: models.AssertionKindExists},
			{Target: "final", Kind: models.AssertionKindExists},
		},
	})

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.TestCase
	require.NoError(t, json.Unmarshal(body, &updated))
	require.Len(t, updated.Assertions, 2)
	assert.Equal(t, assignedID, updated.Assertions[0].ID)
	assert.NotEmpty(t, updated.Assertions[1].ID)
	assert.NotEqual(t, assignedID, updated.Assertions[1].ID)
}

func TestUpdateTestCasePartial(t *testing.T) {
	app, p := setupTestApp(t)
	seedWorkflow(t, p)

	_, body := doJSON(t, app, http.MethodPost, "/test-cases/", web.CreateTestCaseRequest{
		WorkflowID:     "wf-1",
		Name:           "Original name",
		MockStepInputs: map[string]any{"step1": map[string]any{"x": 1}},
		Tags:           []string{"smoke"},
	})

	var created models.TestCase
	require.NoError(t, json.Unmarshal(body, &created))

	inactive := false
	resp, body := doJSON(t, app, http.MethodPatch, "/test-cases/"+created.ID, web.UpdateTestCaseRequest{
		IsActive: &inactive,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var updated models.TestCase
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.False(t, updated.IsActive)
	assert.Equal(t, "Original name", updated.Name)
	assert.Equal(t, []string{"smoke"}, updated.Tags)
	assert.NotNil(t, updated.MockStepInputs["step1"])
}

func TestDeleteTestCase(t *testing.T) {
	app, p := setupTestApp(t)
	seedWorkflow(t, p)

	_, body := doJSON(t, app, http.MethodPost, "/test-cases/", web.CreateTestCaseRequest{
		WorkflowID: "wf-1",
		Name:       "To delete",
	})

	var created models.TestCase
	require.NoError(t, json.Unmarshal(body, &created))

	resp, _ := doJSON(t, app, http.MethodDelete, "/test-cases/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodDelete, "/test-cases/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunTestCaseEndpoint(t *testing.T) {
	app, p := setupTestApp(t)
	seedWorkflow(t, p)

	_, body := doJSON(t, app, http.MethodPost, "/test-cases/", web.CreateTestCaseRequest{
		WorkflowID:     "wf-1",
		Name:           "Runnable",
		MockStepInputs: map[string]any{"step1": map[string]any{"x": 1}},
		Assertions: []web.AssertionRequest{
			{Target: "step1", Kind: models.AssertionKindEquals, Expected: map[string]any{"x": 1}},
		},
	})

	var created models.TestCase
	require.NoError(t, json.Unmarshal(body, &created))

	resp, body := doJSON(t, app, http.MethodPost, "/test-cases/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var run models.TestRun
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Equal(t, models.TestRunStatusPassed, run.Status)
}

func TestRunTestCaseConflict(t *testing.T) {
	app, p := setupTestApp(t)
	seedWorkflow(t, p)

	_, body := doJSON(t, app, http.MethodPost, "/test-cases/", web.CreateTestCaseRequest{
		WorkflowID: "wf-1",
		Name:       "Conflicted",
	})

	var created models.TestCase
	require.NoError(t, json.Unmarshal(body, &created))

	active := &models.TestRun{
		ID:         "run-active",
		TestCaseID: &created.ID,
		WorkflowID: "wf-1",
		Status:     models.TestRunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, p.TestRunRepository().Create(t.Context(), active))

	resp, body := doJSON(t, app, http.MethodPost, "/test-cases/"+created.ID+"/run", nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "run-active")
}

func TestGetTestRunWithSummaries(t *testing.T) {
	app, p := setupTestApp(t)
	seedWorkflow(t, p)

	_, body := doJSON(t, app, http.MethodPost, "/test-cases/", web.CreateTestCaseRequest{
		WorkflowID:     "wf-1",
		Name:           "Summarized",
		MockStepInputs: map[string]any{"step1": map[string]any{"x": 1}},
	})

	var created models.TestCase
	require.NoError(t, json.Unmarshal(body, &created))

	_, body = doJSON(t, app, http.MethodPost, "/test-cases/"+created.ID+"/run", nil)

	var run models.TestRun
	require.NoError(t, json.Unmarshal(body, &run))

	resp, body := doJSON(t, app, http.MethodGet, "/test-runs/"+run.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var response web.TestRunResponse
	require.NoError(t, json.Unmarshal(body, &response))
	assert.Equal(t, "Order workflow", response.WorkflowName)
	assert.Equal(t, "Summarized", response.TestCaseName)
}

func TestDeleteTestRunCancelsActive(t *testing.T) {
	app, p := setupTestApp(t)
	seedWorkflow(t, p)

	run := &models.TestRun{
		ID:         "run-1",
		WorkflowID: "wf-1",
		Status:     models.TestRunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, p.TestRunRepository().Create(t.Context(), run))

	resp, body := doJSON(t, app, http.MethodDelete, "/test-runs/run-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var cancelled models.TestRun
	require.NoError(t, json.Unmarshal(body, &cancelled))
	assert.Equal(t, models.TestRunStatusCancelled, cancelled.Status)

	// The record still exists after cancellation.
	stored, err := p.TestRunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestDeleteTestRunRemovesTerminal(t *testing.T) {
	app, p := setupTestApp(t)
	seedWorkflow(t, p)

	run := &models.TestRun{
		ID:         "run-1",
		WorkflowID: "wf-1",
		Status:     models.TestRunStatusPassed,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, p.TestRunRepository().Create(t.Context(), run))

	resp, _ := doJSON(t, app, http.MethodDelete, "/test-runs/run-1", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	stored, err := p.TestRunRepository().GetByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestRunAdHocEndpoint(t *testing.T) {
	app, p := setupTestApp(t)
	seedWorkflow(t, p)

	resp, body := doJSON(t, app, http.MethodPost, "/test-runs/", web.RunAdHocRequest{
		WorkflowID:     "wf-1",
		MockStepInputs: map[string]any{"step1": map[string]any{"ok": true}},
		Assertions: []web.AssertionRequest{
			{Target: "step1", Kind: models.AssertionKindExists},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var run models.TestRun
	require.NoError(t, json.Unmarshal(body, &run))
	assert.Nil(t, run.TestCaseID)
	assert.Equal(t, models.TestRunStatusPassed, run.Status)
}

func TestExecutionsReadSurface(t *testing.T) {
	app, p := setupTestApp(t)
	seedWorkflow(t, p)

	execution := &models.Execution{
		ID:          "exec-1",
		WorkflowID:  "wf-1",
		Status:      models.ExecutionStatusRunning,
		TriggerType: models.TriggerTypeWebhook,
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, p.ExecutionRepository().Create(t.Context(), execution))

	resp, body := doJSON(t, app, http.MethodGet, "/workflows/wf-1/executions", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var executions []models.Execution
	require.NoError(t, json.Unmarshal(body, &executions))
	require.Len(t, executions, 1)
	assert.Equal(t, "exec-1", executions[0].ID)

	resp, _ = doJSON(t, app, http.MethodGet, "/executions/exec-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, app, http.MethodGet, "/executions/exec-missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, body := doJSON(t, app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "healthy")
}
