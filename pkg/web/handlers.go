package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence"
)

// RunService is the part of the test execution service the API needs.
type RunService interface {
	RunTest(ctx context.Context, testCaseID string) (*models.TestRun, error)
	RunAdHoc(ctx context.Context, workflowID string, mockStepInputs map[string]any, assertions []models.Assertion) (*models.TestRun, error)
	CancelTestRun(ctx context.Context, runID string) (*models.TestRun, error)
	GetTestRun(ctx context.Context, runID string) (*models.TestRun, error)
}

type APIHandlers struct {
	persistence persistence.Persistence
	runs        RunService
	validator   *validator.Validate
}

func NewAPIHandlers(p persistence.Persistence, runs RunService, validate *validator.Validate) *APIHandlers {
	return &APIHandlers{
		persistence: p,
		runs:        runs,
		validator:   validate,
	}
}

// RegisterRoutes mounts all API routes on the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	w := app.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Get("/:id", h.GetWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)

	app.Get("/executions/:id", h.GetExecution)

	tc := app.Group("/test-cases")
	tc.Get("/", h.GetTestCases)
	tc.Post("/", h.CreateTestCase)
	tc.Get("/:id", h.GetTestCase)
	tc.Patch("/:id", h.UpdateTestCase)
	tc.Delete("/:id", h.DeleteTestCase)
	tc.Post("/:id/run", h.RunTestCase)
	tc.Get("/:id/runs", h.GetTestCaseRuns)

	tr := app.Group("/test-runs")
	tr.Post("/", h.RunAdHoc)
	tr.Get("/:id", h.GetTestRun)
	tr.Delete("/:id", h.DeleteTestRun)

	app.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	repositoryCheck := "ok"
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
		repositoryCheck = err.Error()
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// Workflows (read surface; authoring happens elsewhere).

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.WorkflowRepository().Workflows(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(workflows)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.persistence.WorkflowRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return internalError(c, err)
	}

	if workflow == nil {
		return notFound(c, "workflow not found")
	}

	return c.JSON(workflow)
}

// Executions (read surface; records are owned by the trigger dispatcher).

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	workflowID := c.Params("id")

	workflow, err := h.persistence.WorkflowRepository().GetByID(c.Context(), workflowID)
	if err != nil {
		return internalError(c, err)
	}

	if workflow == nil {
		return notFound(c, "workflow not found")
	}

	executions, err := h.persistence.ExecutionRepository().ListByWorkflow(c.Context(), workflowID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(executions)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.persistence.ExecutionRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return internalError(c, err)
	}

	if execution == nil {
		return notFound(c, "execution not found")
	}

	return c.JSON(execution)
}

// Test cases.

func (h *APIHandlers) GetTestCases(c fiber.Ctx) error {
	repo := h.persistence.TestCaseRepository()

	if workflowID := c.Query("workflow_id"); workflowID != "" {
		testCases, err := repo.ListByWorkflow(c.Context(), workflowID)
		if err != nil {
			return internalError(c, err)
		}

		return c.JSON(testCases)
	}

	testCases, err := repo.TestCases(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(testCases)
}

func (h *APIHandlers) GetTestCase(c fiber.Ctx) error {
	testCase, err := h.persistence.TestCaseRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return internalError(c, err)
	}

	if testCase == nil {
		return notFound(c, "test case not found")
	}

	return c.JSON(testCase)
}

func (h *APIHandlers) CreateTestCase(c fiber.Ctx) error {
	var req CreateTestCaseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	workflow, err := h.persistence.WorkflowRepository().GetByID(c.Context(), req.WorkflowID)
	if err != nil {
		return internalError(c, err)
	}

	if workflow == nil {
		return notFound(c, "workflow not found")
	}

	isActive := true
	if req.IsActive != nil {
		isActive = *req.IsActive
	}

	now := time.Now().UTC()
	testCase := &models.TestCase{
		ID:              uuid.Must(uuid.NewV7()).String(),
		WorkflowID:      req.WorkflowID,
		Name:            req.Name,
		MockTriggerData: req.MockTriggerData,
		MockStepInputs:  req.MockStepInputs,
		ExpectedOutputs: req.ExpectedOutputs,
		Assertions:      assignAssertionIDs(toModelAssertions(req.Assertions)),
		Tags:            req.Tags,
		IsActive:        isActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := h.persistence.TestCaseRepository().Save(c.Context(), testCase); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(testCase)
}

func (h *APIHandlers) UpdateTestCase(c fiber.Ctx) error {
	var req UpdateTestCaseRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	existing, err := h.persistence.TestCaseRepository().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		return internalError(c, err)
	}

	if existing == nil {
		return notFound(c, "test case not found")
	}

	if req.Name != nil {
		existing.Name = *req.Name
	}

	if req.MockTriggerData != nil {
		existing.MockTriggerData = req.MockTriggerData
	}

	if req.MockStepInputs != nil {
		existing.MockStepInputs = req.MockStepInputs
	}

	if req.ExpectedOutputs != nil {
		existing.ExpectedOutputs = req.ExpectedOutputs
	}

	if req.Assertions != nil {
		existing.Assertions = assignAssertionIDs(toModelAssertions(req.Assertions))
	}

	if req.Tags != nil {
		existing.Tags = req.Tags
	}

	if req.IsActive != nil {
		existing.IsActive = *req.IsActive
	}

	existing.UpdatedAt = time.Now().UTC()

	if err := h.persistence.TestCaseRepository().Save(c.Context(), existing); err != nil {
		return internalError(c, err)
	}

	return c.JSON(existing)
}

func (h *APIHandlers) DeleteTestCase(c fiber.Ctx) error {
	id := c.Params("id")

	existing, err := h.persistence.TestCaseRepository().GetByID(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	if existing == nil {
		return notFound(c, "test case not found")
	}

	if err := h.persistence.TestCaseRepository().Delete(c.Context(), id); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// Test runs.

func (h *APIHandlers) RunTestCase(c fiber.Ctx) error {
	run, err := h.runs.RunTest(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) RunAdHoc(c fiber.Ctx) error {
	var req RunAdHocRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	run, err := h.runs.RunAdHoc(c.Context(), req.WorkflowID, req.MockStepInputs,
		assignAssertionIDs(toModelAssertions(req.Assertions)))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(run)
}

func (h *APIHandlers) GetTestCaseRuns(c fiber.Ctx) error {
	testCaseID := c.Params("id")

	testCase, err := h.persistence.TestCaseRepository().GetByID(c.Context(), testCaseID)
	if err != nil {
		return internalError(c, err)
	}

	if testCase == nil {
		return notFound(c, "test case not found")
	}

	runs, err := h.persistence.TestRunRepository().ListByTestCase(c.Context(), testCaseID)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(runs)
}

func (h *APIHandlers) GetTestRun(c fiber.Ctx) error {
	run, err := h.runs.GetTestRun(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(h.decorateRun(c.Context(), run))
}

// DeleteTestRun cancels the run when it is still active and removes the
// record when it is terminal; one endpoint serves both based on state.
func (h *APIHandlers) DeleteTestRun(c fiber.Ctx) error {
	id := c.Params("id")

	run, err := h.persistence.TestRunRepository().GetByID(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	if run == nil {
		return notFound(c, "test run not found")
	}

	if run.Status.IsActive() {
		cancelled, err := h.runs.CancelTestRun(c.Context(), id)
		if err != nil {
			return handleServiceError(c, err)
		}

		return c.JSON(cancelled)
	}

	if err := h.persistence.TestRunRepository().Delete(c.Context(), id); err != nil {
		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// decorateRun attaches the denormalized workflow and test case names.
// Lookups are best-effort; the run itself is the payload.
func (h *APIHandlers) decorateRun(ctx context.Context, run *models.TestRun) TestRunResponse {
	response := TestRunResponse{TestRun: run}

	if workflow, err := h.persistence.WorkflowRepository().GetByID(ctx, run.WorkflowID); err == nil && workflow != nil {
		response.WorkflowName = workflow.Name
	}

	if run.TestCaseID != nil {
		if testCase, err := h.persistence.TestCaseRepository().GetByID(ctx, *run.TestCaseID); err == nil && testCase != nil {
			response.TestCaseName = testCase.Name
		}
	}

	return response
}

func assignAssertionIDs(assertions []models.Assertion) []models.Assertion {
	for i := range assertions {
		if assertions[i].ID == "" {
			assertions[i].ID = uuid.New().String()
		}
	}

	return assertions
}
