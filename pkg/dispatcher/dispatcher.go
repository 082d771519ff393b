// Package dispatcher validates inbound workflow triggers, creates execution
// records and reconciles the engine call that results from them.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/flowprobe/flowprobe/pkg/engine"
	"github.com/flowprobe/flowprobe/pkg/eventbus"
	"github.com/flowprobe/flowprobe/pkg/events"
	"github.com/flowprobe/flowprobe/pkg/log"
	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/otelhelper"
	"github.com/flowprobe/flowprobe/pkg/persistence"
)

// ErrWorkflowInactive is returned for trigger requests against workflows that
// are not in the active status.
var ErrWorkflowInactive = errors.New("workflow is not active")

// ValidationError reports a trigger payload that failed the workflow's
// declared trigger schema.
type ValidationError struct {
	WorkflowID string
	Detail     string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("trigger payload for workflow %s is invalid: %s", e.WorkflowID, e.Detail)
}

// EngineFaultError reports a synchronously-failing engine call. The execution
// record has already been moved to failed when this error is returned.
type EngineFaultError struct {
	ExecutionID string
	Err         error
}

func (e *EngineFaultError) Error() string {
	return fmt.Sprintf("engine call for execution %s failed: %v", e.ExecutionID, e.Err)
}

func (e *EngineFaultError) Unwrap() error {
	return e.Err
}

// Result is the outcome of a successful dispatch. Degraded is set when the
// workflow has no engine configured: the execution is tracked but nothing
// runs downstream.
type Result struct {
	Execution         *models.Execution
	EngineExecutionID string
	Degraded          bool
}

// Dispatcher owns execution records: it is the only writer of their status.
type Dispatcher struct {
	persistence persistence.Persistence
	engine      engine.Client
	publisher   eventbus.EventPublisher
	tracer      trace.Tracer
	logger      *slog.Logger
	workerID    string
}

// NewDispatcher builds a dispatcher. engineClient and publisher may be nil:
// without an engine every dispatch takes the degraded path, and without a
// publisher lifecycle events are skipped.
func NewDispatcher(
	p persistence.Persistence,
	engineClient engine.Client,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	workerID string,
) *Dispatcher {
	return &Dispatcher{
		persistence: p,
		engine:      engineClient,
		publisher:   publisher,
		tracer:      tracer,
		logger:      log.WithModule("dispatcher"),
		workerID:    workerID,
	}
}

// Dispatch triggers workflowID with payload. Exactly one execution record is
// created per call; the record never stays running when the engine call
// itself fails synchronously.
func (d *Dispatcher) Dispatch(ctx context.Context, workflowID string, payload map[string]any, triggerType models.TriggerType) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, d.tracer, "dispatcher.dispatch",
		attribute.String(otelhelper.WorkflowIDKey, workflowID),
		attribute.String(otelhelper.TriggerTypeKey, string(triggerType)),
	)
	defer span.End()

	workflow, err := d.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to load workflow %s: %w", workflowID, err)
	}

	if workflow == nil {
		return nil, persistence.ErrWorkflowNotFound
	}

	if !workflow.IsTriggerable() {
		return nil, fmt.Errorf("workflow %s has status %s: %w", workflowID, workflow.Status, ErrWorkflowInactive)
	}

	if len(workflow.TriggerSchema) > 0 {
		if err := validatePayload(workflow.TriggerSchema, payload); err != nil {
			return nil, &ValidationError{WorkflowID: workflowID, Detail: err.Error()}
		}
	}

	execution := &models.Execution{
		ID:          "exec-" + uuid.New().String()[:8],
		WorkflowID:  workflow.ID,
		WorkerID:    d.workerID,
		Status:      models.ExecutionStatusRunning,
		TriggerType: triggerType,
		TriggerData: payload,
		StartedAt:   time.Now().UTC(),
	}

	if err := d.persistence.ExecutionRepository().Create(ctx, execution); err != nil {
		otelhelper.SetError(span, err)

		return nil, fmt.Errorf("failed to create execution record: %w", err)
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))

	d.publish(ctx, execution.ID, events.ExecutionStarted{
		BaseEvent:   d.baseEvent(events.ExecutionStartedEvent, workflow.ID),
		ExecutionID: execution.ID,
		TriggerType: triggerType,
		TriggerData: payload,
	})

	if d.engine == nil || !workflow.HasEngine() {
		d.logger.InfoContext(ctx, "Workflow has no engine configured, execution tracked without downstream effect",
			"workflow_id", workflow.ID, "execution_id", execution.ID)

		return &Result{Execution: execution, Degraded: true}, nil
	}

	result, err := d.engine.Execute(ctx, *workflow.EngineWorkflowID, payload)
	if err != nil {
		return nil, d.failExecution(ctx, span, workflow, execution, err)
	}

	if err := d.recordEngineResult(ctx, workflow, execution, result); err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	d.logger.InfoContext(ctx, "Workflow triggered",
		"workflow_id", workflow.ID,
		"execution_id", execution.ID,
		"engine_execution_id", result.EngineExecutionID,
		"trigger_type", triggerType)

	return &Result{Execution: execution, EngineExecutionID: result.EngineExecutionID}, nil
}

// recordEngineResult attaches the engine reference to the execution and, when
// the engine completed synchronously, moves the record to its terminal state.
func (d *Dispatcher) recordEngineResult(ctx context.Context, workflow *models.Workflow, execution *models.Execution, result *engine.Result) error {
	repo := d.persistence.ExecutionRepository()
	running := []models.ExecutionStatus{models.ExecutionStatusRunning}
	engineRef := result.EngineExecutionID
	execution.EngineExecutionID = &engineRef

	switch result.Status {
	case engine.StatusSucceeded:
		now := time.Now().UTC()
		execution.Status = models.ExecutionStatusSucceeded
		execution.CompletedAt = &now

		if err := repo.TransitionStatus(ctx, execution.ID, running, models.ExecutionStatusSucceeded,
			persistence.ExecutionPatch{EngineExecutionID: &engineRef, CompletedAt: &now}); err != nil {
			return fmt.Errorf("failed to record execution success: %w", err)
		}

		d.publish(ctx, execution.ID, events.ExecutionSucceeded{
			BaseEvent:         d.baseEvent(events.ExecutionSucceededEvent, workflow.ID),
			ExecutionID:       execution.ID,
			EngineExecutionID: engineRef,
		})

	default:
		// Engine accepted the execution and keeps running it asynchronously.
		if err := repo.TransitionStatus(ctx, execution.ID, running, models.ExecutionStatusRunning,
			persistence.ExecutionPatch{EngineExecutionID: &engineRef}); err != nil {
			return fmt.Errorf("failed to record engine reference: %w", err)
		}
	}

	return nil
}

// failExecution reconciles an execution whose engine call failed: the record
// ends failed with the error and a completion time, never dangling running.
func (d *Dispatcher) failExecution(ctx context.Context, span trace.Span, workflow *models.Workflow, execution *models.Execution, engineErr error) error {
	otelhelper.SetError(span, engineErr)

	now := time.Now().UTC()
	detail := engineErr.Error()
	execution.Status = models.ExecutionStatusFailed
	execution.Error = &detail
	execution.CompletedAt = &now

	err := d.persistence.ExecutionRepository().TransitionStatus(ctx, execution.ID,
		[]models.ExecutionStatus{models.ExecutionStatusRunning},
		models.ExecutionStatusFailed,
		persistence.ExecutionPatch{Error: &detail, CompletedAt: &now})
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to mark execution as failed",
			"execution_id", execution.ID, "error", err)
	}

	d.publish(ctx, execution.ID, events.ExecutionFailed{
		BaseEvent:   d.baseEvent(events.ExecutionFailedEvent, workflow.ID),
		ExecutionID: execution.ID,
		Error:       detail,
	})

	d.logger.ErrorContext(ctx, "Engine call failed",
		"workflow_id", workflow.ID, "execution_id", execution.ID, "error", engineErr)

	return &EngineFaultError{ExecutionID: execution.ID, Err: engineErr}
}

// publish emits a lifecycle event best-effort: failures are logged and never
// alter the dispatch outcome.
func (d *Dispatcher) publish(ctx context.Context, key string, event eventbus.Event) {
	if d.publisher == nil {
		return
	}

	if err := d.publisher.Publish(ctx, key, event); err != nil {
		d.logger.WarnContext(ctx, "Failed to publish event",
			"event_type", event.GetType(), "key", key, "error", err)
	}
}

func (d *Dispatcher) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	return events.BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		WorkerID:   d.workerID,
	}
}

func validatePayload(schema map[string]any, payload map[string]any) error {
	if payload == nil {
		payload = map[string]any{}
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(payload))
	if err != nil {
		return err
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return errors.New(strings.Join(details, "; "))
	}

	return nil
}
