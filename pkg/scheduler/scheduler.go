// Package scheduler dispatches workflows that carry a cron schedule. A single
// cron runner holds one job per scheduled workflow; Refresh reconciles the job
// set against the active workflows in persistence.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/flowprobe/flowprobe/pkg/dispatcher"
	"github.com/flowprobe/flowprobe/pkg/log"
	"github.com/flowprobe/flowprobe/pkg/models"
	"github.com/flowprobe/flowprobe/pkg/persistence"
)

// Scheduler runs cron jobs for active workflows that declare a schedule.
type Scheduler struct {
	workflows  persistence.WorkflowRepository
	dispatcher *dispatcher.Dispatcher
	logger     *slog.Logger

	cron    *cron.Cron
	jobs    map[string]cron.EntryID // workflow ID -> cron entry
	specs   map[string]string       // workflow ID -> registered cron expression
	mu      sync.Mutex
	started bool
}

func NewScheduler(workflows persistence.WorkflowRepository, d *dispatcher.Dispatcher) *Scheduler {
	return &Scheduler{
		workflows:  workflows,
		dispatcher: d,
		logger:     log.WithModule("scheduler"),
		jobs:       make(map[string]cron.EntryID),
		specs:      make(map[string]string),
	}
}

// ValidateSchedule checks a workflow's cron expression without registering it.
func ValidateSchedule(expr string) error {
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	return nil
}

// Start loads the current schedule set and begins the cron runner.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if err := s.reconcile(ctx); err != nil {
		return err
	}

	s.cron.Start()
	s.started = true

	s.logger.Info("Scheduler started", "scheduled_workflows", len(s.jobs))

	return nil
}

// Stop halts the cron runner, waiting for in-flight jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.started = false
	s.logger.Info("Scheduler stopped")

	return nil
}

// Refresh reconciles registered cron jobs against the workflows currently in
// persistence. New scheduled workflows gain a job, workflows that stopped
// being triggerable or changed their expression are re-registered or removed.
func (s *Scheduler) Refresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	return s.reconcile(ctx)
}

func (s *Scheduler) reconcile(ctx context.Context) error {
	workflows, err := s.workflows.Workflows(ctx)
	if err != nil {
		return fmt.Errorf("failed to list workflows: %w", err)
	}

	seen := make(map[string]bool, len(workflows))

	for _, wf := range workflows {
		if wf.Schedule == "" || !wf.IsTriggerable() {
			continue
		}

		seen[wf.ID] = true

		if s.specs[wf.ID] == wf.Schedule {
			continue
		}

		if entryID, ok := s.jobs[wf.ID]; ok {
			s.cron.Remove(entryID)
		}

		if err := s.register(wf); err != nil {
			s.logger.Error("Skipping workflow with invalid schedule",
				"workflow_id", wf.ID, "schedule", wf.Schedule, "error", err)

			delete(s.jobs, wf.ID)
			delete(s.specs, wf.ID)

			continue
		}
	}

	for workflowID, entryID := range s.jobs {
		if !seen[workflowID] {
			s.cron.Remove(entryID)
			delete(s.jobs, workflowID)
			delete(s.specs, workflowID)

			s.logger.Info("Unscheduled workflow", "workflow_id", workflowID)
		}
	}

	return nil
}

func (s *Scheduler) register(wf *models.Workflow) error {
	workflowID := wf.ID
	schedule := wf.Schedule

	entryID, err := s.cron.AddFunc(schedule, func() {
		s.fire(workflowID, schedule)
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}

	s.jobs[workflowID] = entryID
	s.specs[workflowID] = schedule

	s.logger.Info("Scheduled workflow", "workflow_id", workflowID, "schedule", schedule)

	return nil
}

func (s *Scheduler) fire(workflowID, schedule string) {
	ctx := context.Background()

	payload := map[string]any{
		"schedule": schedule,
	}

	result, err := s.dispatcher.Dispatch(ctx, workflowID, payload, models.TriggerTypeScheduled)
	if err != nil {
		s.logger.Error("Scheduled dispatch failed",
			"workflow_id", workflowID, "error", err)

		return
	}

	s.logger.Info("Scheduled dispatch completed",
		"workflow_id", workflowID,
		"execution_id", result.Execution.ID)
}
