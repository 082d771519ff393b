// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrExecutionNotFound indicates an execution record was not found.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrTestCaseNotFound indicates a test case was not found by the given identifier.
	ErrTestCaseNotFound = errors.New("test case not found")

	// ErrTestRunNotFound indicates a test run was not found by the given identifier.
	ErrTestRunNotFound = errors.New("test run not found")

	// ErrActiveRunExists indicates a test case already has a pending or running test run.
	ErrActiveRunExists = errors.New("test case already has an active test run")

	// ErrStatusConflict indicates a compare-and-set status transition found the
	// record in an unexpected state.
	ErrStatusConflict = errors.New("status transition conflict")
)

// ActiveRunError reports a violated single-active-run invariant, carrying the
// id of the run that currently occupies the slot.
type ActiveRunError struct {
	TestCaseID  string
	ActiveRunID string
}

func (e *ActiveRunError) Error() string {
	return fmt.Sprintf("test case %s already has active test run %s", e.TestCaseID, e.ActiveRunID)
}

func (e *ActiveRunError) Is(target error) bool {
	return target == ErrActiveRunExists
}

// NewActiveRunError creates an ActiveRunError for the given test case and run.
func NewActiveRunError(testCaseID, activeRunID string) *ActiveRunError {
	return &ActiveRunError{TestCaseID: testCaseID, ActiveRunID: activeRunID}
}

// TransitionError wraps a failed compare-and-set status transition with the
// state it found.
type TransitionError struct {
	Op      string // Operation being performed (e.g. "TransitionStatus")
	ID      string // Record id
	Current string // Status found in storage
	Target  string // Status the transition wanted
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: record %s is %q, cannot move to %q", e.Op, e.ID, e.Current, e.Target)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrStatusConflict
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsExecutionNotFound checks if an error indicates an execution was not found.
func IsExecutionNotFound(err error) bool {
	return errors.Is(err, ErrExecutionNotFound)
}

// IsTestCaseNotFound checks if an error indicates a test case was not found.
func IsTestCaseNotFound(err error) bool {
	return errors.Is(err, ErrTestCaseNotFound)
}

// IsTestRunNotFound checks if an error indicates a test run was not found.
func IsTestRunNotFound(err error) bool {
	return errors.Is(err, ErrTestRunNotFound)
}

// IsActiveRunExists checks if an error indicates the single-active-run
// invariant was violated.
func IsActiveRunExists(err error) bool {
	return errors.Is(err, ErrActiveRunExists)
}

// IsStatusConflict checks if an error indicates a failed compare-and-set
// status transition.
func IsStatusConflict(err error) bool {
	return errors.Is(err, ErrStatusConflict)
}
