// Package apperr holds the error taxonomy shared by the queue, the runner,
// the executors and the orchestrator.
package apperr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrClaimConflict reports that a queue entry with the same deterministic
	// identifier already exists. Callers treat it as a successful claim.
	ErrClaimConflict = errors.New("queue entry already exists")

	// ErrNotFound is returned by the record store for unknown identifiers.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the record's current status.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// InputResolutionError is raised before any subprocess runs when an asset,
// record or storage path cannot be resolved.
type InputResolutionError struct {
	Resource string
	ID       string
	Err      error
}

func (e *InputResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve %s %q: %v", e.Resource, e.ID, e.Err)
	}
	return fmt.Sprintf("resolve %s %q: not available", e.Resource, e.ID)
}

func (e *InputResolutionError) Unwrap() error { return e.Err }

// SubprocessError carries the exit code and the bounded stderr tail of a
// failed media-processing invocation.
type SubprocessError struct {
	Binary   string
	ExitCode int
	Tail     []string
	Err      error
}

func (e *SubprocessError) Error() string {
	msg := fmt.Sprintf("%s exited with code %d", e.Binary, e.ExitCode)
	if e.Err != nil && e.ExitCode < 0 {
		msg = fmt.Sprintf("%s failed to start: %v", e.Binary, e.Err)
	}
	if len(e.Tail) > 0 {
		msg += ": " + strings.Join(e.Tail, "\n")
	}
	return msg
}

func (e *SubprocessError) Unwrap() error { return e.Err }

// ProbeValidationError reports probe output missing required sections.
type ProbeValidationError struct {
	Path   string
	Reason string
}

func (e *ProbeValidationError) Error() string {
	return fmt.Sprintf("invalid probe output for %s: %s", e.Path, e.Reason)
}

// GraphBuildError reports a composition that cannot be built or whose
// rendered output is unusable.
type GraphBuildError struct {
	Reason string
}

func (e *GraphBuildError) Error() string {
	return "graph build: " + e.Reason
}

// StepFailure wraps an error raised by a step processor.
type StepFailure struct {
	TaskID string
	Step   string
	Err    error
}

func (e *StepFailure) Error() string {
	return fmt.Sprintf("step %s of task %s failed: %v", e.Step, e.TaskID, e.Err)
}

func (e *StepFailure) Unwrap() error { return e.Err }

// TaskFailure aggregates the failed steps of a task after the join.
type TaskFailure struct {
	TaskID string
	Total  int
	Failed []FailedStep
}

// FailedStep identifies one failed step and its message.
type FailedStep struct {
	Step    string
	Message string
}

func (e *TaskFailure) Error() string {
	names := make([]string, 0, len(e.Failed))
	for _, f := range e.Failed {
		names = append(names, f.Step)
	}
	return fmt.Sprintf("task %s: %d of %d steps failed (%s)", e.TaskID, len(e.Failed), e.Total, strings.Join(names, ", "))
}
