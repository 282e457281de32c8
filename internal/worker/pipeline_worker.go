package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/reelcraft/mediapipe/internal/queue"
	"github.com/sirupsen/logrus"
)

// Orchestrator is the part of pipeline.Orchestrator the handlers drive.
type Orchestrator interface {
	ProcessParentJob(ctx context.Context, taskID string) error
	ProcessStepJob(ctx context.Context, job model.StepJob) (model.StepResult, error)
	FailTask(ctx context.Context, taskID, reason string) error
}

// PipelineWorker handles parent and step jobs from the asynq queues.
type PipelineWorker struct {
	orch        Orchestrator
	logger      *logrus.Logger
	lastAttempt func(ctx context.Context) bool
}

// NewPipelineWorker creates a new pipeline worker
func NewPipelineWorker(orch Orchestrator, logger *logrus.Logger) *PipelineWorker {
	return &PipelineWorker{orch: orch, logger: logger, lastAttempt: lastAttempt}
}

// lastAttempt reports whether the running job has used up its retries.
func lastAttempt(ctx context.Context) bool {
	retried, ok := asynq.GetRetryCount(ctx)
	if !ok {
		return false
	}
	maxRetry, ok := asynq.GetMaxRetry(ctx)
	return ok && retried >= maxRetry
}

// Register adds the worker's handlers to mux.
func (w *PipelineWorker) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TypeParentJob, w.ProcessParent)
	mux.HandleFunc(queue.TypeStepJob, w.ProcessStep)
}

// ProcessParent runs a task's fan-out and join. Deterministic failures are
// not retried by the queue, and a task whose last retry fails is marked
// FAILED.
func (w *PipelineWorker) ProcessParent(ctx context.Context, t *asynq.Task) error {
	var payload queue.ParentPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal parent payload: %v: %w", err, asynq.SkipRetry)
	}

	err := w.orch.ProcessParentJob(ctx, payload.TaskID)
	if err == nil {
		return nil
	}

	var tf *apperr.TaskFailure
	if errors.As(err, &tf) || errors.Is(err, apperr.ErrNotFound) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	log := w.logger.WithError(err).WithField("task_id", payload.TaskID)
	if w.lastAttempt(ctx) {
		log.Warn("Parent job out of retries, failing task")
		// ctx may already be past its deadline when the job timed out.
		if fErr := w.orch.FailTask(context.WithoutCancel(ctx), payload.TaskID, err.Error()); fErr != nil {
			log.WithField("fail_error", fErr).Error("Failed to mark task failed")
		}
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	log.Warn("Parent job will be retried")
	return err
}

// ProcessStep runs one step and publishes its result on the queue entry so
// the parent's join can read it.
func (w *PipelineWorker) ProcessStep(ctx context.Context, t *asynq.Task) error {
	var job model.StepJob
	if err := json.Unmarshal(t.Payload(), &job); err != nil {
		return fmt.Errorf("failed to unmarshal step job: %v: %w", err, asynq.SkipRetry)
	}

	result, err := w.orch.ProcessStepJob(ctx, job)
	if rw := t.ResultWriter(); rw != nil {
		data, mErr := json.Marshal(result)
		if mErr == nil {
			_, mErr = rw.Write(data)
		}
		if mErr != nil {
			w.logger.WithError(mErr).WithFields(logrus.Fields{
				"task_id": job.TaskID,
				"step":    job.Step,
			}).Warn("Failed to write step result")
		}
	}
	return err
}
