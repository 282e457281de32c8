// Package pipeline fans a task out into step jobs, joins on their results
// and records the task outcome.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/reelcraft/mediapipe/internal/processor"
	"github.com/reelcraft/mediapipe/internal/queue"
	"github.com/reelcraft/mediapipe/internal/runner"
	"github.com/reelcraft/mediapipe/internal/store"
	"github.com/sirupsen/logrus"
)

// Steps is the set of step processors the orchestrator dispatches to.
type Steps interface {
	Probe(ctx context.Context, in processor.MediaInput, progress runner.ProgressFunc) (interface{}, error)
	Thumbnail(ctx context.Context, in processor.MediaInput, progress runner.ProgressFunc) (interface{}, error)
	Sprite(ctx context.Context, in processor.MediaInput, progress runner.ProgressFunc) (interface{}, error)
	Filmstrip(ctx context.Context, in processor.MediaInput, progress runner.ProgressFunc) (interface{}, error)
	Proxy(ctx context.Context, in processor.MediaInput, progress runner.ProgressFunc) (interface{}, error)
	Audio(ctx context.Context, in processor.MediaInput, progress runner.ProgressFunc) (interface{}, error)
	Compose(ctx context.Context, in processor.RenderInput, progress runner.ProgressFunc) (interface{}, error)
}

// Notifier receives progress and completion events for live clients.
type Notifier interface {
	StepProgress(taskID string, step model.StepKind, percent float64)
	TaskFinished(task *model.Task, steps []model.StepResult)
}

// Orchestrator runs parent and step jobs against the record store.
type Orchestrator struct {
	store    store.Store
	queue    queue.Queue
	steps    Steps
	notifier Notifier
	logger   *logrus.Logger
}

// NewOrchestrator creates an orchestrator. notifier may be nil.
func NewOrchestrator(s store.Store, q queue.Queue, steps Steps, notifier Notifier, logger *logrus.Logger) *Orchestrator {
	return &Orchestrator{
		store:    s,
		queue:    q,
		steps:    steps,
		notifier: notifier,
		logger:   logger,
	}
}

// StepsFor returns the steps a task fans out into.
func StepsFor(payload model.TaskPayload) ([]model.StepKind, error) {
	switch p := payload.(type) {
	case model.ProcessUploadPayload:
		switch p.MediaKind {
		case model.MediaKindVideo:
			return []model.StepKind{
				model.StepProbe,
				model.StepThumbnail,
				model.StepSprite,
				model.StepFilmstrip,
				model.StepProxy,
				model.StepAudio,
			}, nil
		case model.MediaKindAudio:
			return []model.StepKind{model.StepProbe, model.StepAudio}, nil
		case model.MediaKindImage:
			return []model.StepKind{model.StepProbe, model.StepThumbnail}, nil
		}
		return nil, fmt.Errorf("unsupported media kind %q", p.MediaKind)
	case model.RenderTimelinePayload:
		return []model.StepKind{model.StepCompose}, nil
	}
	return nil, fmt.Errorf("unsupported payload %T", payload)
}

// ProcessParentJob drives one task through fan-out, join and outcome. It is
// safe to call again for the same task: a terminal task is left untouched and
// children already in the queue are not submitted twice.
func (o *Orchestrator) ProcessParentJob(ctx context.Context, taskID string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	log := o.logger.WithFields(logrus.Fields{"task_id": task.ID, "kind": task.Kind})

	if task.Status.IsTerminal() {
		log.WithField("status", task.Status).Info("Task already finished, skipping")
		return nil
	}
	if task.Status == model.TaskStatusQueued {
		claimed, err := o.store.TransitionTask(ctx, task.ID, model.TaskStatusRunning, "")
		switch {
		case err == nil:
			task = claimed
		case errors.Is(err, apperr.ErrInvalidTransition):
			if task, err = o.store.GetTask(ctx, taskID); err != nil {
				return err
			}
			if task.Status.IsTerminal() {
				return nil
			}
		default:
			return err
		}
	}

	payload, err := task.DecodePayload()
	if err != nil {
		o.finish(ctx, task, model.TaskStatusFailed, err.Error())
		return &apperr.TaskFailure{TaskID: task.ID, Failed: []apperr.FailedStep{{Step: "decode", Message: err.Error()}}}
	}
	steps, err := StepsFor(payload)
	if err != nil {
		o.finish(ctx, task, model.TaskStatusFailed, err.Error())
		return &apperr.TaskFailure{TaskID: task.ID, Failed: []apperr.FailedStep{{Step: "plan", Message: err.Error()}}}
	}

	parentID := queue.ParentJobID(task.Kind, task.ID)
	if err := o.enqueueChildren(ctx, task, parentID, steps); err != nil {
		return err
	}
	log.WithField("steps", len(steps)).Info("Waiting for steps")

	results, err := o.queue.AwaitChildren(ctx, parentID, steps)
	if err != nil {
		return fmt.Errorf("failed to join steps of task %s: %w", task.ID, err)
	}

	var failed []apperr.FailedStep
	for _, step := range steps {
		r, ok := results[step]
		if !ok {
			failed = append(failed, apperr.FailedStep{Step: string(step), Message: "no result"})
			continue
		}
		if r.Failed() {
			failed = append(failed, apperr.FailedStep{Step: string(step), Message: r.Error})
		}
	}
	if len(failed) > 0 {
		tf := &apperr.TaskFailure{TaskID: task.ID, Total: len(steps), Failed: failed}
		log.WithField("failed", len(failed)).Warn("Task failed")
		o.finish(ctx, task, model.TaskStatusFailed, tf.Error())
		return tf
	}

	if err := o.finalize(ctx, payload, task.ID); err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			tf := &apperr.TaskFailure{TaskID: task.ID, Total: len(steps), Failed: []apperr.FailedStep{{Step: "finalize", Message: err.Error()}}}
			log.WithError(err).Warn("Task record missing at finalize")
			o.finish(ctx, task, model.TaskStatusFailed, tf.Error())
			return tf
		}
		return fmt.Errorf("failed to finalize task %s: %w", task.ID, err)
	}
	o.finish(ctx, task, model.TaskStatusCompleted, "")
	log.Info("Task completed")
	return nil
}

// FailTask marks an unfinished task FAILED with reason. The parent job calls
// it when it gives up on a task without having recorded an outcome.
func (o *Orchestrator) FailTask(ctx context.Context, taskID, reason string) error {
	task, err := o.store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status.IsTerminal() {
		return nil
	}
	if task.Status == model.TaskStatusQueued {
		if task, err = o.store.TransitionTask(ctx, taskID, model.TaskStatusRunning, ""); err != nil {
			return err
		}
	}
	o.finish(ctx, task, model.TaskStatusFailed, reason)
	return nil
}

func (o *Orchestrator) enqueueChildren(ctx context.Context, task *model.Task, parentID string, steps []model.StepKind) error {
	for _, step := range steps {
		data, err := json.Marshal(model.StepJob{
			TaskID:      task.ID,
			ParentJobID: parentID,
			TaskKind:    task.Kind,
			Step:        step,
			Payload:     task.Payload,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal step job: %w", err)
		}
		id := queue.ChildJobID(parentID, step)
		if err := o.queue.Enqueue(ctx, queue.JobStep, id, data); err != nil {
			if errors.Is(err, apperr.ErrClaimConflict) {
				o.logger.WithField("job_id", id).Debug("Step already in flight")
				continue
			}
			return err
		}
	}
	return nil
}

// finalize runs the post-join side effect of a successful task.
func (o *Orchestrator) finalize(ctx context.Context, payload model.TaskPayload, taskID string) error {
	switch p := payload.(type) {
	case model.ProcessUploadPayload:
		active := model.MediaStatusActive
		return o.store.UpdateMedia(ctx, p.MediaID, model.MediaUpdate{Status: &active})
	case model.RenderTimelinePayload:
		return o.store.SetRenderStatus(ctx, taskID, model.RenderStatusActive)
	}
	return fmt.Errorf("unsupported payload %T", payload)
}

func (o *Orchestrator) finish(ctx context.Context, task *model.Task, status model.TaskStatus, errMsg string) {
	updated, err := o.store.TransitionTask(ctx, task.ID, status, errMsg)
	if err != nil {
		o.logger.WithError(err).WithFields(logrus.Fields{
			"task_id": task.ID,
			"status":  status,
		}).Warn("Failed to record task outcome")
		return
	}
	if o.notifier == nil {
		return
	}
	results, err := o.store.ListStepResults(ctx, task.ID)
	if err != nil {
		o.logger.WithError(err).WithField("task_id", task.ID).Warn("Failed to list step results")
	}
	o.notifier.TaskFinished(updated, results)
}

// ProcessStepJob runs one step and records its result. A failed step returns
// the result together with a StepFailure so the queue can retry it.
func (o *Orchestrator) ProcessStepJob(ctx context.Context, job model.StepJob) (model.StepResult, error) {
	result := model.StepResult{StepType: job.Step, StartedAt: time.Now()}
	log := o.logger.WithFields(logrus.Fields{"task_id": job.TaskID, "step": job.Step})

	progress := func(percent float64) {
		if o.notifier != nil {
			o.notifier.StepProgress(job.TaskID, job.Step, percent)
		}
	}

	output, err := o.dispatch(ctx, job, progress)
	result.CompletedAt = time.Now()
	if err == nil {
		raw, mErr := json.Marshal(output)
		if mErr != nil {
			err = fmt.Errorf("failed to marshal step output: %w", mErr)
		} else {
			result.Output = raw
		}
	}
	if err != nil {
		result.Status = model.StepStatusFailed
		result.Error = err.Error()
		log.WithError(err).Warn("Step failed")
	} else {
		result.Status = model.StepStatusCompleted
		log.WithField("elapsed", result.CompletedAt.Sub(result.StartedAt)).Info("Step completed")
	}

	if sErr := o.store.SaveStepResult(ctx, job.TaskID, result); sErr != nil {
		log.WithError(sErr).Warn("Failed to save step result")
	}
	if err != nil {
		return result, &apperr.StepFailure{TaskID: job.TaskID, Step: string(job.Step), Err: err}
	}
	return result, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, job model.StepJob, progress runner.ProgressFunc) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.WithFields(logrus.Fields{
				"task_id": job.TaskID,
				"step":    job.Step,
				"stack":   string(debug.Stack()),
			}).Error("Step panicked")
			out, err = nil, fmt.Errorf("step panicked: %v", r)
		}
	}()

	task := model.Task{ID: job.TaskID, Kind: job.TaskKind, Payload: job.Payload}
	payload, err := task.DecodePayload()
	if err != nil {
		return nil, err
	}

	switch job.Step {
	case model.StepCompose:
		p, ok := payload.(model.RenderTimelinePayload)
		if !ok {
			return nil, fmt.Errorf("step %s does not apply to %s tasks", job.Step, job.TaskKind)
		}
		return o.steps.Compose(ctx, processor.RenderInput{TaskID: job.TaskID, Payload: p}, progress)
	case model.StepProbe, model.StepThumbnail, model.StepSprite, model.StepFilmstrip, model.StepProxy, model.StepAudio:
		p, ok := payload.(model.ProcessUploadPayload)
		if !ok {
			return nil, fmt.Errorf("step %s does not apply to %s tasks", job.Step, job.TaskKind)
		}
		in := processor.MediaInput{TaskID: job.TaskID, Payload: p}
		switch job.Step {
		case model.StepProbe:
			return o.steps.Probe(ctx, in, progress)
		case model.StepThumbnail:
			return o.steps.Thumbnail(ctx, in, progress)
		case model.StepSprite:
			return o.steps.Sprite(ctx, in, progress)
		case model.StepFilmstrip:
			return o.steps.Filmstrip(ctx, in, progress)
		case model.StepProxy:
			return o.steps.Proxy(ctx, in, progress)
		default:
			return o.steps.Audio(ctx, in, progress)
		}
	}
	return nil, fmt.Errorf("unknown step kind %q", job.Step)
}
