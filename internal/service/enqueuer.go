package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/config"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/reelcraft/mediapipe/internal/queue"
	"github.com/reelcraft/mediapipe/internal/store"
	"github.com/sirupsen/logrus"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultBatchSize    = 20
)

// Enqueuer moves QUEUED tasks from the record store onto the durable queue.
type Enqueuer struct {
	store     store.Store
	queue     queue.Queue
	interval  time.Duration
	batchSize int
	inflight  chan struct{}
	logger    *logrus.Logger
}

// NewEnqueuer creates an enqueuer that polls s for queued tasks.
func NewEnqueuer(s store.Store, q queue.Queue, cfg config.PipelineConfig, logger *logrus.Logger) *Enqueuer {
	e := &Enqueuer{
		store:     s,
		queue:     q,
		interval:  cfg.PollInterval,
		batchSize: cfg.BatchSize,
		inflight:  make(chan struct{}, 1),
		logger:    logger,
	}
	if e.interval <= 0 {
		e.interval = defaultPollInterval
	}
	if e.batchSize <= 0 {
		e.batchSize = defaultBatchSize
	}
	return e
}

// Run polls immediately and then on every tick until ctx is done.
func (e *Enqueuer) Run(ctx context.Context) {
	e.logger.WithField("interval", e.interval).Info("Task enqueuer started")
	e.PollOnce(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Task enqueuer stopped")
			return
		case <-ticker.C:
			e.PollOnce(ctx)
		}
	}
}

// PollOnce submits one batch of QUEUED tasks. Only one poll runs at a time
// per process; an overlapping call returns immediately.
func (e *Enqueuer) PollOnce(ctx context.Context) {
	select {
	case e.inflight <- struct{}{}:
	default:
		e.logger.Debug("Previous poll still running, skipping")
		return
	}
	defer func() { <-e.inflight }()
	defer func() {
		if r := recover(); r != nil {
			e.logger.WithField("panic", r).Error("Task poll panicked")
		}
	}()

	tasks, err := e.store.ListQueuedTasks(ctx, e.batchSize)
	if err != nil {
		e.logger.WithError(err).Error("Failed to list queued tasks")
		return
	}
	for _, task := range tasks {
		if err := e.EnqueueTaskIfNeeded(ctx, task); err != nil {
			e.logger.WithError(err).WithFields(logrus.Fields{
				"task_id":   task.ID,
				"task_kind": task.Kind,
			}).Warn("Failed to enqueue task")
		}
	}
}

// EnqueueTaskIfNeeded submits the parent job of a QUEUED task and marks the
// task RUNNING. A job already on the queue counts as submitted.
func (e *Enqueuer) EnqueueTaskIfNeeded(ctx context.Context, task *model.Task) error {
	if task.Status != model.TaskStatusQueued {
		return nil
	}

	jobID := queue.ParentJobID(task.Kind, task.ID)
	payload, err := json.Marshal(queue.ParentPayload{TaskID: task.ID, Kind: task.Kind})
	if err != nil {
		return fmt.Errorf("failed to marshal parent payload: %w", err)
	}

	log := e.logger.WithFields(logrus.Fields{"task_id": task.ID, "job_id": jobID})
	if err := e.queue.Enqueue(ctx, queue.JobParent, jobID, payload); err != nil {
		if !errors.Is(err, apperr.ErrClaimConflict) {
			return err
		}
		log.Debug("Parent job already queued")
	} else {
		log.Info("Parent job enqueued")
	}

	if _, err := e.store.TransitionTask(ctx, task.ID, model.TaskStatusRunning, ""); err != nil {
		log.WithError(err).Debug("Task not marked running")
	}
	return nil
}
