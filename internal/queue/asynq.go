package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/config"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/sirupsen/logrus"
)

// AsynqQueue implements Queue with an asynq client and inspector.
type AsynqQueue struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	cfg       config.PipelineConfig
	logger    *logrus.Logger
}

// NewAsynqQueue creates a queue over an asynq client and inspector.
func NewAsynqQueue(client *asynq.Client, inspector *asynq.Inspector, cfg config.PipelineConfig, logger *logrus.Logger) *AsynqQueue {
	return &AsynqQueue{
		client:    client,
		inspector: inspector,
		cfg:       cfg,
		logger:    logger,
	}
}

func (q *AsynqQueue) options(kind JobKind, id string) []asynq.Option {
	opts := []asynq.Option{
		asynq.TaskID(id),
		asynq.Queue(kind.queueName()),
		asynq.Retention(q.cfg.Retention),
	}
	switch kind {
	case JobParent:
		opts = append(opts, asynq.MaxRetry(q.cfg.ParentMaxRetry), asynq.Timeout(q.cfg.ParentTimeout))
	case JobStep:
		opts = append(opts, asynq.MaxRetry(q.cfg.StepMaxRetry), asynq.Timeout(q.cfg.StepTimeout))
	}
	return opts
}

// Enqueue submits a job under a deterministic id.
func (q *AsynqQueue) Enqueue(ctx context.Context, kind JobKind, id string, payload []byte) error {
	task := asynq.NewTask(kind.typeName(), payload)
	_, err := q.client.EnqueueContext(ctx, task, q.options(kind, id)...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return fmt.Errorf("%w: %s", apperr.ErrClaimConflict, id)
		}
		return fmt.Errorf("failed to enqueue %s: %w", id, err)
	}
	return nil
}

// AwaitChildren polls the inspector until every child has completed or been
// archived. A child the queue no longer knows about counts as failed.
func (q *AsynqQueue) AwaitChildren(ctx context.Context, parentID string, steps []model.StepKind) (map[model.StepKind]model.StepResult, error) {
	interval := q.cfg.AwaitPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	results := make(map[model.StepKind]model.StepResult, len(steps))
	for {
		for _, step := range steps {
			if _, done := results[step]; done {
				continue
			}
			result, done, err := q.childResult(parentID, step)
			if err != nil {
				q.logger.WithError(err).WithFields(logrus.Fields{
					"job_id": parentID,
					"step":   step,
				}).Warn("Failed to inspect child job")
				continue
			}
			if done {
				results[step] = result
			}
		}
		if len(results) == len(steps) {
			return results, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *AsynqQueue) childResult(parentID string, step model.StepKind) (model.StepResult, bool, error) {
	id := ChildJobID(parentID, step)
	info, err := q.inspector.GetTaskInfo(QueueSteps, id)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
			now := time.Now()
			return model.StepResult{
				StepType:    step,
				Status:      model.StepStatusFailed,
				Error:       "step job not found",
				StartedAt:   now,
				CompletedAt: now,
			}, true, nil
		}
		return model.StepResult{}, false, err
	}

	switch info.State {
	case asynq.TaskStateCompleted:
		result := decodeResult(step, info.Result)
		if result.Status == "" {
			result.Status = model.StepStatusCompleted
		}
		if result.CompletedAt.IsZero() {
			result.CompletedAt = info.CompletedAt
		}
		return result, true, nil
	case asynq.TaskStateArchived:
		result := decodeResult(step, info.Result)
		result.Status = model.StepStatusFailed
		if result.Error == "" {
			result.Error = info.LastErr
		}
		if result.CompletedAt.IsZero() {
			result.CompletedAt = info.LastFailedAt
		}
		return result, true, nil
	}
	return model.StepResult{}, false, nil
}

func decodeResult(step model.StepKind, raw []byte) model.StepResult {
	var result model.StepResult
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &result); err != nil {
			result = model.StepResult{}
		}
	}
	result.StepType = step
	return result
}
