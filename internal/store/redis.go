package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/model"
)

const maxTxRetries = 10

// RedisStore keeps each record in its own hash.
type RedisStore struct {
	client *redis.Client
	now    func() time.Time
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) CreateTask(ctx context.Context, task *model.Task) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, taskKey(task.ID), taskToHash(task))
		if task.Status == model.TaskStatusQueued {
			pipe.ZAdd(ctx, queuedTasksKey, redis.Z{
				Score:  float64(task.CreatedAt.UnixMilli()),
				Member: task.ID,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save task: %w", err)
	}
	return nil
}

func (s *RedisStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	fields, err := s.client.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	if len(fields) == 0 {
		return nil, apperr.ErrNotFound
	}
	return taskFromHash(fields), nil
}

func (s *RedisStore) ListQueuedTasks(ctx context.Context, limit int) ([]*model.Task, error) {
	if limit <= 0 {
		return nil, nil
	}
	ids, err := s.client.ZRange(ctx, queuedTasksKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list queued tasks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, taskKey(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load queued tasks: %w", err)
	}

	tasks := make([]*model.Task, 0, len(ids))
	var stale []interface{}
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			stale = append(stale, ids[i])
			continue
		}
		task := taskFromHash(fields)
		if task.Status != model.TaskStatusQueued {
			stale = append(stale, ids[i])
			continue
		}
		tasks = append(tasks, task)
	}
	if len(stale) > 0 {
		s.client.ZRem(ctx, queuedTasksKey, stale...)
	}
	return tasks, nil
}

func (s *RedisStore) TransitionTask(ctx context.Context, id string, to model.TaskStatus, errMsg string) (*model.Task, error) {
	key := taskKey(id)
	var updated *model.Task

	txf := func(tx *redis.Tx) error {
		fields, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(fields) == 0 {
			return apperr.ErrNotFound
		}
		task := taskFromHash(fields)
		if !task.Status.CanTransitionTo(to) {
			return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, task.Status, to)
		}
		from := task.Status
		values := applyTransition(task, to, errMsg, s.now())

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, values)
			if from == model.TaskStatusQueued {
				pipe.ZRem(ctx, queuedTasksKey, id)
			}
			return nil
		})
		if err == nil {
			updated = task
		}
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("transition task %s: too many concurrent updates", id)
}

func (s *RedisStore) SaveStepResult(ctx context.Context, taskID string, result model.StepResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal step result: %w", err)
	}
	return s.client.HSet(ctx, stepsKey(taskID), string(result.StepType), data).Err()
}

func (s *RedisStore) ListStepResults(ctx context.Context, taskID string) ([]model.StepResult, error) {
	fields, err := s.client.HGetAll(ctx, stepsKey(taskID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get step results: %w", err)
	}
	results := make([]model.StepResult, 0, len(fields))
	for _, raw := range fields {
		var r model.StepResult
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal step result: %w", err)
		}
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].StepType < results[j].StepType })
	return results, nil
}

func (s *RedisStore) CreateMedia(ctx context.Context, media *model.Media) error {
	h, err := mediaToHash(media)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, mediaKey(media.ID), h).Err()
}

func (s *RedisStore) GetMedia(ctx context.Context, id string) (*model.Media, error) {
	fields, err := s.client.HGetAll(ctx, mediaKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get media: %w", err)
	}
	if len(fields) == 0 {
		return nil, apperr.ErrNotFound
	}
	return mediaFromHash(fields)
}

func (s *RedisStore) UpdateMedia(ctx context.Context, id string, update model.MediaUpdate) error {
	exists, err := s.client.Exists(ctx, mediaKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check media: %w", err)
	}
	if exists == 0 {
		return apperr.ErrNotFound
	}
	h, err := mediaUpdateToHash(update, s.now())
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, mediaKey(id), h).Err()
}

func (s *RedisStore) SaveTimeline(ctx context.Context, timeline *model.Timeline) error {
	data, err := json.Marshal(timeline)
	if err != nil {
		return fmt.Errorf("failed to marshal timeline: %w", err)
	}
	return s.client.HSet(ctx, timelineKey(timeline.ID),
		"workspace_id", timeline.WorkspaceID,
		"data", data,
		"updated_at", formatTime(timeline.UpdatedAt),
	).Err()
}

func (s *RedisStore) GetTimeline(ctx context.Context, id string) (*model.Timeline, error) {
	data, err := s.client.HGet(ctx, timelineKey(id), "data").Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, apperr.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get timeline: %w", err)
	}
	var tl model.Timeline
	if err := json.Unmarshal(data, &tl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal timeline: %w", err)
	}
	return &tl, nil
}

func (s *RedisStore) SaveRender(ctx context.Context, render *model.Render) error {
	h, err := renderToHash(render)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, renderKey(render.ID), h).Err()
}

func (s *RedisStore) GetRender(ctx context.Context, id string) (*model.Render, error) {
	fields, err := s.client.HGetAll(ctx, renderKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get render: %w", err)
	}
	if len(fields) == 0 {
		return nil, apperr.ErrNotFound
	}
	return renderFromHash(fields)
}

func (s *RedisStore) SetRenderStatus(ctx context.Context, id string, status model.RenderStatus) error {
	exists, err := s.client.Exists(ctx, renderKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check render: %w", err)
	}
	if exists == 0 {
		return apperr.ErrNotFound
	}
	return s.client.HSet(ctx, renderKey(id),
		"status", string(status),
		"updated_at", formatTime(s.now()),
	).Err()
}
