package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/model"
)

// MemoryStore implements Store in process memory. Records are copied on the
// way in and out.
type MemoryStore struct {
	mu        sync.Mutex
	tasks     map[string]model.Task
	steps     map[string]map[model.StepKind]model.StepResult
	media     map[string]model.Media
	timelines map[string][]byte
	renders   map[string]model.Render
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:     make(map[string]model.Task),
		steps:     make(map[string]map[model.StepKind]model.StepResult),
		media:     make(map[string]model.Media),
		timelines: make(map[string][]byte),
		renders:   make(map[string]model.Render),
		now:       time.Now,
	}
}

func copyTask(t model.Task) *model.Task {
	c := t
	c.Payload = append(json.RawMessage(nil), t.Payload...)
	if t.StartedAt != nil {
		v := *t.StartedAt
		c.StartedAt = &v
	}
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	return &c
}

func copyMedia(m model.Media) *model.Media {
	c := m
	if m.Metadata != nil {
		meta := *m.Metadata
		c.Metadata = &meta
	}
	if m.Sprite != nil {
		sprite := *m.Sprite
		c.Sprite = &sprite
	}
	return &c
}

func (s *MemoryStore) CreateTask(_ context.Context, task *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = *copyTask(*task)
	return nil
}

func (s *MemoryStore) GetTask(_ context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return copyTask(t), nil
}

func (s *MemoryStore) ListQueuedTasks(_ context.Context, limit int) ([]*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var queued []*model.Task
	for _, t := range s.tasks {
		if t.Status == model.TaskStatusQueued {
			queued = append(queued, copyTask(t))
		}
	}
	sort.SliceStable(queued, func(i, j int) bool {
		if queued[i].CreatedAt.Equal(queued[j].CreatedAt) {
			return queued[i].ID < queued[j].ID
		}
		return queued[i].CreatedAt.Before(queued[j].CreatedAt)
	})
	if limit >= 0 && len(queued) > limit {
		queued = queued[:limit]
	}
	return queued, nil
}

func (s *MemoryStore) TransitionTask(_ context.Context, id string, to model.TaskStatus, errMsg string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if !t.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, t.Status, to)
	}
	task := copyTask(t)
	applyTransition(task, to, errMsg, s.now())
	s.tasks[id] = *copyTask(*task)
	return task, nil
}

func (s *MemoryStore) SaveStepResult(_ context.Context, taskID string, result model.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.steps[taskID] == nil {
		s.steps[taskID] = make(map[model.StepKind]model.StepResult)
	}
	result.Output = append(json.RawMessage(nil), result.Output...)
	s.steps[taskID][result.StepType] = result
	return nil
}

func (s *MemoryStore) ListStepResults(_ context.Context, taskID string) ([]model.StepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	results := make([]model.StepResult, 0, len(s.steps[taskID]))
	for _, r := range s.steps[taskID] {
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].StepType < results[j].StepType })
	return results, nil
}

func (s *MemoryStore) CreateMedia(_ context.Context, media *model.Media) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media[media.ID] = *copyMedia(*media)
	return nil
}

func (s *MemoryStore) GetMedia(_ context.Context, id string) (*model.Media, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.media[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	return copyMedia(m), nil
}

func (s *MemoryStore) UpdateMedia(_ context.Context, id string, u model.MediaUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.media[id]
	if !ok {
		return apperr.ErrNotFound
	}
	if u.Status != nil {
		m.Status = *u.Status
	}
	if u.Metadata != nil {
		meta := *u.Metadata
		m.Metadata = &meta
	}
	if u.Sprite != nil {
		sprite := *u.Sprite
		m.Sprite = &sprite
	}
	if u.Thumbnail != nil {
		m.Thumbnail = *u.Thumbnail
	}
	if u.Filmstrip != nil {
		m.Filmstrip = *u.Filmstrip
	}
	if u.Proxy != nil {
		m.Proxy = *u.Proxy
	}
	if u.Audio != nil {
		m.Audio = *u.Audio
	}
	m.UpdatedAt = s.now()
	s.media[id] = m
	return nil
}

func (s *MemoryStore) SaveTimeline(_ context.Context, timeline *model.Timeline) error {
	data, err := json.Marshal(timeline)
	if err != nil {
		return fmt.Errorf("failed to marshal timeline: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timelines[timeline.ID] = data
	return nil
}

func (s *MemoryStore) GetTimeline(_ context.Context, id string) (*model.Timeline, error) {
	s.mu.Lock()
	data, ok := s.timelines[id]
	s.mu.Unlock()
	if !ok {
		return nil, apperr.ErrNotFound
	}
	var tl model.Timeline
	if err := json.Unmarshal(data, &tl); err != nil {
		return nil, fmt.Errorf("failed to unmarshal timeline: %w", err)
	}
	return &tl, nil
}

func (s *MemoryStore) SaveRender(_ context.Context, render *model.Render) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *render
	if render.Output != nil {
		out := *render.Output
		r.Output = &out
	}
	s.renders[render.ID] = r
	return nil
}

func (s *MemoryStore) GetRender(_ context.Context, id string) (*model.Render, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.renders[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	if r.Output != nil {
		out := *r.Output
		r.Output = &out
	}
	return &r, nil
}

func (s *MemoryStore) SetRenderStatus(_ context.Context, id string, status model.RenderStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.renders[id]
	if !ok {
		return apperr.ErrNotFound
	}
	r.Status = status
	r.UpdatedAt = s.now()
	s.renders[id] = r
	return nil
}
