package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	TaskStatusQueued    TaskStatus = "QUEUED"
	TaskStatusRunning   TaskStatus = "RUNNING"
	TaskStatusCompleted TaskStatus = "COMPLETED"
	TaskStatusFailed    TaskStatus = "FAILED"
)

// Valid reports whether s is one of the known statuses.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo reports whether s may move to next.
// QUEUED -> RUNNING -> {COMPLETED | FAILED}; terminal states never move.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusQueued:
		return next == TaskStatusRunning
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	case TaskStatusCompleted, TaskStatusFailed:
		return false
	}
	return false
}

// TaskKind discriminates the payload carried by a Task.
type TaskKind string

const (
	TaskKindProcessUpload  TaskKind = "process_upload"
	TaskKindRenderTimeline TaskKind = "render_timeline"
)

// Valid reports whether k is a known task kind.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindProcessUpload, TaskKindRenderTimeline:
		return true
	}
	return false
}

// Task is a unit of work submitted by a user action.
type Task struct {
	ID          string          `json:"id"`
	Kind        TaskKind        `json:"kind"`
	Status      TaskStatus      `json:"status"`
	Payload     json.RawMessage `json:"payload"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	StartedAt   *time.Time      `json:"startedAt,omitempty"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
}

// TaskPayload is implemented only by the payload types in this package.
type TaskPayload interface {
	Kind() TaskKind
	Workspace() string
	isTaskPayload()
}

// ProcessUploadPayload asks the pipeline to derive artifacts for an uploaded asset.
type ProcessUploadPayload struct {
	MediaID     string    `json:"mediaId" validate:"required"`
	WorkspaceID string    `json:"workspaceId" validate:"required"`
	MediaKind   MediaKind `json:"mediaKind" validate:"required,oneof=video audio image"`
}

func (ProcessUploadPayload) Kind() TaskKind      { return TaskKindProcessUpload }
func (p ProcessUploadPayload) Workspace() string { return p.WorkspaceID }
func (ProcessUploadPayload) isTaskPayload()      {}

// RenderTimelinePayload asks the pipeline to render a timeline.
type RenderTimelinePayload struct {
	TimelineID  string          `json:"timelineId" validate:"required"`
	WorkspaceID string          `json:"workspaceId" validate:"required"`
	Settings    *RenderSettings `json:"settings,omitempty"`
}

func (RenderTimelinePayload) Kind() TaskKind      { return TaskKindRenderTimeline }
func (p RenderTimelinePayload) Workspace() string { return p.WorkspaceID }
func (RenderTimelinePayload) isTaskPayload()      {}

// NewTask builds a QUEUED task for the given payload.
func NewTask(id string, payload TaskPayload, now time.Time) (*Task, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &Task{
		ID:        id,
		Kind:      payload.Kind(),
		Status:    TaskStatusQueued,
		Payload:   raw,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// DecodePayload returns the typed payload for the task's kind.
func (t *Task) DecodePayload() (TaskPayload, error) {
	switch t.Kind {
	case TaskKindProcessUpload:
		var p ProcessUploadPayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", t.Kind, err)
		}
		return p, nil
	case TaskKindRenderTimeline:
		var p RenderTimelinePayload
		if err := json.Unmarshal(t.Payload, &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", t.Kind, err)
		}
		return p, nil
	}
	return nil, fmt.Errorf("unknown task kind %q", t.Kind)
}

// WorkspaceID returns the workspace named by the payload, or "" when the
// payload cannot be decoded.
func (t *Task) WorkspaceID() string {
	p, err := t.DecodePayload()
	if err != nil {
		return ""
	}
	return p.Workspace()
}

// TaskUpdate names the task fields to change; nil fields are left untouched.
type TaskUpdate struct {
	Status      *TaskStatus
	Error       *string
	StartedAt   *time.Time
	CompletedAt *time.Time
}
