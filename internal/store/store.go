// Package store persists tasks, media, timelines and renders.
package store

import (
	"context"

	"github.com/reelcraft/mediapipe/internal/model"
)

// Store is the record store contract. Updates are partial: only the named
// fields of a record change.
type Store interface {
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	// ListQueuedTasks returns up to limit QUEUED tasks, oldest first.
	ListQueuedTasks(ctx context.Context, limit int) ([]*model.Task, error)
	// TransitionTask moves a task to status `to` if its current status allows
	// it, returning apperr.ErrInvalidTransition otherwise.
	TransitionTask(ctx context.Context, id string, to model.TaskStatus, errMsg string) (*model.Task, error)

	SaveStepResult(ctx context.Context, taskID string, result model.StepResult) error
	ListStepResults(ctx context.Context, taskID string) ([]model.StepResult, error)

	CreateMedia(ctx context.Context, media *model.Media) error
	GetMedia(ctx context.Context, id string) (*model.Media, error)
	UpdateMedia(ctx context.Context, id string, update model.MediaUpdate) error

	SaveTimeline(ctx context.Context, timeline *model.Timeline) error
	GetTimeline(ctx context.Context, id string) (*model.Timeline, error)

	SaveRender(ctx context.Context, render *model.Render) error
	GetRender(ctx context.Context, id string) (*model.Render, error)
	SetRenderStatus(ctx context.Context, id string, status model.RenderStatus) error
}

const queuedTasksKey = "tasks:queued"

func taskKey(id string) string { return "task:" + id }
func stepsKey(id string) string { return "task:" + id + ":steps" }
func mediaKey(id string) string { return "media:" + id }
func timelineKey(id string) string { return "timeline:" + id }
func renderKey(id string) string { return "render:" + id }
