// Package queue submits pipeline jobs to asynq and joins on their results.
package queue

import (
	"context"
	"fmt"

	"github.com/reelcraft/mediapipe/internal/model"
)

// Task type names and queues.
const (
	TypeParentJob = "pipeline:parent"
	TypeStepJob   = "pipeline:step"

	QueuePipeline = "pipeline"
	QueueSteps    = "steps"
)

// JobKind selects the asynq task type, queue and retry policy of a job.
type JobKind int

const (
	JobParent JobKind = iota
	JobStep
)

func (k JobKind) typeName() string {
	if k == JobParent {
		return TypeParentJob
	}
	return TypeStepJob
}

func (k JobKind) queueName() string {
	if k == JobParent {
		return QueuePipeline
	}
	return QueueSteps
}

// Queue is the durable queue contract used by the enqueuer and the
// orchestrator. Enqueue returns apperr.ErrClaimConflict when a job with the
// same id already exists.
type Queue interface {
	Enqueue(ctx context.Context, kind JobKind, id string, payload []byte) error
	// AwaitChildren blocks until every child step of parentID is terminal.
	AwaitChildren(ctx context.Context, parentID string, steps []model.StepKind) (map[model.StepKind]model.StepResult, error)
}

// ParentPayload is the body of a parent job.
type ParentPayload struct {
	TaskID string         `json:"taskId"`
	Kind   model.TaskKind `json:"kind"`
}

// ParentJobID is derived from the task so re-submission is idempotent.
func ParentJobID(kind model.TaskKind, taskID string) string {
	return fmt.Sprintf("pipeline:%s:%s", kind, taskID)
}

// ChildJobID is the id of one step of a parent job.
func ChildJobID(parentID string, step model.StepKind) string {
	return parentID + ":" + string(step)
}
