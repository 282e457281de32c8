package model

import (
	"encoding/json"
	"time"
)

// StepKind identifies one fan-out unit of a pipeline.
type StepKind string

const (
	StepProbe     StepKind = "probe"
	StepThumbnail StepKind = "thumbnail"
	StepSprite    StepKind = "sprite"
	StepFilmstrip StepKind = "filmstrip"
	StepProxy     StepKind = "proxy"
	StepAudio     StepKind = "audio"
	StepCompose   StepKind = "compose"
)

// AllStepKinds lists every step kind; processors must be registered for each.
var AllStepKinds = []StepKind{
	StepProbe, StepThumbnail, StepSprite, StepFilmstrip, StepProxy, StepAudio, StepCompose,
}

// StepStatus is the terminal outcome of a step.
type StepStatus string

const (
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
)

// StepJob is the queue payload of a child job.
type StepJob struct {
	TaskID      string          `json:"taskId"`
	ParentJobID string          `json:"parentJobId"`
	TaskKind    TaskKind        `json:"taskKind"`
	Step        StepKind        `json:"step"`
	Payload     json.RawMessage `json:"payload"`
}

// StepResult is what a child job reports back to the parent join.
type StepResult struct {
	StepType    StepKind        `json:"stepType"`
	Status      StepStatus      `json:"status"`
	Output      json.RawMessage `json:"output,omitempty"`
	Error       string          `json:"error,omitempty"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt time.Time       `json:"completedAt"`
}

// Failed reports whether the step ended in failure.
func (r StepResult) Failed() bool {
	return r.Status != StepStatusCompleted
}
