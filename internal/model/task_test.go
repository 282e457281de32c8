package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		allowed  bool
	}{
		{TaskStatusQueued, TaskStatusRunning, true},
		{TaskStatusQueued, TaskStatusCompleted, false},
		{TaskStatusQueued, TaskStatusFailed, false},
		{TaskStatusRunning, TaskStatusCompleted, true},
		{TaskStatusRunning, TaskStatusFailed, true},
		{TaskStatusRunning, TaskStatusRunning, false},
		{TaskStatusRunning, TaskStatusQueued, false},
		{TaskStatusCompleted, TaskStatusFailed, false},
		{TaskStatusFailed, TaskStatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.allowed, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestNewTaskRoundTripsPayload(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	task, err := NewTask("task-1", RenderTimelinePayload{TimelineID: "tl-1", WorkspaceID: "ws-1"}, now)
	require.NoError(t, err)

	assert.Equal(t, TaskKindRenderTimeline, task.Kind)
	assert.Equal(t, TaskStatusQueued, task.Status)

	payload, err := task.DecodePayload()
	require.NoError(t, err)
	render, ok := payload.(RenderTimelinePayload)
	require.True(t, ok)
	assert.Equal(t, "tl-1", render.TimelineID)
}

func TestDecodePayloadUnknownKind(t *testing.T) {
	task := &Task{ID: "x", Kind: "transcribe", Payload: []byte(`{}`)}
	_, err := task.DecodePayload()
	assert.Error(t, err)
}

func TestTaskWorkspaceID(t *testing.T) {
	now := time.Now()

	upload, err := NewTask("t1", ProcessUploadPayload{MediaID: "m1", WorkspaceID: "ws-1", MediaKind: MediaKindVideo}, now)
	require.NoError(t, err)
	assert.Equal(t, "ws-1", upload.WorkspaceID())

	render, err := NewTask("t2", RenderTimelinePayload{TimelineID: "tl", WorkspaceID: "ws-2"}, now)
	require.NoError(t, err)
	assert.Equal(t, "ws-2", render.WorkspaceID())

	broken := &Task{ID: "t3", Kind: "mystery"}
	assert.Equal(t, "", broken.WorkspaceID())
}
