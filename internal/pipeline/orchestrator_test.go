package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/reelcraft/mediapipe/internal/processor"
	"github.com/reelcraft/mediapipe/internal/queue"
	"github.com/reelcraft/mediapipe/internal/runner"
	"github.com/reelcraft/mediapipe/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQueue runs step jobs inline when the parent joins on them.
type fakeQueue struct {
	mu      sync.Mutex
	jobs    map[string][]byte
	order   []string
	reverse bool
	run     func(ctx context.Context, job model.StepJob) model.StepResult
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: make(map[string][]byte)}
}

func (q *fakeQueue) Enqueue(_ context.Context, _ queue.JobKind, id string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[id]; ok {
		return fmt.Errorf("%w: %s", apperr.ErrClaimConflict, id)
	}
	q.jobs[id] = payload
	q.order = append(q.order, id)
	return nil
}

func (q *fakeQueue) AwaitChildren(ctx context.Context, parentID string, steps []model.StepKind) (map[model.StepKind]model.StepResult, error) {
	ordered := append([]model.StepKind(nil), steps...)
	if q.reverse {
		for i, j := 0, len(ordered)-1; i < j; i, j = i+1, j-1 {
			ordered[i], ordered[j] = ordered[j], ordered[i]
		}
	}
	results := make(map[model.StepKind]model.StepResult, len(steps))
	for _, step := range ordered {
		q.mu.Lock()
		data, ok := q.jobs[queue.ChildJobID(parentID, step)]
		q.mu.Unlock()
		if !ok {
			results[step] = model.StepResult{StepType: step, Status: model.StepStatusFailed, Error: "step job not found"}
			continue
		}
		var job model.StepJob
		if err := json.Unmarshal(data, &job); err != nil {
			return nil, err
		}
		results[step] = q.run(ctx, job)
	}
	return results, nil
}

func (q *fakeQueue) enqueued() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.order...)
}

// fakeSteps records calls and fails the configured steps.
type fakeSteps struct {
	mu    sync.Mutex
	fail  map[model.StepKind]error
	panic model.StepKind
	calls []model.StepKind
	store store.Store
}

func (f *fakeSteps) record(step model.StepKind) (interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, step)
	if step == f.panic {
		panic("boom")
	}
	if err := f.fail[step]; err != nil {
		return nil, err
	}
	return map[string]string{"step": string(step)}, nil
}

func (f *fakeSteps) Probe(_ context.Context, _ processor.MediaInput, _ runner.ProgressFunc) (interface{}, error) {
	return f.record(model.StepProbe)
}

func (f *fakeSteps) Thumbnail(_ context.Context, _ processor.MediaInput, _ runner.ProgressFunc) (interface{}, error) {
	return f.record(model.StepThumbnail)
}

func (f *fakeSteps) Sprite(_ context.Context, _ processor.MediaInput, _ runner.ProgressFunc) (interface{}, error) {
	return f.record(model.StepSprite)
}

func (f *fakeSteps) Filmstrip(_ context.Context, _ processor.MediaInput, _ runner.ProgressFunc) (interface{}, error) {
	return f.record(model.StepFilmstrip)
}

func (f *fakeSteps) Proxy(_ context.Context, _ processor.MediaInput, progress runner.ProgressFunc) (interface{}, error) {
	progress(50)
	return f.record(model.StepProxy)
}

func (f *fakeSteps) Audio(_ context.Context, _ processor.MediaInput, _ runner.ProgressFunc) (interface{}, error) {
	return f.record(model.StepAudio)
}

func (f *fakeSteps) Compose(ctx context.Context, in processor.RenderInput, _ runner.ProgressFunc) (interface{}, error) {
	out, err := f.record(model.StepCompose)
	if err != nil {
		return nil, err
	}
	return out, f.store.SaveRender(ctx, &model.Render{
		ID:         in.TaskID,
		TimelineID: in.Payload.TimelineID,
		Status:     model.RenderStatusPending,
		Output:     &model.RenderOutput{StoragePath: "renders/out.mp4"},
	})
}

func (f *fakeSteps) called() []model.StepKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.StepKind(nil), f.calls...)
}

// countingStore counts media status writes. With missingMedia set, status
// writes behave as if the media record was deleted.
type countingStore struct {
	*store.MemoryStore
	mu             sync.Mutex
	statusWrites   int
	renderFinalize int
	missingMedia   bool
}

func (s *countingStore) UpdateMedia(ctx context.Context, id string, u model.MediaUpdate) error {
	if u.Status != nil && s.missingMedia {
		return fmt.Errorf("media %s: %w", id, apperr.ErrNotFound)
	}
	if u.Status != nil {
		s.mu.Lock()
		s.statusWrites++
		s.mu.Unlock()
	}
	return s.MemoryStore.UpdateMedia(ctx, id, u)
}

func (s *countingStore) SetRenderStatus(ctx context.Context, id string, status model.RenderStatus) error {
	s.mu.Lock()
	s.renderFinalize++
	s.mu.Unlock()
	return s.MemoryStore.SetRenderStatus(ctx, id, status)
}

type fakeNotifier struct {
	mu       sync.Mutex
	progress []float64
	finished []*model.Task
}

func (n *fakeNotifier) StepProgress(_ string, _ model.StepKind, percent float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.progress = append(n.progress, percent)
}

func (n *fakeNotifier) TaskFinished(task *model.Task, _ []model.StepResult) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.finished = append(n.finished, task)
}

type harness struct {
	orch     *Orchestrator
	store    *countingStore
	queue    *fakeQueue
	steps    *fakeSteps
	notifier *fakeNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	s := &countingStore{MemoryStore: store.NewMemoryStore()}
	q := newFakeQueue()
	steps := &fakeSteps{fail: map[model.StepKind]error{}, store: s}
	n := &fakeNotifier{}
	orch := NewOrchestrator(s, q, steps, n, logger)
	q.run = func(ctx context.Context, job model.StepJob) model.StepResult {
		result, _ := orch.ProcessStepJob(ctx, job)
		return result
	}
	return &harness{orch: orch, store: s, queue: q, steps: steps, notifier: n}
}

func (h *harness) uploadTask(t *testing.T, kind model.MediaKind) *model.Task {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.CreateMedia(ctx, &model.Media{
		ID: "m1", WorkspaceID: "ws", Kind: kind, Status: model.MediaStatusUploaded, StoragePath: "in.mp4",
	}))
	task, err := model.NewTask("t1", model.ProcessUploadPayload{MediaID: "m1", WorkspaceID: "ws", MediaKind: kind}, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.store.CreateTask(ctx, task))
	return task
}

func TestStepsFor(t *testing.T) {
	steps, err := StepsFor(model.ProcessUploadPayload{MediaKind: model.MediaKindVideo})
	require.NoError(t, err)
	assert.Len(t, steps, 6)

	steps, err = StepsFor(model.ProcessUploadPayload{MediaKind: model.MediaKindAudio})
	require.NoError(t, err)
	assert.Equal(t, []model.StepKind{model.StepProbe, model.StepAudio}, steps)

	steps, err = StepsFor(model.ProcessUploadPayload{MediaKind: model.MediaKindImage})
	require.NoError(t, err)
	assert.Equal(t, []model.StepKind{model.StepProbe, model.StepThumbnail}, steps)

	steps, err = StepsFor(model.RenderTimelinePayload{TimelineID: "tl"})
	require.NoError(t, err)
	assert.Equal(t, []model.StepKind{model.StepCompose}, steps)

	_, err = StepsFor(model.ProcessUploadPayload{MediaKind: "hologram"})
	assert.Error(t, err)
}

func TestParentJobCompletesAndFinalizesOnce(t *testing.T) {
	h := newHarness(t)
	task := h.uploadTask(t, model.MediaKindVideo)
	ctx := context.Background()

	require.NoError(t, h.orch.ProcessParentJob(ctx, task.ID))

	got, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusCompleted, got.Status)
	assert.NotNil(t, got.StartedAt)
	assert.NotNil(t, got.CompletedAt)

	media, err := h.store.GetMedia(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, model.MediaStatusActive, media.Status)

	results, err := h.store.ListStepResults(ctx, task.ID)
	require.NoError(t, err)
	assert.Len(t, results, 6)

	// a redelivered parent job leaves the finished task alone
	require.NoError(t, h.orch.ProcessParentJob(ctx, task.ID))
	assert.Equal(t, 1, h.store.statusWrites)
	assert.Len(t, h.steps.called(), 6)
	assert.Len(t, h.notifier.finished, 1)
	assert.Equal(t, []float64{50}, h.notifier.progress)
}

func TestOneFailedStepFailsTaskRegardlessOfOrder(t *testing.T) {
	for _, reverse := range []bool{false, true} {
		t.Run(fmt.Sprintf("reverse=%v", reverse), func(t *testing.T) {
			h := newHarness(t)
			h.queue.reverse = reverse
			h.steps.fail[model.StepProxy] = errors.New("encoder exploded")
			task := h.uploadTask(t, model.MediaKindVideo)
			ctx := context.Background()

			err := h.orch.ProcessParentJob(ctx, task.ID)
			var tf *apperr.TaskFailure
			require.True(t, errors.As(err, &tf))
			assert.Equal(t, 6, tf.Total)
			require.Len(t, tf.Failed, 1)
			assert.Equal(t, "proxy", tf.Failed[0].Step)
			assert.Contains(t, tf.Failed[0].Message, "encoder exploded")

			got, err := h.store.GetTask(ctx, task.ID)
			require.NoError(t, err)
			assert.Equal(t, model.TaskStatusFailed, got.Status)
			assert.Contains(t, got.Error, "proxy")

			media, err := h.store.GetMedia(ctx, "m1")
			require.NoError(t, err)
			assert.Equal(t, model.MediaStatusUploaded, media.Status)
			assert.Equal(t, 0, h.store.statusWrites)
			assert.Len(t, h.steps.called(), 6)
		})
	}
}

func TestChildrenAlreadyInFlightAreNotResubmitted(t *testing.T) {
	h := newHarness(t)
	task := h.uploadTask(t, model.MediaKindImage)
	ctx := context.Background()

	parent := queue.ParentJobID(task.Kind, task.ID)
	job, err := json.Marshal(model.StepJob{TaskID: task.ID, ParentJobID: parent, TaskKind: task.Kind, Step: model.StepProbe, Payload: task.Payload})
	require.NoError(t, err)
	require.NoError(t, h.queue.Enqueue(ctx, queue.JobStep, queue.ChildJobID(parent, model.StepProbe), job))

	require.NoError(t, h.orch.ProcessParentJob(ctx, task.ID))
	assert.Equal(t, []string{
		queue.ChildJobID(parent, model.StepProbe),
		queue.ChildJobID(parent, model.StepThumbnail),
	}, h.queue.enqueued())
}

func TestRenderTaskFinalizesRender(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	task, err := model.NewTask("r1", model.RenderTimelinePayload{TimelineID: "tl", WorkspaceID: "ws"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, h.store.CreateTask(ctx, task))

	require.NoError(t, h.orch.ProcessParentJob(ctx, task.ID))

	render, err := h.store.GetRender(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, model.RenderStatusActive, render.Status)
	assert.Equal(t, 1, h.store.renderFinalize)
}

func TestTerminalTaskIsNoop(t *testing.T) {
	h := newHarness(t)
	task := h.uploadTask(t, model.MediaKindVideo)
	ctx := context.Background()
	_, err := h.store.TransitionTask(ctx, task.ID, model.TaskStatusRunning, "")
	require.NoError(t, err)
	_, err = h.store.TransitionTask(ctx, task.ID, model.TaskStatusFailed, "cancelled")
	require.NoError(t, err)

	require.NoError(t, h.orch.ProcessParentJob(ctx, task.ID))
	assert.Empty(t, h.queue.enqueued())
	assert.Empty(t, h.steps.called())
}

func TestMediaDeletedBeforeFinalizeFailsTask(t *testing.T) {
	h := newHarness(t)
	task := h.uploadTask(t, model.MediaKindImage)
	ctx := context.Background()
	h.store.missingMedia = true

	err := h.orch.ProcessParentJob(ctx, task.ID)
	var tf *apperr.TaskFailure
	require.True(t, errors.As(err, &tf))
	require.Len(t, tf.Failed, 1)
	assert.Equal(t, "finalize", tf.Failed[0].Step)

	got, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.Contains(t, got.Error, "finalize")
	require.Len(t, h.notifier.finished, 1)
	assert.Equal(t, model.TaskStatusFailed, h.notifier.finished[0].Status)
}

func TestFailTask(t *testing.T) {
	h := newHarness(t)
	task := h.uploadTask(t, model.MediaKindVideo)
	ctx := context.Background()

	require.NoError(t, h.orch.FailTask(ctx, task.ID, "redis timeout"))
	got, err := h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskStatusFailed, got.Status)
	assert.Equal(t, "redis timeout", got.Error)

	// an already finished task keeps its outcome
	require.NoError(t, h.orch.FailTask(ctx, task.ID, "again"))
	got, err = h.store.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "redis timeout", got.Error)
	assert.Len(t, h.notifier.finished, 1)

	assert.True(t, errors.Is(h.orch.FailTask(ctx, "nope", "x"), apperr.ErrNotFound))
}

func TestMissingTaskReturnsNotFound(t *testing.T) {
	h := newHarness(t)
	err := h.orch.ProcessParentJob(context.Background(), "nope")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestProcessStepJobRecordsFailure(t *testing.T) {
	h := newHarness(t)
	task := h.uploadTask(t, model.MediaKindVideo)
	h.steps.fail[model.StepSprite] = errors.New("no frames")
	ctx := context.Background()

	result, err := h.orch.ProcessStepJob(ctx, model.StepJob{TaskID: task.ID, TaskKind: task.Kind, Step: model.StepSprite, Payload: task.Payload})
	var sf *apperr.StepFailure
	require.True(t, errors.As(err, &sf))
	assert.Equal(t, "sprite", sf.Step)
	assert.Equal(t, model.StepStatusFailed, result.Status)
	assert.Equal(t, "no frames", result.Error)

	stored, err := h.store.ListStepResults(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.StepStatusFailed, stored[0].Status)
}

func TestProcessStepJobRecoversPanic(t *testing.T) {
	h := newHarness(t)
	task := h.uploadTask(t, model.MediaKindVideo)
	h.steps.panic = model.StepFilmstrip

	result, err := h.orch.ProcessStepJob(context.Background(), model.StepJob{TaskID: task.ID, TaskKind: task.Kind, Step: model.StepFilmstrip, Payload: task.Payload})
	require.Error(t, err)
	assert.Equal(t, model.StepStatusFailed, result.Status)
	assert.Contains(t, result.Error, "panicked")
}

func TestProcessStepJobRejectsMismatchedStep(t *testing.T) {
	h := newHarness(t)
	task := h.uploadTask(t, model.MediaKindVideo)

	result, err := h.orch.ProcessStepJob(context.Background(), model.StepJob{TaskID: task.ID, TaskKind: task.Kind, Step: model.StepCompose, Payload: task.Payload})
	require.Error(t, err)
	assert.Equal(t, model.StepStatusFailed, result.Status)
	assert.Empty(t, h.steps.called())

	_, err = h.orch.ProcessStepJob(context.Background(), model.StepJob{TaskID: task.ID, TaskKind: task.Kind, Step: "warp", Payload: task.Payload})
	assert.ErrorContains(t, err, "unknown step kind")
}
