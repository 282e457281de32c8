package processor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/config"
	"github.com/reelcraft/mediapipe/internal/executor"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/reelcraft/mediapipe/internal/runner"
	"github.com/reelcraft/mediapipe/internal/storage"
	"github.com/reelcraft/mediapipe/internal/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fileRunner writes an empty file at the output path of every run.
type fileRunner struct {
	mu    sync.Mutex
	probe *runner.ProbeResult
	runs  int
}

func (f *fileRunner) Probe(_ context.Context, _ string) (*runner.ProbeResult, error) {
	return f.probe, nil
}

func (f *fileRunner) Run(_ context.Context, args []string, _ float64, onProgress runner.ProgressFunc) error {
	f.mu.Lock()
	f.runs++
	f.mu.Unlock()
	out := args[len(args)-1]
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return err
	}
	if onProgress != nil {
		onProgress(100)
	}
	return os.WriteFile(out, []byte("media"), 0o644)
}

func (f *fileRunner) runCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs
}

type fixture struct {
	procs  *Processors
	store  *store.MemoryStore
	runner *fileRunner
	base   string
}

func newFixture(t *testing.T, withAudio bool) *fixture {
	t.Helper()
	root := t.TempDir()
	base := filepath.Join(root, "blobs")
	require.NoError(t, os.MkdirAll(base, 0o755))

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	streams := []runner.Stream{{CodecType: "video", CodecName: "h264", Width: 1280, Height: 720, AvgFrameRate: "25/1"}}
	if withAudio {
		streams = append(streams, runner.Stream{CodecType: "audio", CodecName: "aac", SampleRate: "48000", Channels: 2})
	}
	r := &fileRunner{probe: &runner.ProbeResult{
		Streams: streams,
		Format:  &runner.Format{FormatName: "mov,mp4", Duration: "12.5", Size: "2048", BitRate: "1000000"},
	}}

	s := store.NewMemoryStore()
	gw := storage.NewGateway(storage.BackendLocal, filepath.Join(root, "tmp"), logger, storage.NewLocalBackend(base))
	exec := executor.New(r, config.RenderConfig{Codec: "h264", Format: "mp4", Width: 1280, Height: 720, FPS: 25}, logger)
	return &fixture{
		procs:  New(s, gw, exec, filepath.Join(root, "work"), logger),
		store:  s,
		runner: r,
		base:   base,
	}
}

func (f *fixture) addMedia(t *testing.T, id string, kind model.MediaKind) *model.Media {
	t.Helper()
	key := "uploads/ws-1/" + id + ".mp4"
	path := filepath.Join(f.base, key)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("source"), 0o644))

	now := time.Now()
	media := &model.Media{
		ID:          id,
		WorkspaceID: "ws-1",
		Kind:        kind,
		Status:      model.MediaStatusUploaded,
		Filename:    id + ".mp4",
		StoragePath: key,
		Backend:     storage.BackendLocal,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, f.store.CreateMedia(context.Background(), media))
	return media
}

func mediaInput(id string) MediaInput {
	return MediaInput{TaskID: "task-1", Payload: model.ProcessUploadPayload{MediaID: id, WorkspaceID: "ws-1", MediaKind: model.MediaKindVideo}}
}

func TestProbeWritesOnlyMetadata(t *testing.T) {
	f := newFixture(t, true)
	f.addMedia(t, "m1", model.MediaKindVideo)
	ctx := context.Background()

	out, err := f.procs.Probe(ctx, mediaInput("m1"), nil)
	require.NoError(t, err)
	meta, ok := out.(*model.MediaMetadata)
	require.True(t, ok)
	assert.InDelta(t, 12.5, meta.Duration, 0.001)

	got, err := f.store.GetMedia(ctx, "m1")
	require.NoError(t, err)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, 1280, got.Metadata.Width)
	assert.Empty(t, got.Thumbnail)
	assert.Equal(t, model.MediaStatusUploaded, got.Status)
}

func TestArtifactStepsStoreNextToOriginal(t *testing.T) {
	f := newFixture(t, true)
	f.addMedia(t, "m1", model.MediaKindVideo)
	ctx := context.Background()
	in := mediaInput("m1")

	_, err := f.procs.Thumbnail(ctx, in, nil)
	require.NoError(t, err)
	_, err = f.procs.Sprite(ctx, in, nil)
	require.NoError(t, err)
	_, err = f.procs.Filmstrip(ctx, in, nil)
	require.NoError(t, err)
	_, err = f.procs.Proxy(ctx, in, nil)
	require.NoError(t, err)
	_, err = f.procs.Audio(ctx, in, nil)
	require.NoError(t, err)

	got, err := f.store.GetMedia(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "media/ws-1/m1/thumbnail.jpg", got.Thumbnail)
	assert.Equal(t, "media/ws-1/m1/filmstrip.jpg", got.Filmstrip)
	assert.Equal(t, "media/ws-1/m1/proxy.mp4", got.Proxy)
	assert.Equal(t, "media/ws-1/m1/audio.m4a", got.Audio)
	require.NotNil(t, got.Sprite)
	assert.Equal(t, "media/ws-1/m1/sprite.jpg", got.Sprite.Path)

	assert.FileExists(t, filepath.Join(f.base, "media/ws-1/m1/proxy.mp4"))
	assert.NoDirExists(t, filepath.Join(f.procs.workDir, "media", "m1", "proxy"))
}

func TestAudioSkippedWithoutAudioStream(t *testing.T) {
	f := newFixture(t, false)
	f.addMedia(t, "m1", model.MediaKindVideo)
	ctx := context.Background()

	out, err := f.procs.Audio(ctx, mediaInput("m1"), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"skipped": true}, out)
	assert.Equal(t, 0, f.runner.runCount())

	got, err := f.store.GetMedia(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, got.Audio)
}

func TestAudioSkippedWhenStoredProbeHasNoAudio(t *testing.T) {
	f := newFixture(t, true)
	f.addMedia(t, "m1", model.MediaKindVideo)
	ctx := context.Background()
	require.NoError(t, f.store.UpdateMedia(ctx, "m1", model.MediaUpdate{
		Metadata: &model.MediaMetadata{Duration: 12.5, HasVideo: true},
	}))

	out, err := f.procs.Audio(ctx, mediaInput("m1"), nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"skipped": true}, out)
	assert.Equal(t, 0, f.runner.runCount())
}

func TestMissingMediaIsInputResolutionError(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.procs.Thumbnail(context.Background(), mediaInput("nope"), nil)
	var resErr *apperr.InputResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "media", resErr.Resource)
	assert.Equal(t, 0, f.runner.runCount())
}

func renderTimeline(assetIDs ...string) *model.Timeline {
	tl := &model.Timeline{ID: "tl-1", WorkspaceID: "ws-1", Name: "cut"}
	track := model.Track{ID: "v1", Layer: 0, Type: model.TrackTypeVideo}
	start := 0.0
	for i, id := range assetIDs {
		track.Segments = append(track.Segments, model.Segment{
			ID:      "s" + string(rune('a'+i)),
			AssetID: id,
			Time:    model.SegmentTime{Start: start, Duration: 2},
		})
		start += 2
	}
	tl.Tracks = []model.Track{track}
	return tl
}

func TestComposeStoresRenderRecord(t *testing.T) {
	f := newFixture(t, true)
	f.addMedia(t, "m1", model.MediaKindVideo)
	f.addMedia(t, "m2", model.MediaKindVideo)
	ctx := context.Background()
	require.NoError(t, f.store.SaveTimeline(ctx, renderTimeline("m1", "m2", "m1")))

	out, err := f.procs.Compose(ctx, RenderInput{
		TaskID:  "task-9",
		Payload: model.RenderTimelinePayload{TimelineID: "tl-1", WorkspaceID: "ws-1"},
	}, nil)
	require.NoError(t, err)
	output, ok := out.(*model.RenderOutput)
	require.True(t, ok)
	assert.Equal(t, "renders/ws-1/task-9/output.mp4", output.StoragePath)
	assert.Equal(t, storage.BackendLocal, output.Backend)

	render, err := f.store.GetRender(ctx, "task-9")
	require.NoError(t, err)
	assert.Equal(t, model.RenderStatusPending, render.Status)
	assert.Equal(t, "tl-1", render.TimelineID)
	assert.FileExists(t, filepath.Join(f.base, "renders/ws-1/task-9/output.mp4"))
	assert.Equal(t, 1, f.runner.runCount())
}

func TestComposeMissingAssetFailsBeforeRunner(t *testing.T) {
	f := newFixture(t, true)
	f.addMedia(t, "m1", model.MediaKindVideo)
	ctx := context.Background()
	require.NoError(t, f.store.SaveTimeline(ctx, renderTimeline("m1", "ghost")))

	_, err := f.procs.Compose(ctx, RenderInput{
		TaskID:  "task-9",
		Payload: model.RenderTimelinePayload{TimelineID: "tl-1", WorkspaceID: "ws-1"},
	}, nil)
	var resErr *apperr.InputResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "ghost", resErr.ID)
	assert.Equal(t, 0, f.runner.runCount())

	_, err = f.store.GetRender(ctx, "task-9")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestComposeRejectsAssetFromAnotherWorkspace(t *testing.T) {
	f := newFixture(t, true)
	f.addMedia(t, "m1", model.MediaKindVideo)
	foreign := *f.addMedia(t, "foreign", model.MediaKindVideo)
	foreign.ID = "foreign-ws2"
	foreign.WorkspaceID = "ws-2"
	ctx := context.Background()
	require.NoError(t, f.store.CreateMedia(ctx, &foreign))
	require.NoError(t, f.store.SaveTimeline(ctx, renderTimeline("m1", "foreign-ws2")))

	_, err := f.procs.Compose(ctx, RenderInput{
		TaskID:  "task-9",
		Payload: model.RenderTimelinePayload{TimelineID: "tl-1", WorkspaceID: "ws-1"},
	}, nil)
	var resErr *apperr.InputResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "media", resErr.Resource)
	assert.Equal(t, "foreign-ws2", resErr.ID)
	assert.Equal(t, 0, f.runner.runCount())

	_, err = f.store.GetRender(ctx, "task-9")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestComposeRejectsTimelineFromAnotherWorkspace(t *testing.T) {
	f := newFixture(t, true)
	f.addMedia(t, "m1", model.MediaKindVideo)
	ctx := context.Background()
	require.NoError(t, f.store.SaveTimeline(ctx, renderTimeline("m1")))

	_, err := f.procs.Compose(ctx, RenderInput{
		TaskID:  "task-9",
		Payload: model.RenderTimelinePayload{TimelineID: "tl-1", WorkspaceID: "ws-2"},
	}, nil)
	var resErr *apperr.InputResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "timeline", resErr.Resource)
	assert.Equal(t, 0, f.runner.runCount())
}

func TestComposeRejectsEscapingFormat(t *testing.T) {
	f := newFixture(t, true)
	f.addMedia(t, "m1", model.MediaKindVideo)
	ctx := context.Background()
	require.NoError(t, f.store.SaveTimeline(ctx, renderTimeline("m1")))

	_, err := f.procs.Compose(ctx, RenderInput{
		TaskID: "task-9",
		Payload: model.RenderTimelinePayload{
			TimelineID:  "tl-1",
			WorkspaceID: "ws-1",
			Settings:    &model.RenderSettings{Format: "mp4/../../x"},
		},
	}, nil)
	var graphErr *apperr.GraphBuildError
	require.True(t, errors.As(err, &graphErr))
	assert.Equal(t, 0, f.runner.runCount())
	assert.NoFileExists(t, filepath.Join(f.base, "renders", "x"))
}

func TestComposeMissingTimeline(t *testing.T) {
	f := newFixture(t, true)

	_, err := f.procs.Compose(context.Background(), RenderInput{
		TaskID:  "task-9",
		Payload: model.RenderTimelinePayload{TimelineID: "missing", WorkspaceID: "ws-1"},
	}, nil)
	var resErr *apperr.InputResolutionError
	require.True(t, errors.As(err, &resErr))
	assert.Equal(t, "timeline", resErr.Resource)
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "video/webm", contentTypeFor("webm"))
	assert.Equal(t, "video/mp4", contentTypeFor("mp4"))
	assert.Equal(t, "video/mp4", contentTypeFor(""))
}
