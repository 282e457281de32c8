package executor

import (
	"context"
	"sync"

	"github.com/reelcraft/mediapipe/internal/config"
	"github.com/reelcraft/mediapipe/internal/runner"
	"github.com/sirupsen/logrus"
)

type fakeRunner struct {
	mu       sync.Mutex
	probe    *runner.ProbeResult
	probeErr error
	runErr   error
	runs     [][]string
	probes   []string
}

func (f *fakeRunner) Probe(_ context.Context, path string) (*runner.ProbeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes = append(f.probes, path)
	if f.probeErr != nil {
		return nil, f.probeErr
	}
	return f.probe, nil
}

func (f *fakeRunner) Run(_ context.Context, args []string, _ float64, onProgress runner.ProgressFunc) error {
	f.mu.Lock()
	f.runs = append(f.runs, append([]string(nil), args...))
	f.mu.Unlock()
	if onProgress != nil {
		onProgress(100)
	}
	return f.runErr
}

func videoProbe(duration string, withAudio bool) *runner.ProbeResult {
	streams := []runner.Stream{{
		CodecType:    "video",
		CodecName:    "h264",
		Width:        1920,
		Height:       1080,
		AvgFrameRate: "30/1",
	}}
	if withAudio {
		streams = append(streams, runner.Stream{CodecType: "audio", CodecName: "aac", SampleRate: "48000", Channels: 2})
	}
	return &runner.ProbeResult{
		Streams: streams,
		Format:  &runner.Format{FormatName: "mov,mp4", Duration: duration, Size: "1000", BitRate: "800000"},
	}
}

func newTestExecutor(r runner.Executor) *Executor {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return New(r, config.RenderConfig{Codec: "h264", Format: "mp4", Width: 1920, Height: 1080, FPS: 30}, logger)
}

func argValue(args []string, flag string) (string, bool) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}
