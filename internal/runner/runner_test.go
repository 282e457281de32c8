package runner

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProgressTime(t *testing.T) {
	tests := []struct {
		line string
		want float64
		ok   bool
	}{
		{"frame=  120 fps= 30 q=28.0 size=512kB time=00:00:04.00 bitrate=1048.6kbits/s speed=1.0x", 4, true},
		{"size=N/A time=01:02:03.50 bitrate=N/A", 3723.5, true},
		{"time=00:00:10 bitrate=N/A", 10, true},
		{"Stream mapping:", 0, false},
		{"time=N/A bitrate=N/A", 0, false},
	}

	for _, tt := range tests {
		got, ok := ParseProgressTime(tt.line)
		assert.Equal(t, tt.ok, ok, tt.line)
		assert.InDelta(t, tt.want, got, 1e-9, tt.line)
	}
}

func TestPercentClamps(t *testing.T) {
	assert.InDelta(t, 50.0, Percent(5, 10), 1e-9)
	assert.Equal(t, 100.0, Percent(12, 10))
	assert.Equal(t, 0.0, Percent(-1, 10))
	assert.Equal(t, 0.0, Percent(5, 0))
}

func TestTailBufferKeepsLastLines(t *testing.T) {
	b := newTailBuffer(3)
	assert.Empty(t, b.Lines())

	b.Add("a")
	b.Add("b")
	assert.Equal(t, []string{"a", "b"}, b.Lines())

	b.Add("c")
	b.Add("d")
	b.Add("e")
	assert.Equal(t, []string{"c", "d", "e"}, b.Lines())
}

func TestScanLinesCRSplitsCarriageReturns(t *testing.T) {
	scanner := bufio.NewScanner(io.NopCloser(strings.NewReader("one\rtwo\r\nthree\nfour")))
	scanner.Split(scanLinesCR)

	var lines []string
	for scanner.Scan() {
		if scanner.Text() != "" {
			lines = append(lines, scanner.Text())
		}
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, []string{"one", "two", "three", "four"}, lines)
}

func TestRunMissingBinaryReturnsSubprocessError(t *testing.T) {
	r := New(config.FFmpegConfig{FFmpegPath: "/nonexistent/ffmpeg-binary"}, logrus.New())

	err := r.Run(context.Background(), []string{"-version"}, 0, nil)
	require.Error(t, err)

	var subErr *apperr.SubprocessError
	require.True(t, errors.As(err, &subErr))
	assert.Equal(t, -1, subErr.ExitCode)
}

func TestRunSurvivesOversizedOutputLine(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	// a 2 MiB line overflows the scanner buffer
	script := filepath.Join(t.TempDir(), "ffmpeg")
	body := "#!/bin/sh\nhead -c 2097152 /dev/zero | tr '\\0' a >&2\necho done >&2\nexit 0\n"
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))

	logger, hook := test.NewNullLogger()
	r := New(config.FFmpegConfig{FFmpegPath: script}, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, r.Run(ctx, nil, 0, nil))

	var warned bool
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "Stopped reading ffmpeg output" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestNewAppliesDefaults(t *testing.T) {
	r := New(config.FFmpegConfig{}, logrus.New())
	assert.Equal(t, "ffmpeg", r.ffmpegPath)
	assert.Equal(t, "ffprobe", r.ffprobePath)
	assert.Equal(t, defaultTailLines, r.tailLines)
}
