// Package runner invokes the ffmpeg and ffprobe binaries.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/config"
	"github.com/sirupsen/logrus"
)

const defaultTailLines = 40

// ProgressFunc receives the completion percentage of a running invocation.
type ProgressFunc func(percent float64)

// Executor is the subprocess contract consumed by the step executors.
type Executor interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
	Run(ctx context.Context, args []string, totalDuration float64, onProgress ProgressFunc) error
}

// Runner executes ffmpeg/ffprobe on the local host.
type Runner struct {
	ffmpegPath  string
	ffprobePath string
	tailLines   int
	logger      *logrus.Logger
}

// New creates a Runner from the ffmpeg config section.
func New(cfg config.FFmpegConfig, logger *logrus.Logger) *Runner {
	r := &Runner{
		ffmpegPath:  strings.TrimSpace(cfg.FFmpegPath),
		ffprobePath: strings.TrimSpace(cfg.FFprobePath),
		tailLines:   cfg.TailLines,
		logger:      logger,
	}
	if r.ffmpegPath == "" {
		r.ffmpegPath = "ffmpeg"
	}
	if r.ffprobePath == "" {
		r.ffprobePath = "ffprobe"
	}
	if r.tailLines <= 0 {
		r.tailLines = defaultTailLines
	}
	return r
}

// Run executes ffmpeg with args. Stderr is scanned for progress and only the
// last lines are retained for the error report.
func (r *Runner) Run(ctx context.Context, args []string, totalDuration float64, onProgress ProgressFunc) error {
	full := append([]string{"-hide_banner", "-y"}, args...)
	cmd := exec.CommandContext(ctx, r.ffmpegPath, full...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &apperr.SubprocessError{Binary: r.ffmpegPath, ExitCode: -1, Err: err}
	}

	r.logger.WithField("args", strings.Join(full, " ")).Debug("Starting ffmpeg")

	if err := cmd.Start(); err != nil {
		return &apperr.SubprocessError{Binary: r.ffmpegPath, ExitCode: -1, Err: err}
	}

	tail := newTailBuffer(r.tailLines)
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	scanner.Split(scanLinesCR)
	lastPercent := -1
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		tail.Add(line)

		if onProgress == nil || totalDuration <= 0 {
			continue
		}
		current, ok := ParseProgressTime(line)
		if !ok {
			continue
		}
		percent := Percent(current, totalDuration)
		if int(percent) != lastPercent {
			lastPercent = int(percent)
			onProgress(percent)
		}
	}
	if err := scanner.Err(); err != nil {
		r.logger.WithError(err).Warn("Stopped reading ffmpeg output")
	}
	// keep the pipe empty so ffmpeg never blocks on a write before Wait
	_, _ = io.Copy(io.Discard, stderr)

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("ffmpeg interrupted: %w", ctxErr)
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return &apperr.SubprocessError{
			Binary:   r.ffmpegPath,
			ExitCode: exitCode,
			Tail:     tail.Lines(),
			Err:      err,
		}
	}
	return nil
}

var progressTimePattern = regexp.MustCompile(`time=(\d+):(\d{2}):(\d{2}(?:\.\d+)?)`)

// ParseProgressTime extracts the `time=HH:MM:SS.ff` position, in seconds,
// from an ffmpeg status line.
func ParseProgressTime(line string) (float64, bool) {
	m := progressTimePattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	hours, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	minutes, err := strconv.ParseFloat(m[2], 64)
	if err != nil {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[3], 64)
	if err != nil {
		return 0, false
	}
	return hours*3600 + minutes*60 + seconds, true
}

// Percent converts a position into a completion percentage clamped to [0,100].
func Percent(current, total float64) float64 {
	if total <= 0 {
		return 0
	}
	p := current / total * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// scanLinesCR splits on either '\r' or '\n'; ffmpeg rewrites its status
// line with carriage returns.
func scanLinesCR(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		return i + 1, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer is a fixed-size ring of the most recent lines.
type tailBuffer struct {
	lines []string
	next  int
	full  bool
}

func newTailBuffer(size int) *tailBuffer {
	if size <= 0 {
		size = defaultTailLines
	}
	return &tailBuffer{lines: make([]string, size)}
}

func (b *tailBuffer) Add(line string) {
	b.lines[b.next] = line
	b.next = (b.next + 1) % len(b.lines)
	if b.next == 0 {
		b.full = true
	}
}

// Lines returns the retained lines, oldest first.
func (b *tailBuffer) Lines() []string {
	if !b.full {
		return append([]string(nil), b.lines[:b.next]...)
	}
	out := make([]string, 0, len(b.lines))
	out = append(out, b.lines[b.next:]...)
	return append(out, b.lines[:b.next]...)
}
