package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"

	"github.com/reelcraft/mediapipe/internal/apperr"
)

// ProbeResult is the decoded `ffprobe -show_format -show_streams` payload.
type ProbeResult struct {
	Streams []Stream `json:"streams"`
	Format  *Format  `json:"format"`
}

// Stream describes one stream of the container.
type Stream struct {
	Index        int               `json:"index"`
	CodecName    string            `json:"codec_name"`
	CodecType    string            `json:"codec_type"`
	Width        int               `json:"width"`
	Height       int               `json:"height"`
	BitRate      string            `json:"bit_rate"`
	SampleRate   string            `json:"sample_rate"`
	Channels     int               `json:"channels"`
	RFrameRate   string            `json:"r_frame_rate"`
	AvgFrameRate string            `json:"avg_frame_rate"`
	Duration     string            `json:"duration"`
	Tags         map[string]string `json:"tags"`
	SideDataList []SideData        `json:"side_data_list"`
}

// SideData carries per-stream side data; only rotation is used.
type SideData struct {
	SideDataType string  `json:"side_data_type"`
	Rotation     float64 `json:"rotation"`
}

// Format captures container-level metadata.
type Format struct {
	Filename   string            `json:"filename"`
	NBStreams  int               `json:"nb_streams"`
	FormatName string            `json:"format_name"`
	Duration   string            `json:"duration"`
	Size       string            `json:"size"`
	BitRate    string            `json:"bit_rate"`
	Tags       map[string]string `json:"tags"`
}

// Probe runs ffprobe against path and validates the required sections.
func (r *Runner) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("ffprobe: empty path")
	}

	cmd := exec.CommandContext(ctx, r.ffprobePath, "-v", "error", "-hide_banner",
		"-show_format", "-show_streams", "-of", "json", "--", path)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	output, err := cmd.Output()
	if err != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		tail := newTailBuffer(r.tailLines)
		for _, line := range strings.Split(strings.TrimSpace(stderr.String()), "\n") {
			if line != "" {
				tail.Add(line)
			}
		}
		return nil, &apperr.SubprocessError{Binary: r.ffprobePath, ExitCode: exitCode, Tail: tail.Lines(), Err: err}
	}

	return ParseProbe(path, output)
}

// ParseProbe decodes raw ffprobe JSON. A payload without a format section or
// without any stream is rejected.
func ParseProbe(path string, data []byte) (*ProbeResult, error) {
	var result ProbeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, &apperr.ProbeValidationError{Path: path, Reason: fmt.Sprintf("decode: %v", err)}
	}
	if result.Format == nil {
		return nil, &apperr.ProbeValidationError{Path: path, Reason: "missing format section"}
	}
	if len(result.Streams) == 0 {
		return nil, &apperr.ProbeValidationError{Path: path, Reason: "no streams"}
	}
	return &result, nil
}

// FirstStream returns the first stream of the given codec type.
func (r *ProbeResult) FirstStream(codecType string) *Stream {
	for i := range r.Streams {
		if strings.EqualFold(r.Streams[i].CodecType, codecType) {
			return &r.Streams[i]
		}
	}
	return nil
}

// StreamCount returns the number of streams of the given codec type.
func (r *ProbeResult) StreamCount(codecType string) int {
	count := 0
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, codecType) {
			count++
		}
	}
	return count
}

// DurationSeconds returns the container duration, falling back to the
// longest stream duration.
func (r *ProbeResult) DurationSeconds() float64 {
	if d := parseFloat(r.Format.Duration); d > 0 {
		return d
	}
	longest := 0.0
	for _, s := range r.Streams {
		if d := parseFloat(s.Duration); d > longest {
			longest = d
		}
	}
	return longest
}

// SizeBytes returns the container size, or 0 when unavailable.
func (r *ProbeResult) SizeBytes() int64 {
	return int64(parseFloat(r.Format.Size))
}

// BitRate returns the container bitrate in bits per second, or 0.
func (r *ProbeResult) BitRate() int64 {
	return int64(parseFloat(r.Format.BitRate))
}

// Rotation returns the display rotation of the stream in degrees, read from
// side data or the legacy rotate tag.
func (s *Stream) Rotation() int {
	for _, sd := range s.SideDataList {
		if sd.Rotation != 0 {
			return normalizeRotation(int(math.Round(sd.Rotation)))
		}
	}
	if v, ok := s.Tags["rotate"]; ok {
		if deg, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return normalizeRotation(deg)
		}
	}
	return 0
}

// FrameRate parses the avg (or real) frame rate fraction.
func (s *Stream) FrameRate() float64 {
	if fps := parseRational(s.AvgFrameRate); fps > 0 {
		return fps
	}
	return parseRational(s.RFrameRate)
}

func normalizeRotation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return deg
}

func parseRational(value string) float64 {
	num, den, ok := strings.Cut(strings.TrimSpace(value), "/")
	if !ok {
		return parseFloat(value)
	}
	n := parseFloat(num)
	d := parseFloat(den)
	if d == 0 {
		return 0
	}
	return n / d
}

func parseFloat(value string) float64 {
	cleaned := strings.TrimSpace(value)
	if cleaned == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsNaN(parsed) || parsed < 0 {
		return 0
	}
	return parsed
}

// ParseInt is a lenient integer parse used for probe string fields.
func ParseInt(value string) int64 {
	return int64(parseFloat(value))
}
