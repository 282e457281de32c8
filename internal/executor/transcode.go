package executor

import (
	"context"

	"github.com/reelcraft/mediapipe/internal/runner"
)

// Proxy writes a 720p H.264 editing proxy.
func (e *Executor) Proxy(ctx context.Context, src Source, outPath string, onProgress runner.ProgressFunc) error {
	probe, duration, err := e.probeDuration(ctx, src.Path)
	if err != nil {
		return err
	}
	if err := ensureDir(outPath); err != nil {
		return err
	}

	args := []string{
		"-i", src.Path,
		"-vf", "scale=-2:'min(720,ih)'",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
	}
	if probe.StreamCount("audio") > 0 {
		args = append(args, "-c:a", "aac", "-b:a", "128k")
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-movflags", "+faststart", outPath)
	return e.runner.Run(ctx, args, duration, onProgress)
}

// ExtractAudio writes a stereo 48kHz AAC track. It reports skipped when the
// source has no audio stream.
func (e *Executor) ExtractAudio(ctx context.Context, src Source, outPath string, onProgress runner.ProgressFunc) (bool, error) {
	probe, duration, err := e.probeDuration(ctx, src.Path)
	if err != nil {
		return false, err
	}
	if probe.StreamCount("audio") == 0 {
		return true, nil
	}
	if err := ensureDir(outPath); err != nil {
		return false, err
	}

	args := []string{
		"-i", src.Path,
		"-vn",
		"-ac", "2",
		"-ar", "48000",
		"-c:a", "aac",
		"-b:a", "192k",
		outPath,
	}
	return false, e.runner.Run(ctx, args, duration, onProgress)
}
