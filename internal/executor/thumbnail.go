package executor

import (
	"context"
	"math"

	fg "github.com/reelcraft/mediapipe/internal/filtergraph"
	"github.com/reelcraft/mediapipe/internal/model"
)

const (
	thumbnailWidth  = 640
	thumbnailMaxSec = 5.0
)

// ThumbnailOffset picks the frame position: 10% into the asset, at most 5s.
func ThumbnailOffset(duration float64) float64 {
	return fg.RoundMs(math.Min(duration*0.1, thumbnailMaxSec))
}

// Thumbnail writes a single JPEG preview frame to outPath.
func (e *Executor) Thumbnail(ctx context.Context, src Source, outPath string) error {
	if err := ensureDir(outPath); err != nil {
		return err
	}

	scale := fg.ChainString(fg.F("scale", fg.P("w", fg.Int(thumbnailWidth)), fg.P("h", "-2")))

	var args []string
	if src.Kind == model.MediaKindImage {
		args = []string{"-i", src.Path, "-vf", scale, "-frames:v", "1", "-q:v", "3", outPath}
	} else {
		_, duration, err := e.probeDuration(ctx, src.Path)
		if err != nil {
			return err
		}
		args = []string{
			"-ss", fg.Seconds(ThumbnailOffset(duration)),
			"-i", src.Path,
			"-vf", scale,
			"-frames:v", "1",
			"-q:v", "3",
			outPath,
		}
	}
	return e.runner.Run(ctx, args, 0, nil)
}
