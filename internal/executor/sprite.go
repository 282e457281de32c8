package executor

import (
	"context"
	"fmt"
	"math"

	"github.com/reelcraft/mediapipe/internal/apperr"
	fg "github.com/reelcraft/mediapipe/internal/filtergraph"
	"github.com/reelcraft/mediapipe/internal/model"
)

const (
	tileWidth       = 160
	tileHeight      = 90
	spriteMaxFrames = 100
	spriteColumns   = 10
	filmstripFrames = 10
)

// SpriteLayout computes the sampling interval and grid for a sprite sheet.
func SpriteLayout(duration float64) model.SpriteSheet {
	interval := math.Max(1, fg.RoundMs(duration/spriteMaxFrames))
	frames := int(math.Ceil(duration / interval))
	if frames < 1 {
		frames = 1
	}
	columns := spriteColumns
	if frames < columns {
		columns = frames
	}
	rows := int(math.Ceil(float64(frames) / float64(columns)))
	return model.SpriteSheet{
		Interval:   interval,
		Columns:    columns,
		Rows:       rows,
		TileWidth:  tileWidth,
		TileHeight: tileHeight,
		Frames:     frames,
	}
}

func tileFilters(rate string, columns, rows int) []fg.Filter {
	w, h := fg.Int(tileWidth), fg.Int(tileHeight)
	return []fg.Filter{
		fg.F("fps", fg.P("fps", rate)),
		fg.F("scale", fg.P("w", w), fg.P("h", h), fg.P("force_original_aspect_ratio", "decrease")),
		fg.F("pad", fg.P("w", w), fg.P("h", h), fg.P("x", "(ow-iw)/2"), fg.P("y", "(oh-ih)/2")),
		fg.F("tile", fg.P("layout", fmt.Sprintf("%dx%d", columns, rows))),
	}
}

// Sprite writes a tiled scrubbing sheet to outPath.
func (e *Executor) Sprite(ctx context.Context, src Source, outPath string) (*model.SpriteSheet, error) {
	_, duration, err := e.probeDuration(ctx, src.Path)
	if err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, &apperr.ProbeValidationError{Path: src.Path, Reason: "zero duration"}
	}
	if err := ensureDir(outPath); err != nil {
		return nil, err
	}

	sheet := SpriteLayout(duration)
	vf := fg.ChainString(tileFilters("1/"+fg.Seconds(sheet.Interval), sheet.Columns, sheet.Rows)...)
	args := []string{"-i", src.Path, "-vf", vf, "-frames:v", "1", "-q:v", "4", outPath}
	if err := e.runner.Run(ctx, args, duration, nil); err != nil {
		return nil, err
	}
	sheet.Path = outPath
	return &sheet, nil
}

// Filmstrip writes evenly spaced frames as a single row to outPath.
func (e *Executor) Filmstrip(ctx context.Context, src Source, outPath string) error {
	_, duration, err := e.probeDuration(ctx, src.Path)
	if err != nil {
		return err
	}
	if duration <= 0 {
		return &apperr.ProbeValidationError{Path: src.Path, Reason: "zero duration"}
	}
	if err := ensureDir(outPath); err != nil {
		return err
	}

	rate := fmt.Sprintf("%d/%s", filmstripFrames, fg.Seconds(duration))
	vf := fg.ChainString(tileFilters(rate, filmstripFrames, 1)...)
	args := []string{"-i", src.Path, "-vf", vf, "-frames:v", "1", "-q:v", "4", outPath}
	return e.runner.Run(ctx, args, duration, nil)
}
