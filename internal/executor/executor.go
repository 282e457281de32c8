// Package executor turns one unit of media work into ffmpeg invocations.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/config"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/reelcraft/mediapipe/internal/runner"
	"github.com/sirupsen/logrus"
)

// Source is a locally available input file.
type Source struct {
	Path string
	Kind model.MediaKind
}

// Executor runs the per-step media operations.
type Executor struct {
	runner   runner.Executor
	validate *validator.Validate
	defaults model.RenderSettings
	logger   *logrus.Logger
}

// New creates an Executor on top of a process runner.
func New(r runner.Executor, render config.RenderConfig, logger *logrus.Logger) *Executor {
	return &Executor{
		runner:   r,
		validate: validator.New(),
		defaults: model.RenderSettings{
			Width:  render.Width,
			Height: render.Height,
			FPS:    render.FPS,
			Codec:  render.Codec,
			Format: render.Format,
		},
		logger: logger,
	}
}

// DefaultRenderSettings returns the configured render defaults.
func (e *Executor) DefaultRenderSettings() model.RenderSettings {
	return e.defaults
}

// ResolveSettings layers overrides on top of the defaults; later overrides
// win and zero fields are ignored.
func ResolveSettings(defaults model.RenderSettings, overrides ...*model.RenderSettings) model.RenderSettings {
	s := defaults
	for _, o := range overrides {
		if o == nil {
			continue
		}
		if o.Width > 0 {
			s.Width = o.Width
		}
		if o.Height > 0 {
			s.Height = o.Height
		}
		if o.FPS > 0 {
			s.FPS = o.FPS
		}
		if o.Codec != "" {
			s.Codec = o.Codec
		}
		if o.Format != "" {
			s.Format = o.Format
		}
	}
	if s.Width <= 0 {
		s.Width = 1920
	}
	if s.Height <= 0 {
		s.Height = 1080
	}
	if s.FPS <= 0 {
		s.FPS = 30
	}
	if s.Codec == "" {
		s.Codec = "h264"
	}
	if s.Format == "" {
		s.Format = "mp4"
	}
	return s
}

// ValidateSettings rejects resolved render settings that cannot be encoded
// or that would place the output outside the render directory.
func (e *Executor) ValidateSettings(s model.RenderSettings) error {
	if err := e.validate.Struct(s); err != nil {
		return &apperr.GraphBuildError{Reason: fmt.Sprintf("invalid render settings: %v", err)}
	}
	return nil
}

func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

func (e *Executor) probeDuration(ctx context.Context, path string) (*runner.ProbeResult, float64, error) {
	result, err := e.runner.Probe(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	return result, result.DurationSeconds(), nil
}
