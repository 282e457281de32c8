// Package processor implements one step of a pipeline: resolve inputs, run
// the executor, persist the step's own derived fields, clean up.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/executor"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/reelcraft/mediapipe/internal/runner"
	"github.com/reelcraft/mediapipe/internal/storage"
	"github.com/reelcraft/mediapipe/internal/store"
	"github.com/sirupsen/logrus"
)

// MediaInput is the typed input of an upload-processing step.
type MediaInput struct {
	TaskID  string
	Payload model.ProcessUploadPayload
}

// RenderInput is the typed input of the compose step.
type RenderInput struct {
	TaskID  string
	Payload model.RenderTimelinePayload
}

// Processors holds the dependencies shared by every step.
type Processors struct {
	store   store.Store
	gateway *storage.Gateway
	exec    *executor.Executor
	workDir string
	logger  *logrus.Logger
}

func New(s store.Store, gateway *storage.Gateway, exec *executor.Executor, workDir string, logger *logrus.Logger) *Processors {
	return &Processors{
		store:   s,
		gateway: gateway,
		exec:    exec,
		workDir: workDir,
		logger:  logger,
	}
}

// artifact is the output reported for a stored file.
type artifact struct {
	Path string `json:"path"`
	URL  string `json:"url,omitempty"`
}

// mediaSource loads the media record and resolves its file locally. The
// returned release func removes any downloaded copy.
func (p *Processors) mediaSource(ctx context.Context, in MediaInput, step model.StepKind) (*model.Media, executor.Source, func(), error) {
	media, err := p.store.GetMedia(ctx, in.Payload.MediaID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, executor.Source{}, nil, &apperr.InputResolutionError{Resource: "media", ID: in.Payload.MediaID, Err: err}
		}
		return nil, executor.Source{}, nil, err
	}
	if media.StoragePath == "" {
		return nil, executor.Source{}, nil, &apperr.InputResolutionError{Resource: "storage path", ID: media.ID}
	}

	local, err := p.gateway.ResolveLocalPath(ctx, media.StoragePath, media.Backend, filepath.Join(media.ID, string(step)))
	if err != nil {
		return nil, executor.Source{}, nil, err
	}
	release := func() { p.gateway.Cleanup(local, media.Backend) }
	return media, executor.Source{Path: local, Kind: media.Kind}, release, nil
}

// scratch returns a per-step working directory and its removal func.
func (p *Processors) scratch(mediaID string, step model.StepKind) (string, func(), error) {
	dir := filepath.Join(p.workDir, "media", mediaID, string(step))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	return dir, func() {
		if err := os.RemoveAll(dir); err != nil {
			p.logger.WithError(err).WithField("dir", dir).Warn("Failed to remove work dir")
		}
	}, nil
}

// storeArtifact uploads a produced file next to the media's original.
func (p *Processors) storeArtifact(ctx context.Context, media *model.Media, localPath, name, contentType string) (artifact, error) {
	key := storage.MediaArtifactKey(media.WorkspaceID, media.ID, name)
	url, err := p.gateway.Upload(ctx, localPath, key, media.Backend, contentType)
	if err != nil {
		return artifact{}, fmt.Errorf("failed to store %s: %w", name, err)
	}
	return artifact{Path: key, URL: url}, nil
}

type mediaStep func(ctx context.Context, media *model.Media, src executor.Source, dir string) (interface{}, error)

func (p *Processors) runMediaStep(ctx context.Context, in MediaInput, step model.StepKind, fn mediaStep) (interface{}, error) {
	media, src, release, err := p.mediaSource(ctx, in, step)
	if err != nil {
		return nil, err
	}
	defer release()

	dir, cleanup, err := p.scratch(media.ID, step)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	p.logger.WithFields(logrus.Fields{
		"task_id":  in.TaskID,
		"step":     step,
		"media_id": media.ID,
	}).Debug("Running media step")
	return fn(ctx, media, src, dir)
}

// Probe records the asset's metadata.
func (p *Processors) Probe(ctx context.Context, in MediaInput, _ runner.ProgressFunc) (interface{}, error) {
	media, src, release, err := p.mediaSource(ctx, in, model.StepProbe)
	if err != nil {
		return nil, err
	}
	defer release()

	meta, err := p.exec.Probe(ctx, src.Path)
	if err != nil {
		return nil, err
	}
	if err := p.store.UpdateMedia(ctx, media.ID, model.MediaUpdate{Metadata: meta}); err != nil {
		return nil, err
	}
	return meta, nil
}

// Thumbnail stores a preview frame.
func (p *Processors) Thumbnail(ctx context.Context, in MediaInput, _ runner.ProgressFunc) (interface{}, error) {
	return p.runMediaStep(ctx, in, model.StepThumbnail, func(ctx context.Context, media *model.Media, src executor.Source, dir string) (interface{}, error) {
		out := filepath.Join(dir, "thumbnail.jpg")
		if err := p.exec.Thumbnail(ctx, src, out); err != nil {
			return nil, err
		}
		a, err := p.storeArtifact(ctx, media, out, "thumbnail.jpg", "image/jpeg")
		if err != nil {
			return nil, err
		}
		return a, p.store.UpdateMedia(ctx, media.ID, model.MediaUpdate{Thumbnail: &a.Path})
	})
}

// Sprite stores a scrubbing sprite sheet.
func (p *Processors) Sprite(ctx context.Context, in MediaInput, _ runner.ProgressFunc) (interface{}, error) {
	return p.runMediaStep(ctx, in, model.StepSprite, func(ctx context.Context, media *model.Media, src executor.Source, dir string) (interface{}, error) {
		out := filepath.Join(dir, "sprite.jpg")
		sheet, err := p.exec.Sprite(ctx, src, out)
		if err != nil {
			return nil, err
		}
		a, err := p.storeArtifact(ctx, media, out, "sprite.jpg", "image/jpeg")
		if err != nil {
			return nil, err
		}
		sheet.Path = a.Path
		return sheet, p.store.UpdateMedia(ctx, media.ID, model.MediaUpdate{Sprite: sheet})
	})
}

// Filmstrip stores a single-row strip of frames.
func (p *Processors) Filmstrip(ctx context.Context, in MediaInput, _ runner.ProgressFunc) (interface{}, error) {
	return p.runMediaStep(ctx, in, model.StepFilmstrip, func(ctx context.Context, media *model.Media, src executor.Source, dir string) (interface{}, error) {
		out := filepath.Join(dir, "filmstrip.jpg")
		if err := p.exec.Filmstrip(ctx, src, out); err != nil {
			return nil, err
		}
		a, err := p.storeArtifact(ctx, media, out, "filmstrip.jpg", "image/jpeg")
		if err != nil {
			return nil, err
		}
		return a, p.store.UpdateMedia(ctx, media.ID, model.MediaUpdate{Filmstrip: &a.Path})
	})
}

// Proxy stores a lightweight editing proxy.
func (p *Processors) Proxy(ctx context.Context, in MediaInput, progress runner.ProgressFunc) (interface{}, error) {
	return p.runMediaStep(ctx, in, model.StepProxy, func(ctx context.Context, media *model.Media, src executor.Source, dir string) (interface{}, error) {
		out := filepath.Join(dir, "proxy.mp4")
		if err := p.exec.Proxy(ctx, src, out, progress); err != nil {
			return nil, err
		}
		a, err := p.storeArtifact(ctx, media, out, "proxy.mp4", "video/mp4")
		if err != nil {
			return nil, err
		}
		return a, p.store.UpdateMedia(ctx, media.ID, model.MediaUpdate{Proxy: &a.Path})
	})
}

// Audio stores the extracted audio track, if any.
func (p *Processors) Audio(ctx context.Context, in MediaInput, progress runner.ProgressFunc) (interface{}, error) {
	return p.runMediaStep(ctx, in, model.StepAudio, func(ctx context.Context, media *model.Media, src executor.Source, dir string) (interface{}, error) {
		if media.KnownWithoutAudio() {
			return map[string]bool{"skipped": true}, nil
		}
		out := filepath.Join(dir, "audio.m4a")
		skipped, err := p.exec.ExtractAudio(ctx, src, out, progress)
		if err != nil {
			return nil, err
		}
		if skipped {
			return map[string]bool{"skipped": true}, nil
		}
		a, err := p.storeArtifact(ctx, media, out, "audio.m4a", "audio/mp4")
		if err != nil {
			return nil, err
		}
		return a, p.store.UpdateMedia(ctx, media.ID, model.MediaUpdate{Audio: &a.Path})
	})
}
