package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/executor"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/reelcraft/mediapipe/internal/runner"
	"github.com/reelcraft/mediapipe/internal/storage"
	"github.com/sirupsen/logrus"
)

// Compose renders a timeline and writes the render record for the task.
func (p *Processors) Compose(ctx context.Context, in RenderInput, progress runner.ProgressFunc) (interface{}, error) {
	tl, err := p.store.GetTimeline(ctx, in.Payload.TimelineID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, &apperr.InputResolutionError{Resource: "timeline", ID: in.Payload.TimelineID, Err: err}
		}
		return nil, err
	}
	if tl.WorkspaceID != in.Payload.WorkspaceID {
		return nil, &apperr.InputResolutionError{Resource: "timeline", ID: tl.ID, Err: errForeignWorkspace}
	}

	settings := executor.ResolveSettings(p.exec.DefaultRenderSettings(), tl.Settings, in.Payload.Settings)
	if err := p.exec.ValidateSettings(settings); err != nil {
		return nil, err
	}
	layout := storage.NewRenderLayout(p.workDir, in.Payload.WorkspaceID, in.TaskID, settings.Format)

	assets, release, err := p.resolveAssets(ctx, tl, layout)
	if err != nil {
		return nil, err
	}
	defer release()

	out, err := p.exec.Compose(ctx, executor.ComposeRequest{
		Timeline:   tl,
		Settings:   settings,
		Assets:     assets,
		OutputPath: layout.Output,
		OnProgress: progress,
	})
	if err != nil {
		return nil, err
	}

	backend := p.gateway.DefaultBackend()
	key := layout.OutputKey(in.Payload.WorkspaceID, in.TaskID)
	url, err := p.gateway.Upload(ctx, layout.Output, key, backend, contentTypeFor(settings.Format))
	if err != nil {
		return nil, fmt.Errorf("failed to store render: %w", err)
	}
	out.StoragePath = key
	out.Backend = backend
	out.URL = url

	now := time.Now()
	if err := p.store.SaveRender(ctx, &model.Render{
		ID:          in.TaskID,
		TimelineID:  tl.ID,
		WorkspaceID: in.Payload.WorkspaceID,
		Status:      model.RenderStatusPending,
		Output:      out,
		CreatedAt:   now,
		UpdatedAt:   now,
	}); err != nil {
		return nil, err
	}

	if b, err := p.gateway.Backend(backend); err == nil && b.IsRemote() {
		if err := os.RemoveAll(layout.Dir); err != nil {
			p.logger.WithError(err).WithField("dir", layout.Dir).Warn("Failed to remove render dir")
		}
	}

	p.logger.WithFields(logrus.Fields{
		"task_id":     in.TaskID,
		"timeline_id": tl.ID,
		"duration":    out.Duration,
		"size":        out.Size,
	}).Info("Render stored")
	return out, nil
}

var errForeignWorkspace = errors.New("record belongs to another workspace")

// resolveAssets loads every media record referenced by the timeline and
// resolves it into the render's inputs directory. Any missing or foreign
// record fails the whole render before ffmpeg is started.
func (p *Processors) resolveAssets(ctx context.Context, tl *model.Timeline, layout storage.RenderLayout) (map[string]executor.Asset, func(), error) {
	assets := make(map[string]executor.Asset)
	var resolved []struct{ path, backend string }
	release := func() {
		for _, r := range resolved {
			p.gateway.Cleanup(r.path, r.backend)
		}
	}

	for _, track := range tl.Tracks {
		if track.Type == model.TrackTypeText {
			continue
		}
		for _, seg := range track.Segments {
			if seg.AssetID == "" {
				release()
				return nil, nil, &apperr.InputResolutionError{Resource: "asset", ID: seg.ID}
			}
			if _, ok := assets[seg.AssetID]; ok {
				continue
			}
			media, err := p.store.GetMedia(ctx, seg.AssetID)
			if err != nil {
				release()
				return nil, nil, &apperr.InputResolutionError{Resource: "media", ID: seg.AssetID, Err: err}
			}
			if media.WorkspaceID != tl.WorkspaceID {
				release()
				return nil, nil, &apperr.InputResolutionError{Resource: "media", ID: seg.AssetID, Err: errForeignWorkspace}
			}
			local, err := p.gateway.ResolveLocalPathTo(ctx, media.StoragePath, media.Backend,
				layout.InputPath(media.ID, mediaExt(media)))
			if err != nil {
				release()
				return nil, nil, err
			}
			resolved = append(resolved, struct{ path, backend string }{local, media.Backend})
			assets[seg.AssetID] = executor.Asset{
				LocalPath: local,
				Kind:      media.Kind,
				Metadata:  media.Metadata,
			}
		}
	}
	return assets, release, nil
}

func mediaExt(m *model.Media) string {
	if ext := filepath.Ext(m.StoragePath); ext != "" {
		return ext
	}
	return filepath.Ext(m.Filename)
}

func contentTypeFor(format string) string {
	switch strings.ToLower(format) {
	case "webm":
		return "video/webm"
	case "mov":
		return "video/quicktime"
	case "mkv":
		return "video/x-matroska"
	}
	return "video/mp4"
}
