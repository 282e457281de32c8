package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/reelcraft/mediapipe/internal/storage"
	"github.com/reelcraft/mediapipe/internal/store"
)

// ErrNotFound is returned for unknown media, timelines and tasks.
var ErrNotFound = apperr.ErrNotFound

// ErrWorkspaceMismatch is returned when a record belongs to another workspace.
var ErrWorkspaceMismatch = errors.New("record belongs to another workspace")

// ErrRenderNotReady is returned for renders that have not been finalized.
var ErrRenderNotReady = errors.New("render is not ready")

const downloadURLExpiry = 15 * time.Minute

// RegisterMediaRequest describes an asset already written to storage.
type RegisterMediaRequest struct {
	WorkspaceID string          `json:"workspaceId" validate:"required"`
	Kind        model.MediaKind `json:"kind" validate:"required,oneof=video audio image"`
	Filename    string          `json:"filename" validate:"required"`
	StoragePath string          `json:"storagePath" validate:"required"`
	Backend     string          `json:"backend" validate:"omitempty,oneof=local r2"`
	Process     bool            `json:"process"`
}

// RegisterMediaResponse returns the new media and the processing task, if any.
type RegisterMediaResponse struct {
	Media *model.Media `json:"media"`
	Task  *model.Task  `json:"task,omitempty"`
}

// TaskStatusResponse is the client view of a task.
type TaskStatusResponse struct {
	*model.Task
	Steps  []model.StepResult `json:"steps,omitempty"`
	Render *model.Render      `json:"render,omitempty"`
}

// TaskService creates records and QUEUED tasks for the enqueuer to pick up.
type TaskService struct {
	store   store.Store
	gateway *storage.Gateway
	now     func() time.Time
}

func NewTaskService(s store.Store, gateway *storage.Gateway) *TaskService {
	return &TaskService{store: s, gateway: gateway, now: time.Now}
}

// RegisterMedia records an uploaded asset, verifying the object exists.
func (s *TaskService) RegisterMedia(ctx context.Context, req *RegisterMediaRequest) (*RegisterMediaResponse, error) {
	backend := req.Backend
	if backend == "" {
		backend = s.gateway.DefaultBackend()
	}
	ok, err := s.gateway.Exists(ctx, req.StoragePath, backend)
	if errors.Is(err, storage.ErrInvalidKey) {
		return nil, &apperr.InputResolutionError{Resource: "object", ID: req.StoragePath, Err: err}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to check storage: %w", err)
	}
	if !ok {
		return nil, &apperr.InputResolutionError{Resource: "object", ID: req.StoragePath}
	}

	now := s.now()
	media := &model.Media{
		ID:          uuid.New().String(),
		WorkspaceID: req.WorkspaceID,
		Kind:        req.Kind,
		Status:      model.MediaStatusUploaded,
		Filename:    req.Filename,
		StoragePath: req.StoragePath,
		Backend:     backend,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateMedia(ctx, media); err != nil {
		return nil, fmt.Errorf("failed to save media: %w", err)
	}

	resp := &RegisterMediaResponse{Media: media}
	if req.Process {
		task, err := s.ProcessMedia(ctx, media.ID, req.WorkspaceID)
		if err != nil {
			return nil, err
		}
		resp.Task = task
	}
	return resp, nil
}

func (s *TaskService) GetMedia(ctx context.Context, id, workspaceID string) (*model.Media, error) {
	media, err := s.store.GetMedia(ctx, id)
	if err != nil {
		return nil, err
	}
	if workspaceID != "" && media.WorkspaceID != workspaceID {
		return nil, ErrWorkspaceMismatch
	}
	return media, nil
}

// ProcessMedia creates a QUEUED process_upload task for a media record.
func (s *TaskService) ProcessMedia(ctx context.Context, mediaID, workspaceID string) (*model.Task, error) {
	media, err := s.GetMedia(ctx, mediaID, workspaceID)
	if err != nil {
		return nil, err
	}
	return s.createTask(ctx, model.ProcessUploadPayload{
		MediaID:     media.ID,
		WorkspaceID: media.WorkspaceID,
		MediaKind:   media.Kind,
	})
}

// SaveTimeline creates or replaces a timeline.
func (s *TaskService) SaveTimeline(ctx context.Context, tl *model.Timeline) (*model.Timeline, error) {
	now := s.now()
	if existing, err := s.store.GetTimeline(ctx, tl.ID); err == nil {
		if existing.WorkspaceID != tl.WorkspaceID {
			return nil, ErrWorkspaceMismatch
		}
		tl.CreatedAt = existing.CreatedAt
	} else if errors.Is(err, apperr.ErrNotFound) {
		tl.CreatedAt = now
	} else {
		return nil, err
	}
	tl.UpdatedAt = now

	if err := s.checkAssets(ctx, tl); err != nil {
		return nil, err
	}

	for i := range tl.Tracks {
		if tl.Tracks[i].ID == "" {
			tl.Tracks[i].ID = uuid.New().String()
		}
		for j := range tl.Tracks[i].Segments {
			if tl.Tracks[i].Segments[j].ID == "" {
				tl.Tracks[i].Segments[j].ID = uuid.New().String()
			}
		}
	}

	if err := s.store.SaveTimeline(ctx, tl); err != nil {
		return nil, fmt.Errorf("failed to save timeline: %w", err)
	}
	return tl, nil
}

// checkAssets rejects timelines that reference media of another workspace.
// Unknown asset ids are left for the render to report.
func (s *TaskService) checkAssets(ctx context.Context, tl *model.Timeline) error {
	seen := make(map[string]bool)
	for _, track := range tl.Tracks {
		if track.Type == model.TrackTypeText {
			continue
		}
		for _, seg := range track.Segments {
			if seg.AssetID == "" || seen[seg.AssetID] {
				continue
			}
			seen[seg.AssetID] = true
			media, err := s.store.GetMedia(ctx, seg.AssetID)
			if errors.Is(err, apperr.ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			if media.WorkspaceID != tl.WorkspaceID {
				return ErrWorkspaceMismatch
			}
		}
	}
	return nil
}

func (s *TaskService) GetTimeline(ctx context.Context, id, workspaceID string) (*model.Timeline, error) {
	tl, err := s.store.GetTimeline(ctx, id)
	if err != nil {
		return nil, err
	}
	if workspaceID != "" && tl.WorkspaceID != workspaceID {
		return nil, ErrWorkspaceMismatch
	}
	return tl, nil
}

// RenderTimeline creates a QUEUED render_timeline task.
func (s *TaskService) RenderTimeline(ctx context.Context, timelineID, workspaceID string, settings *model.RenderSettings) (*model.Task, error) {
	tl, err := s.GetTimeline(ctx, timelineID, workspaceID)
	if err != nil {
		return nil, err
	}
	return s.createTask(ctx, model.RenderTimelinePayload{
		TimelineID:  tl.ID,
		WorkspaceID: tl.WorkspaceID,
		Settings:    settings,
	})
}

// GetStatus returns a task with its recorded step results and, for renders,
// the render record.
func (s *TaskService) GetStatus(ctx context.Context, taskID string) (*TaskStatusResponse, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	steps, err := s.store.ListStepResults(ctx, taskID)
	if err != nil {
		return nil, err
	}
	resp := &TaskStatusResponse{Task: task, Steps: steps}
	if task.Kind == model.TaskKindRenderTimeline {
		if render, err := s.store.GetRender(ctx, taskID); err == nil {
			resp.Render = render
		}
	}
	return resp, nil
}

// DownloadURL returns a temporary URL for a finished render's output.
func (s *TaskService) DownloadURL(ctx context.Context, taskID string) (*model.Render, string, error) {
	render, err := s.store.GetRender(ctx, taskID)
	if err != nil {
		return nil, "", err
	}
	if render.Status != model.RenderStatusActive || render.Output == nil {
		return render, "", ErrRenderNotReady
	}
	url, err := s.gateway.DownloadURL(ctx, render.Output.StoragePath, render.Output.Backend, downloadURLExpiry)
	if err != nil {
		return render, "", fmt.Errorf("failed to sign download url: %w", err)
	}
	return render, url, nil
}

// GetSteps returns a task and the step results recorded for it.
func (s *TaskService) GetSteps(ctx context.Context, taskID string) (*model.Task, []model.StepResult, error) {
	task, err := s.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	steps, err := s.store.ListStepResults(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	return task, steps, nil
}

func (s *TaskService) createTask(ctx context.Context, payload model.TaskPayload) (*model.Task, error) {
	task, err := model.NewTask(uuid.New().String(), payload, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("failed to save task: %w", err)
	}
	return task, nil
}
