package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/reelcraft/mediapipe/internal/model"
)

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseTimePtr(s string) *time.Time {
	if s == "" {
		return nil
	}
	t := parseTime(s)
	return &t
}

func taskToHash(t *model.Task) map[string]interface{} {
	h := map[string]interface{}{
		"id":         t.ID,
		"kind":       string(t.Kind),
		"status":     string(t.Status),
		"payload":    string(t.Payload),
		"error":      t.Error,
		"created_at": formatTime(t.CreatedAt),
		"updated_at": formatTime(t.UpdatedAt),
	}
	if t.StartedAt != nil {
		h["started_at"] = formatTime(*t.StartedAt)
	}
	if t.CompletedAt != nil {
		h["completed_at"] = formatTime(*t.CompletedAt)
	}
	return h
}

func taskFromHash(h map[string]string) *model.Task {
	return &model.Task{
		ID:          h["id"],
		Kind:        model.TaskKind(h["kind"]),
		Status:      model.TaskStatus(h["status"]),
		Payload:     json.RawMessage(h["payload"]),
		Error:       h["error"],
		CreatedAt:   parseTime(h["created_at"]),
		UpdatedAt:   parseTime(h["updated_at"]),
		StartedAt:   parseTimePtr(h["started_at"]),
		CompletedAt: parseTimePtr(h["completed_at"]),
	}
}

func mediaToHash(m *model.Media) (map[string]interface{}, error) {
	h := map[string]interface{}{
		"id":           m.ID,
		"workspace_id": m.WorkspaceID,
		"kind":         string(m.Kind),
		"status":       string(m.Status),
		"filename":     m.Filename,
		"storage_path": m.StoragePath,
		"backend":      m.Backend,
		"thumbnail":    m.Thumbnail,
		"filmstrip":    m.Filmstrip,
		"proxy":        m.Proxy,
		"audio":        m.Audio,
		"created_at":   formatTime(m.CreatedAt),
		"updated_at":   formatTime(m.UpdatedAt),
	}
	if m.Metadata != nil {
		data, err := json.Marshal(m.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		h["metadata"] = string(data)
	}
	if m.Sprite != nil {
		data, err := json.Marshal(m.Sprite)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sprite: %w", err)
		}
		h["sprite"] = string(data)
	}
	return h, nil
}

// mediaUpdateToHash returns only the fields named by the update.
func mediaUpdateToHash(u model.MediaUpdate, now time.Time) (map[string]interface{}, error) {
	h := map[string]interface{}{"updated_at": formatTime(now)}
	if u.Status != nil {
		h["status"] = string(*u.Status)
	}
	if u.Metadata != nil {
		data, err := json.Marshal(u.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal metadata: %w", err)
		}
		h["metadata"] = string(data)
	}
	if u.Sprite != nil {
		data, err := json.Marshal(u.Sprite)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal sprite: %w", err)
		}
		h["sprite"] = string(data)
	}
	if u.Thumbnail != nil {
		h["thumbnail"] = *u.Thumbnail
	}
	if u.Filmstrip != nil {
		h["filmstrip"] = *u.Filmstrip
	}
	if u.Proxy != nil {
		h["proxy"] = *u.Proxy
	}
	if u.Audio != nil {
		h["audio"] = *u.Audio
	}
	return h, nil
}

func mediaFromHash(h map[string]string) (*model.Media, error) {
	m := &model.Media{
		ID:          h["id"],
		WorkspaceID: h["workspace_id"],
		Kind:        model.MediaKind(h["kind"]),
		Status:      model.MediaStatus(h["status"]),
		Filename:    h["filename"],
		StoragePath: h["storage_path"],
		Backend:     h["backend"],
		Thumbnail:   h["thumbnail"],
		Filmstrip:   h["filmstrip"],
		Proxy:       h["proxy"],
		Audio:       h["audio"],
		CreatedAt:   parseTime(h["created_at"]),
		UpdatedAt:   parseTime(h["updated_at"]),
	}
	if raw := h["metadata"]; raw != "" {
		m.Metadata = &model.MediaMetadata{}
		if err := json.Unmarshal([]byte(raw), m.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if raw := h["sprite"]; raw != "" {
		m.Sprite = &model.SpriteSheet{}
		if err := json.Unmarshal([]byte(raw), m.Sprite); err != nil {
			return nil, fmt.Errorf("failed to unmarshal sprite: %w", err)
		}
	}
	return m, nil
}

func renderToHash(r *model.Render) (map[string]interface{}, error) {
	h := map[string]interface{}{
		"id":           r.ID,
		"timeline_id":  r.TimelineID,
		"workspace_id": r.WorkspaceID,
		"status":       string(r.Status),
		"created_at":   formatTime(r.CreatedAt),
		"updated_at":   formatTime(r.UpdatedAt),
	}
	if r.Output != nil {
		data, err := json.Marshal(r.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal render output: %w", err)
		}
		h["output"] = string(data)
	}
	return h, nil
}

func renderFromHash(h map[string]string) (*model.Render, error) {
	r := &model.Render{
		ID:          h["id"],
		TimelineID:  h["timeline_id"],
		WorkspaceID: h["workspace_id"],
		Status:      model.RenderStatus(h["status"]),
		CreatedAt:   parseTime(h["created_at"]),
		UpdatedAt:   parseTime(h["updated_at"]),
	}
	if raw := h["output"]; raw != "" {
		r.Output = &model.RenderOutput{}
		if err := json.Unmarshal([]byte(raw), r.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal render output: %w", err)
		}
	}
	return r, nil
}

// applyTransition mutates task for a validated transition and returns the
// hash fields that changed.
func applyTransition(task *model.Task, to model.TaskStatus, errMsg string, now time.Time) map[string]interface{} {
	task.Status = to
	task.UpdatedAt = now
	h := map[string]interface{}{
		"status":     string(to),
		"updated_at": formatTime(now),
	}
	if to == model.TaskStatusRunning && task.StartedAt == nil {
		started := now
		task.StartedAt = &started
		h["started_at"] = formatTime(now)
	}
	if to.IsTerminal() {
		completed := now
		task.CompletedAt = &completed
		h["completed_at"] = formatTime(now)
	}
	if errMsg != "" {
		task.Error = errMsg
		h["error"] = errMsg
	}
	return h
}
