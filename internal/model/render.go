package model

import "time"

// RenderStatus tracks a render record.
type RenderStatus string

const (
	RenderStatusPending RenderStatus = "pending"
	RenderStatusActive  RenderStatus = "active"
)

// RenderOutput is re-derived by probing the rendered file.
type RenderOutput struct {
	StoragePath string  `json:"storagePath"`
	Backend     string  `json:"backend"`
	URL         string  `json:"url,omitempty"`
	Duration    float64 `json:"duration"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Codec       string  `json:"codec"`
	FPS         float64 `json:"fps"`
	Bitrate     int64   `json:"bitrate"`
	Format      string  `json:"format"`
	Size        int64   `json:"size"`
	Rotation    int     `json:"rotation"`
}

// Render is the record written by a compose step, keyed by task id.
type Render struct {
	ID          string        `json:"id"`
	TimelineID  string        `json:"timelineId"`
	WorkspaceID string        `json:"workspaceId"`
	Status      RenderStatus  `json:"status"`
	Output      *RenderOutput `json:"output,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}
