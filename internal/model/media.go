package model

import "time"

// MediaKind classifies an uploaded asset.
type MediaKind string

const (
	MediaKindVideo MediaKind = "video"
	MediaKindAudio MediaKind = "audio"
	MediaKindImage MediaKind = "image"
)

// MediaStatus tracks whether derived artifacts are ready.
type MediaStatus string

const (
	MediaStatusUploaded MediaStatus = "uploaded"
	MediaStatusActive   MediaStatus = "active"
)

// Media is an uploaded asset and the artifacts derived from it.
// Each derived field is owned by exactly one step.
type Media struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspaceId"`
	Kind        MediaKind      `json:"kind"`
	Status      MediaStatus    `json:"status"`
	Filename    string         `json:"filename"`
	StoragePath string         `json:"storagePath"`
	Backend     string         `json:"backend"`
	Metadata    *MediaMetadata `json:"metadata,omitempty"`
	Thumbnail   string         `json:"thumbnail,omitempty"`
	Sprite      *SpriteSheet   `json:"sprite,omitempty"`
	Filmstrip   string         `json:"filmstrip,omitempty"`
	Proxy       string         `json:"proxy,omitempty"`
	Audio       string         `json:"audio,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// KnownWithoutAudio reports whether a prior probe established that the
// asset carries no audio stream.
func (m *Media) KnownWithoutAudio() bool {
	return m.Metadata != nil && !m.Metadata.HasAudio
}

// MediaMetadata is the probed description of an asset.
type MediaMetadata struct {
	Duration   float64           `json:"duration"`
	Width      int               `json:"width,omitempty"`
	Height     int               `json:"height,omitempty"`
	VideoCodec string            `json:"videoCodec,omitempty"`
	AudioCodec string            `json:"audioCodec,omitempty"`
	FPS        float64           `json:"fps,omitempty"`
	Bitrate    int64             `json:"bitrate,omitempty"`
	SampleRate int               `json:"sampleRate,omitempty"`
	Channels   int               `json:"channels,omitempty"`
	Rotation   int               `json:"rotation"`
	HasVideo   bool              `json:"hasVideo"`
	HasAudio   bool              `json:"hasAudio"`
	Format     string            `json:"format,omitempty"`
	Size       int64             `json:"size,omitempty"`
	Tags       map[string]string `json:"tags,omitempty"`
}

// SpriteSheet describes a tiled preview image used for scrubbing.
type SpriteSheet struct {
	Path       string  `json:"path"`
	Interval   float64 `json:"interval"`
	Columns    int     `json:"columns"`
	Rows       int     `json:"rows"`
	TileWidth  int     `json:"tileWidth"`
	TileHeight int     `json:"tileHeight"`
	Frames     int     `json:"frames"`
}

// MediaUpdate names the media fields to change; nil fields are left untouched.
type MediaUpdate struct {
	Status    *MediaStatus
	Metadata  *MediaMetadata
	Thumbnail *string
	Sprite    *SpriteSheet
	Filmstrip *string
	Proxy     *string
	Audio     *string
}
