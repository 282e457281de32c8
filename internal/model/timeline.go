package model

import "time"

// TrackType determines how a track's segments are composited.
type TrackType string

const (
	TrackTypeVideo TrackType = "video"
	TrackTypeAudio TrackType = "audio"
	TrackTypeText  TrackType = "text"
)

// Timeline is an ordered, user-edited composition.
type Timeline struct {
	ID          string          `json:"id"`
	WorkspaceID string          `json:"workspaceId" validate:"required"`
	Name        string          `json:"name"`
	Tracks      []Track         `json:"tracks" validate:"dive"`
	Settings    *RenderSettings `json:"settings,omitempty" validate:"omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// Track is one layer of the composition. Lower layers render first.
type Track struct {
	ID       string    `json:"id"`
	Layer    int       `json:"layer"`
	Type     TrackType `json:"type" validate:"required,oneof=video audio text"`
	Segments []Segment `json:"segments" validate:"dive"`
}

// Segment is a time-bounded unit of content on a track.
type Segment struct {
	ID      string          `json:"id"`
	AssetID string          `json:"assetId,omitempty"`
	Time    SegmentTime     `json:"time"`
	Video   *VideoPlacement `json:"video,omitempty" validate:"omitempty"`
	Text    *TextOverlay    `json:"text,omitempty" validate:"omitempty"`
	Audio   *AudioSettings  `json:"audio,omitempty" validate:"omitempty"`
}

// SegmentTime holds output-relative start, length and source-relative offset, in seconds.
type SegmentTime struct {
	Start       float64 `json:"start" validate:"gte=0"`
	Duration    float64 `json:"duration" validate:"gt=0"`
	SourceStart float64 `json:"sourceStart" validate:"gte=0"`
}

// End returns the output-relative end of the segment.
func (t SegmentTime) End() float64 {
	return t.Start + t.Duration
}

// VideoPlacement positions a clip in absolute pixels. Zero width/height means full frame.
type VideoPlacement struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width" validate:"gte=0"`
	Height int `json:"height" validate:"gte=0"`
}

// TextOverlay is drawn directly onto the composition.
type TextOverlay struct {
	Content  string `json:"content" validate:"required"`
	FontSize int    `json:"fontSize" validate:"gte=0"`
	Color    string `json:"color"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
}

// AudioSettings adjusts an audio segment.
type AudioSettings struct {
	Volume *float64 `json:"volume,omitempty" validate:"omitempty,gte=0"`
}

// RenderSettings are the output parameters of a render.
type RenderSettings struct {
	Width  int    `json:"width" validate:"gte=0"`
	Height int    `json:"height" validate:"gte=0"`
	FPS    int    `json:"fps" validate:"gte=0"`
	Codec  string `json:"codec" validate:"omitempty,max=32,excludesall=/\\."`
	Format string `json:"format" validate:"omitempty,oneof=mp4 mov mkv webm"`
}
