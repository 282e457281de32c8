package executor

import (
	"context"

	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/reelcraft/mediapipe/internal/runner"
)

// Probe inspects a local file and returns its metadata.
func (e *Executor) Probe(ctx context.Context, path string) (*model.MediaMetadata, error) {
	result, err := e.runner.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	return MetadataFromProbe(result), nil
}

// MetadataFromProbe flattens probe output into MediaMetadata.
func MetadataFromProbe(result *runner.ProbeResult) *model.MediaMetadata {
	meta := &model.MediaMetadata{
		Duration: result.DurationSeconds(),
		Bitrate:  result.BitRate(),
		Size:     result.SizeBytes(),
		Format:   result.Format.FormatName,
		Tags:     result.Format.Tags,
	}

	if v := result.FirstStream("video"); v != nil {
		meta.HasVideo = true
		meta.Width = v.Width
		meta.Height = v.Height
		meta.VideoCodec = v.CodecName
		meta.FPS = v.FrameRate()
		meta.Rotation = v.Rotation()
		if meta.Bitrate == 0 {
			meta.Bitrate = runner.ParseInt(v.BitRate)
		}
	}
	if a := result.FirstStream("audio"); a != nil {
		meta.HasAudio = true
		meta.AudioCodec = a.CodecName
		meta.SampleRate = int(runner.ParseInt(a.SampleRate))
		meta.Channels = a.Channels
	}
	return meta
}
