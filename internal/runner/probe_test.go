package runner

import (
	"errors"
	"testing"

	"github.com/reelcraft/mediapipe/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleProbe = `{
  "streams": [
    {
      "index": 0,
      "codec_name": "h264",
      "codec_type": "video",
      "width": 1920,
      "height": 1080,
      "r_frame_rate": "30/1",
      "avg_frame_rate": "30000/1001",
      "bit_rate": "4800000",
      "side_data_list": [{"side_data_type": "Display Matrix", "rotation": -90}]
    },
    {
      "index": 1,
      "codec_name": "aac",
      "codec_type": "audio",
      "sample_rate": "48000",
      "channels": 2
    }
  ],
  "format": {
    "filename": "clip.mp4",
    "nb_streams": 2,
    "format_name": "mov,mp4,m4a,3gp,3g2,mj2",
    "duration": "12.480000",
    "size": "7340032",
    "bit_rate": "4705128",
    "tags": {"encoder": "Lavf60.3.100"}
  }
}`

func TestParseProbe(t *testing.T) {
	result, err := ParseProbe("clip.mp4", []byte(sampleProbe))
	require.NoError(t, err)

	assert.InDelta(t, 12.48, result.DurationSeconds(), 1e-9)
	assert.Equal(t, int64(7340032), result.SizeBytes())
	assert.Equal(t, int64(4705128), result.BitRate())
	assert.Equal(t, 1, result.StreamCount("video"))
	assert.Equal(t, 1, result.StreamCount("audio"))

	video := result.FirstStream("video")
	require.NotNil(t, video)
	assert.Equal(t, 270, video.Rotation())
	assert.InDelta(t, 29.97, video.FrameRate(), 0.01)

	assert.Nil(t, result.FirstStream("subtitle"))
}

func TestParseProbeRejectsMissingSections(t *testing.T) {
	tests := map[string]string{
		"no format":  `{"streams":[{"codec_type":"video"}]}`,
		"no streams": `{"streams":[],"format":{"duration":"1.0"}}`,
		"bad json":   `{"streams":`,
	}

	for name, payload := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseProbe("x.mp4", []byte(payload))
			var probeErr *apperr.ProbeValidationError
			assert.True(t, errors.As(err, &probeErr))
		})
	}
}

func TestStreamRotationFromLegacyTag(t *testing.T) {
	s := Stream{Tags: map[string]string{"rotate": "90"}}
	assert.Equal(t, 90, s.Rotation())
}

func TestDurationFallsBackToStreams(t *testing.T) {
	result, err := ParseProbe("a.wav", []byte(`{"streams":[{"codec_type":"audio","duration":"3.5"}],"format":{"format_name":"wav"}}`))
	require.NoError(t, err)
	assert.InDelta(t, 3.5, result.DurationSeconds(), 1e-9)
}
