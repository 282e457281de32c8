package executor

import (
	"strings"

	"github.com/sirupsen/logrus"
)

// videoCodecArgs returns encoder arguments tuned for quality. The second
// return value is false when the codec is not in the table and generic
// settings were used.
func videoCodecArgs(codec string, width, height int) ([]string, bool) {
	aboveHD := width*height > 1920*1080

	switch strings.ToLower(strings.TrimSpace(codec)) {
	case "h264", "libx264", "avc":
		level := "4.1"
		if aboveHD {
			level = "5.1"
		}
		return []string{
			"-c:v", "libx264",
			"-preset", "slow",
			"-crf", "18",
			"-pix_fmt", "yuv420p",
			"-profile:v", "high",
			"-level:v", level,
		}, true
	case "hevc", "h265", "libx265":
		level := "4.1"
		if aboveHD {
			level = "5.1"
		}
		return []string{
			"-c:v", "libx265",
			"-preset", "slow",
			"-crf", "22",
			"-pix_fmt", "yuv420p",
			"-profile:v", "main",
			"-x265-params", "level-idc=" + level,
			"-tag:v", "hvc1",
		}, true
	case "vp9", "libvpx-vp9":
		tiles := "1"
		if aboveHD {
			tiles = "2"
		}
		return []string{
			"-c:v", "libvpx-vp9",
			"-deadline", "good",
			"-cpu-used", "1",
			"-crf", "30",
			"-b:v", "0",
			"-pix_fmt", "yuv420p",
			"-row-mt", "1",
			"-tile-columns", tiles,
		}, true
	case "av1", "libsvtav1":
		crf := "32"
		if aboveHD {
			crf = "30"
		}
		return []string{
			"-c:v", "libsvtav1",
			"-preset", "4",
			"-crf", crf,
			"-pix_fmt", "yuv420p",
		}, true
	}
	return []string{"-c:v", codec, "-pix_fmt", "yuv420p"}, false
}

func audioCodecArgs(format string) []string {
	if strings.EqualFold(format, "webm") {
		return []string{"-c:a", "libopus", "-b:a", "160k", "-ar", "48000"}
	}
	return []string{"-c:a", "aac", "-b:a", "192k", "-ar", "48000"}
}

func containerArgs(format string) []string {
	switch strings.ToLower(format) {
	case "mp4", "mov", "m4v":
		return []string{"-movflags", "+faststart"}
	}
	return nil
}

func (e *Executor) encoderArgs(codec, format string, width, height int) []string {
	args, known := videoCodecArgs(codec, width, height)
	if !known {
		e.logger.WithFields(logrus.Fields{"codec": codec}).Warn("Unknown codec, using generic encoder settings")
	}
	args = append(args, audioCodecArgs(format)...)
	return append(args, containerArgs(format)...)
}
