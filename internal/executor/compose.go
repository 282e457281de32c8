package executor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/reelcraft/mediapipe/internal/apperr"
	fg "github.com/reelcraft/mediapipe/internal/filtergraph"
	"github.com/reelcraft/mediapipe/internal/model"
	"github.com/reelcraft/mediapipe/internal/runner"
	"github.com/sirupsen/logrus"
)

// Asset is a resolved timeline input.
type Asset struct {
	LocalPath string
	Kind      model.MediaKind
	Metadata  *model.MediaMetadata
}

// HasNoAudio reports whether the asset is known to carry no audio stream.
func (a Asset) HasNoAudio() bool {
	if a.Kind == model.MediaKindImage {
		return true
	}
	return a.Metadata != nil && !a.Metadata.HasAudio
}

// InputSpec is one -i entry of a composition.
type InputSpec struct {
	AssetID string
	Path    string
	Image   bool
}

// Composition is a built filter graph and its inputs.
type Composition struct {
	Graph         *fg.Graph
	Inputs        []InputSpec
	VideoOut      string
	AudioOut      string
	TotalDuration float64
	Settings      model.RenderSettings
}

// ComposeRequest describes one render.
type ComposeRequest struct {
	Timeline   *model.Timeline
	Settings   model.RenderSettings
	Assets     map[string]Asset
	OutputPath string
	OnProgress runner.ProgressFunc
}

// Compose renders a timeline into a single file and probes the result.
func (e *Executor) Compose(ctx context.Context, req ComposeRequest) (*model.RenderOutput, error) {
	if req.Timeline == nil {
		return nil, &apperr.InputResolutionError{Resource: "timeline", ID: ""}
	}
	if err := e.validate.Struct(req.Timeline); err != nil {
		return nil, &apperr.GraphBuildError{Reason: fmt.Sprintf("invalid timeline: %v", err)}
	}

	comp, err := BuildComposition(req.Timeline, req.Settings, req.Assets)
	if err != nil {
		return nil, err
	}
	if err := ensureDir(req.OutputPath); err != nil {
		return nil, err
	}

	args := comp.Args(e.encoderArgs(comp.Settings.Codec, comp.Settings.Format, comp.Settings.Width, comp.Settings.Height), req.OutputPath)

	e.logger.WithFields(logrus.Fields{
		"timeline_id": req.Timeline.ID,
		"inputs":      len(comp.Inputs),
		"nodes":       comp.Graph.Len(),
		"duration":    comp.TotalDuration,
	}).Info("Rendering timeline")

	if err := e.runner.Run(ctx, args, comp.TotalDuration, req.OnProgress); err != nil {
		return nil, err
	}

	probe, err := e.runner.Probe(ctx, req.OutputPath)
	if err != nil {
		return nil, err
	}
	if probe.StreamCount("video") == 0 {
		return nil, &apperr.GraphBuildError{Reason: "rendered output has no video stream"}
	}

	video := probe.FirstStream("video")
	out := &model.RenderOutput{
		StoragePath: req.OutputPath,
		Duration:    probe.DurationSeconds(),
		Width:       video.Width,
		Height:      video.Height,
		Codec:       video.CodecName,
		FPS:         video.FrameRate(),
		Bitrate:     probe.BitRate(),
		Format:      comp.Settings.Format,
		Size:        probe.SizeBytes(),
		Rotation:    0,
	}
	if out.Bitrate == 0 {
		out.Bitrate = runner.ParseInt(video.BitRate)
	}
	return out, nil
}

// TotalDuration is the latest segment end rounded to milliseconds, or 1
// second for a timeline without segments.
func TotalDuration(tl *model.Timeline) float64 {
	total := 0.0
	found := false
	for _, track := range tl.Tracks {
		for _, seg := range track.Segments {
			found = true
			total = math.Max(total, fg.RoundMs(seg.Time.Start+seg.Time.Duration))
		}
	}
	if !found || total <= 0 {
		return 1
	}
	return total
}

// BuildComposition builds the filter graph for a timeline. Every referenced
// asset must be present in assets; nothing is executed.
func BuildComposition(tl *model.Timeline, settings model.RenderSettings, assets map[string]Asset) (*Composition, error) {
	settings = ResolveSettings(settings)
	b := &compositionBuilder{
		graph:    fg.New(),
		settings: settings,
		assets:   assets,
		inputIdx: make(map[string]int),
	}

	tracks := append([]model.Track(nil), tl.Tracks...)
	sort.SliceStable(tracks, func(i, j int) bool { return tracks[i].Layer < tracks[j].Layer })

	total := TotalDuration(tl)
	current := b.graph.Add("color", nil,
		fg.P("c", "black"),
		fg.P("s", fmt.Sprintf("%dx%d", settings.Width, settings.Height)),
		fg.P("r", fg.Int(settings.FPS)),
		fg.P("d", fg.Seconds(total)),
	)

	for _, track := range tracks {
		for _, seg := range track.Segments {
			var err error
			switch track.Type {
			case model.TrackTypeText:
				current, err = b.text(current, seg)
			case model.TrackTypeVideo:
				current, err = b.video(current, seg)
			case model.TrackTypeAudio:
				// handled in the audio pass
			default:
				err = &apperr.GraphBuildError{Reason: fmt.Sprintf("unknown track type %q", track.Type)}
			}
			if err != nil {
				return nil, err
			}
		}
	}

	var mixInputs []string
	for _, track := range tracks {
		if track.Type != model.TrackTypeAudio {
			continue
		}
		for _, seg := range track.Segments {
			out, ok, err := b.audio(seg)
			if err != nil {
				return nil, err
			}
			if ok {
				mixInputs = append(mixInputs, out)
			}
		}
	}

	var audioOut string
	switch len(mixInputs) {
	case 0:
		silence := b.graph.Add("anullsrc", nil, fg.P("channel_layout", "stereo"), fg.P("sample_rate", "48000"))
		audioOut = b.graph.Add("atrim", []string{silence}, fg.P("duration", fg.Seconds(total)))
	case 1:
		audioOut = mixInputs[0]
	default:
		audioOut = b.graph.Add("amix", mixInputs,
			fg.P("inputs", fg.Int(len(mixInputs))),
			fg.P("duration", "longest"),
			fg.P("dropout_transition", "0"),
		)
	}

	return &Composition{
		Graph:         b.graph,
		Inputs:        b.inputs,
		VideoOut:      current,
		AudioOut:      audioOut,
		TotalDuration: total,
		Settings:      settings,
	}, nil
}

// Args assembles the full ffmpeg argument list.
func (c *Composition) Args(encoder []string, outputPath string) []string {
	var args []string
	for _, in := range c.Inputs {
		if in.Image {
			args = append(args, "-loop", "1", "-framerate", fg.Int(c.Settings.FPS))
		}
		args = append(args, "-i", in.Path)
	}
	args = append(args,
		"-filter_complex", c.Graph.String(),
		"-map", "["+c.VideoOut+"]",
		"-map", "["+c.AudioOut+"]",
		"-r", fg.Int(c.Settings.FPS),
		"-t", fg.Seconds(c.TotalDuration),
	)
	args = append(args, encoder...)
	return append(args, outputPath)
}

type compositionBuilder struct {
	graph    *fg.Graph
	settings model.RenderSettings
	assets   map[string]Asset
	inputs   []InputSpec
	inputIdx map[string]int
}

// input registers an asset once and returns its input index.
func (b *compositionBuilder) input(assetID string) (int, Asset, error) {
	asset, ok := b.assets[assetID]
	if assetID == "" || !ok || asset.LocalPath == "" {
		return 0, Asset{}, &apperr.InputResolutionError{Resource: "asset", ID: assetID}
	}
	if idx, ok := b.inputIdx[assetID]; ok {
		return idx, asset, nil
	}
	idx := len(b.inputs)
	b.inputs = append(b.inputs, InputSpec{
		AssetID: assetID,
		Path:    asset.LocalPath,
		Image:   asset.Kind == model.MediaKindImage,
	})
	b.inputIdx[assetID] = idx
	return idx, asset, nil
}

func (b *compositionBuilder) text(current string, seg model.Segment) (string, error) {
	if seg.Text == nil {
		return "", &apperr.GraphBuildError{Reason: fmt.Sprintf("text segment %s has no text", seg.ID)}
	}
	start := fg.RoundMs(seg.Time.Start)
	end := fg.RoundMs(seg.Time.Start + seg.Time.Duration)

	fontSize := seg.Text.FontSize
	if fontSize <= 0 {
		fontSize = 48
	}
	return b.graph.Add("drawtext", []string{current},
		fg.P("text", "'"+fg.EscapeText(seg.Text.Content)+"'"),
		fg.P("fontsize", fg.Int(fontSize)),
		fg.P("fontcolor", FontColor(seg.Text.Color)),
		fg.P("x", fg.Int(seg.Text.X)),
		fg.P("y", fg.Int(seg.Text.Y)),
		fg.P("enable", fg.Between(start, end)),
	), nil
}

func (b *compositionBuilder) video(current string, seg model.Segment) (string, error) {
	idx, _, err := b.input(seg.AssetID)
	if err != nil {
		return "", err
	}
	start := fg.RoundMs(seg.Time.Start)
	duration := fg.RoundMs(seg.Time.Duration)
	end := fg.RoundMs(seg.Time.Start + seg.Time.Duration)

	filters := []fg.Filter{
		fg.F("trim", fg.P("start", fg.Seconds(seg.Time.SourceStart)), fg.P("duration", fg.Seconds(duration))),
		fg.F("setpts", fg.P("", "PTS-STARTPTS+"+fg.Seconds(start)+"/TB")),
	}

	x, y := 0, 0
	if v := seg.Video; v != nil {
		x, y = v.X, v.Y
	}
	if v := seg.Video; v != nil && v.Width > 0 && v.Height > 0 {
		filters = append(filters, fg.F("scale", fg.P("w", fg.Int(v.Width)), fg.P("h", fg.Int(v.Height))))
	} else {
		w, h := fg.Int(b.settings.Width), fg.Int(b.settings.Height)
		filters = append(filters,
			fg.F("scale", fg.P("w", w), fg.P("h", h), fg.P("force_original_aspect_ratio", "decrease")),
			fg.F("pad", fg.P("w", w), fg.P("h", h), fg.P("x", "(ow-iw)/2"), fg.P("y", "(oh-ih)/2")),
			fg.F("setsar", fg.P("", "1")),
		)
	}
	clip := b.graph.Chain(fmt.Sprintf("%d:v", idx), filters...)

	return b.graph.Add("overlay", []string{current, clip},
		fg.P("x", fg.Int(x)),
		fg.P("y", fg.Int(y)),
		fg.P("enable", fg.Between(start, end)),
		fg.P("eof_action", "pass"),
	), nil
}

func (b *compositionBuilder) audio(seg model.Segment) (string, bool, error) {
	asset, ok := b.assets[seg.AssetID]
	if ok && asset.HasNoAudio() {
		return "", false, nil
	}
	idx, _, err := b.input(seg.AssetID)
	if err != nil {
		return "", false, err
	}

	volume := 1.0
	if seg.Audio != nil && seg.Audio.Volume != nil {
		volume = *seg.Audio.Volume
	}
	delayMs := int64(math.Round(seg.Time.Start * 1000))

	out := b.graph.Chain(fmt.Sprintf("%d:a", idx),
		fg.F("atrim", fg.P("start", fg.Seconds(seg.Time.SourceStart)), fg.P("duration", fg.Seconds(seg.Time.Duration))),
		fg.F("asetpts", fg.P("", "PTS-STARTPTS")),
		fg.F("volume", fg.P("volume", fmt.Sprintf("%g", volume))),
		fg.F("adelay", fg.P("delays", fmt.Sprintf("%d", delayMs)), fg.P("all", "1")),
	)
	return out, true, nil
}

// FontColor converts #RRGGBB and #RRGGBBAA to ffmpeg's 0xRRGGBBAA form.
// Six-digit colors are fully opaque. Other values pass through unchanged.
func FontColor(color string) string {
	c := strings.TrimSpace(color)
	if c == "" {
		return "0xFFFFFFFF"
	}
	if !strings.HasPrefix(c, "#") {
		return c
	}
	hex := strings.ToUpper(c[1:])
	if !isHex(hex) {
		return c
	}
	switch len(hex) {
	case 6:
		return "0x" + hex + "FF"
	case 8:
		return "0x" + hex
	}
	return c
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789ABCDEF", r) {
			return false
		}
	}
	return s != ""
}
