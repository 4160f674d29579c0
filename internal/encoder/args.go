package encoder

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultBitrate is the target video bitrate when a request names none.
const DefaultBitrate = "1000k"

// Request is one encode of InputPath into OutputPath.
type Request struct {
	InputPath  string
	OutputPath string
	Format     Format
	Resolution string
	Bitrate    string
}

// BuildArgs returns the ffmpeg argument list for req under profile p. The
// result depends only on its inputs.
func BuildArgs(req Request, p Profile) []string {
	bitrate := req.Bitrate
	if bitrate == "" {
		bitrate = DefaultBitrate
	}

	args := []string{
		"-y",
		"-hide_banner",
		"-nostats",
		"-progress", "pipe:1",
		"-i", req.InputPath,
		"-vf", ResolvePreset(req.Resolution).ScaleFilter(),
		"-c:v", p.VideoCodec,
		"-c:a", p.AudioCodec,
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-x264opts", fmt.Sprintf("keyint=%d:min-keyint=%d:no-scenecut", p.KeyframeInterval, p.KeyframeInterval),
		"-b:v", bitrate,
		"-f", req.Format.Muxer,
	}

	if req.Format.Segmented {
		base := SegmentBase(req.OutputPath)
		args = append(args,
			"-seg_duration", strconv.Itoa(p.SegmentSeconds),
			"-use_template", "1",
			"-use_timeline", "1",
			"-init_seg_name", base+"-init-$RepresentationID$.m4s",
			"-media_seg_name", base+"-chunk-$RepresentationID$-$Number%05d$.m4s",
		)
	}

	return append(args, req.OutputPath)
}

// SegmentBase is the file name prefix shared by a manifest and its segments.
func SegmentBase(outputPath string) string {
	name := filepath.Base(outputPath)
	return strings.TrimSuffix(name, filepath.Ext(name))
}
