package encoder

import "github.com/kiranshivaraju/transcoder/internal/config"

// Profile is the fixed quality profile applied to every job.
type Profile struct {
	VideoCodec       string
	AudioCodec       string
	Preset           string
	CRF              int
	KeyframeInterval int
	SegmentSeconds   int
}

// DefaultProfile returns the built-in x264 profile.
func DefaultProfile() Profile {
	return Profile{
		VideoCodec:       "libx264",
		AudioCodec:       "aac",
		Preset:           "slow",
		CRF:              23,
		KeyframeInterval: 24,
		SegmentSeconds:   4,
	}
}

// ProfileFromConfig builds a Profile from encoder settings. Zero values fall
// back to DefaultProfile.
func ProfileFromConfig(cfg config.EncoderConfig) Profile {
	p := DefaultProfile()
	if cfg.VideoCodec != "" {
		p.VideoCodec = cfg.VideoCodec
	}
	if cfg.AudioCodec != "" {
		p.AudioCodec = cfg.AudioCodec
	}
	if cfg.Preset != "" {
		p.Preset = cfg.Preset
	}
	if cfg.CRF > 0 {
		p.CRF = cfg.CRF
	}
	if cfg.KeyframeInterval > 0 {
		p.KeyframeInterval = cfg.KeyframeInterval
	}
	if cfg.SegmentSeconds > 0 {
		p.SegmentSeconds = cfg.SegmentSeconds
	}
	return p
}
