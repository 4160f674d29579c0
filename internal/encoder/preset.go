package encoder

import "fmt"

// Preset is a named output frame size.
type Preset struct {
	Name   string
	Width  int
	Height int
}

// DefaultPreset is used for any resolution name that is not recognised.
var DefaultPreset = Preset{Name: "720p", Width: 1280, Height: 720}

var presets = map[string]Preset{
	"480p":  {Name: "480p", Width: 854, Height: 480},
	"720p":  DefaultPreset,
	"1080p": {Name: "1080p", Width: 1920, Height: 1080},
}

// ResolvePreset maps a resolution name to its frame size. Unknown and empty
// names resolve to DefaultPreset.
func ResolvePreset(name string) Preset {
	if p, ok := presets[name]; ok {
		return p
	}
	return DefaultPreset
}

// ScaleFilter renders the preset as an ffmpeg scale filter.
func (p Preset) ScaleFilter() string {
	return fmt.Sprintf("scale=%d:%d", p.Width, p.Height)
}
