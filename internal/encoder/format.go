package encoder

import (
	"sort"
	"strings"
)

// Format describes one output container.
type Format struct {
	Name        string
	Muxer       string
	Ext         string
	ContentType string
	// Segmented formats write a manifest plus segment files that share the
	// manifest's base name.
	Segmented bool
}

// SegmentContentType is the content type of DASH media segments.
const SegmentContentType = "video/iso.segment"

var formats = map[string]Format{
	"mp4":  {Name: "mp4", Muxer: "mp4", Ext: "mp4", ContentType: "video/mp4"},
	"mov":  {Name: "mov", Muxer: "mov", Ext: "mov", ContentType: "video/quicktime"},
	"mkv":  {Name: "mkv", Muxer: "matroska", Ext: "mkv", ContentType: "video/x-matroska"},
	"dash": {Name: "dash", Muxer: "dash", Ext: "mpd", ContentType: "application/dash+xml", Segmented: true},
}

// LookupFormat returns the format registered under name. Lookup is case-insensitive.
func LookupFormat(name string) (Format, bool) {
	f, ok := formats[strings.ToLower(strings.TrimSpace(name))]
	return f, ok
}

// FormatNames lists the supported format names in sorted order.
func FormatNames() []string {
	names := make([]string, 0, len(formats))
	for n := range formats {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
