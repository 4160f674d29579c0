package encoder

import (
	"math"
	"strconv"
	"strings"
)

// ParseProgressLine splits one key=value line of ffmpeg -progress output.
func ParseProgressLine(line string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(strings.TrimSpace(line), "=")
	if !ok || key == "" {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

// Percent converts an output position in microseconds into a whole
// percentage of a duration in seconds, clamped to [0,100]. An unknown
// duration yields 0.
func Percent(outTimeUs int64, duration float64) int {
	if duration <= 0 || outTimeUs <= 0 {
		return 0
	}
	pct := float64(outTimeUs) / 1e6 / duration * 100
	return clamp(int(math.Floor(pct)))
}

func clamp(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// progressState folds the -progress stream into percentages.
type progressState struct {
	duration float64
	last     int
}

func newProgressState(duration float64) *progressState {
	return &progressState{duration: duration, last: -1}
}

// observe consumes one line and reports a percentage when it moves forward.
func (s *progressState) observe(line string) (int, bool) {
	key, value, ok := ParseProgressLine(line)
	if !ok {
		return 0, false
	}

	var pct int
	switch key {
	// ffmpeg reports both keys in microseconds.
	case "out_time_us", "out_time_ms":
		us, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			us = 0
		}
		pct = Percent(us, s.duration)
	case "progress":
		if value != "end" {
			return 0, false
		}
		pct = 100
	default:
		return 0, false
	}

	if pct <= s.last {
		return 0, false
	}
	s.last = pct
	return pct, true
}
