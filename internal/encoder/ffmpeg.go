package encoder

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// stderrTailBytes is how much trailing ffmpeg stderr is kept for diagnostics.
const stderrTailBytes = 4096

// FFmpeg runs encodes with the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	FFmpegPath  string
	FFprobePath string
	Profile     Profile
	logger      *slog.Logger
}

// NewFFmpeg returns an FFmpeg encoder. Empty binary paths are looked up on PATH.
func NewFFmpeg(ffmpegPath, ffprobePath string, profile Profile, logger *slog.Logger) *FFmpeg {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FFmpeg{
		FFmpegPath:  ffmpegPath,
		FFprobePath: ffprobePath,
		Profile:     profile,
		logger:      logger,
	}
}

// Encode starts the encode described by req and returns its event stream.
// The caller must drain the channel until it is closed.
func (f *FFmpeg) Encode(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event, 8)
	go f.run(ctx, req, events)
	return events
}

func (f *FFmpeg) run(ctx context.Context, req Request, events chan<- Event) {
	defer close(events)

	duration, err := f.Probe(ctx, req.InputPath)
	if err != nil {
		f.logger.Warn("duration probe failed, progress will stay at 0",
			slog.String("input", req.InputPath),
			slog.String("error", err.Error()),
		)
		duration = 0
	}

	cmd := exec.CommandContext(ctx, f.FFmpegPath, BuildArgs(req, f.Profile)...)
	events <- Event{Kind: EventStarted, Command: cmd.String()}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		events <- Event{Kind: EventFailed, Diagnostic: fmt.Sprintf("ffmpeg stdout pipe: %v", err)}
		return
	}
	tail := &tailBuffer{limit: stderrTailBytes}
	cmd.Stderr = tail

	if err := cmd.Start(); err != nil {
		events <- Event{Kind: EventFailed, Diagnostic: fmt.Sprintf("ffmpeg start: %v", err)}
		return
	}

	state := newProgressState(duration)
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if pct, ok := state.observe(scanner.Text()); ok {
			events <- Event{Kind: EventProgress, Percent: pct}
		}
	}

	if err := cmd.Wait(); err != nil {
		events <- Event{Kind: EventFailed, Diagnostic: diagnostic(err, tail.String())}
		return
	}

	out, err := CollectOutput(req.OutputPath, req.Format.Segmented)
	if err != nil {
		events <- Event{Kind: EventFailed, Diagnostic: err.Error()}
		return
	}
	events <- Event{Kind: EventCompleted, Output: out}
}

func diagnostic(err error, stderr string) string {
	stderr = strings.TrimSpace(stderr)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() >= 0 {
		if stderr == "" {
			return fmt.Sprintf("ffmpeg exited with code %d", exitErr.ExitCode())
		}
		return fmt.Sprintf("ffmpeg exited with code %d: %s", exitErr.ExitCode(), stderr)
	}
	if stderr == "" {
		return fmt.Sprintf("ffmpeg: %v", err)
	}
	return fmt.Sprintf("ffmpeg: %v: %s", err, stderr)
}

// Probe returns the container duration of path in seconds.
func (f *FFmpeg) Probe(ctx context.Context, path string) (float64, error) {
	cmd := exec.CommandContext(ctx, f.FFprobePath,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	durationStr := strings.TrimSpace(string(output))
	if durationStr == "" || durationStr == "N/A" {
		return 0, errors.New("ffprobe: empty duration")
	}
	d, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: parse duration %q: %w", durationStr, err)
	}
	return d, nil
}

// CollectOutput lists what an encode produced at outputPath. For segmented
// output the segment files are those beside the manifest that carry its base
// name, in lexical order.
func CollectOutput(outputPath string, segmented bool) (Output, error) {
	if _, err := os.Stat(outputPath); err != nil {
		return Output{}, fmt.Errorf("encoder output missing: %w", err)
	}
	out := Output{Path: outputPath}
	if !segmented {
		return out, nil
	}

	dir := filepath.Dir(outputPath)
	prefix := SegmentBase(outputPath) + "-"
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Output{}, fmt.Errorf("list segments: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix) || filepath.Ext(name) != ".m4s" {
			continue
		}
		out.Segments = append(out.Segments, filepath.Join(dir, name))
	}
	sort.Strings(out.Segments)
	return out, nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
