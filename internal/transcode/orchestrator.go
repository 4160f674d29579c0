package transcode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/transcoder/internal/cache"
	"github.com/kiranshivaraju/transcoder/internal/encoder"
	"github.com/kiranshivaraju/transcoder/internal/events"
	"github.com/kiranshivaraju/transcoder/internal/objectstore"
	"github.com/kiranshivaraju/transcoder/internal/store"
	"github.com/kiranshivaraju/transcoder/internal/workspace"
	"github.com/kiranshivaraju/transcoder/pkg/models"
	"golang.org/x/sync/errgroup"
)

// noDiagnostic is recorded when an encoder fails without saying why.
const noDiagnostic = "encoder failed without diagnostic"

const (
	segmentUploadLimit = 4
	notifyTimeout      = 5 * time.Second
)

// Encoder turns a staged input into output files, reporting through events.
type Encoder interface {
	Encode(ctx context.Context, req encoder.Request) <-chan encoder.Event
}

// Workspace hands out and reclaims per-job scratch paths.
type Workspace interface {
	Acquire(jobID uuid.UUID, ext string) (*workspace.Paths, error)
	Release(paths ...string)
}

// StatusStore is the part of store.Store the orchestrator writes through.
type StatusStore interface {
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...store.JobUpdateOption) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error
}

// Orchestrator drives one job from pending to a terminal state.
type Orchestrator struct {
	store     StatusStore
	objects   objectstore.Store
	encoder   Encoder
	workspace Workspace
	cache     cache.Cache
	events    events.Publisher
	logger    *slog.Logger
}

// NewOrchestrator wires an Orchestrator. A nil publisher discards events and
// a nil logger uses slog.Default.
func NewOrchestrator(st StatusStore, objects objectstore.Store, enc Encoder, ws Workspace, ca cache.Cache, pub events.Publisher, logger *slog.Logger) *Orchestrator {
	if pub == nil {
		pub = events.NopPublisher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     st,
		objects:   objects,
		encoder:   enc,
		workspace: ws,
		cache:     ca,
		events:    pub,
		logger:    logger,
	}
}

// Run executes t. Every failure after the job is claimed ends in the failed
// state; nothing escapes as a panic.
func (o *Orchestrator) Run(ctx context.Context, t Task) {
	job := t.Job
	logger := o.logger.With(slog.String("job_id", job.ID.String()), slog.String("owner", job.Owner))

	if err := o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusProcessing); err != nil {
		logger.Warn("job not claimed", slog.String("error", err.Error()))
		return
	}
	o.notify(ctx, job, models.JobStatusProcessing, 0, "")
	logger.Info("job processing", slog.String("format", job.Format), slog.String("resolution", job.Resolution))

	pw := newProgressWriter(func(p int) { o.writeProgress(ctx, logger, job, p) })
	defer func() {
		if r := recover(); r != nil {
			pw.stop()
			logger.Error("panic during transcode", slog.Any("panic", r))
			o.fail(ctx, logger, job, fmt.Sprintf("panic: %v", r), pw.max())
		}
	}()

	format, ok := encoder.LookupFormat(job.Format)
	if !ok {
		pw.stop()
		o.fail(ctx, logger, job, fmt.Sprintf("unsupported format %q", job.Format), 0)
		return
	}

	paths, err := o.workspace.Acquire(job.ID, format.Ext)
	if err != nil {
		pw.stop()
		o.fail(ctx, logger, job, fmt.Sprintf("prepare workspace: %v", err), 0)
		return
	}
	defer o.workspace.Release(paths.All()...)

	if err := o.stage(ctx, t.SourceKey, paths.InputPath); err != nil {
		pw.stop()
		o.fail(ctx, logger, job, err.Error(), 0)
		return
	}

	out, encErr := o.encode(ctx, logger, job, format, paths, pw)
	pw.stop()
	if encErr != nil {
		o.fail(ctx, logger, job, encErr.Error(), pw.max())
		return
	}

	segments, err := o.push(ctx, job, format, out)
	if err != nil {
		o.fail(ctx, logger, job, err.Error(), pw.max())
		return
	}

	o.complete(ctx, logger, job, segments)
}

// stage copies the source object into the workspace input path.
func (o *Orchestrator) stage(ctx context.Context, key, dst string) error {
	body, err := o.objects.Get(ctx, key)
	if err != nil {
		return &FetchError{Key: key, Err: err}
	}
	defer body.Close()

	f, err := os.Create(dst)
	if err != nil {
		return &FetchError{Key: key, Err: err}
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		return &FetchError{Key: key, Err: err}
	}
	if err := f.Close(); err != nil {
		return &FetchError{Key: key, Err: err}
	}
	return nil
}

// encode consumes the encoder's event stream to its end.
func (o *Orchestrator) encode(ctx context.Context, logger *slog.Logger, job *models.Job, format encoder.Format, paths *workspace.Paths, pw *progressWriter) (encoder.Output, error) {
	stream := o.encoder.Encode(ctx, encoder.Request{
		InputPath:  paths.InputPath,
		OutputPath: paths.OutputPath,
		Format:     format,
		Resolution: job.Resolution,
		Bitrate:    job.Bitrate,
	})

	var (
		out      encoder.Output
		result   error
		finished bool
	)
	for ev := range stream {
		if finished {
			continue
		}
		switch ev.Kind {
		case encoder.EventStarted:
			logger.Info("encoder started", slog.String("command", ev.Command))
		case encoder.EventProgress:
			pw.offer(ev.Percent)
		case encoder.EventCompleted:
			out, finished = ev.Output, true
		case encoder.EventFailed:
			diag := ev.Diagnostic
			if strings.TrimSpace(diag) == "" {
				diag = noDiagnostic
			}
			result, finished = &EncodeError{Diagnostic: diag}, true
		}
	}
	if !finished {
		return encoder.Output{}, &EncodeError{Diagnostic: "encoder stopped without a result"}
	}
	return out, result
}

// push uploads the encoder output. Single-file output goes to the job's
// precomputed key; segmented output puts the manifest there and each segment
// beside it. It returns the segment keys.
func (o *Orchestrator) push(ctx context.Context, job *models.Job, format encoder.Format, out encoder.Output) ([]string, error) {
	if err := o.upload(ctx, out.Path, job.OutputLocation, format.ContentType); err != nil {
		return nil, err
	}
	if !format.Segmented {
		return []string{}, nil
	}

	keys := make([]string, len(out.Segments))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(segmentUploadLimit)
	for i, seg := range out.Segments {
		key := objectstore.SegmentKey(job.OutputLocation, filepath.Base(seg))
		keys[i] = key
		g.Go(func() error {
			return o.upload(gctx, seg, key, encoder.SegmentContentType)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return keys, nil
}

func (o *Orchestrator) upload(ctx context.Context, path, key, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return &PushError{Key: key, Err: err}
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return &PushError{Key: key, Err: err}
	}
	if _, err := o.objects.Put(ctx, key, f, info.Size(), contentType); err != nil {
		return &PushError{Key: key, Err: err}
	}
	return nil
}

func (o *Orchestrator) complete(ctx context.Context, logger *slog.Logger, job *models.Job, segments []string) {
	err := o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusCompleted,
		store.WithProgress(100), store.WithOutputSegments(segments))
	if err != nil {
		logger.Error("terminal status write failed",
			slog.String("error", (&StatusWriteError{JobID: job.ID, Status: models.JobStatusCompleted, Err: err}).Error()))
	}
	o.notify(ctx, job, models.JobStatusCompleted, 100, "")
	logger.Info("job completed", slog.String("output", job.OutputLocation), slog.Int("segments", len(segments)))
}

func (o *Orchestrator) fail(ctx context.Context, logger *slog.Logger, job *models.Job, msg string, progress int) {
	err := o.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithErrorMessage(msg))
	if err != nil {
		logger.Error("terminal status write failed",
			slog.String("error", (&StatusWriteError{JobID: job.ID, Status: models.JobStatusFailed, Err: err}).Error()))
	}
	o.notify(ctx, job, models.JobStatusFailed, progress, msg)
	logger.Warn("job failed", slog.String("error", msg))
}

func (o *Orchestrator) writeProgress(ctx context.Context, logger *slog.Logger, job *models.Job, p int) {
	if err := o.store.UpdateJobProgress(ctx, job.ID, p); err != nil {
		logger.Warn("progress write failed",
			slog.String("error", (&StatusWriteError{JobID: job.ID, Status: "progress", Err: err}).Error()))
	}
	if o.cache != nil {
		if err := o.cache.SetJobProgress(ctx, job.ID, p, cache.JobTTL); err != nil {
			logger.Debug("progress cache write failed", slog.String("error", err.Error()))
		}
	}
}

// notify mirrors a transition to the cache and the event stream. Both are
// best-effort.
func (o *Orchestrator) notify(ctx context.Context, job *models.Job, status string, progress int, errMsg string) {
	ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
	defer cancel()

	if o.cache != nil {
		snap := cache.JobSnapshot{Owner: job.Owner, Status: status, Progress: progress}
		if err := o.cache.SetJobStatus(ctx, job.ID, snap, cache.JobTTL); err != nil {
			o.logger.Debug("status cache write failed", slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
		}
	}
	err := o.events.Publish(ctx, events.JobEvent{
		JobID:      job.ID,
		Owner:      job.Owner,
		Status:     status,
		Progress:   progress,
		Error:      errMsg,
		OccurredAt: time.Now().UTC(),
	})
	if err != nil {
		o.logger.Warn("job event not published", slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
	}
}

// progressWriter hands progress values to a single background writer so the
// encode loop never waits on the store. Only the newest pending value is
// kept, and values below the highest already offered are dropped.
type progressWriter struct {
	updates chan int
	done    chan struct{}
	once    sync.Once
	highest int
}

func newProgressWriter(write func(int)) *progressWriter {
	w := &progressWriter{
		updates: make(chan int, 1),
		done:    make(chan struct{}),
		highest: -1,
	}
	go func() {
		defer close(w.done)
		for p := range w.updates {
			write(p)
		}
	}()
	return w
}

// offer must be called from one goroutine only.
func (w *progressWriter) offer(p int) {
	if p <= w.highest {
		return
	}
	w.highest = p
	for {
		select {
		case w.updates <- p:
			return
		default:
		}
		select {
		case <-w.updates:
		default:
		}
	}
}

// stop waits for the last pending write. It is safe to call more than once.
func (w *progressWriter) stop() {
	w.once.Do(func() {
		close(w.updates)
		<-w.done
	})
}

func (w *progressWriter) max() int {
	if w.highest < 0 {
		return 0
	}
	return w.highest
}
