package transcode

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/transcoder/internal/cache"
	"github.com/kiranshivaraju/transcoder/internal/store"
	"github.com/kiranshivaraju/transcoder/pkg/models"
)

// LostJobMessage is recorded on processing jobs the reaper gives up on.
const LostJobMessage = "orchestrator lost track of job"

// ReaperConfig sets how old a job must be before the reaper acts on it.
type ReaperConfig struct {
	PendingAfter    time.Duration
	ProcessingAfter time.Duration
	Interval        time.Duration
}

// ReapResult counts what one sweep did.
type ReapResult struct {
	Redispatched int
	Failed       int
}

// JobScratch drops the local scratch space a job left behind.
type JobScratch interface {
	ReleaseJob(jobID uuid.UUID)
}

// Reaper finds jobs stranded by a restart. Pending rows that were never
// dispatched are handed to the pool again; processing rows that have run
// past the limit are failed and their scratch space removed. Jobs this process is still holding are skipped.
type Reaper struct {
	store  store.Store
	pool   *Pool
	cache  cache.Cache
	ws     JobScratch
	cfg    ReaperConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewReaper creates a Reaper. ws may be nil when no local scratch space is used.
func NewReaper(st store.Store, pool *Pool, ca cache.Cache, ws JobScratch, cfg ReaperConfig, logger *slog.Logger) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reaper{
		store:  st,
		pool:   pool,
		cache:  ca,
		ws:     ws,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	interval := r.cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reaper sweep failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs a single sweep.
func (r *Reaper) RunOnce(ctx context.Context) (ReapResult, error) {
	var result ReapResult
	now := r.now().UTC()

	pending, err := r.store.ListStaleJobs(ctx, models.JobStatusPending, now.Add(-r.cfg.PendingAfter))
	if err != nil {
		return result, err
	}
	for _, job := range pending {
		if r.pool.Holds(job.ID) {
			continue
		}
		ok, err := r.redispatch(ctx, job)
		if err != nil {
			if errors.Is(err, ErrQueueFull) || errors.Is(err, ErrPoolClosed) {
				r.logger.Info("reaper stopped redispatch", slog.String("reason", err.Error()))
				break
			}
			r.logger.Warn("stale job not redispatched",
				slog.String("job_id", job.ID.String()),
				slog.String("error", err.Error()))
			continue
		}
		if ok {
			result.Redispatched++
		}
	}

	processing, err := r.store.ListStaleJobs(ctx, models.JobStatusProcessing, now.Add(-r.cfg.ProcessingAfter))
	if err != nil {
		return result, err
	}
	for _, job := range processing {
		if r.pool.Holds(job.ID) {
			continue
		}
		err := r.store.UpdateJobStatus(ctx, job.ID, models.JobStatusFailed, store.WithErrorMessage(LostJobMessage))
		if err != nil {
			if !errors.Is(err, store.ErrInvalidTransition) {
				r.logger.Warn("stale job not failed",
					slog.String("job_id", job.ID.String()),
					slog.String("error", err.Error()))
			}
			continue
		}
		if r.ws != nil {
			r.ws.ReleaseJob(job.ID)
		}
		if r.cache != nil {
			snap := cache.JobSnapshot{Owner: job.Owner, Status: models.JobStatusFailed, Progress: job.Progress}
			_ = r.cache.SetJobStatus(ctx, job.ID, snap, cache.JobTTL)
		}
		r.logger.Warn("stale job failed", slog.String("job_id", job.ID.String()), slog.String("owner", job.Owner))
		result.Failed++
	}

	if result.Redispatched > 0 || result.Failed > 0 {
		r.logger.Info("reaper sweep",
			slog.Int("redispatched", result.Redispatched),
			slog.Int("failed", result.Failed))
	}
	return result, nil
}

func (r *Reaper) redispatch(ctx context.Context, job *models.Job) (bool, error) {
	video, err := r.store.GetVideo(ctx, job.VideoID, job.Owner)
	if err != nil {
		return false, err
	}
	res, err := r.pool.Reserve()
	if err != nil {
		return false, err
	}
	res.Dispatch(Task{Job: job, SourceKey: video.StorageKey})
	r.logger.Info("stale job redispatched", slog.String("job_id", job.ID.String()), slog.String("owner", job.Owner))
	return true, nil
}
