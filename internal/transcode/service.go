package transcode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/transcoder/internal/cache"
	"github.com/kiranshivaraju/transcoder/internal/encoder"
	"github.com/kiranshivaraju/transcoder/internal/objectstore"
	"github.com/kiranshivaraju/transcoder/internal/store"
	"github.com/kiranshivaraju/transcoder/pkg/models"
)

const (
	DefaultFormat     = "mp4"
	DefaultResolution = "720p"
)

var bitratePattern = regexp.MustCompile(`^[1-9][0-9]*(\.[0-9]+)?[kKmM]?$`)

// SubmitRequest is a client's transcode request. Empty fields take defaults.
type SubmitRequest struct {
	VideoID    string
	Format     string
	Resolution string
	Bitrate    string
}

// ProgressView is the lightweight status answer served to pollers.
type ProgressView struct {
	JobID    uuid.UUID `json:"job_id"`
	Status   string    `json:"status"`
	Progress int       `json:"progress"`
}

// DownloadLink is a time-limited link to a completed job's output.
type DownloadLink struct {
	URL       string        `json:"download_url"`
	Filename  string        `json:"filename"`
	ExpiresIn int           `json:"expires_in"`
	Segments  []SegmentLink `json:"segments,omitempty"`
}

// SegmentLink is a presigned link to one segment of a segmented output.
type SegmentLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Service admits jobs and answers queries about them.
type Service struct {
	store      store.Store
	objects    objectstore.Store
	cache      cache.Cache
	pool       *Pool
	presignTTL time.Duration
	logger     *slog.Logger
}

// NewService creates a Service. A zero presignTTL uses objectstore.DefaultPresignTTL.
func NewService(st store.Store, objects objectstore.Store, ca cache.Cache, pool *Pool, presignTTL time.Duration, logger *slog.Logger) *Service {
	if presignTTL <= 0 {
		presignTTL = objectstore.DefaultPresignTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:      st,
		objects:    objects,
		cache:      ca,
		pool:       pool,
		presignTTL: presignTTL,
		logger:     logger,
	}
}

// Submit validates req, records a pending job and hands it to the pool.
// It returns as soon as the row exists; the transcode runs in the background.
func (s *Service) Submit(ctx context.Context, owner string, req SubmitRequest) (*models.Job, error) {
	videoID, format, resolution, bitrate, err := normalize(req)
	if err != nil {
		return nil, err
	}

	video, err := s.store.GetVideo(ctx, videoID, owner)
	if err != nil {
		return nil, fmt.Errorf("looking up video: %w", err)
	}

	res, err := s.pool.Reserve()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:             uuid.New(),
		VideoID:        video.ID,
		Owner:          owner,
		Status:         models.JobStatusPending,
		Format:         format.Name,
		Resolution:     resolution,
		Bitrate:        bitrate,
		OutputSegments: []string{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	job.OutputLocation = objectstore.OutputKey(owner, job.ID, format.Ext)

	if err := s.store.CreateJob(ctx, job); err != nil {
		res.Release()
		return nil, fmt.Errorf("creating job: %w", err)
	}

	if s.cache != nil {
		snap := cache.JobSnapshot{Owner: owner, Status: models.JobStatusPending}
		if err := s.cache.SetJobStatus(ctx, job.ID, snap, cache.JobTTL); err != nil {
			s.logger.Debug("status cache write failed", slog.String("job_id", job.ID.String()), slog.String("error", err.Error()))
		}
	}

	queued := *job
	res.Dispatch(Task{Job: &queued, SourceKey: video.StorageKey})

	s.logger.Info("job admitted",
		slog.String("job_id", job.ID.String()),
		slog.String("owner", owner),
		slog.String("video_id", video.ID.String()),
		slog.String("format", job.Format),
		slog.String("resolution", job.Resolution),
		slog.String("bitrate", job.Bitrate))
	return job, nil
}

func normalize(req SubmitRequest) (uuid.UUID, encoder.Format, string, string, error) {
	raw := strings.TrimSpace(req.VideoID)
	if raw == "" {
		return uuid.Nil, encoder.Format{}, "", "", &ValidationError{Field: "video_id", Message: "is required"}
	}
	videoID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, encoder.Format{}, "", "", &ValidationError{Field: "video_id", Message: "must be a valid UUID"}
	}

	name := strings.TrimSpace(req.Format)
	if name == "" {
		name = DefaultFormat
	}
	format, ok := encoder.LookupFormat(name)
	if !ok {
		return uuid.Nil, encoder.Format{}, "", "", &ValidationError{
			Field:   "format",
			Message: fmt.Sprintf("must be one of %s", strings.Join(encoder.FormatNames(), ", ")),
		}
	}

	resolution := strings.TrimSpace(req.Resolution)
	if resolution == "" {
		resolution = DefaultResolution
	}

	bitrate := strings.TrimSpace(req.Bitrate)
	if bitrate == "" {
		bitrate = encoder.DefaultBitrate
	}
	if !bitratePattern.MatchString(bitrate) {
		return uuid.Nil, encoder.Format{}, "", "", &ValidationError{Field: "bitrate", Message: "must look like 1000k or 2M"}
	}

	return videoID, format, encoder.ResolvePreset(resolution).Name, bitrate, nil
}

// GetStatus returns the full job record for owner.
func (s *Service) GetStatus(ctx context.Context, owner string, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID, owner)
	if err != nil {
		return nil, fmt.Errorf("getting job: %w", err)
	}
	return job, nil
}

// ListJobs returns owner's jobs, newest first.
func (s *Service) ListJobs(ctx context.Context, owner string) ([]*models.Job, error) {
	jobs, err := s.store.ListJobs(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	return jobs, nil
}

// Progress answers from the cache when it holds a mirror for owner, and from
// the store otherwise.
func (s *Service) Progress(ctx context.Context, owner string, jobID uuid.UUID) (*ProgressView, error) {
	if s.cache != nil {
		snap, ok, err := s.cache.GetJobSnapshot(ctx, jobID)
		if err != nil {
			s.logger.Debug("status cache read failed", slog.String("job_id", jobID.String()), slog.String("error", err.Error()))
		}
		if ok && snap.Owner == owner {
			return &ProgressView{JobID: jobID, Status: snap.Status, Progress: snap.Progress}, nil
		}
	}

	job, err := s.GetStatus(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	return &ProgressView{JobID: job.ID, Status: job.Status, Progress: job.Progress}, nil
}

// Download presigns the output of a completed job.
func (s *Service) Download(ctx context.Context, owner string, jobID uuid.UUID) (*DownloadLink, error) {
	job, err := s.GetStatus(ctx, owner, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, ErrNotCompleted
	}

	url, err := s.objects.Presign(ctx, job.OutputLocation, s.presignTTL)
	if err != nil {
		return nil, fmt.Errorf("presigning output: %w", err)
	}

	link := &DownloadLink{
		URL:       url,
		Filename:  fmt.Sprintf("processed_%s%s", job.ID, path.Ext(job.OutputLocation)),
		ExpiresIn: int(s.presignTTL / time.Second),
	}
	for _, key := range job.OutputSegments {
		segURL, err := s.objects.Presign(ctx, key, s.presignTTL)
		if err != nil {
			return nil, fmt.Errorf("presigning segment %s: %w", key, err)
		}
		link.Segments = append(link.Segments, SegmentLink{Name: path.Base(key), URL: segURL})
	}
	return link, nil
}

// IsNotFound reports whether err means the job or video does not exist for
// the caller.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
