package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/transcoder/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a status update does not start from an
// allowed state, including a second actor trying to claim a job.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error

	CreateVideo(ctx context.Context, video *models.Video) error
	GetVideo(ctx context.Context, id uuid.UUID, owner string) (*models.Video, error)
	ListVideos(ctx context.Context, owner string) ([]*models.Video, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, owner string) (*models.Job, error)
	ListJobs(ctx context.Context, owner string) ([]*models.Job, error)
	ListStaleJobs(ctx context.Context, status string, olderThan time.Time) ([]*models.Job, error)
	UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error
	UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error
}

// validTransitions lists, for each target status, the states a job may move from.
var validTransitions = map[string][]string{
	models.JobStatusProcessing: {models.JobStatusPending},
	models.JobStatusCompleted:  {models.JobStatusProcessing},
	models.JobStatusFailed:     {models.JobStatusProcessing},
}

// AllowedFrom returns the source states from which status can be entered.
func AllowedFrom(status string) []string {
	return validTransitions[status]
}

// JobUpdate is the set of optional fields merged by UpdateJobStatus.
// A nil field is left untouched in the row.
type JobUpdate struct {
	Progress       *int
	ErrorMessage   *string
	OutputSegments []string
}

type JobUpdateOption func(*JobUpdate)

// ApplyJobUpdateOptions folds opts into a JobUpdate.
func ApplyJobUpdateOptions(opts ...JobUpdateOption) JobUpdate {
	var u JobUpdate
	for _, opt := range opts {
		opt(&u)
	}
	return u
}

func WithProgress(progress int) JobUpdateOption {
	return func(u *JobUpdate) {
		u.Progress = &progress
	}
}

func WithErrorMessage(msg string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.ErrorMessage = &msg
	}
}

func WithOutputSegments(keys []string) JobUpdateOption {
	return func(u *JobUpdate) {
		u.OutputSegments = keys
	}
}
