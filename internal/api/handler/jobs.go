package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/transcoder/internal/api/middleware"
	"github.com/kiranshivaraju/transcoder/internal/api/response"
	"github.com/kiranshivaraju/transcoder/internal/store"
	"github.com/kiranshivaraju/transcoder/internal/transcode"
	"github.com/kiranshivaraju/transcoder/pkg/models"
)

// QueueRetryAfter is the Retry-After hint sent when admission is refused.
const QueueRetryAfter = 30 * time.Second

// JobService is the part of transcode.Service the job handlers use.
type JobService interface {
	Submit(ctx context.Context, owner string, req transcode.SubmitRequest) (*models.Job, error)
	GetStatus(ctx context.Context, owner string, jobID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, owner string) ([]*models.Job, error)
	Progress(ctx context.Context, owner string, jobID uuid.UUID) (*transcode.ProgressView, error)
	Download(ctx context.Context, owner string, jobID uuid.UUID) (*transcode.DownloadLink, error)
}

type submitJobResponse struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewSubmitJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := mw.GetOwner(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		var req struct {
			VideoID    string `json:"video_id"`
			Format     string `json:"format"`
			Resolution string `json:"resolution"`
			Bitrate    string `json:"bitrate"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := svc.Submit(r.Context(), owner, transcode.SubmitRequest{
			VideoID:    req.VideoID,
			Format:     req.Format,
			Resolution: req.Resolution,
			Bitrate:    req.Bitrate,
		})
		if err != nil {
			writeServiceError(w, err, "Video not found")
			return
		}

		response.Accepted(w, submitJobResponse{
			JobID:     job.ID,
			Status:    job.Status,
			CreatedAt: job.CreatedAt,
		})
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, jobID, ok := ownerAndID(w, r, "jobID")
		if !ok {
			return
		}
		job, err := svc.GetStatus(r.Context(), owner, jobID)
		if err != nil {
			writeServiceError(w, err, "Job not found")
			return
		}
		response.JSON(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := mw.GetOwner(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}
		jobs, err := svc.ListJobs(r.Context(), owner)
		if err != nil {
			writeServiceError(w, err, "")
			return
		}
		page, meta := response.Paginate(jobs, response.ParsePage(r))
		response.Collection(w, page, meta)
	}
}

// NewJobProgressHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/progress.
func NewJobProgressHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, jobID, ok := ownerAndID(w, r, "jobID")
		if !ok {
			return
		}
		view, err := svc.Progress(r.Context(), owner, jobID)
		if err != nil {
			writeServiceError(w, err, "Job not found")
			return
		}
		response.JSON(w, view)
	}
}

// NewDownloadJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/download.
func NewDownloadJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, jobID, ok := ownerAndID(w, r, "jobID")
		if !ok {
			return
		}
		link, err := svc.Download(r.Context(), owner, jobID)
		if err != nil {
			writeServiceError(w, err, "Job not found")
			return
		}
		response.JSON(w, link)
	}
}

func ownerAndID(w http.ResponseWriter, r *http.Request, param string) (string, uuid.UUID, bool) {
	owner, ok := mw.GetOwner(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
		return "", uuid.Nil, false
	}
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", param+" must be a valid UUID", nil)
		return "", uuid.Nil, false
	}
	return owner, id, true
}

// writeServiceError maps domain errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, err error, notFound string) {
	var verr *transcode.ValidationError
	switch {
	case errors.As(err, &verr):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", verr.Error(),
			map[string]string{verr.Field: verr.Message})
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", notFound, nil)
	case errors.Is(err, transcode.ErrNotCompleted):
		response.Error(w, http.StatusConflict, "JOB_NOT_COMPLETED", "Job has not completed", nil)
	case errors.Is(err, transcode.ErrQueueFull):
		response.Busy(w, QueueRetryAfter, "QUEUE_FULL", "Transcode queue is full, retry later")
	case errors.Is(err, transcode.ErrPoolClosed):
		response.Error(w, http.StatusServiceUnavailable, "SHUTTING_DOWN", "Server is shutting down", nil)
	default:
		slog.Error("request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}
