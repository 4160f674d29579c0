package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/transcoder/internal/api/middleware"
	"github.com/kiranshivaraju/transcoder/internal/api/response"
	"github.com/kiranshivaraju/transcoder/internal/video"
	"github.com/kiranshivaraju/transcoder/pkg/models"
)

// UploadField is the multipart form field carrying the video file.
const UploadField = "video"

// multipartOverhead allows for form boundaries and headers on top of the file.
const multipartOverhead = 1 << 20

// VideoLibrary is the part of video.Library the video handlers use.
type VideoLibrary interface {
	Upload(ctx context.Context, owner string, u video.Upload) (*models.Video, error)
	List(ctx context.Context, owner string) ([]*models.Video, error)
	Download(ctx context.Context, owner string, id uuid.UUID) (*video.Link, error)
	MaxBytes() int64
}

// NewUploadVideoHandler returns an http.HandlerFunc for POST /api/v1/videos.
func NewUploadVideoHandler(lib VideoLibrary) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := mw.GetOwner(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, lib.MaxBytes()+multipartOverhead)
		file, header, err := r.FormFile(UploadField)
		if err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File too big", nil)
				return
			}
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "No file in form field \""+UploadField+"\"", nil)
			return
		}
		defer file.Close()

		v, err := lib.Upload(r.Context(), owner, video.Upload{
			Name:     header.Filename,
			MimeType: header.Header.Get("Content-Type"),
			Size:     header.Size,
			Body:     file,
		})
		if err != nil {
			switch {
			case errors.Is(err, video.ErrTooLarge):
				response.Error(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File too big", nil)
			case errors.Is(err, video.ErrUnsupportedType):
				response.Error(w, http.StatusBadRequest, "INVALID_FILE_TYPE", "Invalid file type", nil)
			case errors.Is(err, video.ErrEmpty):
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "No file", nil)
			default:
				writeServiceError(w, err, "")
			}
			return
		}

		response.Created(w, v)
	}
}

// NewListVideosHandler returns an http.HandlerFunc for GET /api/v1/videos.
func NewListVideosHandler(lib VideoLibrary) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := mw.GetOwner(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing owner", nil)
			return
		}
		videos, err := lib.List(r.Context(), owner)
		if err != nil {
			writeServiceError(w, err, "")
			return
		}
		page, meta := response.Paginate(videos, response.ParsePage(r))
		response.Collection(w, page, meta)
	}
}

// NewDownloadVideoHandler returns an http.HandlerFunc for GET /api/v1/videos/{videoID}/download.
func NewDownloadVideoHandler(lib VideoLibrary) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, id, ok := ownerAndID(w, r, "videoID")
		if !ok {
			return
		}
		link, err := lib.Download(r.Context(), owner, id)
		if err != nil {
			writeServiceError(w, err, "Video not found")
			return
		}
		response.JSON(w, link)
	}
}
