// Package video manages uploaded source videos: storing the original in the
// object store, recording it, and handing out links to it.
package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/transcoder/internal/objectstore"
	"github.com/kiranshivaraju/transcoder/pkg/models"
)

// DefaultMaxBytes is the largest accepted upload.
const DefaultMaxBytes = 100 << 20

var (
	ErrEmpty           = errors.New("no video file provided")
	ErrTooLarge        = errors.New("video file too large")
	ErrUnsupportedType = errors.New("unsupported video type")
)

var allowedTypes = map[string]bool{
	"video/mp4":       true,
	"video/avi":       true,
	"video/mov":       true,
	"video/quicktime": true,
}

// AllowedType reports whether uploads of mimeType are accepted.
func AllowedType(mimeType string) bool {
	return allowedTypes[strings.ToLower(strings.TrimSpace(mimeType))]
}

// Store is the part of store.Store the library needs.
type Store interface {
	CreateVideo(ctx context.Context, v *models.Video) error
	GetVideo(ctx context.Context, id uuid.UUID, owner string) (*models.Video, error)
	ListVideos(ctx context.Context, owner string) ([]*models.Video, error)
}

// Upload is one incoming source file.
type Upload struct {
	Name     string
	MimeType string
	Size     int64
	Body     io.Reader
}

// Link is a time-limited link to an original upload.
type Link struct {
	URL       string `json:"download_url"`
	Filename  string `json:"filename"`
	ExpiresIn int    `json:"expires_in"`
}

type Library struct {
	store      Store
	objects    objectstore.Store
	maxBytes   int64
	presignTTL time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewLibrary creates a Library. Non-positive limits fall back to
// DefaultMaxBytes and objectstore.DefaultPresignTTL.
func NewLibrary(st Store, objects objectstore.Store, maxBytes int64, presignTTL time.Duration, logger *slog.Logger) *Library {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if presignTTL <= 0 {
		presignTTL = objectstore.DefaultPresignTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Library{
		store:      st,
		objects:    objects,
		maxBytes:   maxBytes,
		presignTTL: presignTTL,
		logger:     logger,
		now:        time.Now,
	}
}

// MaxBytes is the upload size limit.
func (l *Library) MaxBytes() int64 {
	return l.maxBytes
}

// Upload stores u for owner and records it.
func (l *Library) Upload(ctx context.Context, owner string, u Upload) (*models.Video, error) {
	if u.Body == nil || u.Size <= 0 {
		return nil, ErrEmpty
	}
	if u.Size > l.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, u.Size, l.maxBytes)
	}
	if !AllowedType(u.MimeType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, u.MimeType)
	}

	now := l.now().UTC()
	key := objectstore.SourceKey(owner, now, u.Name)
	loc, err := l.objects.Put(ctx, key, u.Body, u.Size, u.MimeType)
	if err != nil {
		return nil, fmt.Errorf("storing upload: %w", err)
	}

	v := &models.Video{
		ID:           uuid.New(),
		Owner:        owner,
		OriginalName: u.Name,
		StorageKey:   key,
		Location:     loc.String(),
		SizeBytes:    u.Size,
		MimeType:     strings.ToLower(u.MimeType),
		UploadedAt:   now,
	}
	if err := l.store.CreateVideo(ctx, v); err != nil {
		l.logger.Warn("upload stored without a record",
			slog.String("owner", owner),
			slog.String("key", key),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("recording upload: %w", err)
	}

	l.logger.Info("video uploaded",
		slog.String("video_id", v.ID.String()),
		slog.String("owner", owner),
		slog.Int64("size_bytes", v.SizeBytes))
	return v, nil
}

// List returns owner's videos, newest first.
func (l *Library) List(ctx context.Context, owner string) ([]*models.Video, error) {
	videos, err := l.store.ListVideos(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing videos: %w", err)
	}
	return videos, nil
}

// Download presigns the original upload.
func (l *Library) Download(ctx context.Context, owner string, id uuid.UUID) (*Link, error) {
	v, err := l.store.GetVideo(ctx, id, owner)
	if err != nil {
		return nil, fmt.Errorf("getting video: %w", err)
	}
	url, err := l.objects.Presign(ctx, v.StorageKey, l.presignTTL)
	if err != nil {
		return nil, fmt.Errorf("presigning video: %w", err)
	}
	return &Link{
		URL:       url,
		Filename:  v.OriginalName,
		ExpiresIn: int(l.presignTTL / time.Second),
	}, nil
}
