package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/transcoder/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner, name, key_hash, key_prefix, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.Owner, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner, name, key_hash, key_prefix, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		key.ID, key.Owner, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// --- Videos ---

func (s *PostgresStore) CreateVideo(ctx context.Context, v *models.Video) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO videos (id, owner, original_name, storage_key, location, size_bytes, mime_type, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		v.ID, v.Owner, v.OriginalName, v.StorageKey, v.Location, v.SizeBytes, v.MimeType, v.UploadedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create video: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetVideo(ctx context.Context, id uuid.UUID, owner string) (*models.Video, error) {
	var v models.Video
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner, original_name, storage_key, location, size_bytes, mime_type, uploaded_at
		 FROM videos WHERE id = $1 AND owner = $2`, id, owner,
	).Scan(&v.ID, &v.Owner, &v.OriginalName, &v.StorageKey, &v.Location, &v.SizeBytes, &v.MimeType, &v.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get video: %w", err)
	}
	return &v, nil
}

func (s *PostgresStore) ListVideos(ctx context.Context, owner string) ([]*models.Video, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner, original_name, storage_key, location, size_bytes, mime_type, uploaded_at
		 FROM videos WHERE owner = $1 ORDER BY uploaded_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	videos := []*models.Video{}
	for rows.Next() {
		var v models.Video
		if err := rows.Scan(&v.ID, &v.Owner, &v.OriginalName, &v.StorageKey, &v.Location,
			&v.SizeBytes, &v.MimeType, &v.UploadedAt); err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		videos = append(videos, &v)
	}
	return videos, rows.Err()
}

// --- Jobs ---

const jobColumns = `j.id, j.video_id, j.owner, j.status, j.progress, j.format, j.resolution, j.bitrate,
	j.output_location, j.output_segments, j.error_message, j.started_at, j.completed_at, j.created_at, j.updated_at`

func scanJob(row pgx.Row, extra ...any) (*models.Job, error) {
	var j models.Job
	dest := []any{&j.ID, &j.VideoID, &j.Owner, &j.Status, &j.Progress, &j.Format, &j.Resolution, &j.Bitrate,
		&j.OutputLocation, &j.OutputSegments, &j.ErrorMessage, &j.StartedAt, &j.CompletedAt, &j.CreatedAt, &j.UpdatedAt}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	segments := job.OutputSegments
	if segments == nil {
		segments = []string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO processing_jobs (id, video_id, owner, status, progress, format, resolution, bitrate,
		   output_location, output_segments, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		job.ID, job.VideoID, job.Owner, job.Status, job.Progress, job.Format, job.Resolution, job.Bitrate,
		job.OutputLocation, segments, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, owner string) (*models.Job, error) {
	var name string
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+`, COALESCE(v.original_name, '')
		 FROM processing_jobs j LEFT JOIN videos v ON v.id = j.video_id
		 WHERE j.id = $1 AND j.owner = $2`, id, owner), &name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	j.OriginalName = name
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, owner string) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+`, COALESCE(v.original_name, '')
		 FROM processing_jobs j LEFT JOIN videos v ON v.id = j.video_id
		 WHERE j.owner = $1 ORDER BY j.created_at DESC`, owner)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		var name string
		j, err := scanJob(rows, &name)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		j.OriginalName = name
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// ListStaleJobs returns jobs in status whose last transition happened before
// olderThan. Processing jobs are aged by started_at, pending jobs by created_at.
func (s *PostgresStore) ListStaleJobs(ctx context.Context, status string, olderThan time.Time) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+`
		 FROM processing_jobs j
		 WHERE j.status = $1 AND COALESCE(j.started_at, j.created_at) < $2
		 ORDER BY j.created_at`, status, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateJobStatus moves a job to status and merges the optional fields in opts.
// The source-state check and the write are one statement, so of two concurrent
// callers only one can move a job out of a given state.
func (s *PostgresStore) UpdateJobStatus(ctx context.Context, id uuid.UUID, status string, opts ...JobUpdateOption) error {
	allowed := AllowedFrom(status)
	if len(allowed) == 0 {
		return fmt.Errorf("%w: cannot enter %q", ErrInvalidTransition, status)
	}
	u := ApplyJobUpdateOptions(opts...)

	now := time.Now().UTC()
	query := `UPDATE processing_jobs SET status = $2, updated_at = $3`
	args := []any{id, status, now}
	argIdx := 4

	if status == models.JobStatusProcessing {
		query += fmt.Sprintf(", started_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if models.IsTerminalStatus(status) {
		query += fmt.Sprintf(", completed_at = $%d", argIdx)
		args = append(args, now)
		argIdx++
	}
	if u.Progress != nil {
		query += fmt.Sprintf(", progress = $%d", argIdx)
		args = append(args, clampProgress(*u.Progress))
		argIdx++
	}
	if u.ErrorMessage != nil {
		query += fmt.Sprintf(", error_message = $%d", argIdx)
		args = append(args, *u.ErrorMessage)
		argIdx++
	}
	if u.OutputSegments != nil {
		query += fmt.Sprintf(", output_segments = $%d", argIdx)
		args = append(args, u.OutputSegments)
		argIdx++
	}

	query += fmt.Sprintf(" WHERE id = $1 AND status = ANY($%d)", argIdx)
	args = append(args, allowed)

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var current string
	err = s.pool.QueryRow(ctx, `SELECT status FROM processing_jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

// UpdateJobProgress writes only the progress column. The stored value never
// decreases and is only touched while the job is processing.
func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, progress int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE processing_jobs SET progress = GREATEST(progress, $2), updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`, id, clampProgress(progress))
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is not processing", ErrInvalidTransition, id)
	}
	return nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
