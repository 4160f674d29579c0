// Package models contains the data types shared by the store, the API and the
// transcode pipeline.
package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// IsTerminalStatus reports whether no further transition is allowed from status.
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// Job tracks one transcode of a source video. The API returns a job_id on
// POST /api/v1/jobs; the client polls GET /api/v1/jobs/{job_id} until status is
// completed or failed.
//
// OutputLocation is the object key computed at admission. It only resolves to
// content once Status is completed. For segmented formats it names the manifest
// and OutputSegments lists the segment keys stored beside it.
type Job struct {
	ID             uuid.UUID  `db:"id"              json:"id"`
	VideoID        uuid.UUID  `db:"video_id"        json:"video_id"`
	Owner          string     `db:"owner"           json:"owner"`
	Status         string     `db:"status"          json:"status"`
	Progress       int        `db:"progress"        json:"progress"`
	Format         string     `db:"format"          json:"format"`
	Resolution     string     `db:"resolution"      json:"resolution"`
	Bitrate        string     `db:"bitrate"         json:"bitrate"`
	OutputLocation string     `db:"output_location" json:"output_location"`
	OutputSegments []string   `db:"output_segments" json:"output_segments,omitempty"`
	ErrorMessage   *string    `db:"error_message"   json:"error_message,omitempty"`
	StartedAt      *time.Time `db:"started_at"      json:"started_at,omitempty"`
	CompletedAt    *time.Time `db:"completed_at"    json:"completed_at,omitempty"`
	CreatedAt      time.Time  `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at"      json:"updated_at"`

	// OriginalName is joined from the source video in list queries.
	OriginalName string `db:"-" json:"original_name,omitempty"`
}
