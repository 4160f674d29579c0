package models

import (
	"time"

	"github.com/google/uuid"
)

// Video is an uploaded source asset. Rows are never updated after insert.
type Video struct {
	ID           uuid.UUID `db:"id"            json:"id"`
	Owner        string    `db:"owner"         json:"owner"`
	OriginalName string    `db:"original_name" json:"original_name"`
	StorageKey   string    `db:"storage_key"   json:"storage_key"`
	Location     string    `db:"location"      json:"location"`
	SizeBytes    int64     `db:"size_bytes"    json:"size_bytes"`
	MimeType     string    `db:"mime_type"     json:"mime_type"`
	UploadedAt   time.Time `db:"uploaded_at"   json:"uploaded_at"`
}
