package cache

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

// JobKey names the hash mirroring one job's owner, status and progress.
func JobKey(jobID uuid.UUID) string {
	return "job:" + jobID.String()
}

// RateLimitKey names the request counter for an API key prefix in the window
// starting at window. Each window gets its own key so counts never carry over.
func RateLimitKey(keyPrefix string, window time.Time) string {
	return "ratelimit:" + keyPrefix + ":" + strconv.FormatInt(window.Unix(), 10)
}
