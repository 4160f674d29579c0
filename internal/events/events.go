// Package events publishes job lifecycle transitions for downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobEvent is one job state transition.
type JobEvent struct {
	JobID      uuid.UUID `json:"job_id"`
	Owner      string    `json:"owner"`
	Status     string    `json:"status"`
	Progress   int       `json:"progress"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Publisher delivers job events. Delivery is best-effort.
type Publisher interface {
	Publish(ctx context.Context, ev JobEvent) error
	Close() error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, JobEvent) error { return nil }
func (NopPublisher) Close() error                            { return nil }
