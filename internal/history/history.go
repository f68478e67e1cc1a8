// Package history exports job lifecycle events to analytics storage.
// Events are written after the owning transaction commits; a failed export
// never undoes a mutation.
package history

import (
	"context"
	"time"

	"github.com/kiranshivaraju/jobledger/pkg/models"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventCreated        EventType = "created"
	EventStatusChanged  EventType = "status_changed"
	EventRuntimeBound   EventType = "runtime_bound"
	EventRunning        EventType = "running"
	EventCompleted      EventType = "completed"
	EventDeleted        EventType = "deleted"
	EventRequestDeleted EventType = "request_deleted"
)

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType        `json:"type"`
	JobID      string           `json:"job_id"`
	FromStatus models.JobStatus `json:"from_status,omitempty"`
	ToStatus   models.JobStatus `json:"to_status,omitempty"`
	Message    string           `json:"message,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
