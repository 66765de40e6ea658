package history

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of workspace event.
type EventType string

const (
	EventAllocate      EventType = "allocate"
	EventReallocate    EventType = "reallocate"
	EventRelease       EventType = "release"
	EventReclaim       EventType = "reclaim"
	EventReclaimFailed EventType = "reclaim_failed"
	EventBuild         EventType = "build_completed"
	EventProjectDelete EventType = "project_deleted"
	EventProjectRename EventType = "project_renamed"
)

// Event is an audit record of a change to the workspace tables, exported to
// external systems.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Node       string    `json:"node,omitempty"`
	Path       string    `json:"path,omitempty"`
	Project    string    `json:"project,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// NewEvent returns an event with a fresh ID.
func NewEvent(t EventType, at time.Time) Event {
	return Event{ID: uuid.NewString(), Type: t, OccurredAt: at.UTC()}
}

// Sink is a destination for history events (audit/analytics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
