package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType enumerates every routing/assignment decision the engine records.
// The audit trail is typed rather than free-form JSON so it stays
// machine-checkable.
type EventType string

const (
	EventSitterNumberAssigned    EventType = "sitter.number.assigned"
	EventSitterNumberDeactivated EventType = "sitter.number.deactivated"
	EventNumberDemotedToPool     EventType = "number.demoted_to_pool"
	EventPoolNumberAssigned      EventType = "pool.number.assigned"
	EventPoolExhausted           EventType = "pool.exhausted"
	EventPoolMismatch            EventType = "pool.mismatch"
	EventPoolNumberReleased      EventType = "pool.number.released"
	EventNumberBound             EventType = "thread.number.bound"
	EventRoutedToOwnerInbox      EventType = "routing.owner_inbox"
	EventRoutedToSitter          EventType = "routing.sitter"
	EventInvariantViolation      EventType = "invariant.violation"
	EventMessageBlocked          EventType = "antipoaching.blocked"
	EventWindowUpserted          EventType = "assignment.window.upserted"
	EventWindowClosed            EventType = "assignment.window.closed"
	EventThreadsUnassigned       EventType = "sitter.threads.unassigned"
)

// Release trigger reasons recorded by the pool release job.
const (
	ReasonGracePeriod = "grace_period_elapsed"
	ReasonInactivity  = "inactivity"
	ReasonMaxLifetime = "max_lifetime_exceeded"
)

// Event is one audit record. ThreadID/NumberID carry enough context to
// reconstruct the routing decision; real phone numbers never appear here.
type Event struct {
	ID        uuid.UUID      `json:"id"`
	OrgID     uuid.UUID      `json:"org_id"`
	Type      EventType      `json:"type"`
	ThreadID  uuid.NullUUID  `json:"thread_id,omitempty"`
	NumberID  uuid.NullUUID  `json:"number_id,omitempty"`
	Reason    string         `json:"reason,omitempty"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventRepository persists audit events.
type EventRepository interface {
	Insert(ctx context.Context, ev *Event) error
}
