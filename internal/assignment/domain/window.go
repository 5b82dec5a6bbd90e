package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested window does not exist.
var ErrNotFound = errors.New("assignment window not found")

// AssignmentWindow is the time interval during which a specific sitter is the
// authorized recipient of a thread's messages. Bounds include the per-service
// buffer. A window is closed by setting EndsAt to now; rows are kept for
// audit.
type AssignmentWindow struct {
	ID         uuid.UUID
	OrgID      uuid.UUID
	ThreadID   uuid.UUID
	SitterID   uuid.UUID
	BookingRef string
	StartsAt   time.Time
	EndsAt     time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Covers reports whether the window is active at t (bounds inclusive).
func (w *AssignmentWindow) Covers(t time.Time) bool {
	return !t.Before(w.StartsAt) && !t.After(w.EndsAt)
}

// WindowRepository is the storage contract for assignment windows.
type WindowRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*AssignmentWindow, error)

	// FindByBooking returns the window for (threadID, bookingRef), or
	// (nil, nil) when none exists.
	FindByBooking(ctx context.Context, threadID uuid.UUID, bookingRef string) (*AssignmentWindow, error)

	// FindOverlapping returns a window for the thread overlapping
	// [startsAt, endsAt], or (nil, nil). Used to merge instead of duplicate.
	FindOverlapping(ctx context.Context, threadID uuid.UUID, startsAt, endsAt time.Time) (*AssignmentWindow, error)

	Create(ctx context.Context, w *AssignmentWindow) error

	// UpdateBounds rewrites the window's sitter, booking ref and bounds.
	UpdateBounds(ctx context.Context, id, sitterID uuid.UUID, bookingRef string, startsAt, endsAt time.Time) error

	// Close sets ends_at to now (logical close).
	Close(ctx context.Context, id uuid.UUID, now time.Time) (int64, error)

	// CloseAllForBooking closes every still-open window of the booking.
	CloseAllForBooking(ctx context.Context, bookingRef string, now time.Time) (int64, error)

	// HasActiveAt reports whether any window for the thread (optionally
	// restricted to sitterID) covers the instant at.
	HasActiveAt(ctx context.Context, threadID uuid.UUID, sitterID uuid.NullUUID, at time.Time) (bool, error)
}
