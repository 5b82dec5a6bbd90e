package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/snoutservices/relay/internal/assignment/domain"
	auditdomain "github.com/snoutservices/relay/internal/audit/domain"
)

// Buffer holds the pre/post padding added around booking times for one
// service type.
type Buffer struct {
	Pre  time.Duration
	Post time.Duration
}

// serviceBuffers maps service types to their buffers. Short visits get an
// hour either side; overnight and extended care get two. Unrecognized
// service types fall back to defaultBuffer.
var serviceBuffers = map[string]Buffer{
	"short_visit":   {Pre: 60 * time.Minute, Post: 60 * time.Minute},
	"dog_walking":   {Pre: 60 * time.Minute, Post: 60 * time.Minute},
	"pet_taxi":      {Pre: 60 * time.Minute, Post: 60 * time.Minute},
	"overnight":     {Pre: 120 * time.Minute, Post: 120 * time.Minute},
	"extended_care": {Pre: 120 * time.Minute, Post: 120 * time.Minute},
}

var defaultBuffer = Buffer{Pre: 60 * time.Minute, Post: 60 * time.Minute}

// BufferFor returns the buffer for a service type.
func BufferFor(serviceType string) Buffer {
	if b, ok := serviceBuffers[serviceType]; ok {
		return b
	}
	return defaultBuffer
}

// WindowBounds computes the buffered window for a booking.
func WindowBounds(bookingStart, bookingEnd time.Time, serviceType string) (startsAt, endsAt time.Time) {
	b := BufferFor(serviceType)
	return bookingStart.Add(-b.Pre), bookingEnd.Add(b.Post)
}

type auditor interface {
	Record(ctx context.Context, ev auditdomain.Event)
}

// Manager creates and maintains assignment windows from booking events.
type Manager struct {
	repo   domain.WindowRepository
	audit  auditor
	logger *slog.Logger
}

func NewManager(repo domain.WindowRepository, audit auditor, logger *slog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		audit:  audit,
		logger: logger.With("component", "window_manager"),
	}
}

// UpsertWindow computes buffered bounds and creates or refreshes the window
// for (threadID, bookingRef). An existing window for the booking is updated
// in place; otherwise an overlapping window on the thread is merged into;
// only then is a new row created. Calling twice with identical input leaves
// exactly one window with unchanged bounds.
func (m *Manager) UpsertWindow(ctx context.Context, orgID uuid.UUID, bookingRef string, threadID, sitterID uuid.UUID, bookingStart, bookingEnd time.Time, serviceType string) (*domain.AssignmentWindow, error) {
	startsAt, endsAt := WindowBounds(bookingStart, bookingEnd, serviceType)

	existing, err := m.repo.FindByBooking(ctx, threadID, bookingRef)
	if err != nil {
		return nil, fmt.Errorf("window lookup: %w", err)
	}
	if existing == nil {
		existing, err = m.repo.FindOverlapping(ctx, threadID, startsAt, endsAt)
		if err != nil {
			return nil, fmt.Errorf("overlap lookup: %w", err)
		}
	}

	if existing != nil {
		if err := m.repo.UpdateBounds(ctx, existing.ID, sitterID, bookingRef, startsAt, endsAt); err != nil {
			return nil, fmt.Errorf("window update: %w", err)
		}
		existing.SitterID = sitterID
		existing.BookingRef = bookingRef
		existing.StartsAt = startsAt
		existing.EndsAt = endsAt
		m.recordUpsert(ctx, orgID, existing, "updated")
		return existing, nil
	}

	w := &domain.AssignmentWindow{
		ID:         uuid.New(),
		OrgID:      orgID,
		ThreadID:   threadID,
		SitterID:   sitterID,
		BookingRef: bookingRef,
		StartsAt:   startsAt,
		EndsAt:     endsAt,
		CreatedAt:  time.Now().UTC(),
	}
	if err := m.repo.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("window create: %w", err)
	}
	m.recordUpsert(ctx, orgID, w, "created")
	return w, nil
}

// CloseWindow logically closes one window by pulling ends_at to now.
func (m *Manager) CloseWindow(ctx context.Context, orgID, windowID uuid.UUID) error {
	n, err := m.repo.Close(ctx, windowID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("window close: %w", err)
	}
	if n > 0 {
		m.audit.Record(ctx, auditdomain.Event{
			OrgID:  orgID,
			Type:   auditdomain.EventWindowClosed,
			Detail: map[string]any{"window_id": windowID.String()},
		})
	}
	return nil
}

// CloseAllForBooking closes every open window of a booking (cancellation or
// completion).
func (m *Manager) CloseAllForBooking(ctx context.Context, orgID uuid.UUID, bookingRef string) (int64, error) {
	n, err := m.repo.CloseAllForBooking(ctx, bookingRef, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("close windows for booking: %w", err)
	}
	if n > 0 {
		m.audit.Record(ctx, auditdomain.Event{
			OrgID:  orgID,
			Type:   auditdomain.EventWindowClosed,
			Detail: map[string]any{"booking_ref": bookingRef, "closed": n},
		})
	}
	return n, nil
}

// HasActiveWindow reports whether the sitter is authorized for the thread at
// the given instant.
func (m *Manager) HasActiveWindow(ctx context.Context, threadID uuid.UUID, sitterID uuid.NullUUID, at time.Time) (bool, error) {
	return m.repo.HasActiveAt(ctx, threadID, sitterID, at)
}

func (m *Manager) recordUpsert(ctx context.Context, orgID uuid.UUID, w *domain.AssignmentWindow, action string) {
	m.audit.Record(ctx, auditdomain.Event{
		OrgID:    orgID,
		Type:     auditdomain.EventWindowUpserted,
		ThreadID: uuid.NullUUID{UUID: w.ThreadID, Valid: true},
		Reason:   action,
		Detail: map[string]any{
			"window_id":   w.ID.String(),
			"booking_ref": w.BookingRef,
			"sitter_id":   w.SitterID.String(),
			"starts_at":   w.StartsAt.Format(time.RFC3339),
			"ends_at":     w.EndsAt.Format(time.RFC3339),
		},
	})
}
