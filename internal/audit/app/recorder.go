package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/snoutservices/relay/internal/audit/domain"
)

// AuditSubject is the NATS subject audit events are mirrored to for
// downstream consumers (dashboards, anomaly detection).
const AuditSubject = "relay.audit"

type publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Recorder persists audit events and mirrors them onto the event stream.
// Recording is best-effort: failures are logged and never propagate into the
// routing decision that produced the event.
type Recorder struct {
	repo      domain.EventRepository
	publisher publisher
	logger    *slog.Logger
}

// NewRecorder creates a Recorder. publisher may be nil (tests, one-shot jobs);
// events are then persisted only.
func NewRecorder(repo domain.EventRepository, pub publisher, logger *slog.Logger) *Recorder {
	return &Recorder{
		repo:      repo,
		publisher: pub,
		logger:    logger.With("component", "audit_recorder"),
	}
}

// Record stamps and stores the event, then publishes it.
func (r *Recorder) Record(ctx context.Context, ev domain.Event) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	if err := r.repo.Insert(ctx, &ev); err != nil {
		r.logger.ErrorContext(ctx, "Failed to persist audit event",
			"error", err, "event_type", ev.Type, "thread_id", ev.ThreadID, "number_id", ev.NumberID)
		return
	}

	if r.publisher == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to marshal audit event", "error", err, "event_type", ev.Type)
		return
	}
	if err := r.publisher.Publish(ctx, AuditSubject, data); err != nil {
		r.logger.WarnContext(ctx, "Failed to publish audit event", "error", err, "event_type", ev.Type)
	}
}
