package domain

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

type AlertStatus string

const (
	StatusOpen     AlertStatus = "open"
	StatusResolved AlertStatus = "resolved"
)

type AlertSeverity string

const (
	SeverityWarning  AlertSeverity = "warning"
	SeverityCritical AlertSeverity = "critical"
)

// Well-known alert types raised by the routing engine.
const (
	TypePoolExhausted     = "pool.exhausted"
	TypeNoSitterNumber    = "sitter.number.unavailable"
	TypeFrontDeskMissing  = "front_desk.not_configured"
	TypeInvariantViolated = "invariant.violated"
)

// Alert is a deduplicated operational signal keyed by (org, type, entity).
// While an alert is open, repeats refresh LastSeenAt instead of creating a
// duplicate row.
type Alert struct {
	ID          uuid.UUID
	OrgID       uuid.UUID
	Type        string
	EntityID    string
	Severity    AlertSeverity
	Title       string
	Description string
	Status      AlertStatus
	OpenedAt    time.Time
	LastSeenAt  time.Time
	ResolvedAt  sql.NullTime
}

// AlertRepository stores alerts with refresh-while-open semantics.
type AlertRepository interface {
	// Raise opens the alert, or refreshes LastSeenAt (and severity/description)
	// if an open alert with the same (org, type, entity) key already exists.
	Raise(ctx context.Context, alert *Alert) error

	// Resolve marks the open alert for the key as resolved. Resolving a key
	// with no open alert is a no-op.
	Resolve(ctx context.Context, orgID uuid.UUID, alertType, entityID string) error
}
