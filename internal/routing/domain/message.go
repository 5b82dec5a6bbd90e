package domain

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("message not found")

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// DeliveryStatus tracks a message through the provider. Blocked means the
// anti-poaching engine dropped it before any provider call.
type DeliveryStatus string

const (
	StatusReceived  DeliveryStatus = "received"
	StatusQueued    DeliveryStatus = "queued"
	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusFailed    DeliveryStatus = "failed"
	StatusBlocked   DeliveryStatus = "blocked"
)

// RouteDecision records where the resolver sent an inbound message.
type RouteDecision string

const (
	RouteOwnerInbox RouteDecision = "owner_inbox"
	RouteSitter     RouteDecision = "sitter"
)

// Message is one SMS relayed (or blocked) by the engine. FromE164/ToE164 are
// the provider-facing endpoints of the leg that touched the wire.
type Message struct {
	ID                uuid.UUID
	OrgID             uuid.UUID
	ThreadID          uuid.NullUUID
	Direction         Direction
	FromE164          string
	ToE164            string
	Body              string
	Status            DeliveryStatus
	StatusReason      sql.NullString
	ProviderName      string
	ProviderMessageID sql.NullString
	Route             RouteDecision
	CreatedAt         time.Time
}

// MessageRepository persists relayed messages.
type MessageRepository interface {
	Create(ctx context.Context, m *Message) error
	// UpdateDeliveryStatus applies a provider status callback, keyed on the
	// provider's message SID. Unknown SIDs are ignored (returns 0).
	UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status DeliveryStatus, reason string) (int64, error)
}
