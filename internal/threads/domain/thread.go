package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	numberdomain "github.com/snoutservices/relay/internal/numberregistry/domain"
)

// ThreadScope describes why a thread exists.
type ThreadScope string

const (
	// ScopeClientBooking is a job-scoped thread for a (client, sitter, booking).
	ScopeClientBooking ThreadScope = "client_booking"
	// ScopeClientGeneral is the per-(org, client) relationship thread.
	ScopeClientGeneral ThreadScope = "client_general"
	// ScopeInternal is the owner inbox singleton.
	ScopeInternal ThreadScope = "internal"
)

type ThreadStatus string

const (
	StatusActive   ThreadStatus = "active"
	StatusArchived ThreadStatus = "archived"
)

// Thread is a conversation container binding a client (and optionally a
// sitter) to exactly one masking number at a time.
//
// NumberClass always mirrors the class of the bound number; the two are only
// ever written together. Threads are archived, never deleted, to preserve
// audit history.
type Thread struct {
	ID               uuid.UUID
	OrgID            uuid.UUID
	ClientID         uuid.NullUUID
	SitterID         uuid.NullUUID
	BoundNumberID    uuid.NullUUID
	NumberClass      numberdomain.NumberClass
	Scope            ThreadScope
	Status           ThreadStatus
	BookingRef       sql.NullString
	IsMeetAndGreet   bool
	IsOneTimeClient  bool
	LastMessageAt    sql.NullTime
	LastInboundAt    sql.NullTime
	OwnerUnreadCount int
	CreatedAt        time.Time
}
