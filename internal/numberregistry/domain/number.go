package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// NumberClass partitions the org's numbers by routing role.
type NumberClass string

const (
	ClassFrontDesk NumberClass = "front_desk"
	ClassSitter    NumberClass = "sitter"
	ClassPool      NumberClass = "pool"
)

type NumberStatus string

const (
	StatusActive   NumberStatus = "active"
	StatusInactive NumberStatus = "inactive"
)

// PhoneNumber is a dialable masking identifier owned by the org.
//
// Class transitions are one-way: a sitter number demoted to pool (IsRotating)
// never returns to sitter class. That exclusivity is policy, enforced by the
// registry, not by the schema.
type PhoneNumber struct {
	ID               uuid.UUID
	OrgID            uuid.UUID
	E164             string
	Class            NumberClass
	Status           NumberStatus
	AssignedSitterID uuid.NullUUID
	LastAssignedAt   sql.NullTime // rotation cursor for pool selection
	IsRotating       bool         // true once a former sitter number joins the pool
	DeactivatedAt    sql.NullTime // cooldown clock for offboarded sitter numbers
	CreatedAt        time.Time
}

// Last4 returns the last four digits of the E.164 value, the only form in
// which the number may appear in logs.
func (n *PhoneNumber) Last4() string {
	if len(n.E164) <= 4 {
		return n.E164
	}
	return n.E164[len(n.E164)-4:]
}

// PoolCandidate pairs a pool number with its current active thread count for
// capacity filtering during selection.
type PoolCandidate struct {
	Number        *PhoneNumber
	ActiveThreads int
}
