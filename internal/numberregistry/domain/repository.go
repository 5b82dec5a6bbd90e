package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NumberRepository is the storage contract for phone numbers.
//
// Mutating operations that race under concurrent webhook delivery (sitter
// claim) are expressed as single conditional updates so that two concurrent
// callers can never claim the same number.
type NumberRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*PhoneNumber, error)

	// FindByE164 returns (nil, nil) when no number matches.
	FindByE164(ctx context.Context, orgID uuid.UUID, e164 string) (*PhoneNumber, error)

	// LookupByE164 resolves a number across orgs (E.164 values are globally
	// unique). Used to attribute an inbound webhook to an org. (nil, nil)
	// when unknown.
	LookupByE164(ctx context.Context, e164 string) (*PhoneNumber, error)

	// GetActiveFrontDesk returns the org's single active front-desk number,
	// or (nil, nil) when none is provisioned.
	GetActiveFrontDesk(ctx context.Context, orgID uuid.UUID) (*PhoneNumber, error)

	// FindActiveBySitter returns the sitter's current active number, or
	// (nil, nil) when the sitter has none.
	FindActiveBySitter(ctx context.Context, orgID, sitterID uuid.UUID) (*PhoneNumber, error)

	// ClaimSitterNumber atomically assigns the oldest unassigned active
	// sitter-class number to sitterID ("claim if still unassigned"). Returns
	// (nil, nil) when no claimable number exists.
	ClaimSitterNumber(ctx context.Context, orgID, sitterID uuid.UUID) (*PhoneNumber, error)

	// ListCooldownExpired returns inactive sitter-class numbers whose
	// deactivation predates cutoff and that have not yet been demoted.
	ListCooldownExpired(ctx context.Context, orgID uuid.UUID, cutoff time.Time) ([]*PhoneNumber, error)

	// DemoteToPool converts a cooled-down sitter number to pool class,
	// clearing the sitter binding and marking it rotating. One-way.
	DemoteToPool(ctx context.Context, numberID uuid.UUID) error

	// ListPoolWithUsage returns every active pool number for the org with its
	// active thread count, ordered by the LRU rotation order:
	// last_assigned_at ASC NULLS FIRST, created_at ASC, id ASC.
	ListPoolWithUsage(ctx context.Context, orgID uuid.UUID) ([]*PoolCandidate, error)

	// TouchLastAssigned advances the rotation cursor after a pool selection.
	TouchLastAssigned(ctx context.Context, numberID uuid.UUID, at time.Time) error

	// ResetRotationCursor clears last_assigned_at, but only while the number
	// has zero active threads bound to it.
	ResetRotationCursor(ctx context.Context, numberID uuid.UUID) error

	// Deactivate marks the number inactive and stamps deactivated_at,
	// clearing any sitter binding. The row is kept for audit history.
	Deactivate(ctx context.Context, numberID uuid.UUID, at time.Time) error
}
