package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	numberdomain "github.com/snoutservices/relay/internal/numberregistry/domain"
)

// ThreadRepository is the storage contract for threads.
//
// The find-or-create operations are safe under concurrent first-callers: the
// implementation inserts optimistically, treats a unique violation as
// "someone else created it", and re-reads the winner's row.
type ThreadRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Thread, error)

	// FindOrCreateOwnerInbox returns the org's owner inbox singleton.
	FindOrCreateOwnerInbox(ctx context.Context, orgID uuid.UUID) (*Thread, error)

	// FindOrCreateGeneral returns the single general-inquiry thread for the
	// (org, client) pair.
	FindOrCreateGeneral(ctx context.Context, orgID, clientID uuid.UUID) (*Thread, error)

	// FindOrCreateJob returns the job-scoped thread for the booking,
	// creating it with the given sitter when missing.
	FindOrCreateJob(ctx context.Context, orgID, clientID uuid.UUID, sitterID uuid.NullUUID, bookingRef string) (*Thread, error)

	// BindNumber updates bound_number_id and number_class together in a
	// single statement; the two columns are never written independently.
	BindNumber(ctx context.Context, threadID, numberID uuid.UUID, class numberdomain.NumberClass) error

	// BindPoolNumber is the conditional-claim form of BindNumber for pool
	// numbers: the bind succeeds only while fewer than maxActive other
	// active threads hold the number, counted inside the same UPDATE so two
	// concurrent claimers cannot both see a free slot. Returns false when
	// the number was already at capacity.
	BindPoolNumber(ctx context.Context, threadID, numberID uuid.UUID, maxActive int) (bool, error)

	// Unbind clears the thread's number binding.
	Unbind(ctx context.Context, threadID uuid.UUID) error

	// FindActivePoolThreadForSender returns the non-archived thread bound to
	// the given pool number whose client's real phone is senderE164, or
	// (nil, nil) when the sender has no thread on that number.
	FindActivePoolThreadForSender(ctx context.Context, orgID, numberID uuid.UUID, senderE164 string) (*Thread, error)

	// RecordInbound bumps last message/inbound timestamps; when deliveredToOwner
	// is true the owner unread counter is incremented as well.
	RecordInbound(ctx context.Context, threadID uuid.UUID, at time.Time, deliveredToOwner bool) error

	// RecordOutbound bumps the last message timestamp.
	RecordOutbound(ctx context.Context, threadID uuid.UUID, at time.Time) error

	// SetSitter updates the thread's assigned sitter (booking reassignment).
	SetSitter(ctx context.Context, threadID uuid.UUID, sitterID uuid.NullUUID) error

	// UnassignSitterThreads clears the sitter from all of their active
	// threads (offboarding) and returns how many were touched.
	UnassignSitterThreads(ctx context.Context, orgID, sitterID uuid.UUID) (int64, error)

	// Archive marks the thread archived. Threads are never deleted.
	Archive(ctx context.Context, threadID uuid.UUID) error
}
