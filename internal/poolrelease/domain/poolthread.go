package domain

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PoolThread is the release job's view of one active thread bound to a pool
// number, joined with its window state.
type PoolThread struct {
	ThreadID        uuid.UUID
	NumberID        uuid.UUID
	OrgID           uuid.UUID
	CreatedAt       time.Time
	LastMessageAt   sql.NullTime
	LatestWindowEnd sql.NullTime
	HasActiveWindow bool
}

// Repository reads pool-bound threads for sweeping.
type Repository interface {
	// ListPoolBoundThreads returns every active thread currently bound to a
	// pool-class number, with window coverage evaluated at `at`.
	ListPoolBoundThreads(ctx context.Context, at time.Time) ([]*PoolThread, error)
}
