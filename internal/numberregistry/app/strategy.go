package app

import (
	"hash/fnv"

	"github.com/google/uuid"

	"github.com/snoutservices/relay/internal/numberregistry/domain"
)

// SelectionContext carries the caller identity used by selection strategies
// and the numbers the caller wants skipped (e.g. a number it just released).
type SelectionContext struct {
	ClientID uuid.NullUUID
	ThreadID uuid.NullUUID
	Exclude  []uuid.UUID
}

// SelectionStrategy picks one candidate from the eligible (not-at-capacity)
// pool numbers. Candidates arrive in rotation order: last_assigned_at
// ascending with NULLs (never used) first, then created_at, then id, so
// selection is deterministic for a given database state.
type SelectionStrategy interface {
	Name() string
	Select(candidates []*domain.PoolCandidate, sc SelectionContext) *domain.PoolCandidate
}

// LRUStrategy returns the least recently used candidate: the head of the
// rotation order.
type LRUStrategy struct{}

func (LRUStrategy) Name() string { return "lru" }

func (LRUStrategy) Select(candidates []*domain.PoolCandidate, _ SelectionContext) *domain.PoolCandidate {
	if len(candidates) == 0 {
		return nil
	}
	return candidates[0]
}

// StickyReuseKey names which identity a sticky-hash selection keys on.
type StickyReuseKey string

const (
	ReuseByClient StickyReuseKey = "client_id"
	ReuseByThread StickyReuseKey = "thread_id"
)

// StickyHashStrategy maps a stable caller identity to a candidate via FNV-1a,
// so the same key always lands on the same eligible number. Required for
// reproducible replay and testing.
type StickyHashStrategy struct {
	ReuseKey StickyReuseKey
}

func (StickyHashStrategy) Name() string { return "sticky_hash" }

func (s StickyHashStrategy) Select(candidates []*domain.PoolCandidate, sc SelectionContext) *domain.PoolCandidate {
	if len(candidates) == 0 {
		return nil
	}
	key := s.hashKey(sc)
	h := fnv.New32a()
	h.Write([]byte(key))
	idx := int(h.Sum32() % uint32(len(candidates)))
	return candidates[idx]
}

func (s StickyHashStrategy) hashKey(sc SelectionContext) string {
	primary, secondary := sc.ClientID, sc.ThreadID
	if s.ReuseKey == ReuseByThread {
		primary, secondary = sc.ThreadID, sc.ClientID
	}
	switch {
	case primary.Valid:
		return primary.UUID.String()
	case secondary.Valid:
		return secondary.UUID.String()
	default:
		return "default"
	}
}
