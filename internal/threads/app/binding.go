package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	auditdomain "github.com/snoutservices/relay/internal/audit/domain"
	registryapp "github.com/snoutservices/relay/internal/numberregistry/app"
	numberdomain "github.com/snoutservices/relay/internal/numberregistry/domain"
	"github.com/snoutservices/relay/internal/threads/domain"
)

// ClassContext carries the signals the class decision table reads.
type ClassContext struct {
	IsMeetAndGreet  bool
	IsOneTimeClient bool
	SitterID        uuid.NullUUID
}

// DetermineNumberClass is the single decision table for which number class a
// thread uses. Pure; policy lives here and nowhere else.
//
// meet-and-greet -> front_desk; one-time client -> pool; assigned sitter ->
// sitter; otherwise front_desk.
func DetermineNumberClass(cc ClassContext) numberdomain.NumberClass {
	switch {
	case cc.IsMeetAndGreet:
		return numberdomain.ClassFrontDesk
	case cc.IsOneTimeClient:
		return numberdomain.ClassPool
	case cc.SitterID.Valid:
		return numberdomain.ClassSitter
	default:
		return numberdomain.ClassFrontDesk
	}
}

type numberProvider interface {
	GetByID(ctx context.Context, id uuid.UUID) (*numberdomain.PhoneNumber, error)
	GetOrCreateFrontDesk(ctx context.Context, orgID uuid.UUID) (*numberdomain.PhoneNumber, error)
	AssignSitterNumber(ctx context.Context, orgID, sitterID uuid.UUID) (*numberdomain.PhoneNumber, error)
	GetPoolNumber(ctx context.Context, orgID uuid.UUID, sc registryapp.SelectionContext) (*numberdomain.PhoneNumber, error)
}

type auditor interface {
	Record(ctx context.Context, ev auditdomain.Event)
}

// Binding enforces the thread/number invariants: every thread holds exactly
// one bound number whose class matches the thread's derived class, and
// outbound sends originate from that number only.
type Binding struct {
	threads        domain.ThreadRepository
	numbers        numberProvider
	audit          auditor
	maxPoolThreads int
	logger         *slog.Logger
}

func NewBinding(threads domain.ThreadRepository, numbers numberProvider, audit auditor, maxThreadsPerPoolNumber int, logger *slog.Logger) *Binding {
	if maxThreadsPerPoolNumber <= 0 {
		maxThreadsPerPoolNumber = 1
	}
	return &Binding{
		threads:        threads,
		numbers:        numbers,
		audit:          audit,
		maxPoolThreads: maxThreadsPerPoolNumber,
		logger:         logger.With("component", "thread_binding"),
	}
}

// BindContext identifies the parties involved in a bind.
type BindContext struct {
	OrgID    uuid.UUID
	ClientID uuid.NullUUID
	SitterID uuid.NullUUID
}

// BindNumberToThread resolves a concrete number for the requested class,
// verifies the resolved number's actual class (defense against registry
// bugs), and atomically updates the thread's binding. Pool binds are
// conditional claims that retry over candidates, so concurrent callers can
// never oversubscribe a pool number.
//
// Pool exhaustion surfaces as ErrNoAvailableNumber; there is no silent
// fallback to another class.
func (b *Binding) BindNumberToThread(ctx context.Context, threadID uuid.UUID, class numberdomain.NumberClass, bc BindContext) (*numberdomain.PhoneNumber, error) {
	var (
		num *numberdomain.PhoneNumber
		err error
	)

	switch class {
	case numberdomain.ClassFrontDesk:
		num, err = b.numbers.GetOrCreateFrontDesk(ctx, bc.OrgID)
	case numberdomain.ClassSitter:
		if !bc.SitterID.Valid {
			return nil, &domain.InvariantViolationError{
				Invariant: domain.InvariantNumberClassMatch,
				Detail:    "sitter class requested without a sitter",
				ThreadID:  threadID,
			}
		}
		num, err = b.numbers.AssignSitterNumber(ctx, bc.OrgID, bc.SitterID.UUID)
	case numberdomain.ClassPool:
		return b.bindPoolNumber(ctx, threadID, bc)
	default:
		return nil, fmt.Errorf("unknown number class %q", class)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve %s number: %w", class, err)
	}

	if violation := b.verifyClass(ctx, bc.OrgID, threadID, num, class); violation != nil {
		return nil, violation
	}

	if err := b.threads.BindNumber(ctx, threadID, num.ID, class); err != nil {
		return nil, fmt.Errorf("bind number to thread: %w", err)
	}

	b.recordBound(ctx, bc.OrgID, threadID, num.ID, class)
	return num, nil
}

// bindPoolNumber selects a pool candidate and claims it with a conditional
// bind. The selection works off a usage snapshot, so the claim re-checks
// capacity inside a single UPDATE; losing the race skips the number and
// reselects with it excluded until a claim lands or the pool is exhausted.
func (b *Binding) bindPoolNumber(ctx context.Context, threadID uuid.UUID, bc BindContext) (*numberdomain.PhoneNumber, error) {
	var exclude []uuid.UUID
	for {
		num, err := b.numbers.GetPoolNumber(ctx, bc.OrgID, registryapp.SelectionContext{
			ClientID: bc.ClientID,
			ThreadID: uuid.NullUUID{UUID: threadID, Valid: true},
			Exclude:  exclude,
		})
		if err != nil {
			return nil, fmt.Errorf("resolve pool number: %w", err)
		}
		if num == nil {
			return nil, fmt.Errorf("resolve pool number: %w", numberdomain.ErrNoAvailableNumber)
		}

		if violation := b.verifyClass(ctx, bc.OrgID, threadID, num, numberdomain.ClassPool); violation != nil {
			return nil, violation
		}

		claimed, err := b.threads.BindPoolNumber(ctx, threadID, num.ID, b.maxPoolThreads)
		if err != nil {
			return nil, fmt.Errorf("bind number to thread: %w", err)
		}
		if claimed {
			b.recordBound(ctx, bc.OrgID, threadID, num.ID, numberdomain.ClassPool)
			return num, nil
		}

		b.logger.WarnContext(ctx, "Pool number filled since selection, reselecting",
			"thread_id", threadID, "number_id", num.ID)
		exclude = append(exclude, num.ID)
	}
}

func (b *Binding) verifyClass(ctx context.Context, orgID, threadID uuid.UUID, num *numberdomain.PhoneNumber, class numberdomain.NumberClass) error {
	if num.Class == class {
		return nil
	}
	violation := &domain.InvariantViolationError{
		Invariant: domain.InvariantNumberClassMatch,
		Detail:    fmt.Sprintf("resolved number has class %s, expected %s", num.Class, class),
		ThreadID:  threadID,
	}
	b.recordViolation(ctx, orgID, violation, num.ID)
	return violation
}

func (b *Binding) recordBound(ctx context.Context, orgID, threadID, numberID uuid.UUID, class numberdomain.NumberClass) {
	b.audit.Record(ctx, auditdomain.Event{
		OrgID:    orgID,
		Type:     auditdomain.EventNumberBound,
		ThreadID: uuid.NullUUID{UUID: threadID, Valid: true},
		NumberID: uuid.NullUUID{UUID: numberID, Valid: true},
		Detail:   map[string]any{"class": string(class)},
	})
}

// CheckOutboundInvariants runs before any outbound send: the thread must
// exist, belong to the calling org, and fromE164 must equal the bound
// number's e164 exactly. A violation aborts the send; the from value is never
// silently substituted.
func (b *Binding) CheckOutboundInvariants(ctx context.Context, orgID, threadID uuid.UUID, fromE164 string) error {
	thread, err := b.threads.GetByID(ctx, threadID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			violation := &domain.InvariantViolationError{
				Invariant: domain.InvariantThreadBoundSending,
				Detail:    "thread does not exist",
				ThreadID:  threadID,
			}
			b.recordViolation(ctx, orgID, violation, uuid.Nil)
			return violation
		}
		return fmt.Errorf("outbound invariant check: %w", err)
	}

	if thread.OrgID != orgID {
		violation := &domain.InvariantViolationError{
			Invariant: domain.InvariantThreadBoundSending,
			Detail:    "thread does not belong to calling org",
			ThreadID:  threadID,
		}
		b.recordViolation(ctx, orgID, violation, uuid.Nil)
		return violation
	}

	if !thread.BoundNumberID.Valid {
		violation := &domain.InvariantViolationError{
			Invariant: domain.InvariantFromNumberMatchesThread,
			Detail:    "thread has no bound number",
			ThreadID:  threadID,
		}
		b.recordViolation(ctx, orgID, violation, uuid.Nil)
		return violation
	}

	num, err := b.numbers.GetByID(ctx, thread.BoundNumberID.UUID)
	if err != nil {
		return fmt.Errorf("outbound invariant check: bound number lookup: %w", err)
	}

	if num.E164 != fromE164 {
		violation := &domain.InvariantViolationError{
			Invariant: domain.InvariantFromNumberMatchesThread,
			Detail:    "from number does not match the thread's bound number",
			ThreadID:  threadID,
		}
		b.recordViolation(ctx, orgID, violation, num.ID)
		return violation
	}
	return nil
}

// ValidatePoolInbound enforces the pool safeguard: the sender must be a
// participant of a non-archived thread currently bound to the receiving pool
// number. Returns the matching thread, or (nil, nil) for a mismatch the
// caller must route to the owner inbox with an auto-response.
func (b *Binding) ValidatePoolInbound(ctx context.Context, orgID, numberID uuid.UUID, senderE164 string) (*domain.Thread, error) {
	thread, err := b.threads.FindActivePoolThreadForSender(ctx, orgID, numberID, senderE164)
	if err != nil {
		return nil, fmt.Errorf("pool inbound validation: %w", err)
	}
	return thread, nil
}

func (b *Binding) recordViolation(ctx context.Context, orgID uuid.UUID, v *domain.InvariantViolationError, numberID uuid.UUID) {
	b.logger.ErrorContext(ctx, "Binding invariant violated",
		"invariant", v.Invariant, "detail", v.Detail, "thread_id", v.ThreadID)
	ev := auditdomain.Event{
		OrgID:    orgID,
		Type:     auditdomain.EventInvariantViolation,
		ThreadID: uuid.NullUUID{UUID: v.ThreadID, Valid: true},
		Reason:   v.Invariant,
		Detail:   map[string]any{"detail": v.Detail},
	}
	if numberID != uuid.Nil {
		ev.NumberID = uuid.NullUUID{UUID: numberID, Valid: true}
	}
	b.audit.Record(ctx, ev)
}
