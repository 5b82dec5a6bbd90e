package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	auditdomain "github.com/snoutservices/relay/internal/audit/domain"
	contactsdomain "github.com/snoutservices/relay/internal/contacts/domain"
	numberdomain "github.com/snoutservices/relay/internal/numberregistry/domain"
	"github.com/snoutservices/relay/internal/routing/domain"
	threadsapp "github.com/snoutservices/relay/internal/threads/app"
	threadsdomain "github.com/snoutservices/relay/internal/threads/domain"
)

// Owner-fallback reasons, recorded on the audit event and the fallback
// counter.
const (
	FallbackUnknownNumber = "unknown_number"
	FallbackNoClientMatch = "no_client_match"
	FallbackPoolMismatch  = "pool_mismatch"
	FallbackNoBooking     = "no_active_booking"
	FallbackNoWindow      = "outside_window"
	FallbackResolverError = "resolver_error"
)

// AutoResponseBody is sent back to a sender the pool validator rejected.
const AutoResponseBody = "Thanks for reaching out! This number isn't monitored for new conversations. Our team has received your message and will follow up from our main line."

type numberLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*numberdomain.PhoneNumber, error)
	FindByE164(ctx context.Context, orgID uuid.UUID, e164 string) (*numberdomain.PhoneNumber, error)
}

type clientLookup interface {
	FindByPhone(ctx context.Context, orgID uuid.UUID, phone string) (*contactsdomain.Client, error)
}

type bookingLookup interface {
	ActiveForClient(ctx context.Context, orgID, clientID uuid.UUID, at time.Time) ([]*contactsdomain.Booking, error)
}

type binder interface {
	BindNumberToThread(ctx context.Context, threadID uuid.UUID, class numberdomain.NumberClass, bc threadsapp.BindContext) (*numberdomain.PhoneNumber, error)
	ValidatePoolInbound(ctx context.Context, orgID, numberID uuid.UUID, senderE164 string) (*threadsdomain.Thread, error)
}

type windowChecker interface {
	HasActiveWindow(ctx context.Context, threadID uuid.UUID, sitterID uuid.NullUUID, at time.Time) (bool, error)
}

type auditor interface {
	Record(ctx context.Context, ev auditdomain.Event)
}

// Resolution is the outcome of routing one inbound message.
type Resolution struct {
	Thread *threadsdomain.Thread
	// Number is the masking number the message arrived on; nil only when
	// the receiving number is unknown.
	Number   *numberdomain.PhoneNumber
	Route    domain.RouteDecision
	SitterID uuid.NullUUID
	// AutoRespond asks the caller to send AutoResponseBody back to the
	// sender (pool mismatch only).
	AutoRespond bool
	// Reason is set for every owner-inbox route; empty for sitter routes.
	Reason string
}

// Resolver decides, for each inbound message, which thread it belongs to and
// whether it reaches the sitter or falls back to the owner inbox. It never
// guesses: any uncertainty or internal error routes to the owner inbox.
type Resolver struct {
	numbers  numberLookup
	clients  clientLookup
	bookings bookingLookup
	threads  threadsdomain.ThreadRepository
	binding  binder
	windows  windowChecker
	audit    auditor
	logger   *slog.Logger
}

func NewResolver(
	numbers numberLookup,
	clients clientLookup,
	bookings bookingLookup,
	threads threadsdomain.ThreadRepository,
	binding binder,
	windows windowChecker,
	audit auditor,
	logger *slog.Logger,
) *Resolver {
	return &Resolver{
		numbers:  numbers,
		clients:  clients,
		bookings: bookings,
		threads:  threads,
		binding:  binding,
		windows:  windows,
		audit:    audit,
		logger:   logger.With("component", "routing_resolver"),
	}
}

// ResolveInbound runs the routing state machine. The returned error is
// non-nil only when even the owner-inbox fallback could not be reached; every
// other failure degrades to an owner-inbox resolution.
func (r *Resolver) ResolveInbound(ctx context.Context, orgID uuid.UUID, toE164, fromE164 string, now time.Time) (*Resolution, error) {
	res, err := r.resolve(ctx, orgID, toE164, fromE164, now)
	if err != nil {
		r.logger.ErrorContext(ctx, "Inbound resolution failed, falling back to owner inbox",
			"error", err, "org_id", orgID)
		return r.failSafe(ctx, orgID, nil, FallbackResolverError)
	}
	return res, nil
}

func (r *Resolver) resolve(ctx context.Context, orgID uuid.UUID, toE164, fromE164 string, now time.Time) (*Resolution, error) {
	number, err := r.numbers.FindByE164(ctx, orgID, toE164)
	if err != nil {
		return nil, fmt.Errorf("receiving number lookup: %w", err)
	}
	if number == nil {
		return r.failSafe(ctx, orgID, nil, FallbackUnknownNumber)
	}

	// Pool numbers only accept senders already attached to a thread on that
	// number. Anyone else, whether they resolve to a client or not, is a
	// cross-wire risk and goes to the owner with an auto-response; the
	// check runs before the client lookup so unknown senders take the same
	// mismatch path.
	if number.Class == numberdomain.ClassPool {
		thread, err := r.binding.ValidatePoolInbound(ctx, orgID, number.ID, fromE164)
		if err != nil {
			return nil, fmt.Errorf("pool inbound validation: %w", err)
		}
		if thread == nil {
			res, err := r.failSafe(ctx, orgID, number, FallbackPoolMismatch)
			if err != nil {
				return nil, err
			}
			res.AutoRespond = true
			r.audit.Record(ctx, auditdomain.Event{
				OrgID:    orgID,
				Type:     auditdomain.EventPoolMismatch,
				NumberID: uuid.NullUUID{UUID: number.ID, Valid: true},
				Detail:   map[string]any{"sender_last4": last4(fromE164)},
			})
			return res, nil
		}
		return r.finish(ctx, orgID, number, thread, now)
	}

	client, err := r.clients.FindByPhone(ctx, orgID, fromE164)
	if err != nil {
		return nil, fmt.Errorf("client lookup: %w", err)
	}
	if client == nil {
		return r.failSafe(ctx, orgID, number, FallbackNoClientMatch)
	}

	booking, err := r.activeBookingWithSitter(ctx, orgID, client.ID, now)
	if err != nil {
		return nil, fmt.Errorf("booking lookup: %w", err)
	}

	if booking == nil {
		thread, err := r.threads.FindOrCreateGeneral(ctx, orgID, client.ID)
		if err != nil {
			return nil, fmt.Errorf("general thread: %w", err)
		}
		if err := r.ensureBound(ctx, thread, client, uuid.NullUUID{}); err != nil {
			return nil, err
		}
		return r.ownerResolution(ctx, orgID, number, thread, FallbackNoBooking), nil
	}

	thread, err := r.threads.FindOrCreateJob(ctx, orgID, client.ID, booking.SitterID, booking.Ref)
	if err != nil {
		return nil, fmt.Errorf("job thread: %w", err)
	}
	if err := r.ensureBound(ctx, thread, client, booking.SitterID); err != nil {
		return nil, err
	}

	return r.finish(ctx, orgID, number, thread, now)
}

// finish applies the assignment-window check to an identified thread.
func (r *Resolver) finish(ctx context.Context, orgID uuid.UUID, number *numberdomain.PhoneNumber, thread *threadsdomain.Thread, now time.Time) (*Resolution, error) {
	if thread.SitterID.Valid {
		covered, err := r.windows.HasActiveWindow(ctx, thread.ID, thread.SitterID, now)
		if err != nil {
			return nil, fmt.Errorf("window check: %w", err)
		}
		if covered {
			r.audit.Record(ctx, auditdomain.Event{
				OrgID:    orgID,
				Type:     auditdomain.EventRoutedToSitter,
				ThreadID: uuid.NullUUID{UUID: thread.ID, Valid: true},
			})
			return &Resolution{
				Thread:   thread,
				Number:   number,
				Route:    domain.RouteSitter,
				SitterID: thread.SitterID,
			}, nil
		}
	}
	return r.ownerResolution(ctx, orgID, number, thread, FallbackNoWindow), nil
}

// ensureBound binds a number to a freshly created thread. Threads that
// already carry a binding are left alone.
func (r *Resolver) ensureBound(ctx context.Context, thread *threadsdomain.Thread, client *contactsdomain.Client, sitterID uuid.NullUUID) error {
	if thread.BoundNumberID.Valid {
		return nil
	}
	class := threadsapp.DetermineNumberClass(threadsapp.ClassContext{
		IsMeetAndGreet:  thread.IsMeetAndGreet,
		IsOneTimeClient: client.IsOneTimeClient,
		SitterID:        sitterID,
	})
	num, err := r.binding.BindNumberToThread(ctx, thread.ID, class, threadsapp.BindContext{
		OrgID:    thread.OrgID,
		ClientID: thread.ClientID,
		SitterID: sitterID,
	})
	if err != nil {
		return fmt.Errorf("bind thread number: %w", err)
	}
	thread.BoundNumberID = uuid.NullUUID{UUID: num.ID, Valid: true}
	thread.NumberClass = num.Class
	return nil
}

// activeBookingWithSitter returns the earliest confirmed booking around now
// that has a sitter assigned, or nil.
func (r *Resolver) activeBookingWithSitter(ctx context.Context, orgID, clientID uuid.UUID, now time.Time) (*contactsdomain.Booking, error) {
	bookings, err := r.bookings.ActiveForClient(ctx, orgID, clientID, now)
	if err != nil {
		return nil, err
	}
	for _, b := range bookings {
		if b.SitterID.Valid {
			return b, nil
		}
	}
	return nil, nil
}

func (r *Resolver) ownerResolution(ctx context.Context, orgID uuid.UUID, number *numberdomain.PhoneNumber, thread *threadsdomain.Thread, reason string) *Resolution {
	r.audit.Record(ctx, auditdomain.Event{
		OrgID:    orgID,
		Type:     auditdomain.EventRoutedToOwnerInbox,
		ThreadID: uuid.NullUUID{UUID: thread.ID, Valid: true},
		Reason:   reason,
	})
	return &Resolution{Thread: thread, Number: number, Route: domain.RouteOwnerInbox, Reason: reason}
}

// failSafe routes to the owner inbox singleton. This is the terminal
// fallback; if it errors the caller has nowhere left to put the message.
func (r *Resolver) failSafe(ctx context.Context, orgID uuid.UUID, number *numberdomain.PhoneNumber, reason string) (*Resolution, error) {
	inbox, err := r.threads.FindOrCreateOwnerInbox(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("owner inbox fallback: %w", err)
	}
	return r.ownerResolution(ctx, orgID, number, inbox, reason), nil
}

// OutboundDecision is the gate every outbound send passes before the
// provider call. FromE164 comes from the thread's bound number and nowhere
// else; there is no way to send from an arbitrary number.
type OutboundDecision struct {
	Allowed  bool
	FromE164 string
	Reason   string
}

// ResolveOutbound authorizes a send on a thread and yields the masking
// number it must originate from.
func (r *Resolver) ResolveOutbound(ctx context.Context, orgID, threadID uuid.UUID, senderID uuid.NullUUID) (*OutboundDecision, error) {
	thread, err := r.threads.GetByID(ctx, threadID)
	if err != nil {
		if errors.Is(err, threadsdomain.ErrNotFound) {
			return &OutboundDecision{Reason: "thread_not_found"}, nil
		}
		return nil, fmt.Errorf("thread lookup: %w", err)
	}
	if thread.OrgID != orgID {
		return &OutboundDecision{Reason: "org_mismatch"}, nil
	}
	if thread.Status == threadsdomain.StatusArchived {
		return &OutboundDecision{Reason: "thread_archived"}, nil
	}
	if !thread.BoundNumberID.Valid {
		return &OutboundDecision{Reason: "no_bound_number"}, nil
	}

	number, err := r.numbers.GetByID(ctx, thread.BoundNumberID.UUID)
	if err != nil {
		return nil, fmt.Errorf("bound number lookup: %w", err)
	}

	// A sitter may only send while inside their assignment window; owner
	// sends are not window-gated.
	if senderID.Valid && thread.SitterID.Valid && senderID.UUID == thread.SitterID.UUID {
		covered, err := r.windows.HasActiveWindow(ctx, thread.ID, thread.SitterID, time.Now().UTC())
		if err != nil {
			return nil, fmt.Errorf("window check: %w", err)
		}
		if !covered {
			return &OutboundDecision{Reason: FallbackNoWindow}, nil
		}
	}

	return &OutboundDecision{Allowed: true, FromE164: number.E164}, nil
}

func last4(e164 string) string {
	if len(e164) <= 4 {
		return e164
	}
	return e164[len(e164)-4:]
}
