package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	antipoachingapp "github.com/snoutservices/relay/internal/antipoaching/app"
	contactsdomain "github.com/snoutservices/relay/internal/contacts/domain"
	numberdomain "github.com/snoutservices/relay/internal/numberregistry/domain"
	"github.com/snoutservices/relay/internal/platform/messagebroker"
	"github.com/snoutservices/relay/internal/provider"
	"github.com/snoutservices/relay/internal/routing/domain"
	threadsdomain "github.com/snoutservices/relay/internal/threads/domain"
)

// SubjectInboundRaw carries provider-parsed inbound messages from the
// webhook gateway to the routing workers.
const SubjectInboundRaw = "relay.inbound.raw"

const inboundQueueGroup = "routing_workers"

// InboundSMSEvent is the NATS envelope published by the webhook handler.
type InboundSMSEvent struct {
	ProviderName string                  `json:"provider_name"`
	Data         provider.InboundMessage `json:"data"`
}

type numberResolver interface {
	LookupByE164(ctx context.Context, e164 string) (*numberdomain.PhoneNumber, error)
}

type blocker interface {
	Block(ctx context.Context, in antipoachingapp.BlockInput) string
}

// Processor consumes inbound messages, routes them through the resolver and
// performs the delivery leg (sitter relay, owner inbox persist, pool
// auto-response).
type Processor struct {
	numbers     numberResolver
	resolver    *Resolver
	messages    domain.MessageRepository
	threads     threadsdomain.ThreadRepository
	sitters     contactsdomain.SitterRepository
	sender      provider.Adapter
	enforcer    blocker
	sendTimeout time.Duration
	// autoResponse overrides AutoResponseBody when configured.
	autoResponse string
	logger       *slog.Logger
}

func NewProcessor(
	numbers numberResolver,
	resolver *Resolver,
	messages domain.MessageRepository,
	threads threadsdomain.ThreadRepository,
	sitters contactsdomain.SitterRepository,
	sender provider.Adapter,
	enforcer blocker,
	sendTimeout time.Duration,
	autoResponse string,
	logger *slog.Logger,
) *Processor {
	if autoResponse == "" {
		autoResponse = AutoResponseBody
	}
	return &Processor{
		numbers:      numbers,
		resolver:     resolver,
		messages:     messages,
		threads:      threads,
		sitters:      sitters,
		sender:       sender,
		enforcer:     enforcer,
		sendTimeout:  sendTimeout,
		autoResponse: autoResponse,
		logger:       logger.With("component", "routing_processor"),
	}
}

// Subscribe attaches the processor to the inbound subject. Workers share a
// queue group so horizontal scaling splits the stream instead of duplicating
// it.
func (p *Processor) Subscribe(broker *messagebroker.NATSClient) (*nats.Subscription, error) {
	return broker.QueueSubscribe(SubjectInboundRaw, inboundQueueGroup, p.handleMsg)
}

func (p *Processor) handleMsg(msg *nats.Msg) {
	ctx := context.Background()

	var ev InboundSMSEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		p.logger.ErrorContext(ctx, "Failed to decode inbound event", "error", err, "subject", msg.Subject)
		return
	}
	p.ProcessInbound(ctx, ev)
}

// ProcessInbound routes and delivers one inbound message.
func (p *Processor) ProcessInbound(ctx context.Context, ev InboundSMSEvent) {
	started := time.Now()
	now := time.Now().UTC()

	number, err := p.numbers.LookupByE164(ctx, ev.Data.To)
	if err != nil {
		p.logger.ErrorContext(ctx, "Receiving number lookup failed", "error", err)
		return
	}
	if number == nil {
		p.logger.WarnContext(ctx, "Inbound message for unknown number, dropping",
			"to_last4", last4(ev.Data.To), "provider", ev.ProviderName)
		return
	}

	res, err := p.resolver.ResolveInbound(ctx, number.OrgID, ev.Data.To, ev.Data.From, now)
	if err != nil {
		p.logger.ErrorContext(ctx, "Resolution failed with no owner-inbox fallback",
			"error", err, "org_id", number.OrgID)
		return
	}

	resolutionDuration.Observe(time.Since(started).Seconds())
	inboundRoutedTotal.WithLabelValues(string(res.Route)).Inc()
	if res.Reason != "" {
		ownerFallbackTotal.WithLabelValues(res.Reason).Inc()
	}

	switch res.Route {
	case domain.RouteSitter:
		p.deliverToSitter(ctx, ev, number, res, now)
	default:
		p.deliverToOwner(ctx, ev, number, res, now)
	}

	if res.AutoRespond {
		p.sendAutoResponse(ctx, number, res, ev.Data.From, now)
	}
}

// sendAutoResponse dispatches the pool-mismatch auto-response and persists
// it as an outbound message row, so the audit trail pairs the pool.mismatch
// event with the message it triggered.
func (p *Processor) sendAutoResponse(ctx context.Context, number *numberdomain.PhoneNumber, res *Resolution, to string, now time.Time) {
	status := domain.StatusSent
	providerMessageID := ""
	result, err := p.sendFrom(ctx, number.E164, to, p.autoResponse)
	switch {
	case err != nil:
		p.logger.ErrorContext(ctx, "Auto-response send failed", "error", err, "to_last4", last4(to))
		status = domain.StatusFailed
	case !result.Success:
		status = domain.StatusFailed
	default:
		providerMessageID = result.ProviderMessageID
	}

	m := &domain.Message{
		ID:           uuid.New(),
		OrgID:        number.OrgID,
		ThreadID:     uuid.NullUUID{UUID: res.Thread.ID, Valid: true},
		Direction:    domain.DirectionOutbound,
		FromE164:     number.E164,
		ToE164:       to,
		Body:         p.autoResponse,
		Status:       status,
		StatusReason: sql.NullString{String: "pool_mismatch_auto_response", Valid: true},
		ProviderName: p.sender.GetName(),
		CreatedAt:    now,
	}
	if providerMessageID != "" {
		m.ProviderMessageID = sql.NullString{String: providerMessageID, Valid: true}
	}
	if err := p.messages.Create(ctx, m); err != nil {
		p.logger.ErrorContext(ctx, "Failed to persist auto-response message", "error", err, "thread_id", res.Thread.ID)
	}
}

// deliverToSitter runs the anti-poaching scan and, when clean, relays the
// message from the masking number to the sitter's real phone.
func (p *Processor) deliverToSitter(ctx context.Context, ev InboundSMSEvent, number *numberdomain.PhoneNumber, res *Resolution, now time.Time) {
	detection := antipoachingapp.Scan(ev.Data.Body)
	if detection.Detected {
		blockedTotal.Inc()
		p.enforcer.Block(ctx, antipoachingapp.BlockInput{
			OrgID:        number.OrgID,
			ThreadID:     uuid.NullUUID{UUID: res.Thread.ID, Valid: true},
			SenderE164:   ev.Data.From,
			SenderRole:   "client",
			WarnFromE164: number.E164,
			Body:         ev.Data.Body,
			Detection:    detection,
		})
		p.persistInbound(ctx, ev, number, res, now, domain.StatusBlocked, "anti_poaching", "")
		return
	}

	sitter, err := p.sitters.GetByID(ctx, res.SitterID.UUID)
	if err != nil {
		p.logger.ErrorContext(ctx, "Sitter lookup failed, delivering to owner inbox",
			"error", err, "sitter_id", res.SitterID.UUID)
		p.deliverToOwner(ctx, ev, number, res, now)
		return
	}

	status := domain.StatusSent
	providerMessageID := ""
	result, err := p.sendFrom(ctx, number.E164, sitter.Phone, ev.Data.Body)
	switch {
	case err != nil:
		p.logger.ErrorContext(ctx, "Relay send to sitter failed", "error", err, "thread_id", res.Thread.ID)
		status = domain.StatusFailed
	case !result.Success:
		status = domain.StatusFailed
	default:
		providerMessageID = result.ProviderMessageID
	}

	p.persistInbound(ctx, ev, number, res, now, status, "", providerMessageID)
	if err := p.threads.RecordInbound(ctx, res.Thread.ID, now, false); err != nil {
		p.logger.ErrorContext(ctx, "Failed to record inbound on thread", "error", err, "thread_id", res.Thread.ID)
	}
}

func (p *Processor) deliverToOwner(ctx context.Context, ev InboundSMSEvent, number *numberdomain.PhoneNumber, res *Resolution, now time.Time) {
	p.persistInbound(ctx, ev, number, res, now, domain.StatusReceived, res.Reason, "")
	if err := p.threads.RecordInbound(ctx, res.Thread.ID, now, true); err != nil {
		p.logger.ErrorContext(ctx, "Failed to record inbound on thread", "error", err, "thread_id", res.Thread.ID)
	}
}

func (p *Processor) persistInbound(ctx context.Context, ev InboundSMSEvent, number *numberdomain.PhoneNumber, res *Resolution, now time.Time, status domain.DeliveryStatus, reason, providerMessageID string) {
	m := &domain.Message{
		ID:           uuid.New(),
		OrgID:        number.OrgID,
		ThreadID:     uuid.NullUUID{UUID: res.Thread.ID, Valid: true},
		Direction:    domain.DirectionInbound,
		FromE164:     ev.Data.From,
		ToE164:       ev.Data.To,
		Body:         ev.Data.Body,
		Status:       status,
		ProviderName: ev.ProviderName,
		Route:        res.Route,
		CreatedAt:    now,
	}
	if reason != "" {
		m.StatusReason = sql.NullString{String: reason, Valid: true}
	}
	if providerMessageID != "" {
		m.ProviderMessageID = sql.NullString{String: providerMessageID, Valid: true}
	}
	if ev.Data.ProviderMessageID != "" && providerMessageID == "" {
		m.ProviderMessageID = sql.NullString{String: ev.Data.ProviderMessageID, Valid: true}
	}
	if err := p.messages.Create(ctx, m); err != nil {
		p.logger.ErrorContext(ctx, "Failed to persist inbound message", "error", err, "thread_id", res.Thread.ID)
	}
}

func (p *Processor) sendFrom(ctx context.Context, from, to, body string) (*provider.SendResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()
	return p.sender.SendMessage(sendCtx, provider.SendRequest{FromE164: from, To: to, Body: body})
}
