package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/snoutservices/relay/internal/antipoaching/domain"
	auditdomain "github.com/snoutservices/relay/internal/audit/domain"
	"github.com/snoutservices/relay/internal/provider"
)

type auditor interface {
	Record(ctx context.Context, ev auditdomain.Event)
}

// ownerNotifier forwards a redacted copy of a blocked message into the org's
// owner inbox thread.
type ownerNotifier interface {
	ForwardToOwnerInbox(ctx context.Context, orgID uuid.UUID, fromE164, body string) error
}

// BlockInput carries everything the enforcer needs about a flagged message.
type BlockInput struct {
	OrgID      uuid.UUID
	ThreadID   uuid.NullUUID
	SenderE164 string
	SenderRole string
	// WarnFromE164 is the masking number the warning reply is sent from.
	WarnFromE164 string
	Body         string
	Detection    domain.Detection
}

// Enforcer handles messages the detector flagged: the message is dropped and
// three side effects fire, each best-effort so a failing provider or database
// never suppresses the others.
type Enforcer struct {
	attempts domain.AttemptRepository
	notifier ownerNotifier
	sender   provider.Adapter
	audit    auditor
	logger   *slog.Logger
}

func NewEnforcer(attempts domain.AttemptRepository, notifier ownerNotifier, sender provider.Adapter, audit auditor, logger *slog.Logger) *Enforcer {
	return &Enforcer{
		attempts: attempts,
		notifier: notifier,
		sender:   sender,
		audit:    audit,
		logger:   logger.With("component", "antipoaching_enforcer"),
	}
}

// Block records the attempt, forwards a redacted copy to the owner inbox and
// sends the sender a warning. Returns the redacted body.
func (e *Enforcer) Block(ctx context.Context, in BlockInput) string {
	redacted := Redact(in.Body, in.Detection.Violations)
	types := in.Detection.Types()

	attempt := &domain.Attempt{
		ID:           uuid.New(),
		OrgID:        in.OrgID,
		ThreadID:     in.ThreadID,
		SenderE164:   in.SenderE164,
		SenderRole:   in.SenderRole,
		Types:        typeStrings(types),
		Reasons:      in.Detection.Reasons,
		OriginalBody: in.Body,
		RedactedBody: redacted,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.attempts.Insert(ctx, attempt); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist anti-poaching attempt", "error", err, "org_id", in.OrgID)
	}

	if err := e.notifier.ForwardToOwnerInbox(ctx, in.OrgID, in.SenderE164, "Blocked message (redacted): "+redacted); err != nil {
		e.logger.ErrorContext(ctx, "Failed to forward redacted copy to owner inbox", "error", err, "org_id", in.OrgID)
	}

	if in.WarnFromE164 != "" {
		_, err := e.sender.SendMessage(ctx, provider.SendRequest{
			FromE164: in.WarnFromE164,
			To:       in.SenderE164,
			Body:     WarningMessage(types),
		})
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to send anti-poaching warning", "error", err, "org_id", in.OrgID)
		}
	}

	e.audit.Record(ctx, auditdomain.Event{
		OrgID:    in.OrgID,
		Type:     auditdomain.EventMessageBlocked,
		ThreadID: in.ThreadID,
		Reason:   "anti_poaching",
		Detail: map[string]any{
			"attempt_id":  attempt.ID.String(),
			"sender_role": in.SenderRole,
			"types":       attempt.Types,
		},
	})

	return redacted
}

func typeStrings(types []domain.ViolationType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}
