package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/snoutservices/relay/internal/routing/domain"
	threadsdomain "github.com/snoutservices/relay/internal/threads/domain"
)

// OwnerInboxNotifier drops a message straight into the org's owner inbox
// thread, bypassing resolution. Used for redacted copies of blocked
// messages.
type OwnerInboxNotifier struct {
	threads  threadsdomain.ThreadRepository
	messages domain.MessageRepository
	logger   *slog.Logger
}

func NewOwnerInboxNotifier(threads threadsdomain.ThreadRepository, messages domain.MessageRepository, logger *slog.Logger) *OwnerInboxNotifier {
	return &OwnerInboxNotifier{threads: threads, messages: messages, logger: logger}
}

func (n *OwnerInboxNotifier) ForwardToOwnerInbox(ctx context.Context, orgID uuid.UUID, fromE164, body string) error {
	inbox, err := n.threads.FindOrCreateOwnerInbox(ctx, orgID)
	if err != nil {
		return fmt.Errorf("owner inbox: %w", err)
	}
	now := time.Now().UTC()
	m := &domain.Message{
		ID:           uuid.New(),
		OrgID:        orgID,
		ThreadID:     uuid.NullUUID{UUID: inbox.ID, Valid: true},
		Direction:    domain.DirectionInbound,
		FromE164:     fromE164,
		Body:         body,
		Status:       domain.StatusReceived,
		StatusReason: sql.NullString{String: "anti_poaching_redacted_copy", Valid: true},
		Route:        domain.RouteOwnerInbox,
		CreatedAt:    now,
	}
	if err := n.messages.Create(ctx, m); err != nil {
		return fmt.Errorf("persist redacted copy: %w", err)
	}
	if err := n.threads.RecordInbound(ctx, inbox.ID, now, true); err != nil {
		n.logger.ErrorContext(ctx, "Failed to bump owner inbox counters", "error", err, "thread_id", inbox.ID)
	}
	return nil
}
