package postgres

import (
	"context"
	"database/sql"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/routing/domain"
)

type PgMessageRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgMessageRepository(dbPool *pgxpool.Pool, logger *slog.Logger) *PgMessageRepository {
	return &PgMessageRepository{db: dbPool, logger: logger}
}

func (r *PgMessageRepository) Create(ctx context.Context, m *domain.Message) error {
	query := `
		INSERT INTO messages
			(id, org_id, thread_id, direction, from_e164, to_e164, body, status, status_reason,
			 provider_name, provider_message_id, route, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Exec(ctx, query,
		m.ID, m.OrgID, m.ThreadID, m.Direction, m.FromE164, m.ToE164, m.Body,
		m.Status, m.StatusReason, m.ProviderName, m.ProviderMessageID, nullableRoute(m.Route), m.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error inserting message", "error", err, "org_id", m.OrgID)
		return err
	}
	return nil
}

func (r *PgMessageRepository) UpdateDeliveryStatus(ctx context.Context, providerMessageID string, status domain.DeliveryStatus, reason string) (int64, error) {
	query := `
		UPDATE messages
		SET status = $2, status_reason = NULLIF($3, '')
		WHERE provider_message_id = $1
	`
	tag, err := r.db.Exec(ctx, query, providerMessageID, status, reason)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating delivery status", "error", err, "provider_message_id", providerMessageID)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func nullableRoute(route domain.RouteDecision) sql.NullString {
	if route == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: string(route), Valid: true}
}
