package postgres

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/antipoaching/domain"
)

type PgAttemptRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgAttemptRepository(dbPool *pgxpool.Pool, logger *slog.Logger) *PgAttemptRepository {
	return &PgAttemptRepository{db: dbPool, logger: logger}
}

func (r *PgAttemptRepository) Insert(ctx context.Context, a *domain.Attempt) error {
	query := `
		INSERT INTO anti_poaching_attempts
			(id, org_id, thread_id, sender_e164, sender_role, violation_types, reasons, original_body, redacted_body, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.db.Exec(ctx, query,
		a.ID, a.OrgID, a.ThreadID, a.SenderE164, a.SenderRole,
		a.Types, a.Reasons, a.OriginalBody, a.RedactedBody, a.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error inserting anti-poaching attempt", "error", err, "org_id", a.OrgID)
		return err
	}
	return nil
}
