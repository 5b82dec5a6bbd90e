package postgres

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/audit/domain"
)

type PgEventRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPgEventRepository creates a PostgreSQL implementation of EventRepository.
func NewPgEventRepository(dbPool *pgxpool.Pool, logger *slog.Logger) *PgEventRepository {
	return &PgEventRepository{db: dbPool, logger: logger}
}

// Insert appends one audit event. Rows are immutable; there is no update path.
func (r *PgEventRepository) Insert(ctx context.Context, ev *domain.Event) error {
	query := `
		INSERT INTO audit_events (id, org_id, event_type, thread_id, number_id, reason, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	var detail []byte
	if ev.Detail != nil {
		var err error
		detail, err = json.Marshal(ev.Detail)
		if err != nil {
			return err
		}
	}

	_, err := r.db.Exec(ctx, query,
		ev.ID, ev.OrgID, ev.Type, ev.ThreadID, ev.NumberID, ev.Reason, detail, ev.CreatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error inserting audit event", "error", err, "event_type", ev.Type)
		return err
	}
	return nil
}
