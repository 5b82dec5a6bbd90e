package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/alerts/domain"
)

type PgAlertRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPgAlertRepository creates a PostgreSQL implementation of AlertRepository.
func NewPgAlertRepository(dbPool *pgxpool.Pool, logger *slog.Logger) *PgAlertRepository {
	return &PgAlertRepository{db: dbPool, logger: logger}
}

// Raise opens or refreshes an alert. Deduplication relies on the partial
// unique index over (org_id, alert_type, entity_id) WHERE status = 'open'.
func (r *PgAlertRepository) Raise(ctx context.Context, alert *domain.Alert) error {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	now := time.Now().UTC()
	if alert.OpenedAt.IsZero() {
		alert.OpenedAt = now
	}
	alert.LastSeenAt = now
	alert.Status = domain.StatusOpen

	query := `
		INSERT INTO alerts (id, org_id, alert_type, entity_id, severity, title, description, status, opened_at, last_seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (org_id, alert_type, entity_id) WHERE status = 'open'
		DO UPDATE SET last_seen_at = EXCLUDED.last_seen_at,
		              severity     = EXCLUDED.severity,
		              description  = EXCLUDED.description
	`
	_, err := r.db.Exec(ctx, query,
		alert.ID, alert.OrgID, alert.Type, alert.EntityID, alert.Severity,
		alert.Title, alert.Description, alert.Status, alert.OpenedAt, alert.LastSeenAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error raising alert", "error", err, "alert_type", alert.Type, "entity_id", alert.EntityID)
		return err
	}
	return nil
}

// Resolve closes the open alert for (org, type, entity), if any.
func (r *PgAlertRepository) Resolve(ctx context.Context, orgID uuid.UUID, alertType, entityID string) error {
	query := `
		UPDATE alerts
		SET status = 'resolved', resolved_at = $1
		WHERE org_id = $2 AND alert_type = $3 AND entity_id = $4 AND status = 'open'
	`
	_, err := r.db.Exec(ctx, query, time.Now().UTC(), orgID, alertType, entityID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error resolving alert", "error", err, "alert_type", alertType, "entity_id", entityID)
		return err
	}
	return nil
}
