package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/poolrelease/domain"
)

type PgPoolThreadRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgPoolThreadRepository(dbPool *pgxpool.Pool, logger *slog.Logger) *PgPoolThreadRepository {
	return &PgPoolThreadRepository{db: dbPool, logger: logger}
}

func (r *PgPoolThreadRepository) ListPoolBoundThreads(ctx context.Context, at time.Time) ([]*domain.PoolThread, error) {
	query := `
		SELECT
			t.id, t.bound_number_id, t.org_id, t.created_at, t.last_message_at,
			(SELECT MAX(w.ends_at) FROM assignment_windows w WHERE w.thread_id = t.id),
			EXISTS (
				SELECT 1 FROM assignment_windows w
				WHERE w.thread_id = t.id AND w.starts_at <= $1 AND w.ends_at >= $1
			)
		FROM threads t
		WHERE t.status = 'active'
		  AND t.number_class = 'pool'
		  AND t.bound_number_id IS NOT NULL
	`
	rows, err := r.db.Query(ctx, query, at)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing pool-bound threads", "error", err)
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PoolThread
	for rows.Next() {
		var pt domain.PoolThread
		err := rows.Scan(
			&pt.ThreadID, &pt.NumberID, &pt.OrgID, &pt.CreatedAt,
			&pt.LastMessageAt, &pt.LatestWindowEnd, &pt.HasActiveWindow,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, &pt)
	}
	return out, rows.Err()
}
