package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/assignment/domain"
)

const windowColumns = `id, org_id, thread_id, sitter_id, booking_ref, starts_at, ends_at, created_at, updated_at`

type PgWindowRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPgWindowRepository creates a PostgreSQL implementation of WindowRepository.
func NewPgWindowRepository(dbPool *pgxpool.Pool, logger *slog.Logger) *PgWindowRepository {
	return &PgWindowRepository{db: dbPool, logger: logger}
}

func scanWindow(row pgx.Row) (*domain.AssignmentWindow, error) {
	var w domain.AssignmentWindow
	err := row.Scan(
		&w.ID, &w.OrgID, &w.ThreadID, &w.SitterID, &w.BookingRef,
		&w.StartsAt, &w.EndsAt, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *PgWindowRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.AssignmentWindow, error) {
	query := `SELECT ` + windowColumns + ` FROM assignment_windows WHERE id = $1`
	w, err := scanWindow(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting window by ID", "error", err, "window_id", id)
		return nil, err
	}
	return w, nil
}

func (r *PgWindowRepository) FindByBooking(ctx context.Context, threadID uuid.UUID, bookingRef string) (*domain.AssignmentWindow, error) {
	query := `
		SELECT ` + windowColumns + `
		FROM assignment_windows
		WHERE thread_id = $1 AND booking_ref = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	w, err := scanWindow(r.db.QueryRow(ctx, query, threadID, bookingRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error finding window by booking", "error", err, "thread_id", threadID)
		return nil, err
	}
	return w, nil
}

func (r *PgWindowRepository) FindOverlapping(ctx context.Context, threadID uuid.UUID, startsAt, endsAt time.Time) (*domain.AssignmentWindow, error) {
	query := `
		SELECT ` + windowColumns + `
		FROM assignment_windows
		WHERE thread_id = $1 AND starts_at <= $3 AND ends_at >= $2
		ORDER BY starts_at ASC
		LIMIT 1
	`
	w, err := scanWindow(r.db.QueryRow(ctx, query, threadID, startsAt, endsAt))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error finding overlapping window", "error", err, "thread_id", threadID)
		return nil, err
	}
	return w, nil
}

func (r *PgWindowRepository) Create(ctx context.Context, w *domain.AssignmentWindow) error {
	query := `
		INSERT INTO assignment_windows (id, org_id, thread_id, sitter_id, booking_ref, starts_at, ends_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`
	_, err := r.db.Exec(ctx, query,
		w.ID, w.OrgID, w.ThreadID, w.SitterID, w.BookingRef, w.StartsAt, w.EndsAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error creating assignment window", "error", err, "thread_id", w.ThreadID)
		return err
	}
	return nil
}

func (r *PgWindowRepository) UpdateBounds(ctx context.Context, id, sitterID uuid.UUID, bookingRef string, startsAt, endsAt time.Time) error {
	query := `
		UPDATE assignment_windows
		SET sitter_id = $2, booking_ref = $3, starts_at = $4, ends_at = $5, updated_at = NOW()
		WHERE id = $1
	`
	tag, err := r.db.Exec(ctx, query, id, sitterID, bookingRef, startsAt, endsAt)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error updating window bounds", "error", err, "window_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *PgWindowRepository) Close(ctx context.Context, id uuid.UUID, now time.Time) (int64, error) {
	query := `
		UPDATE assignment_windows
		SET ends_at = $2, updated_at = NOW()
		WHERE id = $1 AND ends_at > $2
	`
	tag, err := r.db.Exec(ctx, query, id, now)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error closing window", "error", err, "window_id", id)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgWindowRepository) CloseAllForBooking(ctx context.Context, bookingRef string, now time.Time) (int64, error) {
	query := `
		UPDATE assignment_windows
		SET ends_at = $2, updated_at = NOW()
		WHERE booking_ref = $1 AND ends_at > $2
	`
	tag, err := r.db.Exec(ctx, query, bookingRef, now)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error closing windows for booking", "error", err, "booking_ref", bookingRef)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgWindowRepository) HasActiveAt(ctx context.Context, threadID uuid.UUID, sitterID uuid.NullUUID, at time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM assignment_windows
			WHERE thread_id = $1
			  AND ($2::uuid IS NULL OR sitter_id = $2)
			  AND starts_at <= $3 AND ends_at >= $3
		)
	`
	var exists bool
	if err := r.db.QueryRow(ctx, query, threadID, sitterID, at).Scan(&exists); err != nil {
		r.logger.ErrorContext(ctx, "Error checking active window", "error", err, "thread_id", threadID)
		return false, err
	}
	return exists, nil
}
