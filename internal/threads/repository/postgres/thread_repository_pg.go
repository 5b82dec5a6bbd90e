package postgres

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	numberdomain "github.com/snoutservices/relay/internal/numberregistry/domain"
	"github.com/snoutservices/relay/internal/platform/database"
	"github.com/snoutservices/relay/internal/threads/domain"
)

const threadColumns = `id, org_id, client_id, sitter_id, bound_number_id, number_class, scope, status,
	booking_ref, is_meet_and_greet, is_one_time_client, last_message_at, last_inbound_at, owner_unread_count, created_at`

type PgThreadRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPgThreadRepository creates a PostgreSQL implementation of ThreadRepository.
func NewPgThreadRepository(dbPool *pgxpool.Pool, logger *slog.Logger) *PgThreadRepository {
	return &PgThreadRepository{db: dbPool, logger: logger}
}

func scanThread(row pgx.Row) (*domain.Thread, error) {
	var t domain.Thread
	var numberClass *string
	err := row.Scan(
		&t.ID, &t.OrgID, &t.ClientID, &t.SitterID, &t.BoundNumberID, &numberClass, &t.Scope, &t.Status,
		&t.BookingRef, &t.IsMeetAndGreet, &t.IsOneTimeClient, &t.LastMessageAt, &t.LastInboundAt,
		&t.OwnerUnreadCount, &t.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if numberClass != nil {
		t.NumberClass = numberdomain.NumberClass(*numberClass)
	}
	return &t, nil
}

func (r *PgThreadRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Thread, error) {
	query := `SELECT ` + threadColumns + ` FROM threads WHERE id = $1`
	t, err := scanThread(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting thread by ID", "error", err, "thread_id", id)
		return nil, err
	}
	return t, nil
}

// FindOrCreateOwnerInbox returns the owner inbox singleton. The partial
// unique index on (org_id) WHERE scope = 'internal' makes concurrent first
// callers safe: the loser re-reads the winner's row.
func (r *PgThreadRepository) FindOrCreateOwnerInbox(ctx context.Context, orgID uuid.UUID) (*domain.Thread, error) {
	find := `
		SELECT ` + threadColumns + `
		FROM threads
		WHERE org_id = $1 AND scope = 'internal'
		LIMIT 1
	`
	t, err := scanThread(r.db.QueryRow(ctx, find, orgID))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.ErrorContext(ctx, "Error finding owner inbox", "error", err, "org_id", orgID)
		return nil, err
	}

	insert := `
		INSERT INTO threads (id, org_id, scope, status, created_at)
		VALUES ($1, $2, 'internal', 'active', $3)
		RETURNING ` + threadColumns
	t, err = scanThread(r.db.QueryRow(ctx, insert, uuid.New(), orgID, time.Now().UTC()))
	if err != nil {
		if database.IsUniqueViolation(err) {
			// Lost the race; use the winner's row.
			return scanThread(r.db.QueryRow(ctx, find, orgID))
		}
		r.logger.ErrorContext(ctx, "Error creating owner inbox", "error", err, "org_id", orgID)
		return nil, err
	}
	r.logger.InfoContext(ctx, "Owner inbox thread created", "org_id", orgID, "thread_id", t.ID)
	return t, nil
}

// FindOrCreateGeneral returns the per-(org, client) general-inquiry thread.
// Backed by the unique index on (org_id, client_id) WHERE scope =
// 'client_general'; insert conflicts fall back to re-read.
func (r *PgThreadRepository) FindOrCreateGeneral(ctx context.Context, orgID, clientID uuid.UUID) (*domain.Thread, error) {
	find := `
		SELECT ` + threadColumns + `
		FROM threads
		WHERE org_id = $1 AND client_id = $2 AND scope = 'client_general'
		LIMIT 1
	`
	t, err := scanThread(r.db.QueryRow(ctx, find, orgID, clientID))
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.ErrorContext(ctx, "Error finding general thread", "error", err, "org_id", orgID, "client_id", clientID)
		return nil, err
	}

	insert := `
		INSERT INTO threads (id, org_id, client_id, scope, status, created_at)
		VALUES ($1, $2, $3, 'client_general', 'active', $4)
		RETURNING ` + threadColumns
	t, err = scanThread(r.db.QueryRow(ctx, insert, uuid.New(), orgID, clientID, time.Now().UTC()))
	if err != nil {
		if database.IsUniqueViolation(err) {
			return scanThread(r.db.QueryRow(ctx, find, orgID, clientID))
		}
		r.logger.ErrorContext(ctx, "Error creating general thread", "error", err, "org_id", orgID, "client_id", clientID)
		return nil, err
	}
	return t, nil
}

// FindOrCreateJob returns the job-scoped thread for the (org, client,
// sitter) relationship. booking_ref is an attribute of the latest booking,
// not part of the thread's identity: a second booking for the same pairing
// reuses the existing thread and merely refreshes the ref. Same optimistic
// insert + conflict re-read pattern as the other find-or-creates.
func (r *PgThreadRepository) FindOrCreateJob(ctx context.Context, orgID, clientID uuid.UUID, sitterID uuid.NullUUID, bookingRef string) (*domain.Thread, error) {
	find := `
		SELECT ` + threadColumns + `
		FROM threads
		WHERE org_id = $1 AND client_id = $2 AND sitter_id IS NOT DISTINCT FROM $3
		  AND scope = 'client_booking'
		LIMIT 1
	`
	t, err := scanThread(r.db.QueryRow(ctx, find, orgID, clientID, sitterID))
	if err == nil {
		return t, r.refreshBookingRef(ctx, t, bookingRef)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		r.logger.ErrorContext(ctx, "Error finding job thread", "error", err, "org_id", orgID, "client_id", clientID)
		return nil, err
	}

	insert := `
		INSERT INTO threads (id, org_id, client_id, sitter_id, scope, status, booking_ref, created_at)
		VALUES ($1, $2, $3, $4, 'client_booking', 'active', $5, $6)
		RETURNING ` + threadColumns
	t, err = scanThread(r.db.QueryRow(ctx, insert, uuid.New(), orgID, clientID, sitterID, bookingRef, time.Now().UTC()))
	if err != nil {
		if database.IsUniqueViolation(err) {
			t, err = scanThread(r.db.QueryRow(ctx, find, orgID, clientID, sitterID))
			if err != nil {
				return nil, err
			}
			return t, r.refreshBookingRef(ctx, t, bookingRef)
		}
		r.logger.ErrorContext(ctx, "Error creating job thread", "error", err, "org_id", orgID, "client_id", clientID)
		return nil, err
	}
	return t, nil
}

func (r *PgThreadRepository) refreshBookingRef(ctx context.Context, t *domain.Thread, bookingRef string) error {
	if t.BookingRef.Valid && t.BookingRef.String == bookingRef {
		return nil
	}
	query := `UPDATE threads SET booking_ref = $1 WHERE id = $2`
	if _, err := r.db.Exec(ctx, query, bookingRef, t.ID); err != nil {
		r.logger.ErrorContext(ctx, "Error refreshing thread booking ref", "error", err, "thread_id", t.ID)
		return err
	}
	t.BookingRef = sql.NullString{String: bookingRef, Valid: true}
	return nil
}

// BindNumber writes bound_number_id and number_class in one statement.
func (r *PgThreadRepository) BindNumber(ctx context.Context, threadID, numberID uuid.UUID, class numberdomain.NumberClass) error {
	query := `UPDATE threads SET bound_number_id = $1, number_class = $2 WHERE id = $3`
	tag, err := r.db.Exec(ctx, query, numberID, string(class), threadID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error binding number to thread", "error", err, "thread_id", threadID, "number_id", numberID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// BindPoolNumber claims a pool slot for the thread. The capacity check runs
// inside the UPDATE itself, so concurrent claimers serialize on the thread
// rows and only as many threads as maxActive can ever hold the number.
func (r *PgThreadRepository) BindPoolNumber(ctx context.Context, threadID, numberID uuid.UUID, maxActive int) (bool, error) {
	query := `
		UPDATE threads
		SET bound_number_id = $2, number_class = 'pool'
		WHERE id = $1
		  AND (SELECT COUNT(*) FROM threads t
		       WHERE t.bound_number_id = $2 AND t.status = 'active' AND t.id <> $1) < $3
	`
	tag, err := r.db.Exec(ctx, query, threadID, numberID, maxActive)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error claiming pool number for thread", "error", err, "thread_id", threadID, "number_id", numberID)
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *PgThreadRepository) Unbind(ctx context.Context, threadID uuid.UUID) error {
	query := `UPDATE threads SET bound_number_id = NULL, number_class = NULL WHERE id = $1`
	_, err := r.db.Exec(ctx, query, threadID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error unbinding thread", "error", err, "thread_id", threadID)
	}
	return err
}

func (r *PgThreadRepository) FindActivePoolThreadForSender(ctx context.Context, orgID, numberID uuid.UUID, senderE164 string) (*domain.Thread, error) {
	query := `
		SELECT t.id, t.org_id, t.client_id, t.sitter_id, t.bound_number_id, t.number_class, t.scope, t.status,
		       t.booking_ref, t.is_meet_and_greet, t.is_one_time_client, t.last_message_at, t.last_inbound_at,
		       t.owner_unread_count, t.created_at
		FROM threads t
		JOIN clients c ON c.id = t.client_id
		WHERE t.org_id = $1 AND t.bound_number_id = $2 AND t.status = 'active'
		  AND c.phone = $3
		ORDER BY t.created_at DESC
		LIMIT 1
	`
	t, err := scanThread(r.db.QueryRow(ctx, query, orgID, numberID, senderE164))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error matching sender to pool thread", "error", err, "org_id", orgID, "number_id", numberID)
		return nil, err
	}
	return t, nil
}

func (r *PgThreadRepository) RecordInbound(ctx context.Context, threadID uuid.UUID, at time.Time, deliveredToOwner bool) error {
	query := `
		UPDATE threads
		SET last_message_at = $1, last_inbound_at = $1,
		    owner_unread_count = owner_unread_count + CASE WHEN $2 THEN 1 ELSE 0 END
		WHERE id = $3
	`
	_, err := r.db.Exec(ctx, query, at, deliveredToOwner, threadID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recording inbound on thread", "error", err, "thread_id", threadID)
	}
	return err
}

func (r *PgThreadRepository) RecordOutbound(ctx context.Context, threadID uuid.UUID, at time.Time) error {
	query := `UPDATE threads SET last_message_at = $1 WHERE id = $2`
	_, err := r.db.Exec(ctx, query, at, threadID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error recording outbound on thread", "error", err, "thread_id", threadID)
	}
	return err
}

func (r *PgThreadRepository) SetSitter(ctx context.Context, threadID uuid.UUID, sitterID uuid.NullUUID) error {
	query := `UPDATE threads SET sitter_id = $1 WHERE id = $2`
	_, err := r.db.Exec(ctx, query, sitterID, threadID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error setting thread sitter", "error", err, "thread_id", threadID)
	}
	return err
}

func (r *PgThreadRepository) UnassignSitterThreads(ctx context.Context, orgID, sitterID uuid.UUID) (int64, error) {
	query := `UPDATE threads SET sitter_id = NULL WHERE org_id = $1 AND sitter_id = $2 AND status = 'active'`
	tag, err := r.db.Exec(ctx, query, orgID, sitterID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error unassigning sitter threads", "error", err, "org_id", orgID, "sitter_id", sitterID)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgThreadRepository) Archive(ctx context.Context, threadID uuid.UUID) error {
	query := `UPDATE threads SET status = 'archived' WHERE id = $1`
	_, err := r.db.Exec(ctx, query, threadID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error archiving thread", "error", err, "thread_id", threadID)
	}
	return err
}
