package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/numberregistry/domain"
)

const numberColumns = `id, org_id, e164, class, status, assigned_sitter_id, last_assigned_at, is_rotating, deactivated_at, created_at`

type PgNumberRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPgNumberRepository creates a PostgreSQL implementation of NumberRepository.
func NewPgNumberRepository(dbPool *pgxpool.Pool, logger *slog.Logger) *PgNumberRepository {
	return &PgNumberRepository{db: dbPool, logger: logger}
}

func scanNumber(row pgx.Row) (*domain.PhoneNumber, error) {
	var n domain.PhoneNumber
	err := row.Scan(
		&n.ID, &n.OrgID, &n.E164, &n.Class, &n.Status,
		&n.AssignedSitterID, &n.LastAssignedAt, &n.IsRotating, &n.DeactivatedAt, &n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (r *PgNumberRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PhoneNumber, error) {
	query := `SELECT ` + numberColumns + ` FROM phone_numbers WHERE id = $1`
	n, err := scanNumber(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting number by ID", "error", err, "number_id", id)
		return nil, err
	}
	return n, nil
}

func (r *PgNumberRepository) FindByE164(ctx context.Context, orgID uuid.UUID, e164 string) (*domain.PhoneNumber, error) {
	query := `SELECT ` + numberColumns + ` FROM phone_numbers WHERE org_id = $1 AND e164 = $2 LIMIT 1`
	n, err := scanNumber(r.db.QueryRow(ctx, query, orgID, e164))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error finding number by e164", "error", err, "org_id", orgID)
		return nil, err
	}
	return n, nil
}

func (r *PgNumberRepository) LookupByE164(ctx context.Context, e164 string) (*domain.PhoneNumber, error) {
	query := `SELECT ` + numberColumns + ` FROM phone_numbers WHERE e164 = $1 LIMIT 1`
	n, err := scanNumber(r.db.QueryRow(ctx, query, e164))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error looking up number by e164", "error", err)
		return nil, err
	}
	return n, nil
}

// GetActiveFrontDesk relies on the partial unique index guaranteeing at most
// one active front-desk number per org.
func (r *PgNumberRepository) GetActiveFrontDesk(ctx context.Context, orgID uuid.UUID) (*domain.PhoneNumber, error) {
	query := `
		SELECT ` + numberColumns + `
		FROM phone_numbers
		WHERE org_id = $1 AND class = 'front_desk' AND status = 'active'
		LIMIT 1
	`
	n, err := scanNumber(r.db.QueryRow(ctx, query, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error getting front desk number", "error", err, "org_id", orgID)
		return nil, err
	}
	return n, nil
}

func (r *PgNumberRepository) FindActiveBySitter(ctx context.Context, orgID, sitterID uuid.UUID) (*domain.PhoneNumber, error) {
	query := `
		SELECT ` + numberColumns + `
		FROM phone_numbers
		WHERE org_id = $1 AND class = 'sitter' AND status = 'active' AND assigned_sitter_id = $2
		LIMIT 1
	`
	n, err := scanNumber(r.db.QueryRow(ctx, query, orgID, sitterID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error finding sitter number", "error", err, "org_id", orgID, "sitter_id", sitterID)
		return nil, err
	}
	return n, nil
}

// ClaimSitterNumber performs the claim as one conditional UPDATE. The inner
// SELECT picks the oldest unassigned candidate; the WHERE re-checks
// assigned_sitter_id IS NULL so a concurrent claimer loses cleanly and the
// caller sees (nil, nil) instead of a double assignment.
func (r *PgNumberRepository) ClaimSitterNumber(ctx context.Context, orgID, sitterID uuid.UUID) (*domain.PhoneNumber, error) {
	query := `
		UPDATE phone_numbers
		SET assigned_sitter_id = $1, last_assigned_at = now()
		WHERE id = (
			SELECT id FROM phone_numbers
			WHERE org_id = $2 AND class = 'sitter' AND status = 'active' AND assigned_sitter_id IS NULL
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND assigned_sitter_id IS NULL
		RETURNING ` + numberColumns

	n, err := scanNumber(r.db.QueryRow(ctx, query, sitterID, orgID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error claiming sitter number", "error", err, "org_id", orgID, "sitter_id", sitterID)
		return nil, err
	}
	r.logger.InfoContext(ctx, "Sitter number claimed", "number_id", n.ID, "sitter_id", sitterID)
	return n, nil
}

func (r *PgNumberRepository) ListCooldownExpired(ctx context.Context, orgID uuid.UUID, cutoff time.Time) ([]*domain.PhoneNumber, error) {
	query := `
		SELECT ` + numberColumns + `
		FROM phone_numbers
		WHERE org_id = $1 AND class = 'sitter' AND status = 'inactive'
		  AND is_rotating = false
		  AND deactivated_at IS NOT NULL AND deactivated_at <= $2
		ORDER BY deactivated_at ASC
	`
	rows, err := r.db.Query(ctx, query, orgID, cutoff)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing cooldown-expired numbers", "error", err, "org_id", orgID)
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PhoneNumber
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// DemoteToPool is the one-way sitter -> pool transition. The class guard in
// the WHERE clause keeps the demotion from ever running twice or touching a
// non-sitter number.
func (r *PgNumberRepository) DemoteToPool(ctx context.Context, numberID uuid.UUID) error {
	query := `
		UPDATE phone_numbers
		SET class = 'pool', status = 'active', assigned_sitter_id = NULL,
		    is_rotating = true, last_assigned_at = NULL
		WHERE id = $1 AND class = 'sitter' AND status = 'inactive'
	`
	tag, err := r.db.Exec(ctx, query, numberID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error demoting number to pool", "error", err, "number_id", numberID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	r.logger.InfoContext(ctx, "Number demoted to pool", "number_id", numberID)
	return nil
}

// ListPoolWithUsage returns candidates in the fixed rotation order. The NULLS
// FIRST / created_at / id tie-break makes selection deterministic even when
// several numbers have never been assigned.
func (r *PgNumberRepository) ListPoolWithUsage(ctx context.Context, orgID uuid.UUID) ([]*domain.PoolCandidate, error) {
	query := `
		SELECT ` + numberColumns + `,
		       (SELECT count(*) FROM threads t
		        WHERE t.bound_number_id = phone_numbers.id AND t.status = 'active') AS active_threads
		FROM phone_numbers
		WHERE org_id = $1 AND class = 'pool' AND status = 'active'
		ORDER BY last_assigned_at ASC NULLS FIRST, created_at ASC, id ASC
	`
	rows, err := r.db.Query(ctx, query, orgID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing pool numbers", "error", err, "org_id", orgID)
		return nil, err
	}
	defer rows.Close()

	var out []*domain.PoolCandidate
	for rows.Next() {
		var n domain.PhoneNumber
		var count int
		err := rows.Scan(
			&n.ID, &n.OrgID, &n.E164, &n.Class, &n.Status,
			&n.AssignedSitterID, &n.LastAssignedAt, &n.IsRotating, &n.DeactivatedAt, &n.CreatedAt,
			&count,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, &domain.PoolCandidate{Number: &n, ActiveThreads: count})
	}
	return out, rows.Err()
}

func (r *PgNumberRepository) TouchLastAssigned(ctx context.Context, numberID uuid.UUID, at time.Time) error {
	query := `UPDATE phone_numbers SET last_assigned_at = $1 WHERE id = $2`
	_, err := r.db.Exec(ctx, query, at, numberID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error touching rotation cursor", "error", err, "number_id", numberID)
	}
	return err
}

// ResetRotationCursor only clears the cursor while the number serves no
// active thread, so a concurrent re-assignment is never wiped out.
func (r *PgNumberRepository) ResetRotationCursor(ctx context.Context, numberID uuid.UUID) error {
	query := `
		UPDATE phone_numbers
		SET last_assigned_at = NULL
		WHERE id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM threads t WHERE t.bound_number_id = $1 AND t.status = 'active'
		  )
	`
	_, err := r.db.Exec(ctx, query, numberID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error resetting rotation cursor", "error", err, "number_id", numberID)
	}
	return err
}

func (r *PgNumberRepository) Deactivate(ctx context.Context, numberID uuid.UUID, at time.Time) error {
	query := `
		UPDATE phone_numbers
		SET status = 'inactive', deactivated_at = $1, assigned_sitter_id = NULL
		WHERE id = $2
	`
	tag, err := r.db.Exec(ctx, query, at, numberID)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error deactivating number", "error", err, "number_id", numberID)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
