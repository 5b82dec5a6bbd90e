package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/snoutservices/relay/internal/contacts/domain"
)

const clientColumns = `id, org_id, name, phone, is_one_time_client, created_at`
const bookingColumns = `ref, org_id, client_id, sitter_id, start_at, end_at, service_type, status, created_at`

type PgClientRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgClientRepository(dbPool *pgxpool.Pool, logger *slog.Logger) *PgClientRepository {
	return &PgClientRepository{db: dbPool, logger: logger}
}

func scanClient(row pgx.Row) (*domain.Client, error) {
	var c domain.Client
	err := row.Scan(&c.ID, &c.OrgID, &c.Name, &c.Phone, &c.IsOneTimeClient, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *PgClientRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`
	c, err := scanClient(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting client by ID", "error", err, "client_id", id)
		return nil, err
	}
	return c, nil
}

func (r *PgClientRepository) FindByPhone(ctx context.Context, orgID uuid.UUID, phone string) (*domain.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE org_id = $1 AND phone = $2 LIMIT 1`
	c, err := scanClient(r.db.QueryRow(ctx, query, orgID, phone))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		r.logger.ErrorContext(ctx, "Error finding client by phone", "error", err, "org_id", orgID)
		return nil, err
	}
	return c, nil
}

const sitterColumns = `id, org_id, name, phone, status, created_at`

type PgSitterRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgSitterRepository(dbPool *pgxpool.Pool, logger *slog.Logger) *PgSitterRepository {
	return &PgSitterRepository{db: dbPool, logger: logger}
}

func (r *PgSitterRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Sitter, error) {
	query := `SELECT ` + sitterColumns + ` FROM sitters WHERE id = $1`
	var s domain.Sitter
	err := r.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.OrgID, &s.Name, &s.Phone, &s.Status, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting sitter by ID", "error", err, "sitter_id", id)
		return nil, err
	}
	return &s, nil
}

type PgBookingRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

func NewPgBookingRepository(dbPool *pgxpool.Pool, logger *slog.Logger) *PgBookingRepository {
	return &PgBookingRepository{db: dbPool, logger: logger}
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	err := row.Scan(
		&b.Ref, &b.OrgID, &b.ClientID, &b.SitterID,
		&b.StartAt, &b.EndAt, &b.ServiceType, &b.Status, &b.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *PgBookingRepository) GetByRef(ctx context.Context, orgID uuid.UUID, ref string) (*domain.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE org_id = $1 AND ref = $2`
	b, err := scanBooking(r.db.QueryRow(ctx, query, orgID, ref))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Error getting booking by ref", "error", err, "booking_ref", ref)
		return nil, err
	}
	return b, nil
}

// ActiveForClient widens the span by a day so routing around window edges
// still sees the booking.
func (r *PgBookingRepository) ActiveForClient(ctx context.Context, orgID, clientID uuid.UUID, at time.Time) ([]*domain.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE org_id = $1 AND client_id = $2 AND status = 'confirmed'
		  AND start_at - interval '1 day' <= $3
		  AND end_at + interval '1 day' >= $3
		ORDER BY start_at ASC
	`
	rows, err := r.db.Query(ctx, query, orgID, clientID, at)
	if err != nil {
		r.logger.ErrorContext(ctx, "Error listing active bookings", "error", err, "client_id", clientID)
		return nil, err
	}
	defer rows.Close()

	var bookings []*domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}
