package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("contact not found")

// Client is a pet owner's customer record. Phone is the client's real E.164
// number; it is the lookup key for inbound pool-number routing.
type Client struct {
	ID              uuid.UUID
	OrgID           uuid.UUID
	Name            string
	Phone           string
	IsOneTimeClient bool
	CreatedAt       time.Time
}

// Sitter is a field worker's contact record. Phone is the sitter's real
// number; relayed messages are delivered there from a masking number.
type Sitter struct {
	ID        uuid.UUID
	OrgID     uuid.UUID
	Name      string
	Phone     string
	Status    string
	CreatedAt time.Time
}

// BookingStatus mirrors the scheduling system's lifecycle; only confirmed
// bookings drive assignment windows.
type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// Booking is the scheduling fact a window is derived from. SitterID is null
// until a sitter is matched.
type Booking struct {
	Ref         string
	OrgID       uuid.UUID
	ClientID    uuid.UUID
	SitterID    uuid.NullUUID
	StartAt     time.Time
	EndAt       time.Time
	ServiceType string
	Status      BookingStatus
	CreatedAt   time.Time
}

// ClientRepository looks up clients by identity or real phone number.
type ClientRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Client, error)
	// FindByPhone returns (nil, nil) when no client has the number.
	FindByPhone(ctx context.Context, orgID uuid.UUID, phone string) (*Client, error)
}

// SitterRepository looks up sitter contact records.
type SitterRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Sitter, error)
}

// BookingRepository reads booking state owned by the scheduling system.
type BookingRepository interface {
	GetByRef(ctx context.Context, orgID uuid.UUID, ref string) (*Booking, error)
	// ActiveForClient returns confirmed bookings for the client whose span
	// (with a generous margin) could still need routing.
	ActiveForClient(ctx context.Context, orgID, clientID uuid.UUID, at time.Time) ([]*Booking, error)
}
