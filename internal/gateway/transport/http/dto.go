package http

import "time"

// BookingConfirmedRequest is pushed by the scheduling system when a booking
// is confirmed. SitterID is empty until a sitter is matched.
type BookingConfirmedRequest struct {
	BookingRef      string    `json:"bookingRef" validate:"required"`
	OrgID           string    `json:"orgId" validate:"required,uuid"`
	ClientID        string    `json:"clientId" validate:"required,uuid"`
	SitterID        string    `json:"sitterId,omitempty" validate:"omitempty,uuid"`
	StartAt         time.Time `json:"startAt" validate:"required"`
	EndAt           time.Time `json:"endAt" validate:"required,gtfield=StartAt"`
	ServiceType     string    `json:"serviceType" validate:"required"`
	IsMeetAndGreet  bool      `json:"isMeetAndGreet"`
	IsOneTimeClient bool      `json:"isOneTimeClient"`
}

// BookingCancelledRequest closes all windows derived from the booking.
type BookingCancelledRequest struct {
	BookingRef string `json:"bookingRef" validate:"required"`
	OrgID      string `json:"orgId" validate:"required,uuid"`
}

// SitterOffboardedRequest starts the offboarding flow: the sitter's number is
// deactivated (cooldown begins) and their threads are unassigned.
type SitterOffboardedRequest struct {
	OrgID    string `json:"orgId" validate:"required,uuid"`
	SitterID string `json:"sitterId" validate:"required,uuid"`
}

// BookingConfirmedResponse reports the thread and window the event produced.
type BookingConfirmedResponse struct {
	ThreadID      string `json:"threadId"`
	BoundNumberID string `json:"boundNumberId,omitempty"`
	NumberClass   string `json:"numberClass,omitempty"`
	WindowID      string `json:"windowId,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
