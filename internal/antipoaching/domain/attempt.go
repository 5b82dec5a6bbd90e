package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ViolationType categorizes what the content scan found.
type ViolationType string

const (
	ViolationPhoneNumber ViolationType = "phone_number"
	ViolationEmail       ViolationType = "email"
	ViolationURL         ViolationType = "url"
	ViolationSocialMedia ViolationType = "social_media"
)

// Violation is one flagged fragment of a message body.
type Violation struct {
	Type    ViolationType
	Content string
	Reason  string
}

// Detection is the result of scanning one message body.
type Detection struct {
	Detected   bool
	Reasons    []string
	Violations []Violation
}

// Types returns the distinct violation types present, in first-seen order.
func (d *Detection) Types() []ViolationType {
	seen := make(map[ViolationType]bool)
	var out []ViolationType
	for _, v := range d.Violations {
		if !seen[v.Type] {
			seen[v.Type] = true
			out = append(out, v.Type)
		}
	}
	return out
}

// Attempt is the persisted record of a blocked message. OriginalBody is kept
// for review; only RedactedBody is ever relayed to the owner.
type Attempt struct {
	ID           uuid.UUID
	OrgID        uuid.UUID
	ThreadID     uuid.NullUUID
	SenderE164   string
	SenderRole   string
	Types        []string
	Reasons      []string
	OriginalBody string
	RedactedBody string
	CreatedAt    time.Time
}

// AttemptRepository persists blocked-message records.
type AttemptRepository interface {
	Insert(ctx context.Context, a *Attempt) error
}
