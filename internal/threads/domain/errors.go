package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrNotFound indicates the requested thread does not exist.
var ErrNotFound = errors.New("thread not found")

// Invariant names carried by InvariantViolationError.
const (
	InvariantThreadBoundSending      = "thread_bound_sending"
	InvariantFromNumberMatchesThread = "from_number_matches_thread"
	InvariantNumberClassMatch        = "number_class_match"
)

// InvariantViolationError signals a binding invariant breach. It is always a
// defect signal: the operation is aborted and audited, never auto-corrected.
type InvariantViolationError struct {
	Invariant string
	Detail    string
	ThreadID  uuid.UUID
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant %s violated for thread %s: %s", e.Invariant, e.ThreadID, e.Detail)
}

// IsInvariantViolation reports whether err is an invariant violation.
func IsInvariantViolation(err error) bool {
	var iv *InvariantViolationError
	return errors.As(err, &iv)
}
