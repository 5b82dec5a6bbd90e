package domain

import "errors"

var (
	// ErrNotFound indicates the requested number does not exist.
	ErrNotFound = errors.New("phone number not found")

	// ErrNotConfigured indicates an operator setup gap (e.g. no active
	// front-desk number). Surfaced, never retried; provisioning is external.
	ErrNotConfigured = errors.New("number not configured")

	// ErrNoAvailableNumber indicates sitter/pool exhaustion. Callers route
	// affected traffic to the owner inbox; an operational alert is raised.
	ErrNoAvailableNumber = errors.New("no available number")
)
