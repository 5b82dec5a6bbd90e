package provider

import (
	"context"
	"fmt"
	"net/url"
	"time"
)

// InboundMessage is a provider-normalized inbound SMS.
type InboundMessage struct {
	From              string    `json:"from"` // E.164
	To                string    `json:"to"`   // E.164
	Body              string    `json:"body"`
	ProviderMessageID string    `json:"provider_message_id"`
	MediaURLs         []string  `json:"media_urls,omitempty"`
	Timestamp         time.Time `json:"timestamp"`
}

// StatusCallback is a provider-normalized delivery status update.
type StatusCallback struct {
	ProviderMessageID string `json:"provider_message_id"`
	Status            string `json:"status"` // queued, sent, delivered, failed, undelivered
	ErrorCode         string `json:"error_code,omitempty"`
}

// SendRequest holds the data needed to send one outbound SMS.
type SendRequest struct {
	To        string
	Body      string
	FromE164  string
	MediaURLs []string
}

// SendResult is the outcome of a send attempt.
type SendResult struct {
	Success           bool
	ProviderMessageID string
	ErrorCode         string
	ErrorMessage      string
}

// Error is a provider-level failure. Retryable errors (timeouts, 5xx) may be
// retried by the caller with backoff; non-retryable ones are terminal.
type Error struct {
	Provider  string
	Code      string
	Message   string
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("provider %s: %s (code=%s, retryable=%t)", e.Provider, e.Message, e.Code, e.Retryable)
}

// Adapter is the contract every SMS vendor integration must satisfy. Webhook
// payloads arrive as parsed form values; sends are bounded by the context.
type Adapter interface {
	GetName() string

	// VerifyWebhook validates the vendor signature over the raw request body
	// and the full webhook URL.
	VerifyWebhook(rawBody, signature, webhookURL string) bool

	// ParseInbound normalizes an inbound webhook payload.
	ParseInbound(form url.Values) (*InboundMessage, error)

	// ParseStatusCallback normalizes a delivery status callback payload.
	ParseStatusCallback(form url.Values) (*StatusCallback, error)

	// SendMessage submits one outbound message. The context deadline bounds
	// the HTTP call; on timeout the returned error is retryable.
	SendMessage(ctx context.Context, req SendRequest) (*SendResult, error)
}
