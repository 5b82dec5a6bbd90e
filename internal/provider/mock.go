package provider

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"
)

// MockAdapter is an in-memory Adapter for tests and local runs. It records
// every send and can be primed to fail.
type MockAdapter struct {
	logger *slog.Logger

	mu        sync.Mutex
	sent      []SendRequest
	nextIndex int

	// FailSends makes SendMessage return a retryable provider error.
	FailSends bool
	// RejectSends makes SendMessage return an unsuccessful result.
	RejectSends bool
}

func NewMockAdapter(logger *slog.Logger) *MockAdapter {
	return &MockAdapter{logger: logger.With("provider", "mock")}
}

func (m *MockAdapter) GetName() string { return "mock" }

func (m *MockAdapter) VerifyWebhook(rawBody, signature, webhookURL string) bool {
	// The mock trusts any non-empty signature.
	return signature != ""
}

func (m *MockAdapter) ParseInbound(form url.Values) (*InboundMessage, error) {
	if form.Get("From") == "" || form.Get("To") == "" {
		return nil, fmt.Errorf("mock inbound payload missing From or To")
	}
	return &InboundMessage{
		From:              form.Get("From"),
		To:                form.Get("To"),
		Body:              form.Get("Body"),
		ProviderMessageID: form.Get("MessageSid"),
		Timestamp:         time.Now().UTC(),
	}, nil
}

func (m *MockAdapter) ParseStatusCallback(form url.Values) (*StatusCallback, error) {
	if form.Get("MessageSid") == "" {
		return nil, fmt.Errorf("mock status payload missing MessageSid")
	}
	return &StatusCallback{
		ProviderMessageID: form.Get("MessageSid"),
		Status:            form.Get("MessageStatus"),
		ErrorCode:         form.Get("ErrorCode"),
	}, nil
}

func (m *MockAdapter) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSends {
		return nil, &Error{Provider: "mock", Code: "forced_failure", Message: "forced failure", Retryable: true}
	}
	if m.RejectSends {
		return &SendResult{Success: false, ErrorCode: "30007", ErrorMessage: "rejected"}, nil
	}

	m.sent = append(m.sent, req)
	m.nextIndex++
	return &SendResult{
		Success:           true,
		ProviderMessageID: fmt.Sprintf("MOCK-%d", m.nextIndex),
	}, nil
}

// Sent returns a copy of all send requests observed so far.
func (m *MockAdapter) Sent() []SendRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SendRequest, len(m.sent))
	copy(out, m.sent)
	return out
}
