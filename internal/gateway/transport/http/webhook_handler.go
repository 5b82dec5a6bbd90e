package http

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/snoutservices/relay/internal/platform/messagebroker"
	"github.com/snoutservices/relay/internal/provider"
	routingapp "github.com/snoutservices/relay/internal/routing/app"
	routingdomain "github.com/snoutservices/relay/internal/routing/domain"
)

// WebhookHandler terminates provider webhooks: inbound SMS are verified and
// handed to NATS (the HTTP path stays fast so the provider never times out);
// status callbacks update delivery state directly.
type WebhookHandler struct {
	adapters map[string]provider.Adapter
	broker   *messagebroker.NATSClient
	messages routingdomain.MessageRepository
	logger   *slog.Logger
}

func NewWebhookHandler(adapters map[string]provider.Adapter, broker *messagebroker.NATSClient, messages routingdomain.MessageRepository, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		adapters: adapters,
		broker:   broker,
		messages: messages,
		logger:   logger.With("component", "webhook_handler"),
	}
}

func (h *WebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	adapter, form, ok := h.verifiedForm(w, r)
	if !ok {
		return
	}

	inbound, err := adapter.ParseInbound(form)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Malformed inbound webhook", "error", err, "provider", adapter.GetName())
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	ev := routingapp.InboundSMSEvent{ProviderName: adapter.GetName(), Data: *inbound}
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to marshal inbound event", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := h.broker.Publish(r.Context(), routingapp.SubjectInboundRaw, payload); err != nil {
		h.logger.ErrorContext(r.Context(), "Failed to publish inbound event", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *WebhookHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	adapter, form, ok := h.verifiedForm(w, r)
	if !ok {
		return
	}

	cb, err := adapter.ParseStatusCallback(form)
	if err != nil {
		h.logger.WarnContext(r.Context(), "Malformed status callback", "error", err, "provider", adapter.GetName())
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	n, err := h.messages.UpdateDeliveryStatus(r.Context(), cb.ProviderMessageID, mapDeliveryStatus(cb.Status), cb.ErrorCode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if n == 0 {
		h.logger.WarnContext(r.Context(), "Status callback for unknown message",
			"provider_message_id", cb.ProviderMessageID, "status", cb.Status)
	}
	w.WriteHeader(http.StatusNoContent)
}

// verifiedForm resolves the adapter from the URL, checks the vendor
// signature over the raw body and returns the parsed form.
func (h *WebhookHandler) verifiedForm(w http.ResponseWriter, r *http.Request) (provider.Adapter, url.Values, bool) {
	name := chi.URLParam(r, "provider")
	adapter, ok := h.adapters[name]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown provider")
		return nil, nil, false
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return nil, nil, false
	}

	webhookURL := "https://" + r.Host + r.URL.RequestURI()
	if !adapter.VerifyWebhook(string(body), r.Header.Get("X-Twilio-Signature"), webhookURL) {
		h.logger.WarnContext(r.Context(), "Webhook signature verification failed", "provider", name)
		writeError(w, http.StatusForbidden, "invalid signature")
		return nil, nil, false
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed form body")
		return nil, nil, false
	}
	return adapter, form, true
}

func mapDeliveryStatus(providerStatus string) routingdomain.DeliveryStatus {
	switch strings.ToLower(providerStatus) {
	case "queued", "accepted":
		return routingdomain.StatusQueued
	case "sent":
		return routingdomain.StatusSent
	case "delivered":
		return routingdomain.StatusDelivered
	case "failed", "undelivered":
		return routingdomain.StatusFailed
	default:
		return routingdomain.StatusQueued
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
