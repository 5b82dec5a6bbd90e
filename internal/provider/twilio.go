package provider

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const twilioAPIBase = "https://api.twilio.com/2010-04-01"

// TwilioAdapter implements Adapter against the Twilio Messages API and its
// form-encoded webhook format.
type TwilioAdapter struct {
	logger     *slog.Logger
	httpClient *http.Client
	apiBase    string
	accountSID string
	authToken  string
}

// NewTwilioAdapter creates a Twilio adapter. httpClient may be nil, in which
// case a client with a 10s timeout is used.
func NewTwilioAdapter(logger *slog.Logger, accountSID, authToken string, httpClient *http.Client) *TwilioAdapter {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &TwilioAdapter{
		logger:     logger.With("provider", "twilio"),
		httpClient: httpClient,
		apiBase:    twilioAPIBase,
		accountSID: accountSID,
		authToken:  authToken,
	}
}

func (a *TwilioAdapter) GetName() string { return "twilio" }

// VerifyWebhook checks the X-Twilio-Signature header: HMAC-SHA1 over the
// webhook URL concatenated with the sorted form parameters, base64-encoded.
func (a *TwilioAdapter) VerifyWebhook(rawBody, signature, webhookURL string) bool {
	form, err := url.ParseQuery(rawBody)
	if err != nil {
		return false
	}

	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteString(webhookURL)
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString(form.Get(k))
	}

	mac := hmac.New(sha1.New, []byte(a.authToken))
	mac.Write([]byte(sb.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// ParseInbound normalizes Twilio's inbound webhook form payload.
func (a *TwilioAdapter) ParseInbound(form url.Values) (*InboundMessage, error) {
	from := form.Get("From")
	to := form.Get("To")
	sid := form.Get("MessageSid")
	if from == "" || to == "" || sid == "" {
		return nil, errors.New("twilio inbound payload missing From, To or MessageSid")
	}

	msg := &InboundMessage{
		From:              from,
		To:                to,
		Body:              form.Get("Body"),
		ProviderMessageID: sid,
		Timestamp:         time.Now().UTC(),
	}

	numMedia, _ := strconv.Atoi(form.Get("NumMedia"))
	for i := 0; i < numMedia; i++ {
		if u := form.Get(fmt.Sprintf("MediaUrl%d", i)); u != "" {
			msg.MediaURLs = append(msg.MediaURLs, u)
		}
	}
	return msg, nil
}

// ParseStatusCallback normalizes Twilio's delivery status callback payload.
func (a *TwilioAdapter) ParseStatusCallback(form url.Values) (*StatusCallback, error) {
	sid := form.Get("MessageSid")
	status := form.Get("MessageStatus")
	if sid == "" || status == "" {
		return nil, errors.New("twilio status payload missing MessageSid or MessageStatus")
	}
	return &StatusCallback{
		ProviderMessageID: sid,
		Status:            status,
		ErrorCode:         form.Get("ErrorCode"),
	}, nil
}

type twilioSendResponse struct {
	Sid          string `json:"sid"`
	Status       string `json:"status"`
	ErrorCode    *int   `json:"error_code"`
	ErrorMessage string `json:"message"`
	Code         int    `json:"code"`
}

// SendMessage submits one message via the Twilio REST API. The real sender
// number is never logged; only its last four digits appear in log output.
func (a *TwilioAdapter) SendMessage(ctx context.Context, req SendRequest) (*SendResult, error) {
	form := url.Values{}
	form.Set("To", req.To)
	form.Set("From", req.FromE164)
	form.Set("Body", req.Body)
	for _, u := range req.MediaURLs {
		form.Add("MediaUrl", u)
	}

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", a.apiBase, a.accountSID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("twilio send: build request: %w", err)
	}
	httpReq.SetBasicAuth(a.accountSID, a.authToken)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		// Timeouts and transport failures are retryable.
		a.logger.WarnContext(ctx, "Twilio send transport failure", "error", err, "from_last4", last4(req.FromE164))
		return nil, &Error{Provider: "twilio", Code: "transport", Message: err.Error(), Retryable: true}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Provider: "twilio", Code: "read_body", Message: err.Error(), Retryable: true}
	}

	if resp.StatusCode >= 500 {
		return nil, &Error{Provider: "twilio", Code: strconv.Itoa(resp.StatusCode), Message: string(body), Retryable: true}
	}

	var parsed twilioSendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, &Error{Provider: "twilio", Code: "bad_response", Message: err.Error(), Retryable: false}
	}

	if resp.StatusCode >= 400 {
		return &SendResult{
			Success:      false,
			ErrorCode:    strconv.Itoa(parsed.Code),
			ErrorMessage: parsed.ErrorMessage,
		}, nil
	}

	return &SendResult{
		Success:           true,
		ProviderMessageID: parsed.Sid,
	}, nil
}

func last4(e164 string) string {
	if len(e164) <= 4 {
		return e164
	}
	return e164[len(e164)-4:]
}
