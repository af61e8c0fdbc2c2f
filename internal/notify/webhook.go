package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// WebhookDestination is the parsed destination blob for the generic
// webhook channel. Method defaults to POST. BodyTemplate supports
// {{title}}, {{message}}, and {{severity}} placeholders; when empty a
// JSON body with those fields is sent.
type WebhookDestination struct {
	URL          string            `json:"url"`
	Method       string            `json:"method"`
	Headers      map[string]string `json:"headers"`
	BodyTemplate string            `json:"body_template"`
}

// WebhookSender delivers notifications to arbitrary HTTP endpoints.
type WebhookSender struct {
	client *http.Client
}

// NewWebhookSender creates a WebhookSender. A nil client selects a default
// client bounded by timeout; tests pass their own.
func NewWebhookSender(timeout time.Duration, client *http.Client) *WebhookSender {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookSender{client: client}
}

// Channel returns the channel type tag.
func (s *WebhookSender) Channel() string {
	return ChannelWebhook
}

// Send issues one HTTP request for the dispatch.
func (s *WebhookSender) Send(ctx context.Context, d Dispatch) error {
	var dest WebhookDestination
	if err := decodeDestination(d.Destination, &dest); err != nil {
		return err
	}
	if dest.URL == "" {
		return configErrorf("webhook destination missing url")
	}
	method := strings.ToUpper(dest.Method)
	if method == "" {
		method = http.MethodPost
	}
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return configErrorf("webhook destination has unsupported method %q", dest.Method)
	}

	body, err := renderBody(dest.BodyTemplate, d)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, method, dest.URL, strings.NewReader(body))
	if err != nil {
		return configErrorf("invalid webhook url: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range dest.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: %w", &statusError{code: resp.StatusCode})
	}
	return nil
}

func renderBody(template string, d Dispatch) (string, error) {
	if template == "" {
		body, err := json.Marshal(map[string]string{
			"title":    d.Title,
			"message":  d.Message,
			"severity": d.Severity,
		})
		if err != nil {
			return "", fmt.Errorf("marshal webhook body: %w", err)
		}
		return string(body), nil
	}
	return strings.NewReplacer(
		"{{title}}", d.Title,
		"{{message}}", d.Message,
		"{{severity}}", d.Severity,
	).Replace(template), nil
}
