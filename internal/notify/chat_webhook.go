package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// ChatWebhookDestination is the parsed destination blob for the chat
// webhook channel (Slack-compatible incoming webhooks).
type ChatWebhookDestination struct {
	URL     string `json:"url"`
	Channel string `json:"channel"`
}

// chatPayload is the Slack-compatible message body.
type chatPayload struct {
	Channel string `json:"channel,omitempty"`
	Text    string `json:"text"`
}

// ChatWebhookSender posts formatted messages to a chat incoming webhook.
type ChatWebhookSender struct {
	client *http.Client
}

// NewChatWebhookSender creates a ChatWebhookSender. A nil client selects a
// default client bounded by timeout; tests pass their own.
func NewChatWebhookSender(timeout time.Duration, client *http.Client) *ChatWebhookSender {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &ChatWebhookSender{client: client}
}

// Channel returns the channel type tag.
func (s *ChatWebhookSender) Channel() string {
	return ChannelChatWebhook
}

// Send posts the dispatch as a single chat message.
func (s *ChatWebhookSender) Send(ctx context.Context, d Dispatch) error {
	var dest ChatWebhookDestination
	if err := decodeDestination(d.Destination, &dest); err != nil {
		return err
	}
	if dest.URL == "" {
		return configErrorf("chat webhook destination missing url")
	}

	body, err := json.Marshal(chatPayload{
		Channel: dest.Channel,
		Text:    d.Title + "\n" + d.Message,
	})
	if err != nil {
		return fmt.Errorf("marshal chat payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest.URL, bytes.NewReader(body))
	if err != nil {
		return configErrorf("invalid chat webhook url: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post chat webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("chat webhook: %w", &statusError{code: resp.StatusCode})
	}
	return nil
}
