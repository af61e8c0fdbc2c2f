// Package notify implements the notification channel senders: email,
// chat webhook, generic webhook, and SMS. All senders share one contract:
// Send delivers a single dispatch within a bounded timeout and returns a
// ConfigError for malformed destinations so callers can skip retries.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/tokenwatch/tokenwatch/internal/conf"
)

// Channel types. The set is closed; dispatch is by type tag.
const (
	ChannelEmail       = "email"
	ChannelChatWebhook = "chat_webhook"
	ChannelWebhook     = "webhook"
	ChannelSMS         = "sms"
)

// defaultAttemptTimeout bounds a send attempt when no timeout is configured.
const defaultAttemptTimeout = 10 * time.Second

// Dispatch is a channel-ready notification built by the router.
type Dispatch struct {
	Channel     string
	Destination string // opaque JSON blob, schema depends on Channel
	Title       string
	Message     string
	Severity    string
}

// Sender delivers a dispatch over one channel type.
type Sender interface {
	Channel() string
	Send(ctx context.Context, d Dispatch) error
}

// ConfigError marks a malformed or missing destination. It is
// deterministic for a given destination, so callers must not retry it.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "channel configuration error: " + e.Reason
}

func configErrorf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// IsConfigError reports whether err (or anything it wraps) is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// statusError is a non-2xx HTTP response from a channel provider.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// Retryable reports whether a send error is worth retrying. Configuration
// errors and client-side HTTP rejections are deterministic; everything
// else (timeouts, connection failures, 5xx, 429) is treated as transient.
func Retryable(err error) bool {
	if err == nil || IsConfigError(err) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code >= 500 || se.code == http.StatusTooManyRequests || se.code == http.StatusRequestTimeout
	}
	return true
}

// decodeDestination parses a destination blob into v. An empty or
// malformed blob is a ConfigError.
func decodeDestination(raw string, v any) error {
	if raw == "" {
		return configErrorf("missing destination")
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return configErrorf("malformed destination: %v", err)
	}
	return nil
}

// Registry holds the configured senders keyed by channel type.
type Registry struct {
	senders map[string]Sender
	log     zerolog.Logger
}

// NewRegistry builds senders for every enabled channel type. An empty
// channel list in cfg enables all types.
func NewRegistry(cfg conf.NotifyConfig, log zerolog.Logger) *Registry {
	timeout := cfg.AttemptTimeout.Std()
	if timeout <= 0 {
		timeout = defaultAttemptTimeout
	}

	enabled := make(map[string]bool, len(cfg.Channels))
	for _, ch := range cfg.Channels {
		enabled[ch] = true
	}
	all := len(cfg.Channels) == 0

	r := &Registry{
		senders: make(map[string]Sender),
		log:     log.With().Str("component", "notify").Logger(),
	}
	for _, s := range []Sender{
		NewEmailSender(timeout),
		NewChatWebhookSender(timeout, nil),
		NewWebhookSender(timeout, nil),
		NewSMSSender(timeout),
	} {
		if all || enabled[s.Channel()] {
			r.senders[s.Channel()] = s
		}
	}
	return r
}

// Send routes a dispatch to the sender for its channel type.
func (r *Registry) Send(ctx context.Context, d Dispatch) error {
	sender, ok := r.senders[d.Channel]
	if !ok {
		return configErrorf("channel %q is not enabled", d.Channel)
	}
	err := sender.Send(ctx, d)
	if err != nil {
		r.log.Debug().Err(err).Str("channel", d.Channel).Msg("channel send failed")
	}
	return err
}

// TestChannel exercises one sender directly with a sample message,
// bypassing matching and throttling. Used by the manual trigger surface.
func (r *Registry) TestChannel(ctx context.Context, channelType, destination, sampleMessage string) error {
	return r.Send(ctx, Dispatch{
		Channel:     channelType,
		Destination: destination,
		Title:       "Test notification",
		Message:     sampleMessage,
		Severity:    "LOW",
	})
}
