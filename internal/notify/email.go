package notify

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// EmailDestination is the parsed destination blob for the email channel.
type EmailDestination struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
	TLS      bool     `json:"tls"`
}

// EmailSender delivers notifications over SMTP using the shoutrrr
// smtp transport.
type EmailSender struct {
	timeout time.Duration
}

// NewEmailSender creates an EmailSender with the given per-attempt timeout.
func NewEmailSender(timeout time.Duration) *EmailSender {
	return &EmailSender{timeout: timeout}
}

// Channel returns the channel type tag.
func (s *EmailSender) Channel() string {
	return ChannelEmail
}

// Send delivers the dispatch to all recipients in one SMTP session.
func (s *EmailSender) Send(ctx context.Context, d Dispatch) error {
	var dest EmailDestination
	if err := decodeDestination(d.Destination, &dest); err != nil {
		return err
	}
	if dest.Host == "" {
		return configErrorf("email destination missing host")
	}
	if dest.From == "" {
		return configErrorf("email destination missing from address")
	}
	if len(dest.To) == 0 {
		return configErrorf("email destination has no recipients")
	}
	port := dest.Port
	if port == 0 {
		port = 587
	}

	u := url.URL{
		Scheme: "smtp",
		Host:   dest.Host + ":" + strconv.Itoa(port),
		Path:   "/",
	}
	if dest.Username != "" {
		u.User = url.UserPassword(dest.Username, dest.Password)
	}
	q := url.Values{}
	q.Set("from", dest.From)
	q.Set("to", strings.Join(dest.To, ","))
	q.Set("usestarttls", strconv.FormatBool(dest.TLS))
	u.RawQuery = q.Encode()

	sender, err := shoutrrr.CreateSender(u.String())
	if err != nil {
		return configErrorf("invalid smtp configuration: %v", err)
	}

	params := &types.Params{}
	params.SetTitle(d.Title)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	// shoutrrr's Send takes no context. On timeout the attempt returns
	// but the goroutine keeps running until the SMTP session ends, then
	// exits through the buffered channel.
	go func() {
		done <- firstError(sender.Send(d.Message, params))
	}()
	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}

// firstError returns the first non-nil error from a shoutrrr result set.
func firstError(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
