package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSDestination is the parsed destination blob for the SMS channel.
type SMSDestination struct {
	AccountSID string   `json:"account_sid"`
	AuthToken  string   `json:"auth_token"`
	From       string   `json:"from"`
	To         []string `json:"to"`
}

// smsAPI is the slice of the Twilio client the sender needs. Abstracted
// for testability.
type smsAPI interface {
	CreateMessage(params *twilioapi.CreateMessageParams) (*twilioapi.ApiV2010Message, error)
}

// SMSSender delivers notifications as SMS messages via Twilio.
type SMSSender struct {
	timeout   time.Duration
	newClient func(dest SMSDestination) smsAPI
}

// NewSMSSender creates an SMSSender with the given per-attempt timeout.
func NewSMSSender(timeout time.Duration) *SMSSender {
	return &SMSSender{
		timeout: timeout,
		newClient: func(dest SMSDestination) smsAPI {
			client := twilio.NewRestClientWithParams(twilio.ClientParams{
				Username: dest.AccountSID,
				Password: dest.AuthToken,
			})
			return client.Api
		},
	}
}

// Channel returns the channel type tag.
func (s *SMSSender) Channel() string {
	return ChannelSMS
}

// Send delivers one SMS per recipient. Recipient failures are joined so a
// partial delivery still surfaces every error.
func (s *SMSSender) Send(ctx context.Context, d Dispatch) error {
	var dest SMSDestination
	if err := decodeDestination(d.Destination, &dest); err != nil {
		return err
	}
	if dest.AccountSID == "" || dest.AuthToken == "" {
		return configErrorf("sms destination missing twilio credentials")
	}
	if dest.From == "" {
		return configErrorf("sms destination missing from number")
	}
	if len(dest.To) == 0 {
		return configErrorf("sms destination has no recipients")
	}

	api := s.newClient(dest)
	body := d.Title + "\n" + d.Message

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		var errs []error
		for _, to := range dest.To {
			params := &twilioapi.CreateMessageParams{}
			params.SetFrom(dest.From)
			params.SetTo(to)
			params.SetBody(body)
			if _, err := api.CreateMessage(params); err != nil {
				errs = append(errs, fmt.Errorf("sms to %s: %w", to, err))
			}
		}
		done <- errors.Join(errs...)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("sms send: %w", ctx.Err())
	}
}
