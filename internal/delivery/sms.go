// Package delivery wraps the Twilio API for SMS code delivery.
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// SMSOpts holds configuration options for the Twilio SMS sender.
type SMSOpts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// SMSOption defines a configuration option for the SMS sender.
type SMSOption func(*SMSOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) SMSOption {
	return func(o *SMSOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) SMSOption {
	return func(o *SMSOpts) { o.AuthToken = token }
}

// WithFromNumber sets the sending phone number in E.164 format.
func WithFromNumber(from string) SMSOption {
	return func(o *SMSOpts) { o.FromNumber = from }
}

// SMSSender delivers verification codes over Twilio SMS.
type SMSSender struct {
	client *twilio.RestClient
	from   string
}

// NewSMSSender creates a Twilio-backed sender, falling back to the
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN, and TWILIO_FROM_NUMBER environment
// variables when options are not provided.
func NewSMSSender(opts ...SMSOption) (*SMSSender, error) {
	var cfg SMSOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio SMS config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &SMSSender{client: client, from: cfg.FromNumber}, nil
}

// SendCode texts a verification code to the visitor.
func (s *SMSSender) SendCode(ctx context.Context, to, code string) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(fmt.Sprintf("Your verification code is %s. It expires in 10 minutes.", code))

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		slog.Error("SMSSender.SendCode: request failed", "error", err, "to", to)
		return fmt.Errorf("twilio send to %s: %w", to, err)
	}
	slog.Debug("SMSSender.SendCode: delivered", "to", to)
	return nil
}
