// Package delivery sends one-time codes and internal notifications over
// email (SendGrid) and SMS (Twilio).
package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// codeEmailHTML wraps the verification code for the visitor-facing email.
const codeEmailHTML = `<!DOCTYPE html>
<html>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; color: #333;">
  <div style="max-width: 480px; margin: auto; border: 1px solid #e9ecef; border-radius: 8px; padding: 24px;">
    <h2 style="margin-top: 0;">Your verification code</h2>
    <p>Enter this code to confirm your email address:</p>
    <p style="font-size: 32px; letter-spacing: 8px; font-weight: bold;">%s</p>
    <p style="color: #6c757d; font-size: 12px;">The code expires in 10 minutes. If you didn't request it, ignore this email.</p>
  </div>
</body>
</html>`

// EmailOpts holds configuration options for the SendGrid email sender.
type EmailOpts struct {
	APIKey   string
	From     string
	FromName string
}

// EmailOption defines a configuration option for the email sender.
type EmailOption func(*EmailOpts)

// WithSendGridAPIKey sets the SendGrid API key.
func WithSendGridAPIKey(key string) EmailOption {
	return func(o *EmailOpts) { o.APIKey = key }
}

// WithFromEmail sets the sending address.
func WithFromEmail(from string) EmailOption {
	return func(o *EmailOpts) { o.From = from }
}

// WithFromName sets the sender display name.
func WithFromName(name string) EmailOption {
	return func(o *EmailOpts) { o.FromName = name }
}

// EmailSender delivers codes and internal notifications via SendGrid.
type EmailSender struct {
	client   *sendgrid.Client
	from     string
	fromName string
}

// NewEmailSender creates a SendGrid-backed sender, falling back to the
// SENDGRID_API_KEY and FROM_EMAIL environment variables.
func NewEmailSender(opts ...EmailOption) (*EmailSender, error) {
	var cfg EmailOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("SENDGRID_API_KEY")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("FROM_EMAIL")
	}
	if cfg.FromName == "" {
		cfg.FromName = "Lead Qualifier"
	}
	slog.Debug("Email sender config loaded", "APIKey_set", cfg.APIKey != "", "From_set", cfg.From != "")

	if cfg.APIKey == "" {
		return nil, fmt.Errorf("SendGrid API key must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from email must be provided")
	}
	return &EmailSender{
		client:   sendgrid.NewSendClient(cfg.APIKey),
		from:     cfg.From,
		fromName: cfg.FromName,
	}, nil
}

// SendCode emails a verification code to the visitor.
func (s *EmailSender) SendCode(ctx context.Context, to, code string) error {
	subject := "Your verification code"
	plain := fmt.Sprintf("Your verification code is %s. It expires in 10 minutes.", code)
	html := fmt.Sprintf(codeEmailHTML, code)
	return s.Send(ctx, to, subject, plain, html)
}

// Send delivers one email. Used for codes and for the internal digest and
// alert notifications.
func (s *EmailSender) Send(ctx context.Context, to, subject, plain, html string) error {
	msg := mail.NewSingleEmail(
		mail.NewEmail(s.fromName, s.from),
		subject,
		mail.NewEmail("", to),
		plain,
		html,
	)
	resp, err := s.client.SendWithContext(ctx, msg)
	if err != nil {
		slog.Error("EmailSender.Send: request failed", "error", err, "to", to)
		return fmt.Errorf("sendgrid send to %s: %w", to, err)
	}
	if resp.StatusCode >= 300 {
		slog.Error("EmailSender.Send: rejected", "status", resp.StatusCode, "to", to)
		return fmt.Errorf("sendgrid send to %s: status %d", to, resp.StatusCode)
	}
	slog.Debug("EmailSender.Send: delivered", "to", to, "subject", subject)
	return nil
}
