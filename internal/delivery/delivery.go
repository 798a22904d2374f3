// Package delivery routes issued codes to the channel's transport.
package delivery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leadqualifier/leadqualifier/internal/models"
)

// ChannelSender sends one code over a single transport.
type ChannelSender interface {
	SendCode(ctx context.Context, to, code string) error
}

// Service fans code deliveries out to the email and SMS transports. It
// satisfies the OTP manager's CodeSender interface.
type Service struct {
	email ChannelSender
	sms   ChannelSender
}

// NewService wires the per-channel transports. Either may be nil when the
// deployment only uses one channel.
func NewService(email, sms ChannelSender) *Service {
	slog.Debug("Creating delivery Service", "email_set", email != nil, "sms_set", sms != nil)
	return &Service{email: email, sms: sms}
}

// Deliver sends the code over the channel's transport.
func (s *Service) Deliver(ctx context.Context, channel models.Channel, to, code string) error {
	switch channel {
	case models.ChannelEmail:
		if s.email == nil {
			return fmt.Errorf("email delivery not configured")
		}
		return s.email.SendCode(ctx, to, code)
	case models.ChannelPhone:
		if s.sms == nil {
			return fmt.Errorf("sms delivery not configured")
		}
		return s.sms.SendCode(ctx, to, code)
	default:
		return fmt.Errorf("unknown delivery channel %q", channel)
	}
}
