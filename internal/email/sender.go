package email

import (
	"context"

	"engagement_backend/platform/config"
)

// Sender delivers the engagement emails.
type Sender interface {
	SendNurturingEmail(ctx context.Context, toEmail string, data NurturingEmail) error
	SendAppointmentConfirmation(ctx context.Context, toEmail string, data AppointmentConfirmation) error
	SendCustomEmail(ctx context.Context, toEmail, subject, htmlContent string) error
}

// transport delivers an already rendered message.
type transport interface {
	deliver(ctx context.Context, toEmail, subject, htmlContent string) error
}

type NoopSender struct{}

func (NoopSender) SendNurturingEmail(ctx context.Context, toEmail string, data NurturingEmail) error {
	return nil
}

func (NoopSender) SendAppointmentConfirmation(ctx context.Context, toEmail string, data AppointmentConfirmation) error {
	return nil
}

func (NoopSender) SendCustomEmail(ctx context.Context, toEmail, subject, htmlContent string) error {
	return nil
}

// NewSender picks Brevo when an API key is configured, SMTP when a host is,
// and a no-op sender when email is disabled.
func NewSender(cfg config.EmailConfig) (Sender, error) {
	if !cfg.GetEmailEnabled() {
		return NoopSender{}, nil
	}
	if cfg.GetBrevoAPIKey() != "" {
		return &templateSender{transport: NewBrevoSender(cfg.GetBrevoAPIKey(), cfg.GetEmailFromName(), cfg.GetEmailFromAddress())}, nil
	}
	return &templateSender{transport: NewSMTPSender(
		cfg.GetSMTPHost(), cfg.GetSMTPPort(), cfg.GetSMTPUsername(), cfg.GetSMTPPassword(),
		cfg.GetEmailFromAddress(), cfg.GetEmailFromName(),
	)}, nil
}

// templateSender renders the HTML templates and hands the result to a transport.
type templateSender struct {
	transport transport
}

func (s *templateSender) SendNurturingEmail(ctx context.Context, toEmail string, data NurturingEmail) error {
	subject, content, err := renderNurturingEmail(data)
	if err != nil {
		return err
	}
	return s.transport.deliver(ctx, toEmail, subject, content)
}

func (s *templateSender) SendAppointmentConfirmation(ctx context.Context, toEmail string, data AppointmentConfirmation) error {
	subject, content, err := renderAppointmentConfirmation(data)
	if err != nil {
		return err
	}
	return s.transport.deliver(ctx, toEmail, subject, content)
}

func (s *templateSender) SendCustomEmail(ctx context.Context, toEmail, subject, htmlContent string) error {
	return s.transport.deliver(ctx, toEmail, subject, htmlContent)
}
