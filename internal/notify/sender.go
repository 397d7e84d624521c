package notify

import (
	"context"

	"github.com/clinicvoice/scheduler/pkg/logging"
)

// Sender adapts an EmailSender to the booking package's NotificationSender
// interface. SMS is not wired to any carrier in this deployment — no SMS
// library appears anywhere in the dependency pack — so SendSMS only logs;
// HandoffNotificationPhone is left unset in practice and email is the
// live channel.
type Sender struct {
	email  EmailSender
	logger *logging.Logger
}

// NewSender builds a Sender. email may be a StubEmailSender when SendGrid
// isn't configured for a clinic.
func NewSender(email EmailSender, logger *logging.Logger) *Sender {
	if logger == nil {
		logger = logging.Default()
	}
	return &Sender{email: email, logger: logger}
}

// SendSMS logs the notification; no SMS carrier is wired.
func (s *Sender) SendSMS(ctx context.Context, to, body string) error {
	s.logger.Info("notify: sms channel not configured, dropping", "to", to)
	return nil
}

// SendEmail delegates to the configured EmailSender.
func (s *Sender) SendEmail(ctx context.Context, to, subject, htmlBody string) error {
	return s.email.Send(ctx, EmailMessage{
		To:      to,
		Subject: subject,
		HTML:    htmlBody,
		Body:    htmlBody,
	})
}
