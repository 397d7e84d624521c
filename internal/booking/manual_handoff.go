package booking

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/clinicvoice/scheduler/pkg/logging"
)

// NotificationSender abstracts the channel used to notify the clinic about a
// booking request (SMS or email). The manual handoff adapter calls whichever
// channels are configured for the clinic.
type NotificationSender interface {
	// SendSMS sends an SMS to the given phone number.
	SendSMS(ctx context.Context, to, body string) error
	// SendEmail sends an email with the given subject and body.
	SendEmail(ctx context.Context, to, subject, htmlBody string) error
}

// ManualHandoffConfig holds the clinic-specific notification targets.
type ManualHandoffConfig struct {
	HandoffNotificationPhone string
	HandoffNotificationEmail string
}

// ManualHandoffAdapter implements Adapter for clinics that don't have an
// automated PMS booking integration. It writes up the caller's requested
// appointment and notifies clinic staff via SMS and/or email so they can
// book the patient by hand.
type ManualHandoffAdapter struct {
	sender NotificationSender
	config ManualHandoffConfig
	logger *logging.Logger
}

// NewManualHandoffAdapter creates a new manual handoff adapter.
func NewManualHandoffAdapter(sender NotificationSender, cfg ManualHandoffConfig, logger *logging.Logger) *ManualHandoffAdapter {
	if logger == nil {
		logger = logging.Default()
	}
	return &ManualHandoffAdapter{
		sender: sender,
		config: cfg,
		logger: logger,
	}
}

// CreateBooking writes up the requested appointment and sends it to the
// clinic via the configured notification channels. It returns a
// HandoffMessage for the caller confirming that the clinic will reach out.
func (a *ManualHandoffAdapter) CreateBooking(ctx context.Context, req HandoffRequest) (*BookingResult, error) {
	summary := FormatHandoffSummary(req)

	var errs []string

	if a.config.HandoffNotificationPhone != "" && a.sender != nil {
		smsBody := fmt.Sprintf("New booking request for %s\n\n%s", req.ClinicName, summary)
		if err := a.sender.SendSMS(ctx, a.config.HandoffNotificationPhone, smsBody); err != nil {
			a.logger.Error("manual handoff: failed to send SMS notification",
				"error", err,
				"clinic_name", req.ClinicName,
				"to", a.config.HandoffNotificationPhone,
			)
			errs = append(errs, fmt.Sprintf("sms: %v", err))
		} else {
			a.logger.Info("manual handoff: SMS notification sent",
				"clinic_name", req.ClinicName,
				"to", a.config.HandoffNotificationPhone,
			)
		}
	}

	if a.config.HandoffNotificationEmail != "" && a.sender != nil {
		subject := fmt.Sprintf("New booking request — %s (%s)", req.PatientName, req.ServiceRequested)
		htmlBody := FormatHandoffSummaryHTML(req)
		if err := a.sender.SendEmail(ctx, a.config.HandoffNotificationEmail, subject, htmlBody); err != nil {
			a.logger.Error("manual handoff: failed to send email notification",
				"error", err,
				"clinic_name", req.ClinicName,
				"to", a.config.HandoffNotificationEmail,
			)
			errs = append(errs, fmt.Sprintf("email: %v", err))
		} else {
			a.logger.Info("manual handoff: email notification sent",
				"clinic_name", req.ClinicName,
				"to", a.config.HandoffNotificationEmail,
			)
		}
	}

	if a.config.HandoffNotificationPhone == "" && a.config.HandoffNotificationEmail == "" {
		a.logger.Warn("manual handoff: no notification channels configured",
			"clinic_name", req.ClinicName,
		)
	}

	result := &BookingResult{
		Booked:         false,
		HandoffMessage: a.GetHandoffMessage(req.ClinicName),
	}

	if len(errs) > 0 {
		return result, fmt.Errorf("manual handoff notification errors: %s", strings.Join(errs, "; "))
	}
	return result, nil
}

// GetHandoffMessage returns the patient-facing confirmation message.
func (a *ManualHandoffAdapter) GetHandoffMessage(clinicName string) string {
	if clinicName == "" {
		clinicName = "the clinic"
	}
	return fmt.Sprintf(
		"Thank you! I've shared your request with %s and they'll reach out to confirm your appointment shortly.",
		clinicName,
	)
}

// FormatHandoffSummary generates a plain-text summary of a requested
// appointment for staff paged by SMS.
func FormatHandoffSummary(req HandoffRequest) string {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("Patient: %s\n", valueOrNA(req.PatientName)))
	b.WriteString(fmt.Sprintf("Phone: %s\n", valueOrNA(req.PatientPhone)))
	if req.PatientEmail != "" {
		b.WriteString(fmt.Sprintf("Email: %s\n", req.PatientEmail))
	}
	b.WriteString(fmt.Sprintf("Requested service: %s\n", valueOrNA(req.ServiceRequested)))

	schedule := buildScheduleString(req)
	if schedule != "" {
		b.WriteString(fmt.Sprintf("Requested time: %s\n", schedule))
	}

	if req.Notes != "" {
		b.WriteString(fmt.Sprintf("Notes: %s\n", req.Notes))
	}

	b.WriteString(fmt.Sprintf("Called: %s\n", req.RequestedAt.Format(time.RFC1123)))

	return b.String()
}

// FormatHandoffSummaryHTML generates an HTML-formatted summary of a
// requested appointment for staff paged by email.
func FormatHandoffSummaryHTML(req HandoffRequest) string {
	schedule := buildScheduleString(req)

	var notesRow string
	if req.Notes != "" {
		notesRow = fmt.Sprintf(`<tr><td style="padding:6px 12px;font-weight:bold;">Notes</td><td style="padding:6px 12px;">%s</td></tr>`, html.EscapeString(req.Notes))
	}
	var emailRow string
	if req.PatientEmail != "" {
		emailRow = fmt.Sprintf(`<tr><td style="padding:6px 12px;font-weight:bold;">Email</td><td style="padding:6px 12px;">%s</td></tr>`, html.EscapeString(req.PatientEmail))
	}
	var scheduleRow string
	if schedule != "" {
		scheduleRow = fmt.Sprintf(`<tr><td style="padding:6px 12px;font-weight:bold;">Requested time</td><td style="padding:6px 12px;">%s</td></tr>`, html.EscapeString(schedule))
	}

	return fmt.Sprintf(`<div style="font-family:sans-serif;max-width:600px;">
<h2 style="color:#333;">New booking request</h2>
<table style="border-collapse:collapse;width:100%%;">
<tr><td style="padding:6px 12px;font-weight:bold;">Patient</td><td style="padding:6px 12px;">%s</td></tr>
<tr><td style="padding:6px 12px;font-weight:bold;">Phone</td><td style="padding:6px 12px;"><a href="tel:%s">%s</a></td></tr>
%s
<tr><td style="padding:6px 12px;font-weight:bold;">Service</td><td style="padding:6px 12px;">%s</td></tr>
%s
%s
<tr><td style="padding:6px 12px;font-weight:bold;">Called</td><td style="padding:6px 12px;">%s</td></tr>
</table>
<p style="color:#666;font-size:12px;">This request was taken by the clinic's voice booking assistant. Please reach out to confirm the appointment.</p>
</div>`,
		html.EscapeString(valueOrNA(req.PatientName)),
		html.EscapeString(req.PatientPhone), html.EscapeString(valueOrNA(req.PatientPhone)),
		emailRow,
		html.EscapeString(valueOrNA(req.ServiceRequested)),
		scheduleRow,
		notesRow,
		req.RequestedAt.Format(time.RFC1123),
	)
}

func buildScheduleString(req HandoffRequest) string {
	if req.SchedulePreference != "" {
		return req.SchedulePreference
	}
	var parts []string
	if req.PreferredDays != "" {
		parts = append(parts, req.PreferredDays)
	}
	if req.PreferredTimes != "" {
		parts = append(parts, req.PreferredTimes)
	}
	return strings.Join(parts, ", ")
}

func valueOrNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return "N/A"
	}
	return s
}
