// Package booking implements C8's shadow-booking fallback (spec.md §6,
// clinic.ShadowBooking): clinics without a live PMS integration still need
// every book/reschedule call answered, just by a staffer instead of the PMS.
package booking

import (
	"context"
	"time"
)

// HandoffRequest is what the voice surface knows about the appointment a
// caller wants, once a clinic has no automated booking path to hand it to.
type HandoffRequest struct {
	ClinicName         string
	PatientName        string
	PatientPhone       string
	PatientEmail       string
	ServiceRequested   string
	SchedulePreference string // e.g. "2026-08-01 14:00" or "weekday mornings"
	PreferredDays      string
	PreferredTimes     string
	Notes              string // free-form notes captured during the call
	RequestedAt        time.Time
}

// BookingResult is returned by CreateBooking and contains the outcome.
type BookingResult struct {
	// Booked indicates whether an automated booking was created.
	Booked bool
	// HandoffMessage is the message to read back to the caller when the
	// adapter can't automate booking (manual handoff).
	HandoffMessage string
	// ConfirmationNumber is set when automated booking succeeds.
	ConfirmationNumber string
	// ScheduledFor is set when a specific time was booked.
	ScheduledFor *time.Time
}

// Adapter is the interface a shadow-booking fallback implements.
// ManualHandoffAdapter is the only one this clinic voice-agent ships today;
// the interface exists so a future automated fallback (e.g. an adapter that
// books directly against a clinic's calendar instead of paging a staffer)
// can be swapped in without touching internal/http/voice.
type Adapter interface {
	// CreateBooking attempts to create a booking. For manual handoff it
	// notifies the clinic and returns a HandoffMessage for the patient.
	CreateBooking(ctx context.Context, req HandoffRequest) (*BookingResult, error)

	// GetHandoffMessage returns the patient-facing message when booking is
	// handled manually (e.g. "We've shared your info with the clinic…").
	GetHandoffMessage(clinicName string) string
}
