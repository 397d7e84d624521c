// Package apierror defines the structured error envelope returned by every
// voice-agent-facing operation. Components return a *Error (or a plain Go
// error for programming/infra failures, which handlers fold into Internal)
// instead of stringly-typed success flags.
package apierror

import "fmt"

// Code enumerates the domain error taxonomy from the booking core spec.
type Code string

const (
	ClinicNotFound               Code = "clinic_not_found"
	InvalidPhoneNumber           Code = "invalid_phone_number"
	InvalidDate                  Code = "invalid_date"
	InvalidTime                  Code = "invalid_time"
	InvalidDateTime              Code = "invalid_datetime"
	LocationNotFound             Code = "location_not_found"
	PractitionerNotFound         Code = "practitioner_not_found"
	PractitionerInactive         Code = "practitioner_inactive"
	PractitionerLocationMismatch Code = "practitioner_location_mismatch"
	ServiceNotFound              Code = "service_not_found"
	NoAvailability               Code = "no_availability"
	TimeNotAvailable             Code = "time_not_available"
	TimeJustTaken                Code = "time_just_taken"
	DuplicateBooking             Code = "duplicate_booking"
	BookingFailed                Code = "booking_failed"
	AppointmentNotFound          Code = "appointment_not_found"
	CancellationFailed           Code = "cancellation_failed"
	RescheduleFailed             Code = "reschedule_failed"
	UpstreamUnauthorized         Code = "upstream_unauthorized"
	UpstreamUnavailable          Code = "upstream_unavailable"
	DatabaseError                Code = "database_error"
	InternalError                Code = "internal_error"
)

// Error is the structured, machine + human facing error returned by the
// booking core. It carries a spoken-style Message suitable for TTS and an
// optional Remediation hint (alternative times, practitioner list, etc.).
type Error struct {
	Code        Code
	Message     string
	Remediation any
	cause       error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a structured error with no remediation payload.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches an underlying cause for logging while keeping the
// caller-facing code/message stable.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithRemediation attaches a remediation payload (e.g. a list of
// practitioner names, alternative times) and returns the same error.
func (e *Error) WithRemediation(r any) *Error {
	e.Remediation = r
	return e
}

// Internal builds the catch-all error for programming/database failures.
// The session id is expected to be logged alongside, not embedded in Message.
func Internal(cause error) *Error {
	return Wrap(InternalError, "I ran into an unexpected problem. Please try again.", cause)
}

// As extracts a *Error from err, returning (nil, false) for anything else
// (including plain Go errors, which callers should fold into Internal).
func As(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
